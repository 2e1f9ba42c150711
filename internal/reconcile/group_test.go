package reconcile

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildCard mirrors internal/cif's test helper: render an 80-column card
// from 1-indexed-inclusive column placements.
func buildCard(width int, placements map[int]string) string {
	b := []byte(strings.Repeat(" ", width))
	for from, val := range placements {
		copy(b[from-1:], val)
	}
	return string(b)
}

func bsCard(uid, tx string) string {
	return buildCard(80, map[int]string{
		1: "BS", 2: tx, 3: uid, 9: "230603", 15: "999999",
		21: "1111100", 29: "P", 30: "OO", 79: "P",
	})
}

func loCard(tiploc string) string {
	return buildCard(54, map[int]string{1: "LO", 3: tiploc, 10: "1000", 15: "1002"})
}

func ltCard(tiploc string) string {
	return buildCard(54, map[int]string{1: "LT", 3: tiploc, 10: "1100"})
}

func TestWalkGroupsSplitsOnBS(t *testing.T) {
	input := strings.Join([]string{
		bsCard("C11111", "N"),
		loCard("AAAAAAA"),
		ltCard("BBBBBBB"),
		bsCard("C22222", "N"),
		loCard("CCCCCCC"),
		ltCard("DDDDDDD"),
	}, "\n") + "\n"

	var groups []Group
	err := walkGroups(strings.NewReader(input), func(g Group) error {
		groups = append(groups, g)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "C11111", groups[0].BS.TrainUID)
	assert.Len(t, groups[0].Locations, 2)
	assert.Equal(t, "C22222", groups[1].BS.TrainUID)
	assert.Len(t, groups[1].RawLines, 3)
}

func TestWriteDemoteForcesReviseTransaction(t *testing.T) {
	g := Group{RawLines: []string{bsCard("C11111", "N"), loCard("AAAAAAA")}}
	var buf bytes.Buffer
	require.NoError(t, writeDemote(&buf, g))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, byte('R'), lines[0][1])
	assert.Equal(t, loCard("AAAAAAA"), lines[1])
}
