package cif

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildCard renders an 80-column card from 1-indexed-inclusive column
// placements, space-padding everything else, mirroring how card.go's field()
// helper reads columns back out.
func buildCard(width int, placements map[int]string) string {
	b := []byte(strings.Repeat(" ", width))
	for from, val := range placements {
		copy(b[from-1:], val)
	}
	return string(b)
}

func TestParseHeader(t *testing.T) {
	card := buildCard(32, map[int]string{
		1:  "HD",
		22: "0306200200",
		32: "F",
	})
	h, err := ParseHeader(card)
	require.NoError(t, err)
	assert.Equal(t, "0306200200", h.ExtractTimestampRaw)
	assert.Equal(t, byte('F'), h.UpdateIndicator)
}

func TestParseBasicSchedule(t *testing.T) {
	card := buildCard(80, map[int]string{
		1:  "BS",
		2:  "N",
		3:  "C12345",
		9:  "230603",
		15: "999999",
		21: "1111100",
		28: " ",
		29: "P",
		30: "XX",
		32: "1A23",
		36: "2B45",
		41: "EXPRESS1",
		50: "D",
		53: "100 ",
		57: "100",
		60: "000000",
		66: "B",
		67: "S",
		68: "R",
		69: "Y",
		70: "C   ",
		74: "    ",
		79: "O",
	})
	bs, err := ParseBasicSchedule(card)
	require.NoError(t, err)
	assert.Equal(t, TxNew, bs.Transaction)
	assert.Equal(t, "C12345", bs.TrainUID)
	assert.Equal(t, "230603", bs.StartDateRaw)
	assert.Equal(t, "999999", bs.EndDateRaw)
	assert.Equal(t, "1A23", bs.SignallingID)
	assert.Equal(t, "2B45", bs.Headcode)
	assert.Equal(t, "O", bs.STPIndicator)
}

func TestParseLocationSortTime(t *testing.T) {
	card := buildCard(24, map[int]string{
		1:  "LO",
		3:  "TONBDGE",
		10: "1000H",
	})
	loc, err := ParseLocation(card)
	require.NoError(t, err)
	assert.Equal(t, "TONBDGE", loc.TiplocCode)
	st, err := loc.SortTime()
	require.NoError(t, err)
	assert.Equal(t, (10*60)*4+2, st)
}

func TestParseTiplocAmendRename(t *testing.T) {
	card := buildCard(78, map[int]string{
		1:  "TA",
		3:  "OLDCODE",
		72: "NEWCODE",
	})
	tp, err := ParseTiploc(card)
	require.NoError(t, err)
	assert.Equal(t, "OLDCODE", tp.Code)
	assert.Equal(t, "NEWCODE", tp.NewCode)
}
