package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nrod/ingest/internal/store"
)

func TestMovementEventKind(t *testing.T) {
	assert.Equal(t, store.EventArrivalDestination, movementEventKind("ARRIVAL", true))
	assert.Equal(t, store.EventDeparture, movementEventKind("DEPARTURE", false))
	assert.Equal(t, store.EventArrival, movementEventKind("ARRIVAL", false))
}

func TestMovementSource(t *testing.T) {
	assert.Equal(t, store.SourceManual, movementSource("true"))
	assert.Equal(t, store.SourceAuto, movementSource("false"))
}

func TestMovementVariationBucket(t *testing.T) {
	assert.Equal(t, store.VariationEarly, movementVariationBucket("EARLY"))
	assert.Equal(t, store.VariationLate, movementVariationBucket("LATE"))
	assert.Equal(t, store.VariationOffRoute, movementVariationBucket("OFF ROUTE"))
	assert.Equal(t, store.VariationOnTime, movementVariationBucket("ON TIME"))
}

func TestParseSignedInt(t *testing.T) {
	v, err := parseSignedInt("-5")
	require.NoError(t, err)
	assert.Equal(t, -5, v)

	v, err = parseSignedInt("12")
	require.NoError(t, err)
	assert.Equal(t, 12, v)

	_, err = parseSignedInt("4m")
	assert.Error(t, err)
}

func TestNarrowToWinnerSingleCandidate(t *testing.T) {
	winner, ok := narrowToWinner([]store.Schedule{{ID: 9}}, "123A")
	require.True(t, ok)
	assert.Equal(t, uint64(9), winner.ID)
}

func TestNarrowToWinnerSharedUID(t *testing.T) {
	scheds := []store.Schedule{
		{ID: 1, TrainUID: "C12345", STPIndicator: store.STPOverlay},
		{ID: 2, TrainUID: "C12345", STPIndicator: store.STPPermanent},
	}
	winner, ok := narrowToWinner(scheds, "123A")
	require.True(t, ok)
	assert.Equal(t, uint64(1), winner.ID, "caller must have ordered candidates by STP precedence")
}

func TestNarrowToWinnerAmbiguousWithoutSignallingMatch(t *testing.T) {
	scheds := []store.Schedule{
		{ID: 1, TrainUID: "C11111", SignallingID: "2B34"},
		{ID: 2, TrainUID: "C22222", SignallingID: "9Z99"},
	}
	_, ok := narrowToWinner(scheds, "122A12345") // headcode chars 3..6 -> "2A12"
	assert.False(t, ok)
}

func TestNarrowToWinnerResolvedBySignallingID(t *testing.T) {
	scheds := []store.Schedule{
		{ID: 1, TrainUID: "C11111", SignallingID: "2A12"},
		{ID: 2, TrainUID: "C22222", SignallingID: "9Z99"},
	}
	winner, ok := narrowToWinner(scheds, "122A12345")
	require.True(t, ok)
	assert.Equal(t, uint64(1), winner.ID)
}

func TestSameUID(t *testing.T) {
	assert.True(t, sameUID([]store.Schedule{{TrainUID: "A"}, {TrainUID: "A"}}))
	assert.False(t, sameUID([]store.Schedule{{TrainUID: "A"}, {TrainUID: "B"}}))
	assert.False(t, sameUID(nil))
}
