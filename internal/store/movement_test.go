package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMovementFlagsRoundTrip(t *testing.T) {
	cases := []MovementFlags{
		{Event: EventDeparture, Source: SourceAuto, Variation: VariationOnTime},
		{Event: EventArrivalDestination, Source: SourceManual, Variation: VariationLate, Terminated: true},
		{Event: EventArrival, Variation: VariationOffRoute, OffRoute: true, Correction: true},
	}
	for _, c := range cases {
		got := DecodeMovementFlags(c.Encode())
		assert.Equal(t, c, got)
	}
}

func TestIsObfuscatedTrainID(t *testing.T) {
	assert.True(t, IsObfuscatedTrainID("AB9#$1234"))
	assert.False(t, IsObfuscatedTrainID("122P12345678"))
	assert.False(t, IsObfuscatedTrainID("AB912A5678"))
}

func TestObfuscatedHeadcode(t *testing.T) {
	assert.Equal(t, "9#$1", ObfuscatedHeadcode("AB9#$1234"))
}
