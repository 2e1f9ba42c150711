package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitmapSetClearHas(t *testing.T) {
	b := NewBitmap(100, 64)
	b.Set(100)
	b.Set(163)
	assert.True(t, b.Has(100))
	assert.True(t, b.Has(163))
	assert.False(t, b.Has(101))

	b.Clear(100)
	assert.False(t, b.Has(100))
	assert.True(t, b.Has(163))
}

func TestBitmapStillSet(t *testing.T) {
	b := NewBitmap(0, 128)
	b.Set(5)
	b.Set(70)
	b.Set(127)
	b.Clear(70)

	still := b.StillSet()
	assert.ElementsMatch(t, []uint64{5, 127}, still)
}

func TestBitmapOverflowTrackedSeparately(t *testing.T) {
	b := NewBitmap(0, 8)
	b.Set(1000) // outside [0,8), goes to overflow
	assert.True(t, b.Has(1000))
	assert.ElementsMatch(t, []uint64{1000}, b.StillSet())
	b.Clear(1000)
	assert.False(t, b.Has(1000))
	assert.Empty(t, b.StillSet())
}
