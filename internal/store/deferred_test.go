package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferredQueueCapacity(t *testing.T) {
	q := NewDeferredQueue(2, time.Second)
	now := time.Now()
	require.True(t, q.Push("T1", "U1", now, now, now))
	require.True(t, q.Push("T2", "U2", now, now, now))
	assert.False(t, q.Push("T3", "U3", now, now, now), "queue should reject past capacity")
	assert.Equal(t, 2, q.Len())
}

func TestDeferredQueueDue(t *testing.T) {
	q := NewDeferredQueue(16, 32*time.Second)
	now := time.Now()
	q.Push("T1", "U1", now, now, now)

	assert.Empty(t, q.Due(now.Add(10*time.Second)), "not due yet")
	due := q.Due(now.Add(33 * time.Second))
	require.Len(t, due, 1)
	assert.Equal(t, "T1", due[0].TrainID)
	assert.Equal(t, 0, q.Len(), "due entries are removed from the queue")
}

func TestDeferredQueueDrain(t *testing.T) {
	q := NewDeferredQueue(16, 32*time.Second)
	now := time.Now()
	q.Push("T1", "U1", now, now, now)
	q.Push("T2", "U2", now, now, now)
	assert.Equal(t, 2, q.Drain())
	assert.Equal(t, 0, q.Len())
}
