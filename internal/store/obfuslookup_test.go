package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestObfusLookup(t *testing.T) *ObfusLookup {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewObfusLookupClient(rdb)
}

func TestObfusLookupInsertAndLookup(t *testing.T) {
	o := newTestObfusLookup(t)
	ctx := context.Background()

	require.NoError(t, o.Insert(ctx, "1A23", "1B23"))

	hc, ok, err := o.Lookup(ctx, "1B23")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1A23", hc)
}

func TestObfusLookupRejectsClassMismatch(t *testing.T) {
	o := newTestObfusLookup(t)
	ctx := context.Background()

	err := o.Insert(ctx, "1A23", "2B23")
	require.Error(t, err)
}

func TestObfusLookupMiss(t *testing.T) {
	o := newTestObfusLookup(t)
	ctx := context.Background()

	_, ok, err := o.Lookup(ctx, "ZZZZ")
	require.NoError(t, err)
	require.False(t, ok)
}
