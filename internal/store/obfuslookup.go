package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// obfusTTL is the rolling window spec.md §3/§4.E give the obfuscation
// lookup: "Rolling 24-hour mapping ... Rows older than 24 hours are pruned
// at each insert." A Redis key with EX gives that pruning for free instead
// of a manual sweep, grounded on the teacher's dragonflydb/go-redis cache
// usage (db/dragonflydb.go, queue/redis).
const obfusTTL = 24 * time.Hour

// ObfusLookup is the rolling obfuscated-headcode -> true-headcode reverse
// lookup (spec.md §3 ObfusLookup, §4.E, §8 property 5).
type ObfusLookup struct {
	rdb *redis.Client
}

// NewObfusLookup wraps a redis client. addr is host:port; db selects the
// logical database.
func NewObfusLookup(addr string, db int) *ObfusLookup {
	return &ObfusLookup{rdb: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

// NewObfusLookupClient wraps an already-constructed client (used by tests
// against miniredis).
func NewObfusLookupClient(rdb *redis.Client) *ObfusLookup {
	return &ObfusLookup{rdb: rdb}
}

func obfusKey(obfusHC string) string { return "obfus:" + strings.ToUpper(obfusHC) }

// Insert records a (true_hc, obfus_hc) pair, refusing any pair whose class
// letter (first char) doesn't match — spec.md §8 property 5: "No ObfusLookup
// row is ever inserted where true_hc[0] != obfus_hc[0]."
func (o *ObfusLookup) Insert(ctx context.Context, trueHC, obfusHC string) error {
	if len(trueHC) == 0 || len(obfusHC) == 0 || trueHC[0] != obfusHC[0] {
		return fmt.Errorf("store: obfuslookup: class letter mismatch between %q and %q", trueHC, obfusHC)
	}
	return o.rdb.Set(ctx, obfusKey(obfusHC), trueHC, obfusTTL).Err()
}

// Lookup returns the true headcode for an obfuscated one, if it was learned
// within the last 24 hours.
func (o *ObfusLookup) Lookup(ctx context.Context, obfusHC string) (string, bool, error) {
	v, err := o.rdb.Get(ctx, obfusKey(obfusHC)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Close releases the redis client.
func (o *ObfusLookup) Close() error { return o.rdb.Close() }

// IsObfuscatedTrainID reports whether a 10-char TRUST train-id has the
// obfuscated-headcode shape spec.md §4.E describes: "cc9xx where xx is not
// A-Z0-9" in chars 3..6 (1-indexed), i.e. index 2 is '9' and at least one of
// indices 2..5 falls outside [A-Z0-9].
func IsObfuscatedTrainID(trainID string) bool {
	if len(trainID) < 6 {
		return false
	}
	if trainID[2] != '9' {
		return false
	}
	for _, c := range trainID[2:6] {
		if !isAlnumUpper(byte(c)) {
			return true
		}
	}
	return false
}

// ObfuscatedHeadcode extracts the scrambled 4-char headcode from chars 3..6
// of an obfuscated train-id.
func ObfuscatedHeadcode(trainID string) string {
	if len(trainID) < 6 {
		return ""
	}
	return trainID[2:6]
}

func isAlnumUpper(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
