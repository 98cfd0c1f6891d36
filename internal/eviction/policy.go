// Package eviction selects the entry to drop when a cache reaches capacity.
package eviction

import (
	"errors"
	"fmt"

	"github.com/objectfs/cachemgr/pkg/types"
)

// ErrNoCandidates is returned when victim selection is asked to choose from an empty set
var ErrNoCandidates = errors.New("eviction: no candidates")

// SelectVictim returns the key to evict under strategy. Entries must be given
// in insertion order, where overwriting a key keeps its position. FIFO picks
// the first entry; LRU and LFU scan for the smallest value and the first
// entry encountered wins a tie.
//
// The scan is O(n) in the number of entries.
func SelectVictim(entries []types.KeyedEntry, strategy types.Strategy) (string, error) {
	if len(entries) == 0 {
		return "", ErrNoCandidates
	}

	var less func(a, b *types.Entry) bool
	switch strategy {
	case types.StrategyFIFO:
		less = func(_, _ *types.Entry) bool { return false }
	case types.StrategyLRU:
		less = func(a, b *types.Entry) bool { return a.LastAccessed.Before(b.LastAccessed) }
	case types.StrategyLFU:
		less = func(a, b *types.Entry) bool { return a.AccessCount < b.AccessCount }
	default:
		return "", fmt.Errorf("eviction: unsupported strategy %q", strategy)
	}

	victim := -1
	for i := range entries {
		if entries[i].Entry == nil {
			continue
		}
		if victim < 0 || less(entries[i].Entry, entries[victim].Entry) {
			victim = i
		}
	}
	if victim < 0 {
		return "", ErrNoCandidates
	}
	return entries[victim].Key, nil
}
