package eviction

import (
	"errors"
	"testing"
	"time"

	"github.com/objectfs/cachemgr/pkg/types"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return base.Add(time.Duration(ms) * time.Millisecond)
}

func entry(key string, inserted, accessed int, count int64) types.KeyedEntry {
	return types.KeyedEntry{
		Key: key,
		Entry: &types.Entry{
			Timestamp:    at(inserted),
			LastAccessed: at(accessed),
			AccessCount:  count,
		},
	}
}

func TestSelectVictim(t *testing.T) {
	entries := []types.KeyedEntry{
		entry("a", 10, 50, 3),
		entry("b", 20, 30, 1),
		entry("c", 5, 40, 2),
	}

	tests := []struct {
		name     string
		strategy types.Strategy
		want     string
	}{
		{"fifo picks first in insertion order", types.StrategyFIFO, "a"},
		{"lru picks least recently accessed", types.StrategyLRU, "b"},
		{"lfu picks least accessed", types.StrategyLFU, "b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectVictim(entries, tt.strategy)
			if err != nil {
				t.Fatalf("SelectVictim() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("SelectVictim() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSelectVictim_TieBreaksOnListingOrder(t *testing.T) {
	entries := []types.KeyedEntry{
		entry("first", 0, 0, 0),
		entry("second", 0, 0, 0),
		entry("third", 0, 0, 0),
	}

	for _, strategy := range []types.Strategy{types.StrategyFIFO, types.StrategyLRU, types.StrategyLFU} {
		got, err := SelectVictim(entries, strategy)
		if err != nil {
			t.Fatalf("%s: SelectVictim() error = %v", strategy, err)
		}
		if got != "first" {
			t.Errorf("%s: SelectVictim() = %q, want %q", strategy, got, "first")
		}
	}
}

func TestSelectVictim_FIFOIgnoresTimestamp(t *testing.T) {
	// "a" was overwritten after "b" was inserted: it keeps its position but
	// carries the newer timestamp.
	entries := []types.KeyedEntry{
		entry("a", 30, 30, 0),
		entry("b", 20, 20, 0),
	}

	got, err := SelectVictim(entries, types.StrategyFIFO)
	if err != nil {
		t.Fatalf("SelectVictim() error = %v", err)
	}
	if got != "a" {
		t.Errorf("SelectVictim() = %q, want %q", got, "a")
	}

	entries[0].Entry = nil
	if got, _ := SelectVictim(entries, types.StrategyFIFO); got != "b" {
		t.Errorf("SelectVictim() skipping nil = %q, want %q", got, "b")
	}
}

func TestSelectVictim_Errors(t *testing.T) {
	if _, err := SelectVictim(nil, types.StrategyLRU); !errors.Is(err, ErrNoCandidates) {
		t.Errorf("empty input error = %v, want ErrNoCandidates", err)
	}

	entries := []types.KeyedEntry{entry("a", 0, 0, 0)}
	if _, err := SelectVictim(entries, types.Strategy("random")); err == nil {
		t.Error("expected error for unsupported strategy")
	}

	if _, err := SelectVictim([]types.KeyedEntry{{Key: "nil"}}, types.StrategyLRU); !errors.Is(err, ErrNoCandidates) {
		t.Errorf("nil entries error = %v, want ErrNoCandidates", err)
	}
}
