package types

import (
	"fmt"
	"strings"
	"time"
)

// Strategy names an eviction policy
type Strategy string

// Supported eviction strategies
const (
	StrategyLRU  Strategy = "lru"
	StrategyLFU  Strategy = "lfu"
	StrategyFIFO Strategy = "fifo"
)

// ParseStrategy parses a strategy name, case-insensitively
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyLRU:
		return StrategyLRU, nil
	case StrategyLFU:
		return StrategyLFU, nil
	case StrategyFIFO:
		return StrategyFIFO, nil
	default:
		return "", fmt.Errorf("unknown eviction strategy: %q", s)
	}
}

// StorageKind names a backend adapter family
type StorageKind string

// Supported storage kinds
const (
	StorageMemory    StorageKind = "memory"
	StoragePersisted StorageKind = "persisted"
	StorageDurable   StorageKind = "durable"
)

// ParseStorageKind parses a storage kind name, case-insensitively
func ParseStorageKind(s string) (StorageKind, error) {
	switch StorageKind(strings.ToLower(strings.TrimSpace(s))) {
	case StorageMemory:
		return StorageMemory, nil
	case StoragePersisted:
		return StoragePersisted, nil
	case StorageDurable:
		return StorageDurable, nil
	default:
		return "", fmt.Errorf("unknown storage kind: %q", s)
	}
}

// Default cache settings
const (
	DefaultMaxSize  = 100
	DefaultStrategy = StrategyLRU
	DefaultStorage  = StorageMemory
)

// CacheConfig represents the configuration of a single named cache
type CacheConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	MaxSize  int           `yaml:"max_size"`
	Strategy Strategy      `yaml:"strategy"`
	Storage  StorageKind   `yaml:"storage"`
	Compress bool          `yaml:"compress"`
}

// WithDefaults returns a copy with zero values replaced by defaults
func (c CacheConfig) WithDefaults() CacheConfig {
	if c.MaxSize == 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.Strategy == "" {
		c.Strategy = DefaultStrategy
	}
	if c.Storage == "" {
		c.Storage = DefaultStorage
	}
	return c
}

// Validate checks the configuration for unsupported values
func (c CacheConfig) Validate() error {
	if c.TTL < 0 {
		return fmt.Errorf("ttl must not be negative")
	}
	if c.MaxSize < 0 {
		return fmt.Errorf("max_size must not be negative")
	}
	if c.Strategy != "" {
		if _, err := ParseStrategy(string(c.Strategy)); err != nil {
			return err
		}
	}
	if c.Storage != "" {
		if _, err := ParseStorageKind(string(c.Storage)); err != nil {
			return err
		}
	}
	return nil
}

// Entry is the envelope stored per key: the encoded value plus the
// bookkeeping used for expiration and eviction.
type Entry struct {
	// Data holds the JSON encoding of the cached value.
	Data []byte
	// Timestamp is the insertion time. It is never changed after creation.
	Timestamp time.Time
	// TTL is the maximum age of the entry. Zero means no expiration.
	TTL          time.Duration
	AccessCount  int64
	LastAccessed time.Time
}

// NewEntry creates an entry inserted at now
func NewEntry(data []byte, now time.Time, ttl time.Duration) *Entry {
	return &Entry{
		Data:         data,
		Timestamp:    now,
		TTL:          ttl,
		AccessCount:  0,
		LastAccessed: now,
	}
}

// Expired reports whether the entry has outlived its TTL at now
func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.Timestamp) > e.TTL
}

// Touch records a successful read at now
func (e *Entry) Touch(now time.Time) {
	e.AccessCount++
	e.LastAccessed = now
}

// Clone returns a deep copy of the entry
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Data != nil {
		cp.Data = make([]byte, len(e.Data))
		copy(cp.Data, e.Data)
	}
	return &cp
}

// KeyedEntry pairs an entry with the caller-visible key it is stored under
type KeyedEntry struct {
	Key   string
	Entry *Entry
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
	Absorbed    uint64  `json:"absorbed_errors"`
	Capacity    int     `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
}
