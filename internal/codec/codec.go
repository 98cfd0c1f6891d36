// Package codec converts cache entries to and from their stored form.
//
// Entries are stored as JSON documents with millisecond timestamps:
//
//	{"data":<value>,"timestamp":1700000000000,"ttl":60000,"accessCount":2,"lastAccessed":1700000001000}
//
// When compression is enabled the JSON is zstd-compressed and base64-encoded
// behind a "zstd:" marker so the result is still a plain string. Decoding
// detects the marker, so stores written with either setting stay readable.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/objectfs/cachemgr/pkg/types"
)

const compressedMarker = "zstd:"

type wireEntry struct {
	Data         json.RawMessage `json:"data"`
	Timestamp    int64           `json:"timestamp"`
	TTL          *int64          `json:"ttl,omitempty"`
	AccessCount  int64           `json:"accessCount"`
	LastAccessed int64           `json:"lastAccessed"`
}

// Codec encodes entries for the persisted and durable backends. A Codec is
// safe for concurrent use.
type Codec struct {
	compress bool
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

// New creates a codec. compress selects the compressed form for Encode.
func New(compress bool) (*Codec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Codec{compress: compress, encoder: encoder, decoder: decoder}, nil
}

// MustNew is like New but panics on error.
func MustNew(compress bool) *Codec {
	c, err := New(compress)
	if err != nil {
		panic(err)
	}
	return c
}

// Compressed reports whether Encode produces the compressed form
func (c *Codec) Compressed() bool {
	return c.compress
}

// Encode serializes an entry.
func (c *Codec) Encode(e *types.Entry) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("codec: nil entry")
	}

	w := wireEntry{
		Data:         json.RawMessage(e.Data),
		Timestamp:    e.Timestamp.UnixMilli(),
		AccessCount:  e.AccessCount,
		LastAccessed: e.LastAccessed.UnixMilli(),
	}
	if len(e.Data) == 0 {
		w.Data = json.RawMessage("null")
	}
	if e.TTL > 0 {
		ttl := e.TTL.Milliseconds()
		if ttl == 0 {
			ttl = 1
		}
		w.TTL = &ttl
	}

	raw, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal entry: %w", err)
	}
	if !c.compress {
		return raw, nil
	}

	compressed := c.encoder.EncodeAll(raw, nil)
	out := make([]byte, len(compressedMarker)+base64.StdEncoding.EncodedLen(len(compressed)))
	copy(out, compressedMarker)
	base64.StdEncoding.Encode(out[len(compressedMarker):], compressed)
	return out, nil
}

// EncodeString serializes an entry as a string.
func (c *Codec) EncodeString(e *types.Entry) (string, error) {
	b, err := c.Encode(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses an entry produced by Encode, compressed or not.
func (c *Codec) Decode(b []byte) (*types.Entry, error) {
	raw := b
	if bytes.HasPrefix(b, []byte(compressedMarker)) {
		payload := b[len(compressedMarker):]
		compressed := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
		n, err := base64.StdEncoding.Decode(compressed, payload)
		if err != nil {
			return nil, fmt.Errorf("codec: decode base64: %w", err)
		}
		raw, err = c.decoder.DecodeAll(compressed[:n], nil)
		if err != nil {
			return nil, fmt.Errorf("codec: decompress entry: %w", err)
		}
	}

	var w wireEntry
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("codec: unmarshal entry: %w", err)
	}

	e := &types.Entry{
		Data:         []byte(w.Data),
		Timestamp:    time.UnixMilli(w.Timestamp),
		AccessCount:  w.AccessCount,
		LastAccessed: time.UnixMilli(w.LastAccessed),
	}
	if w.TTL != nil {
		e.TTL = time.Duration(*w.TTL) * time.Millisecond
	}
	return e, nil
}

// DecodeString parses an entry produced by EncodeString.
func (c *Codec) DecodeString(s string) (*types.Entry, error) {
	return c.Decode([]byte(s))
}
