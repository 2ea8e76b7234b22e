// Package encoding provides centralized serialization for records stored in
// the persistent database file. ALL msgpack operations on file records MUST go
// through this package so rows, metadata and counters decode consistently.
//
// Thread Safety: every function is safe for concurrent use.
//
// Type Preservation: numbers decoded into interface{} come back as int64,
// uint64 or float64 regardless of their encoded width. Callers that need the
// declared column type normalize after decoding.
package encoding

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrChecksum is returned by Open when a sealed record fails verification.
var ErrChecksum = errors.New("record checksum mismatch")

// ErrShortRecord is returned by Open for records too small to carry a checksum.
var ErrShortRecord = errors.New("record shorter than checksum")

const checksumSize = 8

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data using loose interface decoding.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}

// Seal encodes v and prefixes the payload with its xxhash64 checksum.
// Metadata records are sealed so a damaged file is reported as corrupt
// instead of decoding into garbage.
func Seal(v interface{}) ([]byte, error) {
	payload, err := Marshal(v)
	if err != nil {
		return nil, err
	}

	out := make([]byte, checksumSize+len(payload))
	binary.BigEndian.PutUint64(out, xxhash.Sum64(payload))
	copy(out[checksumSize:], payload)
	return out, nil
}

// Open verifies a record produced by Seal and decodes it into v.
func Open(data []byte, v interface{}) error {
	if len(data) < checksumSize {
		return ErrShortRecord
	}

	payload := data[checksumSize:]
	if binary.BigEndian.Uint64(data) != xxhash.Sum64(payload) {
		return ErrChecksum
	}
	return Unmarshal(payload, v)
}
