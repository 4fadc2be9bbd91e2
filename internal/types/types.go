// Package types defines identifiers shared across the intcode packages.
//
// Program images are content-addressed: an ImageID is the BLAKE3 digest of
// the program words and is rendered in base58 wherever it appears as text
// (CLI output, JSON-RPC, gRPC messages).
package types

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// ImageIDSize is the size of an image identifier in bytes.
const ImageIDSize = 32

var (
	// ErrInvalidImageID is returned when an image ID has invalid length.
	ErrInvalidImageID = errors.New("invalid image id: must be 32 bytes")
)

// ImageID identifies a program image by content.
type ImageID [ImageIDSize]byte

// ComputeImageID hashes program words. Each word is encoded as a
// little-endian int64 so the ID does not depend on text formatting.
func ComputeImageID(words []int64) ImageID {
	buf := make([]byte, 8*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(w))
	}
	return blake3.Sum256(buf)
}

// ImageIDFromBase58 parses a base58-encoded image ID.
func ImageIDFromBase58(s string) (ImageID, error) {
	var id ImageID
	data, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("base58 decode: %w", err)
	}
	if len(data) != ImageIDSize {
		return id, ErrInvalidImageID
	}
	copy(id[:], data)
	return id, nil
}

// ImageIDFromBytes creates an ImageID from a byte slice.
func ImageIDFromBytes(b []byte) (ImageID, error) {
	var id ImageID
	if len(b) != ImageIDSize {
		return id, ErrInvalidImageID
	}
	copy(id[:], b)
	return id, nil
}

// String returns the base58-encoded representation.
func (id ImageID) String() string {
	return base58.Encode(id[:])
}

// Hex returns the hex-encoded representation.
func (id ImageID) Hex() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first eight base58 characters, for logs.
func (id ImageID) Short() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// IsZero returns true if the ID is all zeros.
func (id ImageID) IsZero() bool {
	return id == ImageID{}
}

// Bytes returns the ID as a byte slice.
func (id ImageID) Bytes() []byte {
	return id[:]
}

// MarshalText implements encoding.TextMarshaler.
func (id ImageID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ImageID) UnmarshalText(text []byte) error {
	parsed, err := ImageIDFromBase58(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
