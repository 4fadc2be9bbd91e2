// Package results caches the outcome of deterministic program runs.
//
// A run of an intcode program is a pure function of the image, the memory
// overrides, the input values and the step budget. Those four are encoded
// with canonical CBOR and hashed with SHA3-256 to form the cache Key, so two
// requests that differ only in map ordering share an entry.
package results

import (
	"errors"
	"fmt"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/sha3"
)

var (
	// ErrNotFound is returned when a key has no cached record.
	ErrNotFound = errors.New("result not found")

	// ErrClosed is returned when operating on a closed cache.
	ErrClosed = errors.New("result cache closed")
)

// KeySize is the size of a cache key in bytes.
const KeySize = 32

// Key identifies a run request.
type Key [KeySize]byte

// String returns the hex form of the key.
func (k Key) String() string {
	return fmt.Sprintf("%x", k[:])
}

// Request is everything that determines a run's outcome.
type Request struct {
	Image     types.ImageID
	Overrides map[int64]int64
	Inputs    []int64
	MaxSteps  uint64
	Lenient   bool
}

type requestWire struct {
	Image     [32]byte        `cbor:"1,keyasint"`
	Overrides map[int64]int64 `cbor:"2,keyasint,omitempty"`
	Inputs    []int64         `cbor:"3,keyasint,omitempty"`
	MaxSteps  uint64          `cbor:"4,keyasint,omitempty"`
	Lenient   bool            `cbor:"5,keyasint,omitempty"`
}

// Record is a cached run outcome.
type Record struct {
	Image     types.ImageID `cbor:"1,keyasint" json:"image"`
	State     string        `cbor:"2,keyasint" json:"state"`
	Fault     string        `cbor:"3,keyasint,omitempty" json:"fault,omitempty"`
	FaultKind string        `cbor:"4,keyasint,omitempty" json:"faultKind,omitempty"`
	Output    []int64       `cbor:"5,keyasint,omitempty" json:"output"`
	Memory0   int64         `cbor:"6,keyasint" json:"memory0"`
	Steps     uint64        `cbor:"7,keyasint" json:"steps"`
	FinalIP   int64         `cbor:"8,keyasint" json:"finalIp"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("results: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// KeyOf derives the cache key for a request.
func KeyOf(req Request) (Key, error) {
	data, err := encMode.Marshal(requestWire{
		Image:     req.Image,
		Overrides: req.Overrides,
		Inputs:    req.Inputs,
		MaxSteps:  req.MaxSteps,
		Lenient:   req.Lenient,
	})
	if err != nil {
		return Key{}, fmt.Errorf("encode request: %w", err)
	}
	return sha3.Sum256(data), nil
}

// MarshalRecord serializes a Record to CBOR bytes.
func MarshalRecord(r *Record) ([]byte, error) {
	return encMode.Marshal(r)
}

// UnmarshalRecord deserializes a Record from CBOR bytes.
func UnmarshalRecord(data []byte) (*Record, error) {
	var r Record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("results: unmarshal record: %w", err)
	}
	return &r, nil
}

// Cache stores run records by key.
type Cache interface {
	Get(key Key) (*Record, error)
	Put(key Key, rec *Record) error
	Len() uint64
	Close() error
}
