// Package imagestore provides persistent storage for intcode program images.
//
// Images are content-addressed by types.ImageID and may carry a
// human-readable name. Payloads are stored as zstd-compressed program text.
package imagestore

import (
	"errors"
	"fmt"
	"time"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/intcode/loader"
	"github.com/klauspost/compress/zstd"
)

var (
	// ErrImageNotFound is returned when an image doesn't exist.
	ErrImageNotFound = errors.New("image not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("imagestore closed")

	// ErrEmptyProgram is returned when storing a program with no words.
	ErrEmptyProgram = errors.New("empty program")
)

// Config holds imagestore configuration options.
type Config struct {
	// Path is the database file path.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	// Timeout bounds how long Open waits for the file lock.
	Timeout time.Duration
}

// DefaultConfig returns the default imagestore configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:    path,
		Timeout: 5 * time.Second,
	}
}

// Store is the image catalog interface.
type Store interface {
	Put(name string, program intcode.Program) (types.ImageID, error)
	Get(id types.ImageID) (intcode.Program, error)
	GetByName(name string) (types.ImageID, intcode.Program, error)
	Meta(id types.ImageID) (*ImageMeta, error)
	Has(id types.ImageID) bool
	Delete(id types.ImageID) error
	List() ([]ImageMeta, error)
	Stats() (*Stats, error)
	Close() error
}

// ImageMeta describes a stored image.
type ImageMeta struct {
	ID        types.ImageID `json:"id"`
	Name      string        `json:"name,omitempty"`
	Words     int           `json:"words"`
	Size      int           `json:"size"` // compressed payload bytes
	CreatedAt time.Time     `json:"createdAt"`
}

// Stats contains imagestore statistics.
type Stats struct {
	ImageCount   uint64 `json:"imageCount"`
	NameCount    uint64 `json:"nameCount"`
	DatabaseSize int64  `json:"databaseSize"`
}

// Shared codecs. Both are safe for concurrent EncodeAll/DecodeAll.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// encodePayload compresses program text.
func encodePayload(program intcode.Program) []byte {
	return encoder.EncodeAll([]byte(program.String()), nil)
}

// decodePayload reverses encodePayload.
func decodePayload(data []byte) (intcode.Program, error) {
	text, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress image: %w", err)
	}
	return loader.Parse(string(text))
}

func newMeta(id types.ImageID, name string, program intcode.Program, payload []byte) *ImageMeta {
	return &ImageMeta{
		ID:        id,
		Name:      name,
		Words:     len(program),
		Size:      len(payload),
		CreatedAt: time.Now().UTC(),
	}
}
