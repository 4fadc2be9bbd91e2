// Package loader reads intcode program images.
//
// The text format is a single line of comma-separated base-10 signed
// integers, optionally followed by trailing whitespace. Program files may
// also be zstd-compressed; compression is detected from the frame magic so
// callers do not need to know how a file was stored.
package loader

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/klauspost/compress/zstd"
)

// Errors.
var (
	ErrMalformedProgram = errors.New("malformed program")
	ErrProgramTooLarge  = errors.New("program too large")
)

// zstdMagic is the little-endian zstd frame magic number.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// DefaultMaxSize is the largest program text accepted by Read.
const DefaultMaxSize = 64 << 20 // 64 MB

// SyntaxError reports a token that is not a valid integer.
type SyntaxError struct {
	Index int    // zero-based position of the token in the program
	Token string // offending token
	Err   error  // strconv error, if any
}

// Error implements error.
func (e *SyntaxError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: token %d %q: %v", ErrMalformedProgram, e.Index, e.Token, e.Err)
	}
	return fmt.Sprintf("%v: token %d %q", ErrMalformedProgram, e.Index, e.Token)
}

// Unwrap returns ErrMalformedProgram so callers can use errors.Is.
func (e *SyntaxError) Unwrap() error {
	return ErrMalformedProgram
}

// Parse parses program text. Trailing whitespace is trimmed, as is
// whitespace around each token.
func Parse(text string) (intcode.Program, error) {
	text = strings.TrimRight(text, " \t\r\n")
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty program", ErrMalformedProgram)
	}

	tokens := strings.Split(text, ",")
	program := make(intcode.Program, len(tokens))
	for i, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return nil, &SyntaxError{Index: i, Token: tok}
		}
		v, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			var numErr *strconv.NumError
			if errors.As(err, &numErr) {
				err = numErr.Err
			}
			return nil, &SyntaxError{Index: i, Token: tok, Err: err}
		}
		program[i] = v
	}
	return program, nil
}

// Options configures Read.
type Options struct {
	// MaxSize bounds the decompressed program text. 0 means DefaultMaxSize.
	MaxSize int64
}

// Read reads a program from r, decompressing zstd input transparently.
func Read(r io.Reader, opts Options) (intcode.Program, error) {
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read program: %w", err)
	}

	var src io.Reader = br
	if bytes.Equal(head, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		defer dec.Close()
		src = dec
	}

	data, err := io.ReadAll(io.LimitReader(src, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrProgramTooLarge, maxSize)
	}
	return Parse(string(data))
}

// LoadFile reads a program from the file at path.
func LoadFile(path string) (intcode.Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open program: %w", err)
	}
	defer f.Close()

	program, err := Read(f, Options{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return program, nil
}

// Write writes program in text form followed by a newline. If compress is
// set the output is a zstd frame.
func Write(w io.Writer, program intcode.Program, compress bool) error {
	text := program.String() + "\n"
	if !compress {
		_, err := io.WriteString(w, text)
		return err
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := io.WriteString(enc, text); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// SaveFile writes program to path, compressing when the name ends in ".zst".
func SaveFile(path string, program intcode.Program) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create program file: %w", err)
	}
	if err := Write(f, program, strings.HasSuffix(path, ".zst")); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
