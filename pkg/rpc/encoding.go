package rpc

import (
	"encoding/base64"
	"fmt"

	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/intcode/loader"
	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"
)

// EncodeImage encodes program text according to the specified encoding.
// The result is [data, encoding].
func EncodeImage(program intcode.Program, encoding Encoding) ([]string, error) {
	text := []byte(program.String())

	switch encoding {
	case EncodingText, "":
		return []string{string(text), string(EncodingText)}, nil

	case EncodingBase58:
		return []string{base58.Encode(text), string(EncodingBase58)}, nil

	case EncodingBase64:
		return []string{base64.StdEncoding.EncodeToString(text), string(EncodingBase64)}, nil

	case EncodingBase64Zstd:
		compressed, err := compressZstd(text)
		if err != nil {
			return nil, fmt.Errorf("zstd compression failed: %w", err)
		}
		return []string{base64.StdEncoding.EncodeToString(compressed), string(EncodingBase64Zstd)}, nil

	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

// DecodeImage decodes an encoded program.
func DecodeImage(encoded string, encoding Encoding) (intcode.Program, error) {
	var text []byte
	var err error

	switch encoding {
	case EncodingText, "":
		text = []byte(encoded)

	case EncodingBase58:
		text, err = base58.Decode(encoded)

	case EncodingBase64:
		text, err = base64.StdEncoding.DecodeString(encoded)

	case EncodingBase64Zstd:
		var compressed []byte
		compressed, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("base64 decode failed: %w", err)
		}
		text, err = decompressZstd(compressed)

	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
	if err != nil {
		return nil, fmt.Errorf("%s decode failed: %w", encoding, err)
	}
	return loader.Parse(string(text))
}

// ParseEncoding parses an encoding string. Unknown names fall back to text.
func ParseEncoding(s string) Encoding {
	switch s {
	case "base58":
		return EncodingBase58
	case "base64":
		return EncodingBase64
	case "base64+zstd":
		return EncodingBase64Zstd
	default:
		return EncodingText
	}
}

// compressZstd compresses data using zstd.
func compressZstd(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

// decompressZstd decompresses zstd-compressed data.
func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}
