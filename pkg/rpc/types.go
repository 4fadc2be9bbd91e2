// Package rpc provides JSON-RPC 2.0 types for the intcode API.
package rpc

import (
	"encoding/json"
	"time"

	"github.com/fortiblox/intcode/pkg/imagestore"
	"github.com/fortiblox/intcode/pkg/runner"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Encoding types for image payloads.
type Encoding string

const (
	EncodingText       Encoding = "text"
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
)

// ImageConfig configures putImage and getImage requests.
type ImageConfig struct {
	Name     string   `json:"name,omitempty"`
	Encoding Encoding `json:"encoding,omitempty"`
}

// ImageInfo is returned by getImage.
type ImageInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Words     int       `json:"words"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"createdAt"`

	// Data is [encoded program, encoding].
	Data []string `json:"data,omitempty"`
}

// PutImageResult is returned by putImage.
type PutImageResult struct {
	ID    string `json:"id"`
	Words int    `json:"words"`
}

// VersionInfo is returned by getVersion.
type VersionInfo struct {
	Core    string   `json:"intcode-core"`
	Opcodes []string `json:"opcodes"`
}

// StatsInfo is returned by getStats.
type StatsInfo struct {
	Runner runner.Stats      `json:"runner"`
	Images *imagestore.Stats `json:"images,omitempty"`
	Uptime float64           `json:"uptimeSeconds"`
}

func imageInfo(meta *imagestore.ImageMeta) ImageInfo {
	return ImageInfo{
		ID:        meta.ID.String(),
		Name:      meta.Name,
		Words:     meta.Words,
		Size:      meta.Size,
		CreatedAt: meta.CreatedAt,
	}
}
