package vmservice

import (
	"encoding/json"
)

// jsonCodec carries service messages as JSON so no generated protobuf code
// is needed. It is forced on both ends of the connection.
type jsonCodec struct{}

// Marshal implements encoding.Codec.
func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements encoding.Codec.
func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// Name implements encoding.Codec.
func (jsonCodec) Name() string {
	return "json"
}
