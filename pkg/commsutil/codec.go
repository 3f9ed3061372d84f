package commsutil

import (
	"encoding/json"
	"fmt"
)

// Payloads on the wire are plain JSON. These helpers exist so event and
// request encoding stays in one place should the wire format ever grow
// (compression, versioned envelopes).

// EncodePayload serializes a value for publishing.
func EncodePayload(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("commsutil:codec - encode %T: %w", v, err)
	}
	return data, nil
}

// DecodePayload deserializes received bytes into v.
func DecodePayload(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("commsutil:codec - decode into %T: %w", v, err)
	}
	return nil
}
