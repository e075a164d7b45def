package wire

import (
	"encoding/json"
	"fmt"
)

// JSONEncoding is the negotiated pure-JSON mode: a single magic byte followed by a
// JSON document, with no pickle framing at all.
type JSONEncoding struct{}

// Encode implements Encoding.
func (JSONEncoding) Encode(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal json payload: %w", err)
	}

	out := make([]byte, 0, len(body)+1)
	out = append(out, jsonMagicByte)
	out = append(out, body...)

	return out, nil
}

// Decode implements Encoding.
func (JSONEncoding) Decode(payload []byte, v any) error {
	if len(payload) == 0 || payload[0] != jsonMagicByte {
		return fmt.Errorf("wire: payload missing json magic byte")
	}

	if err := json.Unmarshal(payload[1:], v); err != nil {
		return fmt.Errorf("wire: unmarshal json payload: %w", err)
	}

	return nil
}
