// Package wire implements the length-prefixed device RPC framing used to talk to the
// door/shade/thermostat/etc. device stub servers, plus the payload codecs layered on
// top of it.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxPayloadSize bounds a single frame's payload to guard against a corrupt or
// malicious length prefix forcing an unbounded allocation.
const MaxPayloadSize = 16 << 20

// ErrPayloadTooLarge is returned when a frame's declared length exceeds MaxPayloadSize.
var ErrPayloadTooLarge = errors.New("wire: payload exceeds maximum frame size")

// WriteFrame writes a single u32-big-endian-length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [4]byte

	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}

	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}

	return nil
}

// ReadFrame reads a single length-prefixed frame and returns its payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte

	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("wire: read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}

	return payload, nil
}

// Encoding marshals and unmarshals the JSON payload carried inside a frame.
type Encoding interface {
	Encode(v any) ([]byte, error)
	Decode(payload []byte, v any) error
}

// jsonMagicByte prefixes a JSONEncoding payload. Pickle protocol-0 frames always begin
// with a printable opcode character (0x56 'V' for our codec), so 0x00 cannot collide
// with a legitimate pickle-compat frame and safely distinguishes the two modes.
const jsonMagicByte = 0x00

// DetectEncoding inspects a frame's leading byte to pick the codec that produced it,
// letting a connection negotiate a pure-JSON mode by convention.
func DetectEncoding(payload []byte) Encoding {
	if len(payload) > 0 && payload[0] == jsonMagicByte {
		return JSONEncoding{}
	}

	return PickleCompatEncoding{}
}
