// Package protocol implements the upstream ASR provider's binary,
// length-prefixed WebSocket framing. It is pure: no I/O, no sleeps,
// just byte-buffer transforms, so it can be exercised without a
// network connection.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Client request headers (big-endian magic values).
const (
	HeaderFullClientRequest uint32 = 0x11101000
	HeaderAudioOnly         uint32 = 0x11200000
	HeaderAudioLast         uint32 = 0x11220000
)

// CHUNK_BYTES from spec.md §4.B: 200ms of 16kHz/16-bit/mono PCM.
const ChunkBytes = 6400

const (
	serverMessageTypeError  byte = 0x0F
	serverMessageTypeResult byte = 0x09
	terminalFlags           byte = 0x03
)

// ProtocolError represents a 0x0F error frame from the upstream.
type ProtocolError struct {
	Code uint32
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("upstream protocol error: code %d", e.Code)
}

// EncodeFrame concatenates a 4-byte big-endian header, a 4-byte
// big-endian payload length, and the payload itself.
func EncodeFrame(header uint32, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], header)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[8:], payload)
	return buf
}

// DecodeFrame is EncodeFrame's inverse, used by tests to assert the
// round-trip law from spec.md §8.
func DecodeFrame(data []byte) (header uint32, payload []byte, err error) {
	if len(data) < 8 {
		return 0, nil, errors.New("protocol: frame shorter than header")
	}
	header = binary.BigEndian.Uint32(data[0:4])
	length := binary.BigEndian.Uint32(data[4:8])
	if uint32(len(data)-8) < length {
		return 0, nil, errors.New("protocol: payload shorter than declared length")
	}
	return header, data[8 : 8+length], nil
}

// ServerFrame is the result of successfully parsing a 0x09 result
// frame from the upstream.
type ServerFrame struct {
	Terminal bool
	Text     string
	HasText  bool
}

// ParseServerFrame inspects byte index 1 to classify the frame per
// spec.md §4.A. ok is false for frames the caller should silently
// ignore (shorter than their header or declared size, or a message
// type other than 0x09). A 0x09 frame whose JSON is malformed or has
// no "result" is returned with ok true and HasText false, so its
// Terminal flag is still reported. err is non-nil only for the 0x0F
// protocol-error case, which the caller must treat as fatal for the
// session.
func ParseServerFrame(data []byte) (frame ServerFrame, ok bool, err error) {
	if len(data) < 2 {
		return ServerFrame{}, false, nil
	}

	messageType := data[1] >> 4
	flags := data[1] & 0x0F
	terminal := flags == terminalFlags

	if messageType == serverMessageTypeError {
		var code uint32
		if len(data) >= 8 {
			code = binary.BigEndian.Uint32(data[4:8])
		}
		return ServerFrame{}, false, &ProtocolError{Code: code}
	}

	if messageType != serverMessageTypeResult {
		return ServerFrame{}, false, nil
	}

	if len(data) < 12 {
		return ServerFrame{}, false, nil
	}

	size := binary.BigEndian.Uint32(data[8:12])
	if uint32(len(data)-12) < size {
		return ServerFrame{}, false, nil
	}

	payload := data[12 : 12+size]
	text, hasText := extractResultText(payload)

	return ServerFrame{Terminal: terminal, Text: text, HasText: hasText}, true, nil
}

// extractResultText implements spec.md §4.A's JSON extraction rule:
// read "result"; object -> its "text" field (empty if absent); string
// -> as-is; anything else -> empty. Malformed JSON yields (false).
func extractResultText(raw []byte) (string, bool) {
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Result == nil {
		return "", false
	}

	var generic interface{}
	if err := json.Unmarshal(envelope.Result, &generic); err != nil {
		return "", true
	}

	switch v := generic.(type) {
	case string:
		return v, true
	case map[string]interface{}:
		if text, ok := v["text"].(string); ok {
			return text, true
		}
		return "", true
	default:
		return "", true
	}
}
