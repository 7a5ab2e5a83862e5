package connection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// wireMessage is the JSON shape of a frame. Older backend builds send the
// body under "payload", newer ones under "data".
type wireMessage struct {
	Type          MessageType     `json:"type"`
	Data          json.RawMessage `json:"data,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Timestamp     json.Number     `json:"timestamp,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// decodeMessage parses a raw frame into a Message.
func decodeMessage(data []byte) (Message, error) {
	var w wireMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Message{}, errors.New("decode frame: trailing data")
	}
	if w.Type == "" {
		return Message{}, errors.New("decode frame: missing type")
	}
	if w.Type == Wildcard {
		return Message{}, fmt.Errorf("decode frame: %w: %q", ErrInvalidMessageType, w.Type)
	}

	payload := w.Data
	if len(payload) == 0 {
		payload = w.Payload
	}

	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}

	return Message{
		Type:          w.Type,
		Payload:       payload,
		Timestamp:     ts,
		CorrelationID: w.CorrelationID,
	}, nil
}

// parseTimestamp accepts integer or float milliseconds.
func parseTimestamp(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid timestamp %q", n)
	}
	// float64(math.MaxInt64) rounds up to 2^63, which is already out of range.
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("timestamp %q out of range", n)
	}
	return int64(f), nil
}

// encodeMessage builds an outbound frame.
func encodeMessage(t MessageType, payload any, timestamp int64, correlationID string) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	return json.Marshal(wireMessage{
		Type:          t,
		Data:          body,
		Timestamp:     json.Number(fmt.Sprintf("%d", timestamp)),
		CorrelationID: correlationID,
	})
}
