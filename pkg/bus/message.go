package bus

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope carried on every channel.
type Message struct {
	Channel     Channel         `json:"channel"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`

	// Value holds the decoded payload when the subscriber has a Decoder.
	Value any `json:"-"`
}

// NewMessage encodes payload into an envelope stamped with at.
func NewMessage(ch Channel, payload any, at time.Time) (*Message, error) {
	if !ch.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
	}
	var raw []byte
	switch v := payload.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal %s payload: %w", ErrSerialization, ch, err)
		}
		raw = b
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: %s payload is not valid JSON", ErrSerialization, ch)
	}
	return &Message{Channel: ch, Payload: raw, PublishedAt: at.UTC()}, nil
}

// Encode serializes the envelope for the wire.
func (m *Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: encode envelope: %w", ErrSerialization, err)
	}
	return b, nil
}

// Age returns how old the message is at now.
func (m *Message) Age(now time.Time) time.Duration {
	return now.Sub(m.PublishedAt)
}

// DecodeMessage parses a wire envelope received on ch.
func DecodeMessage(ch Channel, data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: decode envelope on %s: %w", ErrSerialization, ch, err)
	}
	if m.Channel == "" {
		m.Channel = ch
	}
	if m.Channel != ch {
		return nil, fmt.Errorf("%w: envelope for %s received on %s", ErrSerialization, m.Channel, ch)
	}
	if len(m.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload on %s", ErrSerialization, ch)
	}
	return &m, nil
}
