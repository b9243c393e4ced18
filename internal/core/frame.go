package core

import (
	"encoding/json"
	"fmt"

	"github.com/danpat592/Yeettalk/internal/domain"
)

// Envelope is the wire shape of every frame in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func EncodeFrame(kind string, payload any) (Frame, error) {
	env := struct {
		Type    string `json:"type"`
		Payload any    `json:"payload"`
	}{Type: kind, Payload: payload}
	if payload == nil {
		env.Payload = struct{}{}
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	return b, nil
}

func DecodeFrame(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", domain.ErrInvalidPayload)
	}
	return env, nil
}
