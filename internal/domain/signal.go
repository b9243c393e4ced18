package domain

import "encoding/json"

// SignalingEnvelope is relayed between peers without interpretation.
// Only the routing fields are read; Payload is forwarded byte for byte.
type SignalingEnvelope struct {
	Kind         string          `json:"kind"`
	RoomID       RoomID          `json:"roomId"`
	FromUserID   UserID          `json:"fromUserId"`
	FromUsername string          `json:"fromUsername"`
	TargetUserID UserID          `json:"targetUserId,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

func (e SignalingEnvelope) Targeted() bool { return e.TargetUserID != "" }
