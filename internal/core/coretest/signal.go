// Package coretest provides an in-memory SignalConnection for tests.
package coretest

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/danpat592/Yeettalk/internal/core"
	"github.com/danpat592/Yeettalk/internal/domain"
	"github.com/stretchr/testify/require"
)

// Signal records every frame pushed to it. With a non-zero Capacity it
// reports backpressure once that many frames are queued.
type Signal struct {
	Capacity int
	// OnSend, when set, runs after a frame is accepted, outside the lock.
	OnSend func(env core.Envelope)

	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (s *Signal) TrySend(f core.Frame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrConnectionClosed
	}
	if s.Capacity > 0 && len(s.frames) >= s.Capacity {
		s.mu.Unlock()
		return domain.ErrBackpressure
	}
	s.frames = append(s.frames, f)
	hook := s.OnSend
	s.mu.Unlock()

	if hook != nil {
		var env core.Envelope
		if err := json.Unmarshal(f, &env); err == nil {
			hook(env)
		}
	}
	return nil
}

func (s *Signal) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Signal) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Signal) Frames() []core.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Envelope, 0, len(s.frames))
	for _, f := range s.frames {
		var env core.Envelope
		if err := json.Unmarshal(f, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

func (s *Signal) Types() []string {
	var out []string
	for _, env := range s.Frames() {
		out = append(out, env.Type)
	}
	return out
}

// OfType returns the payloads of every frame of the given kind.
func (s *Signal) OfType(kind string) []json.RawMessage {
	var out []json.RawMessage
	for _, env := range s.Frames() {
		if env.Type == kind {
			out = append(out, env.Payload)
		}
	}
	return out
}

func (s *Signal) Reset() {
	s.mu.Lock()
	s.frames = nil
	s.mu.Unlock()
}

// NewConn returns an authenticated connection for user id backed by a
// recording Signal.
func NewConn(t testing.TB, id domain.UserID, username string) (*core.Connection, *Signal) {
	t.Helper()
	sig := &Signal{}
	c := core.NewConnection(sig, "test")
	require.NoError(t, c.Bind(&domain.User{ID: id, Username: username}))
	return c, sig
}

// Decode unmarshals a frame payload into T.
func Decode[T any](t testing.TB, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}
