package core

import (
	"errors"
	"sync/atomic"

	"github.com/danpat592/Yeettalk/internal/domain"
	"github.com/google/uuid"
)

type ConnID string

// ConnState is the top-level connection state machine:
// Unauthenticated -> Authenticated -> Disconnected. Disconnected is terminal
// and reachable from any state.
type ConnState int32

const (
	StateUnauthenticated ConnState = iota
	StateAuthenticated
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

var (
	ErrAlreadyBound = errors.New("connection already bound to a user")
	ErrNoIdentity   = errors.New("no identity to bind")
)

// Connection is one live transport session. The user identity is bound
// once and never changes afterwards.
type Connection struct {
	id     ConnID
	device string
	signal SignalConnection
	user   atomic.Pointer[domain.User]
	state  atomic.Int32
}

func NewConnection(signal SignalConnection, device string) *Connection {
	return &Connection{
		id:     ConnID(uuid.NewString()),
		device: device,
		signal: signal,
	}
}

func (c *Connection) ID() ConnID               { return c.id }
func (c *Connection) Device() string           { return c.device }
func (c *Connection) Signal() SignalConnection { return c.signal }
func (c *Connection) State() ConnState         { return ConnState(c.state.Load()) }

// User returns the bound identity, nil while unauthenticated.
func (c *Connection) User() *domain.User { return c.user.Load() }

func (c *Connection) UserID() domain.UserID {
	if u := c.user.Load(); u != nil {
		return u.ID
	}
	return ""
}

// Bind attaches the authenticated identity. It succeeds at most once.
func (c *Connection) Bind(u *domain.User) error {
	if u == nil {
		return ErrNoIdentity
	}
	if !c.user.CompareAndSwap(nil, u) {
		return ErrAlreadyBound
	}
	if !c.state.CompareAndSwap(int32(StateUnauthenticated), int32(StateAuthenticated)) {
		return domain.ErrConnectionClosed
	}
	return nil
}

// MarkDisconnected moves the connection to its terminal state and reports
// whether this call performed the transition.
func (c *Connection) MarkDisconnected() bool {
	for {
		cur := c.state.Load()
		if ConnState(cur) == StateDisconnected {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(StateDisconnected)) {
			return true
		}
	}
}

// Send enqueues a frame without blocking.
func (c *Connection) Send(f Frame) error {
	if c.State() == StateDisconnected {
		return domain.ErrConnectionClosed
	}
	return c.signal.TrySend(f)
}
