package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danpat592/Yeettalk/internal/core"
	"github.com/danpat592/Yeettalk/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type handlerFunc func(ctx context.Context, c *core.Connection, raw json.RawMessage) error

// route is one entry of the dispatch table.
type route struct {
	errKind string
	handle  handlerFunc
}

// roomScoped payloads name the room they act on.
type roomScoped interface {
	Room() domain.RoomID
}

// RoomRef is embedded by every payload that targets a room.
type RoomRef struct {
	RoomID domain.RoomID `json:"roomId" validate:"required,max=128"`
}

func (r RoomRef) Room() domain.RoomID { return r.RoomID }

// bind decodes and validates the payload into T, checks that the sender is
// joined to the payload's room when joined is set, then calls h.
func bind[T any](o *Orchestrator, errKind string, joined bool, h func(context.Context, *core.Connection, T) error) route {
	return route{
		errKind: errKind,
		handle: func(ctx context.Context, c *core.Connection, raw json.RawMessage) error {
			var p T
			if len(raw) == 0 || string(raw) == "null" {
				raw = json.RawMessage(`{}`)
			}
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
			}
			if err := o.validate.Struct(p); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
			}
			if joined {
				rs, ok := any(p).(roomScoped)
				if !ok {
					return fmt.Errorf("%w: roomId is required", domain.ErrInvalidPayload)
				}
				if !o.Registry.IsJoined(c, rs.Room()) {
					return domain.ErrNotMember
				}
			}
			return h(ctx, c, p)
		},
	}
}

func (o *Orchestrator) buildRoutes() map[string]route {
	routes := map[string]route{
		EventJoinRoom:    bind(o, EventRoomError, false, o.handleJoinRoom),
		EventLeaveRoom:   bind(o, EventRoomError, false, o.handleLeaveRoom),
		EventSendMessage: bind(o, EventMessageError, true, o.handleSendMessage),
		EventTypingStart: bind(o, EventError, true, o.handleTyping(true)),
		EventTypingStop:  bind(o, EventError, true, o.handleTyping(false)),
		EventPing:        {errKind: EventError, handle: o.handlePing},
	}
	for _, kind := range voiceKinds {
		routes[kind] = bind(o, EventVoiceError, true, o.handleSignal(kind, true))
	}
	for _, kind := range voiceBroadcastKinds {
		routes[kind] = bind(o, EventVoiceError, true, o.handleSignal(kind, false))
	}
	for _, kind := range screenKinds {
		routes[kind] = bind(o, EventScreenError, true, o.handleSignal(kind, true))
	}
	for _, kind := range screenBroadcastKinds {
		routes[kind] = bind(o, EventScreenError, true, o.handleSignal(kind, false))
	}
	for _, kind := range musicKinds {
		routes[kind] = bind(o, EventMusicError, true, o.handleSignal(kind, false))
	}
	return routes
}

// Dispatch handles one inbound frame of an authenticated connection. Calls
// for the same connection must be serial.
func (o *Orchestrator) Dispatch(ctx context.Context, c *core.Connection, data []byte) {
	if c.State() != core.StateAuthenticated {
		return
	}
	env, err := core.DecodeFrame(data)
	if err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("conn", string(c.ID())).Msg("bad frame")
		o.Reject(c, EventError, err)
		return
	}
	rt, ok := o.routes[env.Type]
	if !ok {
		log.Warn().Str("module", "orch").Str("conn", string(c.ID())).Str("type", env.Type).Msg("unknown event")
		return
	}

	ctx, span := o.tracer.Start(ctx, "ws."+env.Type,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(connAttrs(c)...),
	)
	defer span.End()

	err = rt.handle(ctx, c, env.Payload)
	if err == nil {
		return
	}
	if errors.Is(err, domain.ErrConnectionClosed) {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, domain.Code(err))

	level := zerolog.DebugLevel
	if domain.Code(err) == domain.CodeInfrastructure {
		level = zerolog.ErrorLevel
	}
	log.WithLevel(level).Err(err).
		Str("module", "orch").
		Str("conn", string(c.ID())).
		Str("user", string(c.UserID())).
		Str("type", env.Type).
		Msg("event rejected")
	o.Reject(c, rt.errKind, err)
}

func connAttrs(c *core.Connection) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("yeettalk.conn_id", string(c.ID())),
		attribute.String("yeettalk.user_id", string(c.UserID())),
	}
}
