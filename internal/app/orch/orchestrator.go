package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danpat592/Yeettalk/internal/app"
	"github.com/danpat592/Yeettalk/internal/core"
	"github.com/danpat592/Yeettalk/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/danpat592/Yeettalk/internal/app/orch"

const (
	DefaultSaveTimeout = 5 * time.Second
	DefaultSinkTimeout = 5 * time.Second
)

// Moderator rewrites message content before it is stored.
type Moderator interface {
	Censor(text string) string
}

type Limits struct {
	MaxContentLength int
	SaveTimeout      time.Duration
	SinkTimeout      time.Duration
}

type Deps struct {
	Registry  *app.Registry
	Typing    *app.Typing
	Relay     *app.Relay
	Publisher *app.Publisher
	Verifier  core.IdentityVerifier
	Store     core.MessageStore
	Sink      core.PresenceSink
	Moderator Moderator
	Limits    Limits
}

type presenceEdge struct {
	user   domain.UserID
	online bool
}

// Orchestrator owns the life of every connection: authentication, event
// dispatch and teardown.
type Orchestrator struct {
	Registry  *app.Registry
	Typing    *app.Typing
	Relay     *app.Relay
	Publisher *app.Publisher

	verifier  core.IdentityVerifier
	store     core.MessageStore
	sink      core.PresenceSink
	moderator Moderator
	limits    Limits

	routes   map[string]route
	validate *validator.Validate
	tracer   trace.Tracer

	// lifeMu orders attaches against Shutdown.
	lifeMu   sync.RWMutex
	stopping bool

	edgesMu   sync.Mutex
	pending   []presenceEdge
	wake      chan struct{}
	closed    bool
	edgesDone chan struct{}
}

func New(d Deps) *Orchestrator {
	if d.Publisher == nil {
		d.Publisher = app.NewPublisher(nil)
	}
	if d.Typing == nil {
		d.Typing = app.NewTyping(0)
	}
	if d.Relay == nil {
		d.Relay = app.NewRelay(d.Registry, d.Publisher)
	}
	if d.Limits.MaxContentLength <= 0 {
		d.Limits.MaxContentLength = domain.DefaultMaxContentLength
	}
	if d.Limits.SaveTimeout <= 0 {
		d.Limits.SaveTimeout = DefaultSaveTimeout
	}
	if d.Limits.SinkTimeout <= 0 {
		d.Limits.SinkTimeout = DefaultSinkTimeout
	}

	o := &Orchestrator{
		Registry:  d.Registry,
		Typing:    d.Typing,
		Relay:     d.Relay,
		Publisher: d.Publisher,
		verifier:  d.Verifier,
		store:     d.Store,
		sink:      d.Sink,
		moderator: d.Moderator,
		limits:    d.Limits,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		tracer:    otel.Tracer(tracerName),
		wake:      make(chan struct{}, 1),
		edgesDone: make(chan struct{}),
	}
	o.routes = o.buildRoutes()
	o.Typing.OnExpire = o.onTypingExpired
	o.Registry.OnPresence = o.reportPresence
	go o.presenceLoop()
	return o
}

// OnConnect authenticates c with credential. It must succeed before any
// frame of c is dispatched; on failure the transport is closed.
func (o *Orchestrator) OnConnect(ctx context.Context, c *core.Connection, credential string) error {
	ctx, span := o.tracer.Start(ctx, "ws."+EventAuthenticate, trace.WithAttributes(connAttrs(c)...))
	defer span.End()

	user, err := o.authenticate(ctx, credential)
	if err == nil {
		err = c.Bind(user)
	}
	if err != nil {
		if !errors.Is(err, domain.ErrAuth) {
			err = fmt.Errorf("%w: %w", domain.ErrAuth, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "authentication failed")
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(c.ID())).Msg("authentication failed")
		o.send(c, EventAuthError, errorPayload{Error: domain.PublicMessage(err), Code: domain.Code(err)})
		c.Signal().Close()
		return err
	}

	o.lifeMu.RLock()
	if o.stopping {
		o.lifeMu.RUnlock()
		err := fmt.Errorf("%w: shutting down", domain.ErrUnavailable)
		log.Warn().Str("module", "orch").Str("conn", string(c.ID())).Msg("connection refused during shutdown")
		o.Reject(c, EventError, err)
		c.Signal().Close()
		return err
	}
	o.Registry.Attach(c)
	o.lifeMu.RUnlock()

	o.send(c, EventAuthenticated, authenticatedPayload{UserID: user.ID, Username: user.Username, Avatar: user.Avatar})
	log.Info().Str("module", "orch").Str("conn", string(c.ID())).Str("user", string(user.ID)).Str("device", c.Device()).Msg("authenticated")
	return nil
}

func (o *Orchestrator) authenticate(ctx context.Context, credential string) (*domain.User, error) {
	if credential == "" {
		return nil, fmt.Errorf("%w: missing credential", domain.ErrAuth)
	}
	user, err := o.verifier.Verify(ctx, credential)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: no identity", domain.ErrAuth)
	}
	return user, nil
}

// OnDisconnect tears c down. Only the first call has an effect.
func (o *Orchestrator) OnDisconnect(c *core.Connection) {
	if !c.MarkDisconnected() {
		return
	}
	defer c.Signal().Close()

	user := c.User()
	if user == nil {
		return
	}
	rm := o.Registry.RemoveConnection(c)
	if !rm.Found {
		return
	}
	log.Info().Str("module", "orch").Str("conn", string(c.ID())).Str("user", string(user.ID)).Bool("offline", rm.Offline).Msg("disconnected")

	if rm.Offline {
		typingRooms := o.Typing.StopUser(user.ID)
		offline := o.encode(EventUserOffline, userRoomPayload{UserID: user.ID, Username: user.Username})
		for _, remaining := range rm.Rooms {
			o.Publisher.Publish(remaining, offline, c.ID())
		}
		for _, roomID := range typingRooms {
			o.broadcastTyping(o.Registry.MembersOf(roomID), roomID, *user, false, c.ID())
		}
		return
	}

	for roomID, remaining := range rm.Rooms {
		left := o.encode(EventUserLeftRoom, userRoomPayload{UserID: user.ID, Username: user.Username, RoomID: roomID})
		o.Publisher.Publish(remaining, left, c.ID())
		if !o.Registry.UserInRoom(user.ID, roomID) && o.Typing.Stop(roomID, user.ID) {
			o.broadcastTyping(remaining, roomID, *user, false, c.ID())
		}
	}
}

// Shutdown disconnects every live connection and flushes pending presence
// reports.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.lifeMu.Lock()
	o.stopping = true
	o.lifeMu.Unlock()

	conns := o.Registry.Connections()
	for _, c := range conns {
		o.OnDisconnect(c)
	}
	log.Info().Str("module", "orch").Int("connections", len(conns)).Msg("shutdown")

	o.edgesMu.Lock()
	o.closed = true
	o.edgesMu.Unlock()
	o.signalEdges()

	select {
	case <-o.edgesDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onTypingExpired tells the other users of the room; the typist's own
// devices are left out.
func (o *Orchestrator) onTypingExpired(e app.TypingExpiry) {
	others := lo.Filter(o.Registry.MembersOf(e.RoomID), func(c *core.Connection, _ int) bool {
		return c.UserID() != e.User.ID
	})
	o.broadcastTyping(others, e.RoomID, e.User, false, "")
}

func (o *Orchestrator) broadcastTyping(to []*core.Connection, roomID domain.RoomID, user domain.User, typing bool, except core.ConnID) {
	f := o.encode(EventUserTyping, typingPayload{UserID: user.ID, Username: user.Username, RoomID: roomID, IsTyping: typing})
	o.Publisher.Publish(to, f, except)
}

// reportPresence queues an online/offline edge for the sink. The registry
// calls it under its lock, so the queue holds edges in the order they
// happened. It never blocks.
func (o *Orchestrator) reportPresence(uid domain.UserID, online bool) {
	if o.sink == nil {
		return
	}
	o.edgesMu.Lock()
	if o.closed {
		o.edgesMu.Unlock()
		log.Warn().Str("module", "orch").Str("user", string(uid)).Bool("online", online).Msg("presence edge after shutdown")
		return
	}
	o.pending = append(o.pending, presenceEdge{user: uid, online: online})
	o.edgesMu.Unlock()
	o.signalEdges()
}

func (o *Orchestrator) signalEdges() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// presenceLoop applies queued edges one at a time, in order, until
// Shutdown has closed the queue and it is drained.
func (o *Orchestrator) presenceLoop() {
	defer close(o.edgesDone)
	for range o.wake {
		o.edgesMu.Lock()
		batch := o.pending
		o.pending = nil
		closed := o.closed
		o.edgesMu.Unlock()

		for _, e := range batch {
			o.applyPresence(e)
		}
		if closed {
			return
		}
	}
}

func (o *Orchestrator) applyPresence(e presenceEdge) {
	ctx, cancel := context.WithTimeout(context.Background(), o.limits.SinkTimeout)
	defer cancel()
	if err := o.sink.SetOnline(ctx, e.user, e.online); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("user", string(e.user)).Bool("online", e.online).Msg("presence sink")
	}
}

func (o *Orchestrator) encode(kind string, payload any) core.Frame {
	f, err := core.EncodeFrame(kind, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", kind).Msg("encode frame")
		return nil
	}
	return f
}

func (o *Orchestrator) send(c *core.Connection, kind string, payload any) {
	if f := o.encode(kind, payload); f != nil {
		o.Publisher.Send(c, f)
	}
}

// Reject answers c with an error frame of the given kind.
func (o *Orchestrator) Reject(c *core.Connection, kind string, err error) {
	o.send(c, kind, errorPayload{Error: domain.PublicMessage(err), Code: domain.Code(err)})
}
