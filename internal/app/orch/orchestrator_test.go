package orch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danpat592/Yeettalk/internal/app"
	"github.com/danpat592/Yeettalk/internal/core"
	"github.com/danpat592/Yeettalk/internal/core/coretest"
	"github.com/danpat592/Yeettalk/internal/domain"
	"github.com/danpat592/Yeettalk/internal/mocks"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fixture struct {
	t        *testing.T
	oracle   *mocks.MockMembershipOracle
	verifier *mocks.MockIdentityVerifier
	store    *mocks.MockMessageStore
	sink     *mocks.MockPresenceSink
	o        *Orchestrator
}

type starModerator struct{}

func (starModerator) Censor(s string) string { return strings.ReplaceAll(s, "darn", "****") }

func newFixture(t *testing.T) *fixture {
	ctrl := gomock.NewController(t)
	f := &fixture{
		t:        t,
		oracle:   mocks.NewMockMembershipOracle(ctrl),
		verifier: mocks.NewMockIdentityVerifier(ctrl),
		store:    mocks.NewMockMessageStore(ctrl),
		sink:     mocks.NewMockPresenceSink(ctrl),
	}
	f.o = New(Deps{
		Registry:  app.NewRegistry(f.oracle),
		Verifier:  f.verifier,
		Store:     f.store,
		Sink:      f.sink,
		Moderator: starModerator{},
		Limits:    Limits{SaveTimeout: time.Second, SinkTimeout: time.Second},
	})
	t.Cleanup(func() { f.shutdown() })
	return f
}

// allowPresence accepts any presence edge; tests that count edges set
// their own expectations instead.
func (f *fixture) allowPresence() {
	f.sink.EXPECT().SetOnline(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

func (f *fixture) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(f.t, f.o.Shutdown(ctx))
}

func (f *fixture) connect(id domain.UserID, name string) (*core.Connection, *coretest.Signal) {
	f.t.Helper()
	sig := &coretest.Signal{}
	c := core.NewConnection(sig, "test")
	token := "tok-" + string(id)
	f.verifier.EXPECT().Verify(gomock.Any(), token).Return(&domain.User{ID: id, Username: name}, nil)
	require.NoError(f.t, f.o.OnConnect(context.Background(), c, token))
	sig.Reset()
	return c, sig
}

func (f *fixture) dispatch(c *core.Connection, kind string, payload any) {
	f.t.Helper()
	b, err := json.Marshal(map[string]any{"type": kind, "payload": payload})
	require.NoError(f.t, err)
	f.o.Dispatch(context.Background(), c, b)
}

func (f *fixture) join(c *core.Connection, room domain.RoomID) {
	f.t.Helper()
	f.oracle.EXPECT().IsMember(gomock.Any(), c.UserID(), room).Return(true, nil)
	f.dispatch(c, EventJoinRoom, roomPayload{RoomID: room})
	require.True(f.t, f.o.Registry.IsJoined(c, room))
}

func resetAll(sigs ...*coretest.Signal) {
	for _, s := range sigs {
		s.Reset()
	}
}

func TestOnConnect(t *testing.T) {
	t.Run("valid credential binds and announces", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.allowPresence()

		sig := &coretest.Signal{}
		c := core.NewConnection(sig, "laptop")
		f.verifier.EXPECT().Verify(gomock.Any(), "good").Return(&domain.User{ID: "A", Username: "alice", Avatar: "a.png"}, nil)

		req.NoError(f.o.OnConnect(context.Background(), c, "good"))
		req.Equal(core.StateAuthenticated, c.State())
		req.True(f.o.Registry.Online("A"))

		got := sig.OfType(EventAuthenticated)
		req.Len(got, 1)
		req.Equal(authenticatedPayload{UserID: "A", Username: "alice", Avatar: "a.png"}, coretest.Decode[authenticatedPayload](t, got[0]))
	})

	t.Run("rejected credential closes transport", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)

		sig := &coretest.Signal{}
		c := core.NewConnection(sig, "")
		f.verifier.EXPECT().Verify(gomock.Any(), "bad").Return(nil, errors.New("signature is invalid"))

		err := f.o.OnConnect(context.Background(), c, "bad")
		req.ErrorIs(err, domain.ErrAuth)
		req.True(sig.Closed())
		req.Equal(core.StateUnauthenticated, c.State())
		req.Zero(f.o.Registry.Len())

		got := sig.OfType(EventAuthError)
		req.Len(got, 1)
		req.Equal(domain.CodeAuth, coretest.Decode[errorPayload](t, got[0]).Code)
	})

	t.Run("missing credential never reaches the verifier", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		sig := &coretest.Signal{}
		c := core.NewConnection(sig, "")

		req.ErrorIs(f.o.OnConnect(context.Background(), c, ""), domain.ErrAuth)
		req.True(sig.Closed())
	})
}

func TestDispatch_IgnoredBeforeAuthentication(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	sig := &coretest.Signal{}
	c := core.NewConnection(sig, "")

	f.o.Dispatch(context.Background(), c, []byte(`{"type":"join_room","payload":{"roomId":"R1"}}`))
	req.Empty(sig.Frames())
}

func TestDispatch_MalformedAndUnknown(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.allowPresence()
	a, aSig := f.connect("A", "alice")

	f.o.Dispatch(context.Background(), a, []byte(`{"type":`))
	got := aSig.OfType(EventError)
	req.Len(got, 1)
	req.Equal(errorPayload{Error: "invalid payload", Code: domain.CodeValidation}, coretest.Decode[errorPayload](t, got[0]))

	aSig.Reset()
	f.dispatch(a, "hologram_call", map[string]string{"roomId": "R1"})
	req.Empty(aSig.Frames())

	f.dispatch(a, EventJoinRoom, map[string]int{"roomId": 7})
	req.Len(aSig.OfType(EventRoomError), 1)

	aSig.Reset()
	f.dispatch(a, EventPing, nil)
	req.Equal([]string{EventPong}, aSig.Types())
}

// A joins R1 and the room is told.
func TestScenario_JoinAnnounced(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.allowPresence()

	a, aSig := f.connect("A", "alice")
	b, bSig := f.connect("B", "bob")
	f.join(b, "R1")
	resetAll(bSig)

	f.join(a, "R1")

	req.Equal([]string{EventRoomJoined}, aSig.Types())
	req.Equal(roomPayload{RoomID: "R1"}, coretest.Decode[roomPayload](t, aSig.OfType(EventRoomJoined)[0]))

	got := bSig.OfType(EventUserJoinedRoom)
	req.Len(got, 1)
	req.Equal(userRoomPayload{UserID: "A", Username: "alice", RoomID: "R1"}, coretest.Decode[userRoomPayload](t, got[0]))

	// Joining again answers but does not announce twice
	resetAll(aSig, bSig)
	f.dispatch(a, EventJoinRoom, roomPayload{RoomID: "R1"})
	req.Equal([]string{EventRoomJoined}, aSig.Types())
	req.Empty(bSig.Frames())
}

// B is not a member of R2.
func TestScenario_JoinRejected(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.allowPresence()

	a, aSig := f.connect("A", "alice")
	b, bSig := f.connect("B", "bob")
	f.oracle.EXPECT().IsMember(gomock.Any(), domain.UserID("A"), domain.RoomID("R2")).Return(true, nil)
	f.dispatch(a, EventJoinRoom, roomPayload{RoomID: "R2"})
	resetAll(aSig)

	f.oracle.EXPECT().IsMember(gomock.Any(), domain.UserID("B"), domain.RoomID("R2")).Return(false, nil)
	f.dispatch(b, EventJoinRoom, roomPayload{RoomID: "R2"})

	got := bSig.OfType(EventRoomError)
	req.Len(got, 1)
	req.Equal(errorPayload{Error: "not a member", Code: domain.CodeAuthorization}, coretest.Decode[errorPayload](t, got[0]))
	req.Empty(aSig.Frames())
	req.False(f.o.Registry.IsJoined(b, "R2"))

	f.oracle.EXPECT().IsMember(gomock.Any(), domain.UserID("B"), domain.RoomID("gone")).Return(false, domain.ErrRoomNotFound)
	bSig.Reset()
	f.dispatch(b, EventJoinRoom, roomPayload{RoomID: "gone"})
	req.Equal(errorPayload{Error: "room not found", Code: domain.CodeNotFound}, coretest.Decode[errorPayload](t, bSig.OfType(EventRoomError)[0]))
}

// A sends "hi" and every member, A included, receives the stored message.
func TestScenario_SendMessage(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.allowPresence()

	a, aSig := f.connect("A", "alice")
	b, bSig := f.connect("B", "bob")
	c, cSig := f.connect("C", "carol")
	f.join(a, "R1")
	f.join(b, "R1")
	resetAll(aSig, bSig, cSig)

	m1 := domain.Message{ID: "M1", RoomID: "R1", UserID: "A", Username: "alice", Content: "hi", Kind: domain.KindText}
	f.store.EXPECT().Save(gomock.Any(), domain.ChatEvent{RoomID: "R1", Author: "A", Content: "hi", Kind: domain.KindText}).Return(m1, nil)

	f.dispatch(a, EventSendMessage, map[string]string{"roomId": "R1", "content": "  hi "})

	for _, sig := range []*coretest.Signal{aSig, bSig} {
		got := sig.OfType(EventNewMessage)
		req.Len(got, 1)
		req.Equal("M1", coretest.Decode[domain.Message](t, got[0]).ID)
	}
	req.Empty(cSig.Frames())

	t.Run("store failure answers the sender only", func(t *testing.T) {
		resetAll(aSig, bSig)
		f.store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(domain.Message{}, errors.New("disk full"))
		f.dispatch(a, EventSendMessage, map[string]string{"roomId": "R1", "content": "again"})

		got := aSig.OfType(EventMessageError)
		require.Len(t, got, 1)
		require.Equal(t, domain.CodeInfrastructure, coretest.Decode[errorPayload](t, got[0]).Code)
		require.Empty(t, aSig.OfType(EventNewMessage))
		require.Empty(t, bSig.Frames())
	})

	t.Run("not joined", func(t *testing.T) {
		resetAll(cSig)
		f.dispatch(c, EventSendMessage, map[string]string{"roomId": "R1", "content": "let me in"})
		got := cSig.OfType(EventMessageError)
		require.Len(t, got, 1)
		require.Equal(t, errorPayload{Error: "not a member", Code: domain.CodeAuthorization}, coretest.Decode[errorPayload](t, got[0]))
	})

	t.Run("validation", func(t *testing.T) {
		resetAll(aSig)
		f.dispatch(a, EventSendMessage, map[string]string{"roomId": "R1", "content": "   "})
		f.dispatch(a, EventSendMessage, map[string]string{"roomId": "R1", "content": strings.Repeat("x", domain.DefaultMaxContentLength+1)})
		f.dispatch(a, EventSendMessage, map[string]string{"roomId": "R1", "content": "x", "kind": "system"})
		got := aSig.OfType(EventMessageError)
		require.Len(t, got, 3)
		require.Equal(t, "content is required", coretest.Decode[errorPayload](t, got[0]).Error)
		require.Equal(t, "content too long", coretest.Decode[errorPayload](t, got[1]).Error)
		require.Equal(t, "invalid message kind", coretest.Decode[errorPayload](t, got[2]).Error)
	})

	t.Run("moderation censors before saving", func(t *testing.T) {
		f.store.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ev domain.ChatEvent) (domain.Message, error) {
			require.Equal(t, "oh ****", ev.Content)
			return domain.Message{ID: "M2", RoomID: ev.RoomID, Content: ev.Content}, nil
		})
		f.dispatch(a, EventSendMessage, map[string]string{"roomId": "R1", "content": "oh darn"})
	})
}

func TestSendMessage_SenderGoneDuringSave(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.allowPresence()

	a, _ := f.connect("A", "alice")
	b, bSig := f.connect("B", "bob")
	f.join(a, "R1")
	f.join(b, "R1")
	bSig.Reset()

	f.store.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, ev domain.ChatEvent) (domain.Message, error) {
		f.o.OnDisconnect(a)
		// The save context survives the connection going away
		require.NoError(t, ctx.Err())
		return domain.Message{ID: "M1", RoomID: ev.RoomID}, nil
	})
	f.dispatch(a, EventSendMessage, map[string]string{"roomId": "R1", "content": "bye"})

	req.Empty(bSig.OfType(EventNewMessage))
	req.Len(bSig.OfType(EventUserOffline), 1)
}

// A is in R1 and R2 and drops its only connection.
func TestScenario_DisconnectGoesOffline(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.sink.EXPECT().SetOnline(gomock.Any(), domain.UserID("A"), true).Return(nil).Times(1)
	f.sink.EXPECT().SetOnline(gomock.Any(), domain.UserID("B"), true).Return(nil).Times(1)
	f.sink.EXPECT().SetOnline(gomock.Any(), domain.UserID("C"), true).Return(nil).Times(1)
	f.sink.EXPECT().SetOnline(gomock.Any(), domain.UserID("A"), false).Return(nil).Times(1)
	f.sink.EXPECT().SetOnline(gomock.Any(), domain.UserID("B"), false).Return(nil).Times(1)
	f.sink.EXPECT().SetOnline(gomock.Any(), domain.UserID("C"), false).Return(nil).Times(1)

	a, aSig := f.connect("A", "alice")
	b, bSig := f.connect("B", "bob")
	c, cSig := f.connect("C", "carol")
	f.join(a, "R1")
	f.join(a, "R2")
	f.join(b, "R1")
	f.join(c, "R2")
	f.dispatch(a, EventTypingStart, roomPayload{RoomID: "R1"})
	resetAll(aSig, bSig, cSig)

	f.o.OnDisconnect(a)
	f.o.OnDisconnect(a)

	req.True(aSig.Closed())
	req.Empty(aSig.Frames())
	for _, sig := range []*coretest.Signal{bSig, cSig} {
		got := sig.OfType(EventUserOffline)
		req.Len(got, 1)
		req.Equal(userRoomPayload{UserID: "A", Username: "alice"}, coretest.Decode[userRoomPayload](t, got[0]))
	}
	typing := bSig.OfType(EventUserTyping)
	req.Len(typing, 1)
	req.False(coretest.Decode[typingPayload](t, typing[0]).IsTyping)
	req.Empty(f.o.Typing.Typing("R1"))

	for _, room := range []domain.RoomID{"R1", "R2"} {
		for _, m := range f.o.Registry.MembersOf(room) {
			req.NotEqual(a.ID(), m.ID())
		}
	}
	req.False(f.o.Registry.Online("A"))
}

func TestDisconnect_OtherDeviceKeepsUserOnline(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.sink.EXPECT().SetOnline(gomock.Any(), domain.UserID("A"), true).Return(nil).Times(1)
	f.sink.EXPECT().SetOnline(gomock.Any(), domain.UserID("B"), true).Return(nil).Times(1)
	f.sink.EXPECT().SetOnline(gomock.Any(), domain.UserID("A"), false).Return(nil).Times(1)
	f.sink.EXPECT().SetOnline(gomock.Any(), domain.UserID("B"), false).Return(nil).Times(1)

	phone, _ := f.connect("A", "alice")
	laptop, _ := f.connect("A", "alice")
	b, bSig := f.connect("B", "bob")
	f.join(phone, "R1")
	f.join(b, "R1")
	f.dispatch(phone, EventTypingStart, roomPayload{RoomID: "R1"})
	bSig.Reset()

	f.o.OnDisconnect(phone)

	req.Empty(bSig.OfType(EventUserOffline))
	left := bSig.OfType(EventUserLeftRoom)
	req.Len(left, 1)
	req.Equal(userRoomPayload{UserID: "A", Username: "alice", RoomID: "R1"}, coretest.Decode[userRoomPayload](t, left[0]))
	req.Len(bSig.OfType(EventUserTyping), 1)
	req.True(f.o.Registry.Online("A"))
	req.Equal(core.StateAuthenticated, laptop.State())
}

// A and B are typing in R1; A stops.
func TestScenario_Typing(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.allowPresence()

	a, aSig := f.connect("A", "alice")
	b, bSig := f.connect("B", "bob")
	f.join(a, "R1")
	f.join(b, "R1")
	resetAll(aSig, bSig)

	f.dispatch(a, EventTypingStart, roomPayload{RoomID: "R1"})
	f.dispatch(a, EventTypingStart, roomPayload{RoomID: "R1"})
	f.dispatch(b, EventTypingStart, roomPayload{RoomID: "R1"})
	f.dispatch(a, EventTypingStop, roomPayload{RoomID: "R1"})

	req.Equal([]domain.UserID{"B"}, f.o.Typing.Typing("R1"))

	got := bSig.OfType(EventUserTyping)
	req.Len(got, 2)
	req.Equal(typingPayload{UserID: "A", Username: "alice", RoomID: "R1", IsTyping: true}, coretest.Decode[typingPayload](t, got[0]))
	req.Equal(typingPayload{UserID: "A", Username: "alice", RoomID: "R1", IsTyping: false}, coretest.Decode[typingPayload](t, got[1]))
	req.Len(aSig.OfType(EventUserTyping), 1)

	t.Run("expiry is broadcast to everyone but the typist", func(t *testing.T) {
		bPhone, bPhoneSig := f.connect("B", "bob")
		f.join(bPhone, "R1")
		resetAll(aSig, bSig, bPhoneSig)

		f.o.onTypingExpired(app.TypingExpiry{RoomID: "R1", User: domain.User{ID: "B", Username: "bob"}})
		got := aSig.OfType(EventUserTyping)
		require.Len(t, got, 1)
		require.False(t, coretest.Decode[typingPayload](t, got[0]).IsTyping)
		require.Empty(t, bSig.OfType(EventUserTyping))
		require.Empty(t, bPhoneSig.OfType(EventUserTyping))
	})

	t.Run("not joined", func(t *testing.T) {
		c, cSig := f.connect("C", "carol")
		f.dispatch(c, EventTypingStart, roomPayload{RoomID: "R1"})
		require.Len(t, cSig.OfType(EventError), 1)
		require.NotContains(t, f.o.Typing.Typing("R1"), domain.UserID("C"))
	})
}

func TestLeaveRoom(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.allowPresence()

	a, aSig := f.connect("A", "alice")
	b, bSig := f.connect("B", "bob")
	f.join(a, "R1")
	f.join(b, "R1")
	f.dispatch(a, EventTypingStart, roomPayload{RoomID: "R1"})
	resetAll(aSig, bSig)

	f.dispatch(a, EventLeaveRoom, roomPayload{RoomID: "R1"})

	req.Equal([]string{EventRoomLeft}, aSig.Types())
	req.Equal([]string{EventUserLeftRoom, EventUserTyping}, bSig.Types())
	req.False(f.o.Registry.IsJoined(a, "R1"))
	req.Empty(f.o.Typing.Typing("R1"))

	// Leaving a room you are not in is answered but not announced
	resetAll(aSig, bSig)
	f.dispatch(a, EventLeaveRoom, roomPayload{RoomID: "R1"})
	req.Equal([]string{EventRoomLeft}, aSig.Types())
	req.Empty(bSig.Frames())
}

func TestSignaling(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.allowPresence()

	a, aSig := f.connect("A", "alice")
	b, bSig := f.connect("B", "bob")
	c, cSig := f.connect("C", "carol")
	f.join(a, "R1")
	f.join(b, "R1")
	f.join(c, "R1")
	resetAll(aSig, bSig, cSig)

	offer := map[string]any{"roomId": "R1", "targetUserId": "B", "sdp": "v=0", "extra": []int{1, 2}}
	f.dispatch(a, "voice_offer", offer)

	got := bSig.OfType("voice_offer")
	req.Len(got, 1)
	env := coretest.Decode[domain.SignalingEnvelope](t, got[0])
	req.Equal(domain.UserID("A"), env.FromUserID)
	req.Equal(domain.UserID("B"), env.TargetUserID)
	want, _ := json.Marshal(offer)
	req.JSONEq(string(want), string(env.Payload))
	req.Empty(cSig.Frames())
	req.Empty(aSig.Frames())

	// Broadcast kinds ignore any target
	f.dispatch(a, "screen_share_start", map[string]any{"roomId": "R1", "targetUserId": "B"})
	req.Len(cSig.OfType("screen_share_start"), 1)
	req.Len(bSig.OfType("screen_share_start"), 1)

	f.dispatch(b, "music_seek", map[string]any{"roomId": "R1", "position": 42})
	req.Len(aSig.OfType("music_seek"), 1)
	req.Empty(bSig.OfType("music_seek"))

	// Errors use the feature's error event
	outsider, oSig := f.connect("Z", "zed")
	f.dispatch(outsider, "voice_answer", map[string]any{"roomId": "R1", "targetUserId": "A"})
	f.dispatch(outsider, "screen_share_stop", map[string]any{"roomId": "R1"})
	f.dispatch(outsider, "music_play", map[string]any{"roomId": "R1"})
	f.dispatch(outsider, "voice_offer", map[string]any{"sdp": "v=0"})
	req.Equal([]string{EventVoiceError, EventScreenError, EventMusicError, EventVoiceError}, oSig.Types())
}

func TestShutdownDisconnectsEveryone(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.allowPresence()

	_, aSig := f.connect("A", "alice")
	_, bSig := f.connect("B", "bob")

	f.shutdown()
	req.True(aSig.Closed())
	req.True(bSig.Closed())
	req.Zero(f.o.Registry.Len())

	// A second shutdown is harmless
	f.shutdown()
}

// recordingSink keeps every presence edge per user in arrival order.
type recordingSink struct {
	mu    sync.Mutex
	edges map[domain.UserID][]bool
}

func (s *recordingSink) SetOnline(_ context.Context, uid domain.UserID, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edges == nil {
		s.edges = make(map[domain.UserID][]bool)
	}
	s.edges[uid] = append(s.edges[uid], online)
	return nil
}

func (s *recordingSink) of(uid domain.UserID) []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.edges[uid]...)
}

// A refreshes: the new socket authenticates while the old one is still
// being torn down. The sink must end with A online.
func TestPresenceEdges_ReconnectDuringTeardown(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	oracle := mocks.NewMockMembershipOracle(ctrl)
	oracle.EXPECT().IsMember(gomock.Any(), gomock.Any(), domain.RoomID("R1")).Return(true, nil).AnyTimes()
	verifier := mocks.NewMockIdentityVerifier(ctrl)
	verifier.EXPECT().Verify(gomock.Any(), "tok-A").Return(&domain.User{ID: "A", Username: "alice"}, nil).AnyTimes()
	verifier.EXPECT().Verify(gomock.Any(), "tok-B").Return(&domain.User{ID: "B", Username: "bob"}, nil).AnyTimes()
	sink := &recordingSink{}

	o := New(Deps{Registry: app.NewRegistry(oracle), Verifier: verifier, Store: mocks.NewMockMessageStore(ctrl), Sink: sink})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})

	a1Sig := &coretest.Signal{}
	a1 := core.NewConnection(a1Sig, "old-tab")
	req.NoError(o.OnConnect(context.Background(), a1, "tok-A"))
	bSig := &coretest.Signal{}
	b := core.NewConnection(bSig, "b")
	req.NoError(o.OnConnect(context.Background(), b, "tok-B"))
	for _, c := range []*core.Connection{a1, b} {
		_, err := o.Registry.Join(context.Background(), c, "R1")
		req.NoError(err)
	}

	a2 := core.NewConnection(&coretest.Signal{}, "new-tab")
	var once sync.Once
	bSig.OnSend = func(env core.Envelope) {
		if env.Type == EventUserOffline {
			once.Do(func() { req.NoError(o.OnConnect(context.Background(), a2, "tok-A")) })
		}
	}

	o.OnDisconnect(a1)

	req.True(o.Registry.Online("A"))
	req.Eventually(func() bool { return len(sink.of("A")) == 3 }, 2*time.Second, 10*time.Millisecond)
	req.Equal([]bool{true, false, true}, sink.of("A"))
}

func TestOnConnect_RefusedAfterShutdown(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.allowPresence()

	sig := &coretest.Signal{}
	c := core.NewConnection(sig, "late")
	f.verifier.EXPECT().Verify(gomock.Any(), "tok-A").DoAndReturn(func(context.Context, string) (*domain.User, error) {
		// Shutdown lands while the credential is being checked.
		f.shutdown()
		return &domain.User{ID: "A", Username: "alice"}, nil
	})

	err := f.o.OnConnect(context.Background(), c, "tok-A")
	req.ErrorIs(err, domain.ErrUnavailable)
	req.True(sig.Closed())
	req.Zero(f.o.Registry.Len())
	req.False(f.o.Registry.Online("A"))
	req.Empty(sig.OfType(EventAuthenticated))
	req.Len(sig.OfType(EventError), 1)
}
