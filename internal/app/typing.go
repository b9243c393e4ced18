package app

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/danpat592/Yeettalk/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const DefaultTypingTimeout = 8 * time.Second

type typingEntry struct {
	user     domain.User
	deadline time.Time
}

// TypingExpiry is an entry removed because its deadline passed.
type TypingExpiry struct {
	RoomID domain.RoomID
	User   domain.User
}

// Typing tracks who is typing in which room. Each entry lives until it is
// stopped or its inactivity deadline passes; a repeated Start only moves
// the deadline.
type Typing struct {
	timeout time.Duration
	now     func() time.Time

	// OnExpire is called by Run for each entry the sweeper removes.
	OnExpire func(TypingExpiry)

	mu    sync.Mutex
	rooms map[domain.RoomID]map[domain.UserID]typingEntry
}

func NewTyping(timeout time.Duration) *Typing {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &Typing{
		timeout: timeout,
		now:     time.Now,
		rooms:   make(map[domain.RoomID]map[domain.UserID]typingEntry),
	}
}

// Start marks user as typing in roomID and reports whether they were not
// typing before.
func (t *Typing) Start(roomID domain.RoomID, user domain.User) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.rooms[roomID]
	if !ok {
		set = make(map[domain.UserID]typingEntry)
		t.rooms[roomID] = set
	}
	_, was := set[user.ID]
	set[user.ID] = typingEntry{user: user, deadline: t.now().Add(t.timeout)}
	return !was
}

// Stop reports whether user was typing in roomID.
func (t *Typing) Stop(roomID domain.RoomID, uid domain.UserID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(roomID, uid)
}

// StopUser clears user from every room and returns the rooms they were
// typing in.
func (t *Typing) StopUser(uid domain.UserID) []domain.RoomID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.RoomID
	for roomID := range t.rooms {
		if t.removeLocked(roomID, uid) {
			out = append(out, roomID)
		}
	}
	slices.Sort(out)
	return out
}

func (t *Typing) Typing(roomID domain.RoomID) []domain.UserID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := lo.Keys(t.rooms[roomID])
	slices.Sort(out)
	return out
}

// Expire removes every entry whose deadline is not after now.
func (t *Typing) Expire(now time.Time) []TypingExpiry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []TypingExpiry
	for roomID, set := range t.rooms {
		for uid, e := range set {
			if e.deadline.After(now) {
				continue
			}
			delete(set, uid)
			out = append(out, TypingExpiry{RoomID: roomID, User: e.user})
		}
		if len(set) == 0 {
			delete(t.rooms, roomID)
		}
	}
	return out
}

// Run sweeps expired entries until ctx is done.
func (t *Typing) Run(ctx context.Context) error {
	tick := time.NewTicker(sweepInterval(t.timeout))
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-tick.C:
			for _, e := range t.Expire(now) {
				log.Debug().Str("module", "app.typing").Str("room", string(e.RoomID)).Str("user", string(e.User.ID)).Msg("typing expired")
				if t.OnExpire != nil {
					t.OnExpire(e)
				}
			}
		}
	}
}

func (t *Typing) removeLocked(roomID domain.RoomID, uid domain.UserID) bool {
	set, ok := t.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := set[uid]; !ok {
		return false
	}
	delete(set, uid)
	if len(set) == 0 {
		delete(t.rooms, roomID)
	}
	return true
}

func sweepInterval(timeout time.Duration) time.Duration {
	iv := timeout / 4
	if iv < 50*time.Millisecond {
		iv = 50 * time.Millisecond
	}
	return iv
}
