package app

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/danpat592/Yeettalk/internal/core"
	"github.com/danpat592/Yeettalk/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type connEntry struct {
	conn  *core.Connection
	rooms map[domain.RoomID]struct{}
}

// Registry is the live view of who is connected and which rooms each
// connection has joined. Every read returns a copy, so callers may fan out
// without holding the lock.
type Registry struct {
	oracle core.MembershipOracle

	// OnPresence is told about every online/offline edge of a user. It
	// runs under the registry lock, so edges arrive in the order they
	// happened; it must not block or call back into the registry.
	OnPresence func(uid domain.UserID, online bool)

	mu    sync.RWMutex
	conns map[core.ConnID]*connEntry
	rooms map[domain.RoomID]map[core.ConnID]*core.Connection
	users map[domain.UserID]map[core.ConnID]*core.Connection
}

type JoinResult struct {
	// Others are the connections that were already in the room.
	Others  []*core.Connection
	Already bool
}

type Removal struct {
	// Rooms maps every room the connection had joined to the connections
	// still present there.
	Rooms   map[domain.RoomID][]*core.Connection
	Offline bool
	Found   bool
}

type RoomInfo struct {
	RoomID      domain.RoomID `json:"roomId"`
	Connections int           `json:"connections"`
	Users       int           `json:"users"`
}

func NewRegistry(oracle core.MembershipOracle) *Registry {
	return &Registry{
		oracle: oracle,
		conns:  make(map[core.ConnID]*connEntry),
		rooms:  make(map[domain.RoomID]map[core.ConnID]*core.Connection),
		users:  make(map[domain.UserID]map[core.ConnID]*core.Connection),
	}
}

// Attach records an authenticated connection in the user index and reports
// whether it is the user's first live connection.
func (r *Registry) Attach(c *core.Connection) bool {
	uid := c.UserID()
	if uid == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.ID()]; ok {
		return false
	}
	r.conns[c.ID()] = &connEntry{conn: c, rooms: make(map[domain.RoomID]struct{})}
	set, ok := r.users[uid]
	if !ok {
		set = make(map[core.ConnID]*core.Connection)
		r.users[uid] = set
	}
	first := len(set) == 0
	set[c.ID()] = c
	if first && r.OnPresence != nil {
		r.OnPresence(uid, true)
	}
	log.Info().Str("module", "app.registry").Str("conn", string(c.ID())).Str("user", string(uid)).Bool("first", first).Msg("attached")
	return first
}

// Join adds c to roomID after the membership oracle confirms the user may
// be there. The oracle runs outside the lock; if the connection went away
// meanwhile the join is discarded.
func (r *Registry) Join(ctx context.Context, c *core.Connection, roomID domain.RoomID) (JoinResult, error) {
	uid := c.UserID()
	if uid == "" {
		return JoinResult{}, domain.ErrAuth
	}
	if err := roomID.Validate(); err != nil {
		return JoinResult{}, err
	}

	r.mu.RLock()
	entry, attached := r.conns[c.ID()]
	already := attached && hasRoom(entry, roomID)
	var others []*core.Connection
	if already {
		others = r.othersLocked(roomID, c.ID())
	}
	r.mu.RUnlock()
	if !attached {
		return JoinResult{}, domain.ErrConnectionClosed
	}
	if already {
		return JoinResult{Others: others, Already: true}, nil
	}

	ok, err := r.oracle.IsMember(ctx, uid, roomID)
	if err != nil {
		return JoinResult{}, domain.AsInfrastructure(err)
	}
	if !ok {
		return JoinResult{}, domain.ErrNotMember
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, attached = r.conns[c.ID()]
	if !attached {
		return JoinResult{}, domain.ErrConnectionClosed
	}
	if hasRoom(entry, roomID) {
		return JoinResult{Others: r.othersLocked(roomID, c.ID()), Already: true}, nil
	}
	others = r.othersLocked(roomID, c.ID())
	entry.rooms[roomID] = struct{}{}
	set, ok := r.rooms[roomID]
	if !ok {
		set = make(map[core.ConnID]*core.Connection)
		r.rooms[roomID] = set
	}
	set[c.ID()] = c
	if _, ok := r.users[uid]; !ok {
		r.users[uid] = make(map[core.ConnID]*core.Connection)
	}
	r.users[uid][c.ID()] = c
	log.Info().Str("module", "app.registry").Str("conn", string(c.ID())).Str("user", string(uid)).Str("room", string(roomID)).Msg("joined room")
	return JoinResult{Others: others}, nil
}

// Leave removes c from roomID. left is false when c was not there.
func (r *Registry) Leave(c *core.Connection, roomID domain.RoomID) (remaining []*core.Connection, left bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conns[c.ID()]
	if !ok || !hasRoom(entry, roomID) {
		return nil, false
	}
	delete(entry.rooms, roomID)
	r.dropFromRoomLocked(roomID, c.ID())
	log.Info().Str("module", "app.registry").Str("conn", string(c.ID())).Str("room", string(roomID)).Msg("left room")
	return lo.Values(r.rooms[roomID]), true
}

// RemoveConnection detaches c from every room and from the user index in
// one step.
func (r *Registry) RemoveConnection(c *core.Connection) Removal {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conns[c.ID()]
	if !ok {
		return Removal{}
	}
	delete(r.conns, c.ID())

	res := Removal{Found: true, Rooms: make(map[domain.RoomID][]*core.Connection, len(entry.rooms))}
	for roomID := range entry.rooms {
		r.dropFromRoomLocked(roomID, c.ID())
		res.Rooms[roomID] = lo.Values(r.rooms[roomID])
	}

	uid := c.UserID()
	if set, ok := r.users[uid]; ok {
		delete(set, c.ID())
		if len(set) == 0 {
			delete(r.users, uid)
			res.Offline = true
			if r.OnPresence != nil {
				r.OnPresence(uid, false)
			}
		}
	}
	log.Info().
		Str("module", "app.registry").
		Str("conn", string(c.ID())).
		Str("user", string(uid)).
		Int("rooms", len(res.Rooms)).
		Bool("offline", res.Offline).
		Msg("removed connection")
	return res
}

func (r *Registry) MembersOf(roomID domain.RoomID) []*core.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.rooms[roomID])
}

func (r *Registry) ConnectionsOf(uid domain.UserID) []*core.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.users[uid])
}

// ConnectionsIn returns the connections of uid that are joined to roomID.
func (r *Registry) ConnectionsIn(uid domain.UserID, roomID domain.RoomID) []*core.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Filter(lo.Values(r.users[uid]), func(c *core.Connection, _ int) bool {
		_, ok := r.rooms[roomID][c.ID()]
		return ok
	})
}

func (r *Registry) IsJoined(c *core.Connection, roomID domain.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conns[c.ID()]
	return ok && hasRoom(entry, roomID)
}

// Attached reports whether c is still live in the registry.
func (r *Registry) Attached(c *core.Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[c.ID()]
	return ok
}

func (r *Registry) RoomsOf(c *core.Connection) []domain.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conns[c.ID()]
	if !ok {
		return nil
	}
	out := lo.Keys(entry.rooms)
	slices.Sort(out)
	return out
}

func (r *Registry) UserInRoom(uid domain.UserID, roomID domain.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id := range r.users[uid] {
		if _, ok := r.rooms[roomID][id]; ok {
			return true
		}
	}
	return false
}

func (r *Registry) Online(uid domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[uid]) > 0
}

// UsersIn returns the distinct users with at least one connection in roomID.
func (r *Registry) UsersIn(roomID domain.RoomID) []domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := lo.UniqBy(lo.Values(r.rooms[roomID]), func(c *core.Connection) domain.UserID { return c.UserID() })
	out := lo.Map(users, func(c *core.Connection, _ int) domain.User { return *c.User() })
	slices.SortFunc(out, func(a, b domain.User) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (r *Registry) Rooms() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for id, set := range r.rooms {
		users := lo.UniqBy(lo.Values(set), func(c *core.Connection) domain.UserID { return c.UserID() })
		out = append(out, RoomInfo{RoomID: id, Connections: len(set), Users: len(users)})
	}
	slices.SortFunc(out, func(a, b RoomInfo) int { return cmp.Compare(a.RoomID, b.RoomID) })
	return out
}

// Connections returns every attached connection.
func (r *Registry) Connections() []*core.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.MapToSlice(r.conns, func(_ core.ConnID, e *connEntry) *core.Connection { return e.conn })
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) othersLocked(roomID domain.RoomID, self core.ConnID) []*core.Connection {
	return lo.Filter(lo.Values(r.rooms[roomID]), func(c *core.Connection, _ int) bool { return c.ID() != self })
}

func (r *Registry) dropFromRoomLocked(roomID domain.RoomID, id core.ConnID) {
	set, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.rooms, roomID)
	}
}

func hasRoom(e *connEntry, roomID domain.RoomID) bool {
	_, ok := e.rooms[roomID]
	return ok
}
