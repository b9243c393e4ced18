// Package store is the badger-backed collaborator store: user directory,
// rooms and their members, chat history and last-seen presence.
package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/danpat592/Yeettalk/internal/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	prefixUser    = "user"
	prefixRoom    = "room"
	prefixMember  = "member"
	prefixMessage = "msg"

	sep = "\x00"

	maxTxnRetries = 3
)

type userRecord struct {
	ID       string    `msgpack:"id"`
	Username string    `msgpack:"username"`
	Avatar   string    `msgpack:"avatar,omitempty"`
	Online   bool      `msgpack:"online"`
	LastSeen time.Time `msgpack:"last_seen"`
}

type roomRecord struct {
	ID        string    `msgpack:"id"`
	Name      string    `msgpack:"name"`
	CreatedAt time.Time `msgpack:"created_at"`
}

type memberRecord struct {
	JoinedAt time.Time `msgpack:"joined_at"`
}

type messageRecord struct {
	ID        string    `msgpack:"id"`
	RoomID    string    `msgpack:"room_id"`
	UserID    string    `msgpack:"user_id"`
	Username  string    `msgpack:"username"`
	Avatar    string    `msgpack:"avatar,omitempty"`
	Content   string    `msgpack:"content"`
	Kind      string    `msgpack:"kind"`
	ReplyTo   string    `msgpack:"reply_to,omitempty"`
	CreatedAt time.Time `msgpack:"created_at"`
	UpdatedAt time.Time `msgpack:"updated_at"`
}

// Presence is the persisted presence of a user.
type Presence struct {
	Online   bool
	LastSeen time.Time
}

type Store struct {
	db  *badger.DB
	now func() time.Time

	mu      sync.Mutex
	entropy io.Reader
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	return open(badger.DefaultOptions(path))
}

// OpenInMemory opens a throwaway database.
func OpenInMemory() (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts.WithLogger(badgerLogger{}))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return New(db), nil
}

func New(db *badger.DB) *Store {
	return &Store{
		db:      db,
		now:     func() time.Time { return time.Now().UTC() },
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func key(parts ...string) []byte {
	return []byte(strings.Join(parts, sep))
}

func userKey(id domain.UserID) []byte { return key(prefixUser, string(id)) }
func roomKey(id domain.RoomID) []byte { return key(prefixRoom, string(id)) }
func memberKey(room domain.RoomID, user domain.UserID) []byte {
	return key(prefixMember, string(room), string(user))
}
func memberPrefix(room domain.RoomID) []byte { return key(prefixMember, string(room), "") }
func messageKey(room domain.RoomID, id string) []byte {
	return key(prefixMessage, string(room), id)
}
func messagePrefix(room domain.RoomID) []byte { return key(prefixMessage, string(room), "") }

func getValue(txn *badger.Txn, k []byte, v any) error {
	item, err := txn.Get(k)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, v)
	})
}

func setValue(txn *badger.Txn, k []byte, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	return txn.Set(k, data)
}

// update retries fn on transaction conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func (s *Store) newID(now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		return "", fmt.Errorf("message id: %w", err)
	}
	return id.String(), nil
}

// PutUser creates or updates the display fields of a user. Presence is
// left as it was.
func (s *Store) PutUser(ctx context.Context, u domain.User) error {
	if _, err := domain.NewUser(u.ID, u.Username); err != nil {
		return err
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		var rec userRecord
		if err := getValue(txn, userKey(u.ID), &rec); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		rec.ID = string(u.ID)
		rec.Username = strings.TrimSpace(u.Username)
		rec.Avatar = u.Avatar
		return setValue(txn, userKey(u.ID), rec)
	})
}

func (s *Store) GetUser(ctx context.Context, id domain.UserID) (domain.User, error) {
	var rec userRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getValue(txn, userKey(id), &rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	return rec.toDomain(), nil
}

func (s *Store) PutRoom(ctx context.Context, r domain.Room) error {
	if err := checkKeys(r.ID); err != nil {
		return err
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		rec := roomRecord{ID: string(r.ID), Name: r.Name, CreatedAt: s.now()}
		var old roomRecord
		switch err := getValue(txn, roomKey(r.ID), &old); {
		case err == nil:
			rec.CreatedAt = old.CreatedAt
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return setValue(txn, roomKey(r.ID), rec)
	})
}

func (s *Store) GetRoom(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	var rec roomRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getValue(txn, roomKey(id), &rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, err
	}
	return domain.Room{ID: domain.RoomID(rec.ID), Name: rec.Name}, nil
}

// AddMember records uid as a member of room. Both must exist.
func (s *Store) AddMember(ctx context.Context, room domain.RoomID, uid domain.UserID) error {
	if err := checkKeys(room, uid); err != nil {
		return err
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		if err := exists(txn, roomKey(room), domain.ErrRoomNotFound); err != nil {
			return err
		}
		if err := exists(txn, userKey(uid), domain.ErrUserNotFound); err != nil {
			return err
		}
		return setValue(txn, memberKey(room, uid), memberRecord{JoinedAt: s.now()})
	})
}

func (s *Store) RemoveMember(ctx context.Context, room domain.RoomID, uid domain.UserID) error {
	if err := checkKeys(room, uid); err != nil {
		return err
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(memberKey(room, uid))
	})
}

// Members lists the user ids with membership in room.
func (s *Store) Members(ctx context.Context, room domain.RoomID) ([]domain.UserID, error) {
	if err := checkKeys(room); err != nil {
		return nil, err
	}
	var out []domain.UserID
	err := s.view(ctx, func(txn *badger.Txn) error {
		if err := exists(txn, roomKey(room), domain.ErrRoomNotFound); err != nil {
			return err
		}
		prefix := memberPrefix(room)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			out = append(out, domain.UserID(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return out, err
}

// IsMember answers for the membership oracle. An unknown room is
// domain.ErrRoomNotFound.
func (s *Store) IsMember(ctx context.Context, uid domain.UserID, room domain.RoomID) (bool, error) {
	if err := checkKeys(room, uid); err != nil {
		return false, err
	}
	var member bool
	err := s.view(ctx, func(txn *badger.Txn) error {
		if err := exists(txn, roomKey(room), domain.ErrRoomNotFound); err != nil {
			return err
		}
		_, err := txn.Get(memberKey(room, uid))
		switch {
		case err == nil:
			member = true
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return nil
	})
	return member, err
}

// Save persists ev and returns it with the author's display fields.
func (s *Store) Save(ctx context.Context, ev domain.ChatEvent) (domain.Message, error) {
	if err := checkKeys(ev.RoomID, ev.Author); err != nil {
		return domain.Message{}, err
	}
	var rec messageRecord
	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := exists(txn, roomKey(ev.RoomID), domain.ErrRoomNotFound); err != nil {
			return err
		}
		var author userRecord
		if err := getValue(txn, userKey(ev.Author), &author); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrUserNotFound
			}
			return err
		}
		if ev.ReplyTo != "" {
			if err := exists(txn, messageKey(ev.RoomID, ev.ReplyTo), domain.ErrMessageNotFound); err != nil {
				return err
			}
		}

		now := s.now()
		id, err := s.newID(now)
		if err != nil {
			return err
		}
		rec = messageRecord{
			ID:        id,
			RoomID:    string(ev.RoomID),
			UserID:    string(ev.Author),
			Username:  author.Username,
			Avatar:    author.Avatar,
			Content:   ev.Content,
			Kind:      string(ev.Kind),
			ReplyTo:   ev.ReplyTo,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return setValue(txn, messageKey(ev.RoomID, id), rec)
	})
	if err != nil {
		return domain.Message{}, err
	}
	log.Debug().Str("module", "adapters.store").Str("room", rec.RoomID).Str("message", rec.ID).Msg("message saved")
	return rec.toDomain(), nil
}

// Messages returns up to limit of the newest messages in room, oldest
// first.
func (s *Store) Messages(ctx context.Context, room domain.RoomID, limit int) ([]domain.Message, error) {
	if err := checkKeys(room); err != nil {
		return nil, err
	}
	var out []domain.Message
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := messagePrefix(room)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		// Reverse iteration seeks to the greatest key not above the seek key.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.Valid(); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec messageRecord
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SetOnline stores the presence edge reported by the real-time core.
func (s *Store) SetOnline(ctx context.Context, uid domain.UserID, online bool) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var rec userRecord
		if err := getValue(txn, userKey(uid), &rec); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrUserNotFound
			}
			return err
		}
		rec.Online = online
		rec.LastSeen = s.now()
		return setValue(txn, userKey(uid), rec)
	})
}

func (s *Store) Presence(ctx context.Context, uid domain.UserID) (Presence, error) {
	var rec userRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getValue(txn, userKey(uid), &rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Presence{}, domain.ErrUserNotFound
	}
	if err != nil {
		return Presence{}, err
	}
	return Presence{Online: rec.Online, LastSeen: rec.LastSeen}, nil
}

// checkKeys rejects ids that could reach outside their key prefix.
func checkKeys(room domain.RoomID, uids ...domain.UserID) error {
	if err := room.Validate(); err != nil {
		return err
	}
	for _, uid := range uids {
		if err := uid.Validate(); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrInvalidPayload, err)
		}
	}
	return nil
}

func exists(txn *badger.Txn, k []byte, notFound error) error {
	_, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return notFound
	}
	return err
}

func (r userRecord) toDomain() domain.User {
	return domain.User{ID: domain.UserID(r.ID), Username: r.Username, Avatar: r.Avatar}
}

func (r messageRecord) toDomain() domain.Message {
	return domain.Message{
		ID:        r.ID,
		RoomID:    domain.RoomID(r.RoomID),
		UserID:    domain.UserID(r.UserID),
		Username:  r.Username,
		Avatar:    r.Avatar,
		Content:   r.Content,
		Kind:      domain.MessageKind(r.Kind),
		ReplyTo:   r.ReplyTo,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
