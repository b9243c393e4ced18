package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/danpat592/Yeettalk/internal/domain"
	"github.com/stretchr/testify/require"
)

var (
	alice = domain.User{ID: "A", Username: "alice"}
	bob   = domain.User{ID: "B", Username: "bob"}
)

func TestTyping_StartStop(t *testing.T) {
	req := require.New(t)
	typing := NewTyping(time.Minute)

	// Given A and B typing in R1
	req.True(typing.Start("R1", alice))
	req.True(typing.Start("R1", bob))
	req.False(typing.Start("R1", alice))

	// When A stops
	req.True(typing.Stop("R1", "A"))
	req.False(typing.Stop("R1", "A"))

	// Then only B is typing
	req.Equal([]domain.UserID{"B"}, typing.Typing("R1"))
}

func TestTyping_StopUser(t *testing.T) {
	req := require.New(t)
	typing := NewTyping(time.Minute)
	typing.Start("R2", alice)
	typing.Start("R1", alice)
	typing.Start("R1", bob)

	req.Equal([]domain.RoomID{"R1", "R2"}, typing.StopUser("A"))
	req.Empty(typing.Typing("R2"))
	req.Equal([]domain.UserID{"B"}, typing.Typing("R1"))
	req.Empty(typing.StopUser("A"))
}

func TestTyping_Expire(t *testing.T) {
	req := require.New(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	typing := NewTyping(8 * time.Second)
	typing.now = func() time.Time { return now }

	typing.Start("R1", alice)
	now = now.Add(5 * time.Second)
	typing.Start("R1", bob)
	// A refreshed start moves the deadline
	typing.Start("R1", bob)

	req.Empty(typing.Expire(now.Add(2 * time.Second)))

	expired := typing.Expire(now.Add(3 * time.Second))
	req.Equal([]TypingExpiry{{RoomID: "R1", User: alice}}, expired)
	req.Equal([]domain.UserID{"B"}, typing.Typing("R1"))

	req.Len(typing.Expire(now.Add(time.Hour)), 1)
	req.Empty(typing.Typing("R1"))
}

func TestTyping_RunCallsOnExpire(t *testing.T) {
	req := require.New(t)
	typing := NewTyping(100 * time.Millisecond)

	var (
		mu  sync.Mutex
		got []TypingExpiry
	)
	typing.OnExpire = func(e TypingExpiry) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}
	typing.Start("R1", alice)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = typing.Run(ctx)
		close(done)
	}()

	req.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 20*time.Millisecond)
	cancel()
	<-done

	req.Equal(domain.RoomID("R1"), got[0].RoomID)
	req.Equal(alice, got[0].User)
}
