package app

import (
	"github.com/danpat592/Yeettalk/internal/core"
	"github.com/danpat592/Yeettalk/internal/domain"
	"github.com/rs/zerolog/log"
)

// Relay forwards signaling envelopes between connections of one room.
// Envelopes are never stored and their payload is never read.
type Relay struct {
	registry  *Registry
	publisher *Publisher
}

func NewRelay(registry *Registry, publisher *Publisher) *Relay {
	return &Relay{registry: registry, publisher: publisher}
}

// Forward stamps env with the sender identity and delivers it either to
// every connection of the target user inside the room, or to every other
// room member when no target is set. It returns the number of queues the
// frame reached; a target that is not in the room is not an error.
func (r *Relay) Forward(from *core.Connection, env domain.SignalingEnvelope) (int, error) {
	user := from.User()
	if user == nil {
		return 0, domain.ErrAuth
	}
	if !r.registry.IsJoined(from, env.RoomID) {
		return 0, domain.ErrNotMember
	}
	env.FromUserID = user.ID
	env.FromUsername = user.Username

	var to []*core.Connection
	if env.Targeted() {
		to = r.registry.ConnectionsIn(env.TargetUserID, env.RoomID)
	} else {
		to = r.registry.MembersOf(env.RoomID)
	}
	if len(to) == 0 {
		log.Debug().Str("module", "app.relay").Str("kind", env.Kind).Str("room", string(env.RoomID)).Str("target", string(env.TargetUserID)).Msg("no recipients")
		return 0, nil
	}

	f, err := core.EncodeFrame(env.Kind, env)
	if err != nil {
		return 0, err
	}
	res := r.publisher.Publish(to, f, from.ID())
	return res.SentTo, nil
}
