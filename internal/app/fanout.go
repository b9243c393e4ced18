package app

import (
	"errors"

	"github.com/danpat592/Yeettalk/internal/core"
	"github.com/danpat592/Yeettalk/internal/domain"
	"github.com/rs/zerolog/log"
)

type PublishResult struct {
	SentTo  int
	Dropped []*core.Connection
}

// Publisher pushes frames into outbound queues and applies the
// backpressure policy to connections whose queue is full.
type Publisher struct {
	Policy Policy
}

func NewPublisher(p Policy) *Publisher {
	if p == nil {
		p = SimplePolicy{Action: KickMember}
	}
	return &Publisher{Policy: p}
}

// Publish delivers f to every connection in to except the one with id
// except. It never blocks.
func (p *Publisher) Publish(to []*core.Connection, f core.Frame, except core.ConnID) PublishResult {
	var res PublishResult
	for _, c := range to {
		if c.ID() == except {
			continue
		}
		if p.deliver(c, f) {
			res.SentTo++
		} else {
			res.Dropped = append(res.Dropped, c)
		}
	}
	return res
}

// Send delivers f to a single connection.
func (p *Publisher) Send(c *core.Connection, f core.Frame) bool {
	return p.deliver(c, f)
}

func (p *Publisher) deliver(c *core.Connection, f core.Frame) bool {
	err := c.Send(f)
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrBackpressure):
		action := p.Policy.OnBackPressure(c)
		log.Warn().
			Str("module", "app.fanout").
			Str("conn", string(c.ID())).
			Str("user", string(c.UserID())).
			Str("action", action.String()).
			Msg("outbound queue full")
		if action == KickMember {
			// The reader notices the closed transport and runs the
			// disconnect path on its own goroutine.
			c.Signal().Close()
		}
	case errors.Is(err, domain.ErrConnectionClosed):
	default:
		log.Error().Err(err).Str("module", "app.fanout").Str("conn", string(c.ID())).Msg("send failed")
	}
	return false
}
