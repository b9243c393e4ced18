package orch

import (
	"context"
	"encoding/json"

	"github.com/danpat592/Yeettalk/internal/core"
	"github.com/danpat592/Yeettalk/internal/domain"
	"github.com/rs/zerolog/log"
)

type sendMessagePayload struct {
	RoomRef
	Content string `json:"content" validate:"max=65536"`
	Kind    string `json:"kind" validate:"max=16"`
	ReplyTo string `json:"replyTo" validate:"omitempty,max=128"`
}

// signalPayload keeps the whole client payload so it can be forwarded
// untouched.
type signalPayload struct {
	RoomRef
	TargetUserID domain.UserID `json:"targetUserId" validate:"omitempty,max=64"`
	raw          json.RawMessage
}

func (p *signalPayload) UnmarshalJSON(b []byte) error {
	type fields signalPayload
	var f fields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*p = signalPayload(f)
	p.raw = append(json.RawMessage(nil), b...)
	return nil
}

func (o *Orchestrator) handleJoinRoom(ctx context.Context, c *core.Connection, p RoomRef) error {
	res, err := o.Registry.Join(ctx, c, p.RoomID)
	if err != nil {
		return err
	}
	o.send(c, EventRoomJoined, roomPayload{RoomID: p.RoomID})
	if res.Already {
		return nil
	}
	user := c.User()
	joined := o.encode(EventUserJoinedRoom, userRoomPayload{
		UserID:   user.ID,
		Username: user.Username,
		Avatar:   user.Avatar,
		RoomID:   p.RoomID,
	})
	o.Publisher.Publish(res.Others, joined, c.ID())
	return nil
}

func (o *Orchestrator) handleLeaveRoom(_ context.Context, c *core.Connection, p RoomRef) error {
	remaining, left := o.Registry.Leave(c, p.RoomID)
	o.send(c, EventRoomLeft, roomPayload{RoomID: p.RoomID})
	if !left {
		return nil
	}
	user := c.User()
	leftFrame := o.encode(EventUserLeftRoom, userRoomPayload{UserID: user.ID, Username: user.Username, RoomID: p.RoomID})
	o.Publisher.Publish(remaining, leftFrame, c.ID())
	if !o.Registry.UserInRoom(user.ID, p.RoomID) && o.Typing.Stop(p.RoomID, user.ID) {
		o.broadcastTyping(remaining, p.RoomID, *user, false, c.ID())
	}
	return nil
}

func (o *Orchestrator) handleSendMessage(ctx context.Context, c *core.Connection, p sendMessagePayload) error {
	user := c.User()
	ev := domain.ChatEvent{
		RoomID:  p.RoomID,
		Author:  user.ID,
		Content: p.Content,
		Kind:    domain.MessageKind(p.Kind),
		ReplyTo: p.ReplyTo,
	}
	if err := ev.Normalize(o.limits.MaxContentLength); err != nil {
		return err
	}
	if o.moderator != nil {
		ev.Content = o.moderator.Censor(ev.Content)
	}

	// The save outlives the connection; only its fanout is dropped.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.limits.SaveTimeout)
	defer cancel()
	msg, err := o.store.Save(saveCtx, ev)
	if err != nil {
		return domain.AsInfrastructure(err)
	}
	if !o.Registry.Attached(c) {
		log.Info().Str("module", "orch").Str("conn", string(c.ID())).Str("message", msg.ID).Msg("sender gone, fanout skipped")
		return domain.ErrConnectionClosed
	}

	o.Publisher.Publish(o.Registry.MembersOf(ev.RoomID), o.encode(EventNewMessage, msg), "")
	if o.Typing.Stop(ev.RoomID, user.ID) {
		o.broadcastTyping(o.Registry.MembersOf(ev.RoomID), ev.RoomID, *user, false, c.ID())
	}
	return nil
}

func (o *Orchestrator) handleTyping(typing bool) func(context.Context, *core.Connection, RoomRef) error {
	return func(_ context.Context, c *core.Connection, p RoomRef) error {
		user := c.User()
		var changed bool
		if typing {
			changed = o.Typing.Start(p.RoomID, *user)
		} else {
			changed = o.Typing.Stop(p.RoomID, user.ID)
		}
		if changed {
			o.broadcastTyping(o.Registry.MembersOf(p.RoomID), p.RoomID, *user, typing, c.ID())
		}
		return nil
	}
}

func (o *Orchestrator) handleSignal(kind string, targeted bool) func(context.Context, *core.Connection, signalPayload) error {
	return func(_ context.Context, c *core.Connection, p signalPayload) error {
		env := domain.SignalingEnvelope{
			Kind:    kind,
			RoomID:  p.RoomID,
			Payload: p.raw,
		}
		if targeted {
			env.TargetUserID = p.TargetUserID
		}
		_, err := o.Relay.Forward(c, env)
		return err
	}
}

func (o *Orchestrator) handlePing(_ context.Context, c *core.Connection, _ json.RawMessage) error {
	o.send(c, EventPong, nil)
	return nil
}
