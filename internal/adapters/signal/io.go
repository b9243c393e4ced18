package signal

import (
	"context"
	"time"

	"github.com/danpat592/Yeettalk/internal/app/orch"
	"github.com/danpat592/Yeettalk/internal/core"
	"github.com/danpat592/Yeettalk/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// writePump owns every write to the socket. It runs until the queue is
// closed or a write fails.
func (ctl *SignalWSController) writePump(id core.ConnID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("writePump set deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				log.Debug().Str("module", "signal").Str("conn", string(id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sc *core.Connection, c *WsSignalConn) {
	id := string(sc.ID())
	defer func() {
		log.Info().Str("module", "signal").Str("conn", id).Msg("readPump closing")
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if isUnexpectedClose(err) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", id).Msg("readPump read error")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if !ctl.limiter.Allow(sc.ID()) {
			ctl.Orch.Reject(sc, orch.EventError, domain.ErrRateLimited)
			continue
		}
		ctl.Orch.Dispatch(ctx, sc, data)
	}
}
