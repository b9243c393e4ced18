package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/danpat592/Yeettalk/internal/app/orch"
	"github.com/danpat592/Yeettalk/internal/core"
	"github.com/danpat592/Yeettalk/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	SendBuffer   int
	ReadLimit    int64
	WriteWait    time.Duration
	PongWait     time.Duration
	PingPeriod   time.Duration
	AuthTimeout  time.Duration
	RateEvents   int
	RateInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		SendBuffer:   64,
		ReadLimit:    64 * 1024,
		WriteWait:    10 * time.Second,
		PongWait:     60 * time.Second,
		PingPeriod:   54 * time.Second,
		AuthTimeout:  10 * time.Second,
		RateEvents:   30,
		RateInterval: time.Second,
	}
}

type SignalWSController struct {
	Orch *orch.Orchestrator

	opts     Options
	limiter  *RateLimiter[core.ConnID]
	upgrader websocket.Upgrader
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		opts:    opts,
		limiter: NewRateLimiter[core.ConnID](opts.RateEvents, opts.RateInterval),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WsSignalConn is the outbound half of a WebSocket: a bounded queue
// drained by writePump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	if buffer <= 0 {
		buffer = 1
	}
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, buffer)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return domain.ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return domain.ErrBackpressure
	}
	return nil
}

// Close stops accepting frames. writePump flushes what is queued and then
// closes the socket.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	credential := credentialFrom(c)
	device := c.GetString(ClientTokenKey)

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)
	sc := core.NewConnection(conn, device)
	log.Info().Str("module", "signal").Str("conn", string(sc.ID())).Str("device", device).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(sc.ID(), conn)
	go ctl.serve(ctx, cancel, sc, conn, credential)
}

func (ctl *SignalWSController) serve(ctx context.Context, cancel context.CancelFunc, sc *core.Connection, conn *WsSignalConn, credential string) {
	defer cancel()
	defer ctl.limiter.Forget(sc.ID())
	defer ctl.Orch.OnDisconnect(sc)

	conn.conn.SetReadLimit(ctl.opts.ReadLimit)

	if credential == "" {
		var err error
		credential, err = ctl.awaitAuthenticate(conn)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("conn", string(sc.ID())).Msg("no authenticate frame")
			ctl.Orch.Reject(sc, orch.EventAuthError, err)
			conn.Close()
			return
		}
	}
	if err := ctl.Orch.OnConnect(ctx, sc, credential); err != nil {
		return
	}
	ctl.readPump(ctx, sc, conn)
}
