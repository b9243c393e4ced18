package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danpat592/Yeettalk/internal/app/orch"
	"github.com/danpat592/Yeettalk/internal/core"
	"github.com/danpat592/Yeettalk/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// ClientTokenKey is the gin context key holding the device token.
	ClientTokenKey = "client_token"
	// SessionTokenKey is the cookie session key holding a bearer token.
	SessionTokenKey = "token"
)

// credentialFrom looks for a bearer token in the query string, the
// Authorization header and the cookie session, in that order.
func credentialFrom(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	if t := BearerToken(c.GetHeader("Authorization")); t != "" {
		return t
	}
	if _, ok := c.Get(sessions.DefaultKey); ok {
		if t, ok := sessions.Default(c).Get(SessionTokenKey).(string); ok {
			return t
		}
	}
	return ""
}

func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type authenticatePayload struct {
	Token string `json:"token"`
}

// awaitAuthenticate reads the first frame, which must be authenticate.
func (ctl *SignalWSController) awaitAuthenticate(conn *WsSignalConn) (string, error) {
	if err := conn.conn.SetReadDeadline(time.Now().Add(ctl.opts.AuthTimeout)); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrAuth, err)
	}
	_, data, err := conn.conn.ReadMessage()
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", fmt.Errorf("%w: auth timeout", domain.ErrAuth)
		}
		return "", fmt.Errorf("%w: %w", domain.ErrAuth, err)
	}
	env, err := core.DecodeFrame(data)
	if err != nil || env.Type != orch.EventAuthenticate {
		return "", fmt.Errorf("%w: first frame must be %s", domain.ErrAuth, orch.EventAuthenticate)
	}
	var p authenticatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.Token == "" {
		return "", fmt.Errorf("%w: missing token", domain.ErrAuth)
	}
	return p.Token, nil
}

func isUnexpectedClose(err error) bool {
	return websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure)
}
