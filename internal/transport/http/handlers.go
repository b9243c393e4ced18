// Package http holds the REST handlers served next to the signaling socket.
package http

import (
	"net/http"

	"github.com/danpat592/Yeettalk/internal/adapters/signal"
	"github.com/danpat592/Yeettalk/internal/app"
	"github.com/danpat592/Yeettalk/internal/core"
	"github.com/danpat592/Yeettalk/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// UserKey is the gin context key holding the authenticated *domain.User.
const UserKey = "user"

type SessionRequest struct {
	Token string `json:"token"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type RoomPresence struct {
	RoomID domain.RoomID   `json:"roomId"`
	Users  []domain.User   `json:"users"`
	Typing []domain.UserID `json:"typing"`
}

type UserPresence struct {
	UserID      domain.UserID `json:"userId"`
	Online      bool          `json:"online"`
	Connections int           `json:"connections"`
}

type Handlers struct {
	Registry *app.Registry
	Typing   *app.Typing
	Verifier core.IdentityVerifier
	Oracle   core.MembershipOracle
	RTC      webrtc.Configuration
}

// RequireUser authenticates the request from its bearer header or cookie
// session and stores the user under UserKey.
func (h *Handlers) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := signal.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			if t, ok := sessions.Default(c).Get(signal.SessionTokenKey).(string); ok {
				token = t
			}
		}
		if token == "" {
			abort(c, domain.ErrAuth)
			return
		}
		u, err := h.Verifier.Verify(c.Request.Context(), token)
		if err != nil {
			abort(c, err)
			return
		}
		c.Set(UserKey, u)
		c.Next()
	}
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": h.Registry.Len()})
}

// CreateSession verifies a token from the body or the Authorization header
// and keeps it in the cookie session for later socket upgrades.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req SessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, domain.ErrInvalidPayload)
			return
		}
	}
	if req.Token == "" {
		req.Token = signal.BearerToken(c.GetHeader("Authorization"))
	}
	if req.Token == "" {
		abort(c, domain.ErrAuth)
		return
	}

	u, err := h.Verifier.Verify(c.Request.Context(), req.Token)
	if err != nil {
		abort(c, err)
		return
	}

	s := sessions.Default(c)
	s.Set(signal.SessionTokenKey, req.Token)
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "transport.http").Msg("save session")
		abort(c, domain.ErrUnavailable)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handlers) DeleteSession(c *gin.Context) {
	s := sessions.Default(c)
	s.Delete(signal.SessionTokenKey)
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "transport.http").Msg("clear session")
		abort(c, domain.ErrUnavailable)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) RTCConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": h.RTC.ICEServers})
}

func (h *Handlers) Rooms(c *gin.Context) {
	c.JSON(http.StatusOK, h.Registry.Rooms())
}

// Room lists who is online and typing in a room the requester belongs to.
func (h *Handlers) Room(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	u := c.MustGet(UserKey).(*domain.User)

	ok, err := h.Oracle.IsMember(c.Request.Context(), u.ID, roomID)
	if err != nil {
		abort(c, domain.AsInfrastructure(err))
		return
	}
	if !ok {
		abort(c, domain.ErrNotMember)
		return
	}

	c.JSON(http.StatusOK, RoomPresence{
		RoomID: roomID,
		Users:  h.Registry.UsersIn(roomID),
		Typing: h.Typing.Typing(roomID),
	})
}

func (h *Handlers) User(c *gin.Context) {
	uid := domain.UserID(c.Param("id"))
	c.JSON(http.StatusOK, UserPresence{
		UserID:      uid,
		Online:      h.Registry.Online(uid),
		Connections: len(h.Registry.ConnectionsOf(uid)),
	})
}

func abort(c *gin.Context, err error) {
	code := domain.Code(err)
	status := http.StatusServiceUnavailable
	switch code {
	case domain.CodeAuth:
		status = http.StatusUnauthorized
	case domain.CodeAuthorization:
		status = http.StatusForbidden
	case domain.CodeValidation:
		status = http.StatusBadRequest
	case domain.CodeNotFound:
		status = http.StatusNotFound
	}
	if status == http.StatusServiceUnavailable {
		log.Error().Err(err).Str("module", "transport.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: domain.PublicMessage(err), Code: code})
}
