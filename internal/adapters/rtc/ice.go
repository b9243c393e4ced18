// Package rtc owns the WebRTC side of the server. Media never flows through
// it; peers negotiate directly over the signaling relay and only need the
// ICE configuration from here.
package rtc

import (
	"fmt"

	"github.com/danpat592/Yeettalk/internal/config"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// ConfigFromServers builds the client configuration from the configured
// servers. An empty list yields DefaultWebRTCConfig.
func ConfigFromServers(servers []config.ICEServer) webrtc.Configuration {
	if len(servers) == 0 {
		return DefaultWebRTCConfig()
	}
	cfg := webrtc.Configuration{ICEServers: make([]webrtc.ICEServer, 0, len(servers))}
	for _, s := range servers {
		srv := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" || s.Credential != "" {
			srv.Username = s.Username
			srv.Credential = s.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		cfg.ICEServers = append(cfg.ICEServers, srv)
	}
	return cfg
}

// Validate checks that pion accepts cfg by opening and closing a peer
// connection with it.
func Validate(cfg webrtc.Configuration) error {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return fmt.Errorf("ice config: %w", err)
	}
	if err := pc.Close(); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Msg("close probe peer connection")
	}
	return nil
}
