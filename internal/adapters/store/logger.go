package store

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// badgerLogger routes badger's internal logging through zerolog. Info and
// debug chatter is demoted so it only shows at debug level.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	log.Error().Str("module", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (badgerLogger) Warningf(format string, args ...any) {
	log.Warn().Str("module", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (badgerLogger) Infof(format string, args ...any) {
	log.Debug().Str("module", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (badgerLogger) Debugf(format string, args ...any) {
	log.Trace().Str("module", "badger").Msgf(strings.TrimSpace(format), args...)
}
