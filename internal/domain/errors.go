package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth is fatal to the connection that produced it.
	ErrAuth = errors.New("authentication failed")

	ErrNotMember = errors.New("not a member")

	ErrInvalidPayload = errors.New("invalid payload")
	ErrContentEmpty   = errors.New("content is required")
	ErrContentTooLong = errors.New("content too long")
	ErrInvalidKind    = errors.New("invalid message kind")
	ErrRateLimited    = errors.New("rate limit exceeded")

	ErrRoomNotFound    = errors.New("room not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrUserNotFound    = errors.New("user not found")

	ErrUnavailable = errors.New("service unavailable")

	ErrConnectionClosed = errors.New("connection closed")
	ErrBackpressure     = errors.New("backpressure")
)

// Error codes sent to clients next to the human readable message.
const (
	CodeAuth           = "auth"
	CodeAuthorization  = "authorization"
	CodeValidation     = "validation"
	CodeNotFound       = "not_found"
	CodeInfrastructure = "infrastructure"
)

// Code classifies err for the wire. Anything unknown is treated as an
// infrastructure failure.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return CodeAuth
	case errors.Is(err, ErrNotMember):
		return CodeAuthorization
	case errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrContentEmpty),
		errors.Is(err, ErrContentTooLong),
		errors.Is(err, ErrInvalidKind),
		errors.Is(err, ErrRateLimited):
		return CodeValidation
	case errors.Is(err, ErrRoomNotFound),
		errors.Is(err, ErrMessageNotFound),
		errors.Is(err, ErrUserNotFound):
		return CodeNotFound
	default:
		return CodeInfrastructure
	}
}

// PublicMessage is the text shown to the client for err. Infrastructure
// details never leak.
func PublicMessage(err error) string {
	for _, known := range []error{
		ErrAuth, ErrNotMember, ErrContentEmpty, ErrContentTooLong, ErrInvalidKind,
		ErrRateLimited, ErrInvalidPayload, ErrRoomNotFound, ErrMessageNotFound, ErrUserNotFound,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return ErrUnavailable.Error()
}

// AsInfrastructure leaves classified errors alone and wraps anything else
// with ErrUnavailable so callers can test for it.
func AsInfrastructure(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) || Code(err) != CodeInfrastructure {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
