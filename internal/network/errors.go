package network

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConnection is a transient network or session fault.
	ErrConnection = errors.New("network: connection error")
	// ErrNotConnected is returned when a tenant has no usable session.
	ErrNotConnected = errors.New("network: not connected")
	// ErrLoggedOut is terminal for a session; a new pairing is required.
	ErrLoggedOut = errors.New("network: logged out")
	// ErrThrottled means the remote side rejected the call for rate reasons.
	ErrThrottled = errors.New("network: rate limited")
	// ErrMalformed is returned when a response could not be interpreted.
	ErrMalformed = errors.New("network: malformed response")
)

// IsSessionLost reports whether err means the tenant's session is gone, as
// opposed to a failure of one call.
func IsSessionLost(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrLoggedOut)
}

// Normalize maps an untyped error coming out of a client library onto the
// sentinels above. Adapters call it after their own typed checks; message
// matching is confined to this function.
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrThrottled) || errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrNotConnected) || errors.Is(err, ErrLoggedOut) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "rate-overlimit", "rate limit", "rate-limit", "ratelimit", "429", "too many"):
		return fmt.Errorf("%w: %v", ErrThrottled, err)
	case strings.Contains(msg, "logged out"), strings.Contains(msg, "not logged in"):
		return fmt.Errorf("%w: %v", ErrLoggedOut, err)
	case strings.Contains(msg, "not connected"), strings.Contains(msg, "websocket"),
		strings.Contains(msg, "connection"), strings.Contains(msg, "timed out"):
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return err
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
