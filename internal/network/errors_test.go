package network

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   error
		want error
	}{
		{"rate text", errors.New("info query returned status 429: rate-overlimit"), ErrThrottled},
		{"too many", errors.New("Too Many requests"), ErrThrottled},
		{"logged out", errors.New("server says: logged out"), ErrLoggedOut},
		{"socket", errors.New("websocket is not connected"), ErrConnection},
		{"wrapped sentinel", fmt.Errorf("fetch: %w", ErrNotConnected), ErrNotConnected},
		{"deadline", context.DeadlineExceeded, context.DeadlineExceeded},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Normalize(tc.in)
			if !errors.Is(got, tc.want) {
				t.Fatalf("Normalize(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}

	if Normalize(nil) != nil {
		t.Fatalf("Normalize(nil) should be nil")
	}
	plain := errors.New("bad payload")
	if got := Normalize(plain); got != plain {
		t.Fatalf("Normalize(%v) = %v, want the same error", plain, got)
	}
}

func TestIsSessionLost(t *testing.T) {
	t.Parallel()
	if !IsSessionLost(fmt.Errorf("x: %w", ErrLoggedOut)) {
		t.Fatalf("logged out should count as session lost")
	}
	if IsSessionLost(ErrThrottled) {
		t.Fatalf("throttling is not session lost")
	}
}
