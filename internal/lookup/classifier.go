package lookup

import (
	"errors"
	"strings"
	"time"

	"bioscout/internal/network"
)

const setAtLayout = "2006-01-02 15:04:05 MST"

// Classify turns the raw responses for one target into a Result. The first
// matching rule wins: unregistered, throttled, failed, no bio, bio.
func Classify(b network.Bundle, loc *time.Location) Result {
	r := Result{Target: b.Target}

	switch {
	case b.Registered && !b.Exists && b.RegisterErr == nil:
		r.Category = CategoryUnregistered
		return r
	case isThrottled(b.RegisterErr) || isThrottled(b.StatusErr):
		r.Category = CategoryRateLimit
		r.Reason = network.ErrThrottled.Error()
		return r
	case b.RegisterErr != nil:
		r.Category = CategoryError
		r.Reason = b.RegisterErr.Error()
		return r
	case network.IsSessionLost(b.StatusErr) || network.IsSessionLost(b.BusinessErr):
		// A missing bio is only meaningful while the session was up.
		r.Category = CategoryError
		r.Reason = errors.Join(b.StatusErr, b.BusinessErr).Error()
		return r
	}

	bio := ""
	if b.Status != nil {
		bio = strings.TrimSpace(b.Status.Text)
	}
	if bio == "" {
		r.Category = CategoryNoBio
		r.Enrichment = enrich(b.Business, "")
		return r
	}

	r.Category = CategoryHasBio
	r.Bio = bio
	r.SetAt = formatSetAt(b.Status.SetAt, loc)
	r.Enrichment = enrich(b.Business, bio)
	return r
}

func isThrottled(err error) bool {
	return err != nil && errors.Is(network.Normalize(err), network.ErrThrottled)
}

func formatSetAt(t time.Time, loc *time.Location) string {
	if t.IsZero() || t.Unix() <= 0 {
		return "unknown"
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(setAtLayout)
}
