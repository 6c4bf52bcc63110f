// Package lease holds the time-window mechanics shared by path reservations
// and build slots: TTL validation, activity derived from the clock at read
// time, renewal and idempotent release. Conflict detection is parameterized
// by a predicate so the two lease kinds differ only in how incompatibility
// is decided (pattern overlap vs slot-type identity).
package lease

import (
	"errors"
	"time"
)

// ErrNotActive is returned when renewing a lease that has been released or
// has already expired. Renewal never resurrects a dead lease.
var ErrNotActive = errors.New("lease is not active")

// State is the derived lifecycle position of a lease window. Expired is
// never stored; it is computed by comparing ExpiresAt to the clock.
type State string

const (
	StateActive   State = "active"
	StateReleased State = "released"
	StateExpired  State = "expired"
)

// Window is the time-bounded span of a grant.
type Window struct {
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// NewWindow opens a window at now lasting ttl. A non-positive ttl is
// rejected so no lease can exist with expiry at or before creation.
func NewWindow(now time.Time, ttl time.Duration) (Window, error) {
	if ttl <= 0 {
		return Window{}, errors.New("ttl must be positive")
	}
	return Window{CreatedAt: now, ExpiresAt: now.Add(ttl)}, nil
}

// ActiveAt reports whether the window is unreleased and unexpired at now.
func (w Window) ActiveAt(now time.Time) bool {
	return w.ReleasedAt == nil && now.Before(w.ExpiresAt)
}

// StateAt derives the lifecycle state at now.
func (w Window) StateAt(now time.Time) State {
	switch {
	case w.ReleasedAt != nil:
		return StateReleased
	case !now.Before(w.ExpiresAt):
		return StateExpired
	default:
		return StateActive
	}
}

// Renew pushes ExpiresAt to now+ttl. Only valid from the active state.
func (w *Window) Renew(now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	if !w.ActiveAt(now) {
		return ErrNotActive
	}
	w.ExpiresAt = now.Add(ttl)
	return nil
}

// Release ends the window at now. Releasing an already-ended window is a
// no-op; the return value reports whether anything changed.
func (w *Window) Release(now time.Time) bool {
	if w.ReleasedAt != nil || !now.Before(w.ExpiresAt) {
		return false
	}
	t := now
	w.ReleasedAt = &t
	return true
}

// FilterActive keeps the grants whose window is active at now.
func FilterActive[G any](in []G, now time.Time, window func(G) Window) []G {
	out := make([]G, 0, len(in))
	for _, g := range in {
		if window(g).ActiveAt(now) {
			out = append(out, g)
		}
	}
	return out
}

// Conflicts returns the active grants incompatible with a request. The
// caller supplies the predicate; everything else about conflict handling
// (return-as-data, no blocking) is uniform across lease kinds.
func Conflicts[G any](active []G, incompatible func(G) bool) []G {
	var out []G
	for _, g := range active {
		if incompatible(g) {
			out = append(out, g)
		}
	}
	return out
}
