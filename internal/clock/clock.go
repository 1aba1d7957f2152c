package clock

import (
	"log/slog"
	"time"
)

// Clock hands out the current time in the configured yard timezone.
// Injected into the timer and order services so tests can freeze it.
type Clock interface {
	Now() time.Time
}

type zoneClock struct {
	loc *time.Location
}

// New resolves an IANA zone name. Empty or unknown names fall back to
// UTC with a warning.
func New(zone string) Clock {
	if zone == "" {
		return zoneClock{loc: time.UTC}
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		slog.Warn("unknown timezone, falling back to UTC", "zone", zone, "error", err.Error())
		return zoneClock{loc: time.UTC}
	}
	return zoneClock{loc: loc}
}

func (c zoneClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Fixed returns a clock pinned to one instant. Test helper.
func Fixed(t time.Time) Clock {
	return fixedClock{t: t}
}

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time { return c.t }
