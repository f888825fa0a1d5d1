package ratelimit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/foxzi/drip/internal/models"
)

// ErrInvalidRateLimit is returned by Validate for unusable policies
var ErrInvalidRateLimit = errors.New("invalid rate limit configuration")

// Window is a daily working-hours window with minute resolution.
// Both ends are inclusive. A window whose start is after its end wraps
// past midnight.
type Window struct {
	Start int // minutes since midnight
	End   int
}

// ParseWindow parses "HH:MM" bounds
func ParseWindow(start, end string) (Window, error) {
	s, err := parseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("end: %w", err)
	}
	return Window{Start: s, End: e}, nil
}

func parseClock(v string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok {
		return 0, fmt.Errorf("%q is not HH:MM", v)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%q has invalid hour", v)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return 0, fmt.Errorf("%q has invalid minute", v)
	}
	return h*60 + m, nil
}

// Contains reports whether the wall clock of t falls inside the window
func (w Window) Contains(t time.Time) bool {
	cur := t.Hour()*60 + t.Minute()
	if w.Start <= w.End {
		return cur >= w.Start && cur <= w.End
	}
	return cur >= w.Start || cur <= w.End
}

// UntilOpen returns the time from t until the window next opens
func (w Window) UntilOpen(t time.Time) time.Duration {
	open := time.Date(t.Year(), t.Month(), t.Day(), w.Start/60, w.Start%60, 0, 0, t.Location())
	if !open.After(t) {
		open = open.AddDate(0, 0, 1)
	}
	return open.Sub(t)
}

// Validate checks a policy before it is stored
func Validate(cfg models.RateLimitConfig) error {
	switch {
	case cfg.DailyLimit < 0:
		return fmt.Errorf("%w: daily_limit must not be negative", ErrInvalidRateLimit)
	case cfg.HourlyLimit < 0:
		return fmt.Errorf("%w: hourly_limit must not be negative", ErrInvalidRateLimit)
	case cfg.MinIntervalSeconds < 0:
		return fmt.Errorf("%w: min_interval_seconds must not be negative", ErrInvalidRateLimit)
	case cfg.MaxIntervalSeconds < 0:
		return fmt.Errorf("%w: max_interval_seconds must not be negative", ErrInvalidRateLimit)
	case cfg.MinIntervalSeconds > cfg.MaxIntervalSeconds:
		return fmt.Errorf("%w: min_interval_seconds is greater than max_interval_seconds", ErrInvalidRateLimit)
	}
	if _, err := ParseWindow(cfg.WorkingHoursStart, cfg.WorkingHoursEnd); err != nil {
		return fmt.Errorf("%w: working hours %v", ErrInvalidRateLimit, err)
	}
	return nil
}
