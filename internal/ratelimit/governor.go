package ratelimit

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/foxzi/drip/internal/models"
)

// Gate identifies which check denied a send
type Gate string

const (
	GateInactive     Gate = "inactive"
	GateWorkingHours Gate = "working_hours"
	GateDaily        Gate = "daily"
	GateHourly       Gate = "hourly"
	GateInterval     Gate = "interval"
	GateStore        Gate = "store"
)

// Counters reads send history from the queue store
type Counters interface {
	CountSentSince(ctx context.Context, since time.Time) (int, error)
	LastSentAt(ctx context.Context) (*time.Time, error)
}

// Result contains the outcome of a governor check
type Result struct {
	Allowed  bool
	DeniedBy Gate
	// RetryAfter is a lower bound on the wait, zero when unknown
	RetryAfter time.Duration
	// Interval is the pause target drawn for this evaluation
	Interval time.Duration
}

// Governor decides whether one more message may be sent right now.
// It keeps no state between calls: counters are read from the store and
// the interval target is drawn again on every evaluation.
type Governor struct {
	counters Counters
	loc      *time.Location
	logger   *slog.Logger

	mu     sync.Mutex
	random func() float64
}

// NewGovernor creates a governor evaluating calendar boundaries in loc
func NewGovernor(counters Counters, loc *time.Location, logger *slog.Logger) *Governor {
	if loc == nil {
		loc = time.Local
	}
	return &Governor{
		counters: counters,
		loc:      loc,
		logger:   logger.With("component", "governor"),
		random:   rand.Float64,
	}
}

// SetRandom replaces the uniform [0,1) source used for interval draws
func (g *Governor) SetRandom(fn func() float64) {
	g.mu.Lock()
	g.random = fn
	g.mu.Unlock()
}

// CanSendNow reports whether a send is allowed at now
func (g *Governor) CanSendNow(ctx context.Context, cfg models.RateLimitConfig, now time.Time) bool {
	return g.Check(ctx, cfg, now).Allowed
}

// Check evaluates, in order: active flag, working hours, daily cap,
// hourly cap, minimum interval. The first failing gate wins.
func (g *Governor) Check(ctx context.Context, cfg models.RateLimitConfig, now time.Time) *Result {
	if !cfg.IsActive {
		return deny(GateInactive, 0)
	}

	local := now.In(g.loc)

	window, err := ParseWindow(cfg.WorkingHoursStart, cfg.WorkingHoursEnd)
	if err != nil {
		g.logger.Warn("invalid working hours, window not enforced",
			"start", cfg.WorkingHoursStart,
			"end", cfg.WorkingHoursEnd,
			"error", err,
		)
	} else if !window.Contains(local) {
		return deny(GateWorkingHours, window.UntilOpen(local))
	}

	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.loc)
	daily, err := g.counters.CountSentSince(ctx, dayStart)
	if err != nil {
		g.logger.Error("failed to count daily sends", "error", err)
		return deny(GateStore, 0)
	}
	if daily >= cfg.DailyLimit {
		return deny(GateDaily, dayStart.AddDate(0, 0, 1).Sub(local))
	}

	hourly, err := g.counters.CountSentSince(ctx, now.Add(-time.Hour))
	if err != nil {
		g.logger.Error("failed to count hourly sends", "error", err)
		return deny(GateStore, 0)
	}
	if hourly >= cfg.HourlyLimit {
		return deny(GateHourly, 0)
	}

	last, err := g.counters.LastSentAt(ctx)
	if err != nil {
		g.logger.Error("failed to read last send time", "error", err)
		return deny(GateStore, 0)
	}

	target := g.drawInterval(cfg.MinIntervalSeconds, cfg.MaxIntervalSeconds)
	if last != nil {
		elapsed := now.Sub(*last)
		if elapsed < target {
			r := deny(GateInterval, target-elapsed)
			r.Interval = target
			return r
		}
	}

	return &Result{Allowed: true, Interval: target}
}

// drawInterval picks a pause uniformly between min and max seconds.
// Inverted bounds are swapped and negative bounds treated as zero.
func (g *Governor) drawInterval(minSec, maxSec int) time.Duration {
	if minSec < 0 {
		minSec = 0
	}
	if maxSec < 0 {
		maxSec = 0
	}
	if minSec > maxSec {
		minSec, maxSec = maxSec, minSec
	}

	g.mu.Lock()
	u := g.random()
	g.mu.Unlock()

	lo := time.Duration(minSec) * time.Second
	span := time.Duration(maxSec-minSec) * time.Second
	return lo + time.Duration(u*float64(span))
}

func deny(gate Gate, retryAfter time.Duration) *Result {
	return &Result{
		Allowed:    false,
		DeniedBy:   gate,
		RetryAfter: retryAfter,
	}
}
