package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/robfig/cron/v3"

	"github.com/foxzi/drip/internal/campaign"
	"github.com/foxzi/drip/internal/gateway"
	"github.com/foxzi/drip/internal/metrics"
	"github.com/foxzi/drip/internal/models"
	"github.com/foxzi/drip/internal/ratelimit"
	"github.com/foxzi/drip/internal/repository"
)

// Tick outcomes
const (
	OutcomeSent      = "sent"
	OutcomeFailed    = "failed"
	OutcomeThrottled = "throttled"
	OutcomeIdle      = "idle"
	OutcomeBusy      = "busy"
	OutcomeError     = "error"
)

// Failure reasons stored on send events
const (
	ReasonInvalidAddress = "invalid_address"
	ReasonTimeout        = "timeout"
	ReasonGatewayError   = "gateway_error"
	ReasonInternalError  = "internal_error"
)

const (
	typingPerRune  = 60 * time.Millisecond
	minTypingDelay = 2 * time.Second
	maxTypingDelay = 15 * time.Second
	maxReasonLen   = 500
)

// Config holds dispatcher configuration
type Config struct {
	TickInterval time.Duration
	BatchSize    int
	SendTimeout  time.Duration
}

// DefaultConfig returns default dispatcher configuration
func DefaultConfig() Config {
	return Config{
		TickInterval: 10 * time.Second,
		BatchSize:    1,
		SendTimeout:  20 * time.Second,
	}
}

// TickResult summarizes one tick
type TickResult struct {
	Outcome    string
	Sent       int
	Failed     int
	DeniedBy   ratelimit.Gate
	RetryAfter time.Duration
}

// Status is a snapshot of the dispatcher state
type Status struct {
	Running      bool           `json:"running"`
	TickInterval string         `json:"tick_interval"`
	BatchSize    int            `json:"batch_size"`
	LastTickAt   *time.Time     `json:"last_tick_at,omitempty"`
	LastOutcome  string         `json:"last_outcome,omitempty"`
	LastDeniedBy ratelimit.Gate `json:"last_denied_by,omitempty"`
	RetryAfter   string         `json:"retry_after,omitempty"`
	TotalSent    int64          `json:"total_sent"`
	TotalFailed  int64          `json:"total_failed"`
}

// Dispatcher drains the send queue one message at a time under the
// rate governor
type Dispatcher struct {
	cfg       Config
	logger    *slog.Logger
	campaigns *campaign.Service
	events    *repository.EventRepository
	contacts  *repository.ContactRepository
	settings  *repository.SettingsRepository
	governor  *ratelimit.Governor
	sender    gateway.Sender

	now    func() time.Time
	random func() float64

	// tickMu serializes ticks; an overlapping tick is skipped
	tickMu sync.Mutex

	statusMu sync.RWMutex
	status   Status

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new dispatcher
func New(
	cfg Config,
	campaigns *campaign.Service,
	events *repository.EventRepository,
	contacts *repository.ContactRepository,
	settings *repository.SettingsRepository,
	governor *ratelimit.Governor,
	sender gateway.Sender,
	logger *slog.Logger,
) *Dispatcher {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		cfg:       cfg,
		logger:    logger.With("component", "dispatcher"),
		campaigns: campaigns,
		events:    events,
		contacts:  contacts,
		settings:  settings,
		governor:  governor,
		sender:    sender,
		now:       time.Now,
		random:    rand.Float64,
		status: Status{
			TickInterval: cfg.TickInterval.String(),
			BatchSize:    cfg.BatchSize,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetClock replaces the time source
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// SetRandom replaces the uniform [0,1) source used for typing jitter
func (d *Dispatcher) SetRandom(fn func() float64) {
	d.random = fn
}

// Start schedules ticks every TickInterval
func (d *Dispatcher) Start() error {
	d.cron = cron.New(cron.WithChain(
		cron.Recover(cronLogger{d.logger}),
		cron.SkipIfStillRunning(cronLogger{d.logger}),
	))

	spec := fmt.Sprintf("@every %s", d.cfg.TickInterval)
	if _, err := d.cron.AddFunc(spec, func() { d.Tick(d.ctx) }); err != nil {
		return fmt.Errorf("failed to schedule dispatcher: %w", err)
	}
	d.cron.Start()

	d.statusMu.Lock()
	d.status.Running = true
	d.statusMu.Unlock()

	d.logger.Info("dispatcher started", "tick_interval", d.cfg.TickInterval, "batch_size", d.cfg.BatchSize)
	return nil
}

// Stop stops scheduling and waits for a running tick to finish
func (d *Dispatcher) Stop() {
	d.logger.Info("stopping dispatcher...")
	d.cancel()
	if d.cron != nil {
		<-d.cron.Stop().Done()
	}

	d.statusMu.Lock()
	d.status.Running = false
	d.statusMu.Unlock()

	d.logger.Info("dispatcher stopped")
}

// Status returns a snapshot of the dispatcher state
func (d *Dispatcher) Status() Status {
	d.statusMu.RLock()
	defer d.statusMu.RUnlock()
	s := d.status
	return s
}

// Tick launches due campaigns and then processes up to BatchSize queued
// events, re-checking the governor before each one. Errors are logged,
// never returned.
func (d *Dispatcher) Tick(ctx context.Context) *TickResult {
	if !d.tickMu.TryLock() {
		metrics.IncTick(OutcomeBusy)
		return &TickResult{Outcome: OutcomeBusy}
	}
	defer d.tickMu.Unlock()

	res := &TickResult{}

	if n, err := d.campaigns.LaunchDue(ctx); err != nil {
		d.logger.Error("failed to launch scheduled campaigns", "error", err)
	} else if n > 0 {
		d.logger.Info("scheduled campaigns launched", "count", n)
	}

	for i := 0; i < d.cfg.BatchSize; i++ {
		if ctx.Err() != nil {
			break
		}
		if !d.step(ctx, res) {
			break
		}
	}

	if res.Outcome == "" {
		switch {
		case res.Sent > 0:
			res.Outcome = OutcomeSent
		case res.Failed > 0:
			res.Outcome = OutcomeFailed
		default:
			res.Outcome = OutcomeIdle
		}
	}

	d.record(res)
	metrics.IncTick(res.Outcome)
	return res
}

// step handles one queue item. Returns false when the tick should stop.
func (d *Dispatcher) step(ctx context.Context, res *TickResult) bool {
	now := d.now()

	cfg, err := d.settings.GetRateLimit(ctx)
	if err != nil {
		d.logger.Error("failed to load rate limit settings", "error", err)
		res.Outcome = OutcomeError
		return false
	}

	decision := d.governor.Check(ctx, cfg, now)
	if !decision.Allowed {
		metrics.IncThrottled(string(decision.DeniedBy))
		d.logger.Debug("send throttled", "gate", decision.DeniedBy, "retry_after", decision.RetryAfter)
		if res.Sent == 0 && res.Failed == 0 {
			res.Outcome = OutcomeThrottled
		}
		res.DeniedBy = decision.DeniedBy
		res.RetryAfter = decision.RetryAfter
		return false
	}

	event, err := d.events.NextEligible(ctx)
	if err != nil {
		d.logger.Error("failed to get next event", "error", err)
		res.Outcome = OutcomeError
		return false
	}
	if event == nil {
		if _, err := d.campaigns.CompleteDrained(ctx); err != nil {
			d.logger.Error("failed to complete drained campaigns", "error", err)
		}
		return false
	}

	switch d.process(ctx, event) {
	case models.EventSent:
		res.Sent++
	case models.EventFailed:
		res.Failed++
	default:
		// No outcome was recorded for the claimed event
		if ctx.Err() == nil {
			res.Outcome = OutcomeError
		}
		return false
	}
	return true
}

// process sends one event and records the result. Returns the new event
// status, or "" when the event was left queued.
func (d *Dispatcher) process(ctx context.Context, event *models.SendEvent) (status models.EventStatus) {
	log := d.logger.With("event_id", event.ID, "campaign_id", event.CampaignID, "contact_id", event.ContactID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing event", "panic", r, "stack", string(debug.Stack()))
			status = d.fail(ctx, event, ReasonInternalError, fmt.Sprint(r))
		}
	}()

	// Load errors fail the event so an unreadable row cannot block the queue head
	c, err := d.campaigns.Get(ctx, event.CampaignID)
	if err != nil {
		log.Error("failed to load campaign", "error", err)
		return d.fail(ctx, event, ReasonInternalError, err.Error())
	}

	contact, err := d.contacts.GetByID(ctx, event.ContactID)
	if err != nil {
		log.Error("failed to load contact", "error", err)
		return d.fail(ctx, event, ReasonInternalError, err.Error())
	}
	if contact == nil {
		return d.fail(ctx, event, ReasonInvalidAddress, "contact not found")
	}

	phone, err := gateway.NormalizeNumber(contact.Phone)
	if err != nil {
		return d.fail(ctx, event, ReasonInvalidAddress, err.Error())
	}

	text := renderTemplate(c.MessageTemplate, contactVariables(contact))
	req := &gateway.SendRequest{
		Phone:       phone,
		Text:        text,
		MediaURL:    c.MediaURL,
		TypingDelay: d.typingDelay(text),
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	result, err := d.sender.Send(sendCtx, req)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down: leave the event queued for the next run
			log.Warn("send interrupted by shutdown", "error", err)
			return ""
		}
		reason := failureReason(err)
		log.Warn("send failed", "reason", reason, "error", err)
		return d.fail(ctx, event, reason, err.Error())
	}

	if err := d.events.MarkSent(ctx, event.ID, d.now(), result.ProviderMessageID); err != nil {
		if errors.Is(err, repository.ErrEventNotQueued) {
			log.Warn("event left the queue while sending", "error", err)
			return ""
		}
		log.Error("failed to mark event sent", "error", err)
		return ""
	}

	kind := "text"
	if req.HasMedia() {
		kind = "media"
	}
	metrics.IncMessagesSent(kind)

	if _, err := d.contacts.AdvanceStage(ctx, contact.ID, models.StageNew, models.StageContacted); err != nil {
		log.Warn("failed to advance pipeline stage", "error", err)
	}
	if err := d.campaigns.RefreshStats(ctx, event.CampaignID); err != nil {
		log.Warn("failed to refresh campaign stats", "error", err)
	}

	log.Info("message sent",
		"provider_message_id", result.ProviderMessageID,
		"simulated", result.Simulated,
		"typing_delay", req.TypingDelay,
	)
	return models.EventSent
}

func (d *Dispatcher) fail(ctx context.Context, event *models.SendEvent, reason, detail string) models.EventStatus {
	msg := reason
	if detail != "" && detail != reason {
		msg = reason + ": " + detail
	}
	if len(msg) > maxReasonLen {
		msg = msg[:maxReasonLen]
	}

	if err := d.events.MarkFailed(ctx, event.ID, msg); err != nil {
		d.logger.Error("failed to mark event failed", "event_id", event.ID, "error", err)
		return ""
	}
	metrics.IncMessagesFailed(reason)

	if err := d.campaigns.RefreshStats(ctx, event.CampaignID); err != nil {
		d.logger.Warn("failed to refresh campaign stats", "campaign_id", event.CampaignID, "error", err)
	}
	return models.EventFailed
}

// typingDelay is proportional to the message length, clamped, with
// +/-20% jitter
func (d *Dispatcher) typingDelay(text string) time.Duration {
	base := time.Duration(utf8.RuneCountInString(text)) * typingPerRune
	base = min(max(base, minTypingDelay), maxTypingDelay)

	jitter := 0.8 + 0.4*d.random()
	return time.Duration(float64(base) * jitter)
}

func (d *Dispatcher) record(res *TickResult) {
	now := d.now().UTC()

	d.statusMu.Lock()
	defer d.statusMu.Unlock()

	d.status.LastTickAt = &now
	d.status.LastOutcome = res.Outcome
	d.status.LastDeniedBy = res.DeniedBy
	d.status.RetryAfter = ""
	if res.RetryAfter > 0 {
		d.status.RetryAfter = res.RetryAfter.Round(time.Second).String()
	}
	d.status.TotalSent += int64(res.Sent)
	d.status.TotalFailed += int64(res.Failed)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, gateway.ErrInvalidNumber):
		return ReasonInvalidAddress
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return ReasonGatewayError
	}
}

// cronLogger adapts slog to the cron.Logger interface
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
