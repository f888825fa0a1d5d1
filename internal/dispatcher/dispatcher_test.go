package dispatcher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/drip/internal/audience"
	"github.com/foxzi/drip/internal/campaign"
	"github.com/foxzi/drip/internal/db"
	"github.com/foxzi/drip/internal/gateway"
	"github.com/foxzi/drip/internal/models"
	"github.com/foxzi/drip/internal/ratelimit"
	"github.com/foxzi/drip/internal/repository"
)

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu    sync.Mutex
	sent  []*gateway.SendRequest
	err   error
	panic bool
	block bool
	n     int
}

func (f *fakeSender) Send(ctx context.Context, req *gateway.SendRequest) (*gateway.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.panic {
		panic("boom")
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	f.n++
	f.sent = append(f.sent, req)
	return &gateway.SendResult{ProviderMessageID: fmt.Sprintf("MSG%d", f.n)}, nil
}

func (f *fakeSender) requests() []*gateway.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*gateway.SendRequest(nil), f.sent...)
}

type fixture struct {
	d         *Dispatcher
	sender    *fakeSender
	svc       *campaign.Service
	contacts  *repository.ContactRepository
	events    *repository.EventRepository
	settings  *repository.SettingsRepository
	campaigns *repository.CampaignRepository
	db        *sql.DB
	now       time.Time
}

func setup(t *testing.T, cfg Config) *fixture {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		sender:    &fakeSender{},
		contacts:  repository.NewContactRepository(database.DB),
		events:    repository.NewEventRepository(database.DB),
		settings:  repository.NewSettingsRepository(database.DB),
		campaigns: repository.NewCampaignRepository(database.DB),
		db:        database.DB,
		now:       testNow,
	}
	clock := func() time.Time { return f.now }

	resolver := audience.NewResolver(database.DB, logger)
	resolver.SetClock(clock)
	f.svc = campaign.NewService(f.campaigns, f.events, resolver, logger)
	f.svc.SetClock(clock)

	governor := ratelimit.NewGovernor(f.events, time.UTC, logger)
	governor.SetRandom(func() float64 { return 0.5 })

	f.d = New(cfg, f.svc, f.events, f.contacts, f.settings, governor, f.sender, logger)
	f.d.SetClock(clock)
	f.d.SetRandom(func() float64 { return 0.5 })

	f.saveSettings(t, func(c *models.RateLimitConfig) {})
	return f
}

// saveSettings stores an always-open policy adjusted by fn
func (f *fixture) saveSettings(t *testing.T, fn func(*models.RateLimitConfig)) {
	t.Helper()
	cfg := models.RateLimitConfig{
		DailyLimit:         100,
		HourlyLimit:        100,
		MinIntervalSeconds: 0,
		MaxIntervalSeconds: 0,
		WorkingHoursStart:  "00:00",
		WorkingHoursEnd:    "23:59",
		IsActive:           true,
	}
	fn(&cfg)
	require.NoError(t, f.settings.SaveRateLimit(context.Background(), &cfg))
}

func (f *fixture) addContact(t *testing.T, name, phone string) *models.Contact {
	t.Helper()
	c := &models.Contact{FullName: name, Phone: phone, IsActive: true, Temperature: "quente"}
	require.NoError(t, f.contacts.Create(context.Background(), c))
	return c
}

func (f *fixture) launch(t *testing.T, text, media string) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		Name:            "Promo",
		AudienceRules:   &models.RuleSet{Logic: models.LogicAnd},
		MessageTemplate: text,
		MediaURL:        media,
	}
	require.NoError(t, f.svc.Create(context.Background(), c))
	_, err := f.svc.Launch(context.Background(), c.ID, false)
	require.NoError(t, err)
	return c
}

func TestTickSendsOneMessage(t *testing.T) {
	f := setup(t, Config{})
	ctx := context.Background()
	ana := f.addContact(t, "Ana Souza", "+55 11 90000-0001")
	f.addContact(t, "Bruno Lima", "+55 11 90000-0002")
	c := f.launch(t, "Oi {{primeiro_nome}}, tudo bem?", "")

	res := f.d.Tick(ctx)
	assert.Equal(t, OutcomeSent, res.Outcome)
	assert.Equal(t, 1, res.Sent)

	reqs := f.sender.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "5511900000001", reqs[0].Phone)
	assert.Equal(t, "Oi Ana, tudo bem?", reqs[0].Text)
	assert.Empty(t, reqs[0].MediaURL)
	// 17 runes is below the floor, so 2s with neutral jitter
	assert.Equal(t, 2*time.Second, reqs[0].TypingDelay)

	e, err := f.events.Get(ctx, c.ID, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventSent, e.Status)
	assert.Equal(t, "MSG1", e.ProviderMessageID)
	require.NotNil(t, e.SentAt)
	assert.True(t, e.SentAt.Equal(testNow))

	contact, err := f.contacts.GetByID(ctx, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageContacted, contact.Stage)

	stored, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Stats.Sent)
	assert.Equal(t, 1, stored.Stats.Queued)
}

func TestTickIntervalGate(t *testing.T) {
	f := setup(t, Config{})
	ctx := context.Background()
	f.saveSettings(t, func(c *models.RateLimitConfig) {
		c.MinIntervalSeconds = 30
		c.MaxIntervalSeconds = 30
	})
	f.addContact(t, "Ana", "+5511900000001")
	f.addContact(t, "Bruno", "+5511900000002")
	f.launch(t, "hi", "")

	assert.Equal(t, OutcomeSent, f.d.Tick(ctx).Outcome)

	f.now = testNow.Add(10 * time.Second)
	res := f.d.Tick(ctx)
	assert.Equal(t, OutcomeThrottled, res.Outcome)
	assert.Equal(t, ratelimit.GateInterval, res.DeniedBy)
	assert.Equal(t, 20*time.Second, res.RetryAfter)
	assert.Len(t, f.sender.requests(), 1)

	f.now = testNow.Add(31 * time.Second)
	assert.Equal(t, OutcomeSent, f.d.Tick(ctx).Outcome)
	assert.Len(t, f.sender.requests(), 2)
}

func TestTickDailyCap(t *testing.T) {
	f := setup(t, Config{})
	ctx := context.Background()
	f.saveSettings(t, func(c *models.RateLimitConfig) { c.DailyLimit = 2 })
	for i := 1; i <= 3; i++ {
		f.addContact(t, fmt.Sprintf("C%d", i), fmt.Sprintf("+551190000000%d", i))
	}
	f.launch(t, "hi", "")

	for i := 0; i < 2; i++ {
		f.now = f.now.Add(time.Minute)
		assert.Equal(t, OutcomeSent, f.d.Tick(ctx).Outcome)
	}

	f.now = f.now.Add(time.Minute)
	res := f.d.Tick(ctx)
	assert.Equal(t, OutcomeThrottled, res.Outcome)
	assert.Equal(t, ratelimit.GateDaily, res.DeniedBy)

	queued, err := f.events.CountQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	// Next day the cap resets
	f.now = testNow.Add(24 * time.Hour)
	assert.Equal(t, OutcomeSent, f.d.Tick(ctx).Outcome)
}

func TestTickInactiveAndOutsideHours(t *testing.T) {
	f := setup(t, Config{})
	ctx := context.Background()
	f.addContact(t, "Ana", "+5511900000001")
	f.launch(t, "hi", "")

	f.saveSettings(t, func(c *models.RateLimitConfig) { c.IsActive = false })
	res := f.d.Tick(ctx)
	assert.Equal(t, OutcomeThrottled, res.Outcome)
	assert.Equal(t, ratelimit.GateInactive, res.DeniedBy)

	f.saveSettings(t, func(c *models.RateLimitConfig) {
		c.WorkingHoursStart = "08:00"
		c.WorkingHoursEnd = "11:00"
	})
	res = f.d.Tick(ctx)
	assert.Equal(t, ratelimit.GateWorkingHours, res.DeniedBy)

	assert.Empty(t, f.sender.requests())
}

func TestTickMalformedHoursFailOpen(t *testing.T) {
	f := setup(t, Config{})
	f.saveSettings(t, func(c *models.RateLimitConfig) {
		c.WorkingHoursStart = "8am"
		c.WorkingHoursEnd = "late"
	})
	f.addContact(t, "Ana", "+5511900000001")
	f.launch(t, "hi", "")

	assert.Equal(t, OutcomeSent, f.d.Tick(context.Background()).Outcome)
}

func TestTickBatch(t *testing.T) {
	f := setup(t, Config{BatchSize: 5})
	for i := 1; i <= 3; i++ {
		f.addContact(t, fmt.Sprintf("C%d", i), fmt.Sprintf("+551190000000%d", i))
	}
	f.launch(t, "hi", "")

	res := f.d.Tick(context.Background())
	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, OutcomeSent, res.Outcome)
	assert.Len(t, f.sender.requests(), 3)
}

func TestTickBatchRegatesEachSend(t *testing.T) {
	f := setup(t, Config{BatchSize: 5})
	f.saveSettings(t, func(c *models.RateLimitConfig) { c.HourlyLimit = 2 })
	for i := 1; i <= 4; i++ {
		f.addContact(t, fmt.Sprintf("C%d", i), fmt.Sprintf("+551190000000%d", i))
	}
	f.launch(t, "hi", "")

	res := f.d.Tick(context.Background())
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, OutcomeSent, res.Outcome)
	assert.Equal(t, ratelimit.GateHourly, res.DeniedBy)
}

func TestTickInvalidAddress(t *testing.T) {
	f := setup(t, Config{})
	ctx := context.Background()
	bad := f.addContact(t, "Bad", "123")
	c := f.launch(t, "hi", "")

	res := f.d.Tick(ctx)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Empty(t, f.sender.requests())

	e, err := f.events.Get(ctx, c.ID, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventFailed, e.Status)
	assert.Contains(t, e.Error, ReasonInvalidAddress)
}

func TestTickGatewayError(t *testing.T) {
	f := setup(t, Config{})
	ctx := context.Background()
	ana := f.addContact(t, "Ana", "+5511900000001")
	c := f.launch(t, "hi", "")
	f.sender.err = &gateway.APIError{StatusCode: 400, Body: "not on whatsapp"}

	res := f.d.Tick(ctx)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	e, err := f.events.Get(ctx, c.ID, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventFailed, e.Status)
	assert.Contains(t, e.Error, ReasonGatewayError)
	assert.Contains(t, e.Error, "not on whatsapp")

	contact, err := f.contacts.GetByID(ctx, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageNew, contact.Stage)

	// Failed events are not retried; the campaign drains
	f.sender.err = nil
	assert.Equal(t, OutcomeIdle, f.d.Tick(ctx).Outcome)
	assert.Empty(t, f.sender.requests())
}

func TestTickSendTimeout(t *testing.T) {
	f := setup(t, Config{SendTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	ana := f.addContact(t, "Ana", "+5511900000001")
	c := f.launch(t, "hi", "")
	f.sender.block = true

	res := f.d.Tick(ctx)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	e, err := f.events.Get(ctx, c.ID, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventFailed, e.Status)
	assert.Contains(t, e.Error, ReasonTimeout)
}

func TestTickShutdownLeavesEventQueued(t *testing.T) {
	f := setup(t, Config{SendTimeout: time.Minute})
	ana := f.addContact(t, "Ana", "+5511900000001")
	c := f.launch(t, "hi", "")
	f.sender.block = true

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	f.d.Tick(ctx)

	e, err := f.events.Get(context.Background(), c.ID, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventQueued, e.Status)
}

func TestTickPanicMarksEventFailed(t *testing.T) {
	f := setup(t, Config{})
	ctx := context.Background()
	ana := f.addContact(t, "Ana", "+5511900000001")
	c := f.launch(t, "hi", "")
	f.sender.panic = true

	res := f.d.Tick(ctx)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	e, err := f.events.Get(ctx, c.ID, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventFailed, e.Status)
	assert.Contains(t, e.Error, ReasonInternalError)
}

func TestTickUnreadableCampaignFailsEvent(t *testing.T) {
	f := setup(t, Config{})
	ctx := context.Background()
	ana := f.addContact(t, "Ana", "+5511900000001")
	broken := f.launch(t, "hi", "")
	f.addContact(t, "Bruno", "+5511900000002")
	healthy := f.launch(t, "hello", "")

	_, err := f.db.Exec("UPDATE campaigns SET excluded_contacts = '{corrupt' WHERE id = ?", broken.ID)
	require.NoError(t, err)

	res := f.d.Tick(ctx)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, f.sender.requests())

	e, err := f.events.Get(ctx, broken.ID, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventFailed, e.Status)
	assert.Contains(t, e.Error, ReasonInternalError)

	// The queue head moved on
	res = f.d.Tick(ctx)
	assert.Equal(t, OutcomeSent, res.Outcome)
	reqs := f.sender.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "hello", reqs[0].Text)

	e, err = f.events.Get(ctx, healthy.ID, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventSent, e.Status)
}

func TestTickCompletesDrainedCampaign(t *testing.T) {
	f := setup(t, Config{})
	ctx := context.Background()
	f.addContact(t, "Ana", "+5511900000001")
	c := f.launch(t, "hi", "")

	assert.Equal(t, OutcomeSent, f.d.Tick(ctx).Outcome)
	assert.Equal(t, OutcomeIdle, f.d.Tick(ctx).Outcome)

	stored, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignCompleted, stored.Status)
}

func TestTickLaunchesScheduledCampaign(t *testing.T) {
	f := setup(t, Config{})
	ctx := context.Background()
	f.addContact(t, "Ana", "+5511900000001")

	at := testNow.Add(5 * time.Minute)
	c := &models.Campaign{
		Name:            "Later",
		AudienceRules:   &models.RuleSet{Logic: models.LogicAnd},
		MessageTemplate: "hi",
		ScheduledAt:     &at,
	}
	require.NoError(t, f.svc.Create(ctx, c))

	assert.Equal(t, OutcomeIdle, f.d.Tick(ctx).Outcome)

	f.now = at
	assert.Equal(t, OutcomeSent, f.d.Tick(ctx).Outcome)

	stored, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignActive, stored.Status)
}

func TestTickMedia(t *testing.T) {
	f := setup(t, Config{})
	f.addContact(t, "Ana", "+5511900000001")
	f.launch(t, "caption", "https://cdn.example.com/a.jpg")

	f.d.Tick(context.Background())
	reqs := f.sender.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "https://cdn.example.com/a.jpg", reqs[0].MediaURL)
	assert.Equal(t, "caption", reqs[0].Text)
}

func TestTickSkippedWhileBusy(t *testing.T) {
	f := setup(t, Config{})
	f.addContact(t, "Ana", "+5511900000001")
	f.launch(t, "hi", "")

	f.d.tickMu.Lock()
	res := f.d.Tick(context.Background())
	f.d.tickMu.Unlock()

	assert.Equal(t, OutcomeBusy, res.Outcome)
	assert.Empty(t, f.sender.requests())
}

func TestTickWithoutCampaigns(t *testing.T) {
	f := setup(t, Config{})
	res := f.d.Tick(context.Background())
	assert.Equal(t, OutcomeIdle, res.Outcome)
	assert.Equal(t, OutcomeIdle, f.d.Status().LastOutcome)
}

func TestStatus(t *testing.T) {
	f := setup(t, Config{TickInterval: time.Minute})
	f.addContact(t, "Ana", "+5511900000001")
	f.launch(t, "hi", "")

	f.d.Tick(context.Background())
	s := f.d.Status()
	assert.False(t, s.Running)
	assert.Equal(t, "1m0s", s.TickInterval)
	assert.Equal(t, OutcomeSent, s.LastOutcome)
	assert.EqualValues(t, 1, s.TotalSent)
	require.NotNil(t, s.LastTickAt)
}

func TestStartStop(t *testing.T) {
	f := setup(t, Config{TickInterval: time.Hour})
	require.NoError(t, f.d.Start())
	assert.True(t, f.d.Status().Running)
	f.d.Stop()
	assert.False(t, f.d.Status().Running)
}

func TestTypingDelay(t *testing.T) {
	f := setup(t, Config{})

	tests := []struct {
		name   string
		text   string
		random float64
		want   time.Duration
	}{
		{"floor", "oi", 0.5, 2 * time.Second},
		{"proportional", string(make([]rune, 100)), 0.5, 6 * time.Second},
		{"ceiling", string(make([]rune, 1000)), 0.5, 15 * time.Second},
		{"low jitter", string(make([]rune, 100)), 0, 4800 * time.Millisecond},
		{"high jitter", string(make([]rune, 100)), 1, 7200 * time.Millisecond},
		{"multibyte runes", "ããããããããããããããããããããããããããããããããããããããããããããããããããã", 0.5, 3060 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.d.SetRandom(func() float64 { return tt.random })
			assert.Equal(t, tt.want, f.d.typingDelay(tt.text))
		})
	}
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, ReasonInvalidAddress, failureReason(fmt.Errorf("wrap: %w", gateway.ErrInvalidNumber)))
	assert.Equal(t, ReasonTimeout, failureReason(context.DeadlineExceeded))
	assert.Equal(t, ReasonGatewayError, failureReason(errors.New("connection refused")))
}

func TestRenderTemplate(t *testing.T) {
	vars := contactVariables(&models.Contact{FullName: "Ana Souza", Phone: "+5511900000001"})

	assert.Equal(t, "Oi Ana Souza", renderTemplate("Oi {{nome}}", vars))
	assert.Equal(t, "Oi Ana!", renderTemplate("Oi {{ First_Name }}!", vars))
	assert.Equal(t, "+5511900000001", renderTemplate("{{telefone}}", vars))
	assert.Equal(t, "Oi {{unknown}}", renderTemplate("Oi {{unknown}}", vars))
	assert.Equal(t, "", renderTemplate("", vars))
}
