package inbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/foxzi/drip/internal/metrics"
	"github.com/foxzi/drip/internal/models"
	"github.com/foxzi/drip/internal/repository"
)

// DefaultReplyWindow is how long after a send an inbound message still
// counts as a reply to it
const DefaultReplyWindow = 72 * time.Hour

// ErrMissingPhone is returned for messages without a sender address
var ErrMissingPhone = errors.New("inbound message has no sender phone")

// Processing statuses
const (
	StatusProcessed = "processed"
	StatusDuplicate = "duplicate"
	StatusIgnored   = "ignored"
)

// Message is an inbound message reduced to what reply tracking needs
type Message struct {
	Phone     string `json:"phone"`
	MessageID string `json:"message_id,omitempty"`
	FromMe    bool   `json:"from_me,omitempty"`
	PushName  string `json:"push_name,omitempty"`
}

// Webhook is the gateway's message event payload. The flat fields accept
// a pre-parsed message.
type Webhook struct {
	Event string `json:"event"`
	Type  string `json:"type"`
	Data  *struct {
		Key struct {
			RemoteJID string `json:"remoteJid"`
			FromMe    bool   `json:"fromMe"`
			ID        string `json:"id"`
		} `json:"key"`
		PushName string          `json:"pushName"`
		Message  json.RawMessage `json:"message"`
	} `json:"data"`

	Message
}

// ToMessage extracts the inbound message. Returns nil for events that
// carry no message content.
func (w *Webhook) ToMessage() *Message {
	if w.Data == nil {
		if w.Phone == "" {
			return nil
		}
		m := w.Message
		return &m
	}

	content := bytes.TrimSpace(w.Data.Message)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) || bytes.Equal(content, []byte("{}")) {
		return nil
	}

	phone, _, _ := strings.Cut(w.Data.Key.RemoteJID, "@")
	return &Message{
		Phone:     phone,
		MessageID: w.Data.Key.ID,
		FromMe:    w.Data.Key.FromMe,
		PushName:  w.Data.PushName,
	}
}

// Result describes what was done with an inbound message
type Result struct {
	Status         string `json:"status"`
	ContactID      string `json:"contact_id,omitempty"`
	EventID        string `json:"event_id,omitempty"`
	ContactCreated bool   `json:"contact_created,omitempty"`
	StageAdvanced  bool   `json:"stage_advanced,omitempty"`
}

// Tracker attributes inbound replies to campaign sends
type Tracker struct {
	contacts *repository.ContactRepository
	events   *repository.EventRepository
	dedup    *DedupStore
	window   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewTracker creates a reply tracker. dedup may be nil.
func NewTracker(contacts *repository.ContactRepository, events *repository.EventRepository, dedup *DedupStore, window time.Duration, logger *slog.Logger) *Tracker {
	if window <= 0 {
		window = DefaultReplyWindow
	}
	return &Tracker{
		contacts: contacts,
		events:   events,
		dedup:    dedup,
		window:   window,
		logger:   logger.With("component", "inbound"),
		now:      time.Now,
	}
}

// SetClock replaces the time source
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Handle processes one inbound message: the sender's contact is found
// or created, its pipeline advanced from novo to contactado, and the
// most recent unreplied send within the reply window marked replied.
func (t *Tracker) Handle(ctx context.Context, msg *Message) (*Result, error) {
	if msg == nil {
		return &Result{Status: StatusIgnored}, nil
	}
	if msg.FromMe {
		return &Result{Status: StatusIgnored}, nil
	}
	if strings.TrimSpace(msg.Phone) == "" {
		return nil, ErrMissingPhone
	}

	now := t.now()

	if t.dedup != nil && msg.MessageID != "" {
		seen, err := t.dedup.MarkSeen(ctx, msg.MessageID, now)
		if err != nil {
			return nil, fmt.Errorf("failed to check duplicate: %w", err)
		}
		if seen {
			metrics.IncInboundDuplicates()
			t.logger.Debug("duplicate inbound message", "message_id", msg.MessageID)
			return &Result{Status: StatusDuplicate}, nil
		}
	}

	res, err := t.process(ctx, msg, now)
	if err != nil {
		if t.dedup != nil && msg.MessageID != "" {
			// Let a webhook retry try again
			if ferr := t.dedup.Forget(ctx, msg.MessageID); ferr != nil {
				t.logger.Warn("failed to forget message id", "message_id", msg.MessageID, "error", ferr)
			}
		}
		return nil, err
	}
	return res, nil
}

func (t *Tracker) process(ctx context.Context, msg *Message, now time.Time) (*Result, error) {
	contact, created, err := t.findOrCreateContact(ctx, msg, now)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Status:         StatusProcessed,
		ContactID:      contact.ID,
		ContactCreated: created,
	}

	res.StageAdvanced, err = t.contacts.AdvanceStage(ctx, contact.ID, models.StageNew, models.StageContacted)
	if err != nil {
		return nil, err
	}
	if err := t.contacts.IncrementUnread(ctx, contact.ID); err != nil {
		return nil, fmt.Errorf("failed to update unread count: %w", err)
	}
	if err := t.contacts.TouchInteraction(ctx, contact.ID, now); err != nil {
		return nil, fmt.Errorf("failed to update last interaction: %w", err)
	}

	res.EventID, err = t.events.MarkReplied(ctx, contact.ID, now, t.window)
	if err != nil {
		return nil, err
	}
	if res.EventID != "" {
		metrics.IncRepliesCorrelated()
		t.logger.Info("reply attributed to campaign send", "contact_id", contact.ID, "event_id", res.EventID)
	}

	return res, nil
}

func (t *Tracker) findOrCreateContact(ctx context.Context, msg *Message, now time.Time) (*models.Contact, bool, error) {
	for _, candidate := range phoneCandidates(msg.Phone) {
		c, err := t.contacts.FindByPhone(ctx, candidate)
		if err != nil {
			return nil, false, fmt.Errorf("failed to find contact: %w", err)
		}
		if c != nil {
			return c, false, nil
		}
	}

	name := strings.TrimSpace(msg.PushName)
	if name == "" {
		name = "Unknown"
	}
	c := &models.Contact{
		FullName:  name,
		Phone:     "+" + digitsOnly(msg.Phone),
		Type:      "lead",
		Source:    "whatsapp_inbound",
		IsActive:  true,
		CreatedAt: now,
	}
	if err := t.contacts.Create(ctx, c); err != nil {
		return nil, false, err
	}

	t.logger.Info("contact created from inbound message", "contact_id", c.ID)
	return c, true, nil
}

// phoneCandidates returns the digits of phone plus, for Brazilian
// mobile numbers, the variant with or without the ninth digit
func phoneCandidates(phone string) []string {
	digits := digitsOnly(phone)
	candidates := []string{digits}

	if strings.HasPrefix(digits, "55") && len(digits) >= 12 {
		ddd, rest := digits[2:4], digits[4:]
		switch {
		case len(rest) == 8:
			candidates = append(candidates, "55"+ddd+"9"+rest)
		case len(rest) == 9 && rest[0] == '9':
			candidates = append(candidates, "55"+ddd+rest[1:])
		}
	}
	return candidates
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
