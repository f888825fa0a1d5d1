package models

import "time"

// EventStatus is the delivery state of a send event
type EventStatus string

const (
	EventQueued EventStatus = "queued"
	EventSent   EventStatus = "sent"
	EventFailed EventStatus = "failed"
)

// SendEvent is one recipient's entry in a campaign's send queue
type SendEvent struct {
	ID                string      `json:"id"`
	CampaignID        string      `json:"campaign_id"`
	ContactID         string      `json:"contact_id"`
	Status            EventStatus `json:"status"`
	Error             string      `json:"error,omitempty"`
	ProviderMessageID string      `json:"provider_message_id,omitempty"`
	EnqueuedAt        time.Time   `json:"enqueued_at"`
	SentAt            *time.Time  `json:"sent_at,omitempty"`
	RepliedAt         *time.Time  `json:"replied_at,omitempty"`
}

// EnqueueOutcome describes what Enqueue did with a (campaign, contact) pair
type EnqueueOutcome string

const (
	EnqueueCreated   EnqueueOutcome = "created"
	EnqueueRequeued  EnqueueOutcome = "requeued"
	EnqueueUnchanged EnqueueOutcome = "unchanged"
)

// EnqueueCounts aggregates outcomes of a batch enqueue
type EnqueueCounts struct {
	Created   int
	Requeued  int
	Unchanged int
}

// Queued returns the number of events put into queued state by the batch
func (c EnqueueCounts) Queued() int {
	return c.Created + c.Requeued
}

// Add records one outcome
func (c *EnqueueCounts) Add(o EnqueueOutcome) {
	switch o {
	case EnqueueCreated:
		c.Created++
	case EnqueueRequeued:
		c.Requeued++
	default:
		c.Unchanged++
	}
}
