package models

import "time"

// CampaignStatus is the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignCompleted CampaignStatus = "completed"
)

// Valid reports whether s is a known campaign status
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignActive, CampaignCompleted:
		return true
	}
	return false
}

// Campaign represents an outbound message campaign
type Campaign struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Status           CampaignStatus `json:"status"`
	AudienceRules    *RuleSet       `json:"audience_rules"`
	MessageTemplate  string         `json:"message_template"`
	MediaURL         string         `json:"media_url,omitempty"`
	ExcludedContacts []string       `json:"excluded_contacts"`
	ScheduledAt      *time.Time     `json:"scheduled_at,omitempty"`
	LastRunAt        *time.Time     `json:"last_run_at,omitempty"`
	Stats            CampaignStats  `json:"stats"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// HasContent reports whether the campaign has anything to send
func (c *Campaign) HasContent() bool {
	return c.MessageTemplate != "" || c.MediaURL != ""
}

// IsExcluded reports whether a contact was excluded from the campaign
func (c *Campaign) IsExcluded(contactID string) bool {
	for _, id := range c.ExcludedContacts {
		if id == contactID {
			return true
		}
	}
	return false
}

// CampaignStats holds aggregated send statistics for a campaign
type CampaignStats struct {
	Total   int `json:"total"`
	Queued  int `json:"queued"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Replied int `json:"replied"`
}

// Processed returns the number of events that left the queue
func (s CampaignStats) Processed() int {
	return s.Sent + s.Failed
}

// CampaignListFilter for filtering campaigns
type CampaignListFilter struct {
	Status CampaignStatus
	Search string
	Limit  int
	Offset int
}

// LaunchResult summarizes a campaign launch
type LaunchResult struct {
	CampaignID    string `json:"campaign_id"`
	Campaign      string `json:"campaign"`
	TotalAudience int    `json:"total_audience"`
	QueuedNow     int    `json:"queued_now"`
	Skipped       int    `json:"skipped"`
}

// CampaignLead is one recipient row of the campaign leads report
type CampaignLead struct {
	EventID     string      `json:"event_id"`
	ContactID   string      `json:"contact_id"`
	FullName    string      `json:"full_name"`
	Phone       string      `json:"phone"`
	Status      EventStatus `json:"status"`
	Error       string      `json:"error,omitempty"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
	SentAt      *time.Time  `json:"sent_at,omitempty"`
	Replied     bool        `json:"replied"`
	RepliedAt   *time.Time  `json:"replied_at,omitempty"`
	Temperature string      `json:"temperature"`
	Stage       Stage       `json:"stage"`
}

// CampaignUpdate holds optional changes to a campaign. Nil fields are
// left as they are.
type CampaignUpdate struct {
	Name             *string    `json:"name,omitempty"`
	AudienceRules    *RuleSet   `json:"audience_rules,omitempty"`
	MessageTemplate  *string    `json:"message_template,omitempty"`
	MediaURL         *string    `json:"media_url,omitempty"`
	ExcludedContacts []string   `json:"excluded_contacts,omitempty"`
	ScheduledAt      *time.Time `json:"scheduled_at,omitempty"`
}

// ChangesContent reports whether the update touches fields that are
// frozen once a campaign has been launched
func (u *CampaignUpdate) ChangesContent() bool {
	return u.AudienceRules != nil || u.MessageTemplate != nil || u.MediaURL != nil
}
