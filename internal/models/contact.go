package models

import "time"

// Stage is the position of a contact in the sales pipeline
type Stage string

const (
	StageNew       Stage = "novo"
	StageContacted Stage = "contactado"
	StageUnread    Stage = "nao_lido"
	StageScheduled Stage = "agendado"
	StageClosed    Stage = "fechado"
	StageLost      Stage = "perdido"
)

// Valid reports whether s is a known stage
func (s Stage) Valid() bool {
	switch s {
	case StageNew, StageContacted, StageUnread, StageScheduled, StageClosed, StageLost:
		return true
	}
	return false
}

// Common lead temperatures. Other values are stored as given.
const (
	TemperatureCold = "frio"
	TemperatureWarm = "morno"
	TemperatureHot  = "quente"
)

// Contact is a message recipient joined with its pipeline state
type Contact struct {
	ID                string     `json:"id"`
	FullName          string     `json:"full_name"`
	Phone             string     `json:"phone"`
	Email             string     `json:"email,omitempty"`
	Source            string     `json:"source,omitempty"`
	Type              string     `json:"type,omitempty"`
	IsActive          bool       `json:"is_active"`
	OptIn             bool       `json:"opt_in"`
	Stage             Stage      `json:"stage"`
	Temperature       string     `json:"temperature"`
	Score             int        `json:"score"`
	UnreadCount       int        `json:"unread_count"`
	LastInteractionAt *time.Time `json:"last_interaction_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// FirstName returns the first word of the contact's name
func (c *Contact) FirstName() string {
	for i, r := range c.FullName {
		if r == ' ' {
			return c.FullName[:i]
		}
	}
	return c.FullName
}

// AudienceSample is a contact summary returned by audience previews
type AudienceSample struct {
	ID          string `json:"id"`
	FullName    string `json:"full_name"`
	Phone       string `json:"phone"`
	Temperature string `json:"temperature"`
}
