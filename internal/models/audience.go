package models

// Logic combines audience conditions
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// RuleSet is a declarative audience filter over contacts
type RuleSet struct {
	Logic      Logic       `json:"logic"`
	Conditions []Condition `json:"conditions"`
}

// Condition is a single field comparison. Value is whatever the JSON
// payload carried: string, number, bool or list.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// AudiencePreview is the result of a dry-run audience resolution
type AudiencePreview struct {
	Count         int              `json:"count"`
	TotalContacts int              `json:"total_leads"`
	Sample        []AudienceSample `json:"sample"`
	QueryTimeMS   float64          `json:"query_time_ms"`
}
