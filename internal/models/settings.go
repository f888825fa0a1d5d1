package models

import "time"

// RateLimitConfig is the operator-tunable sending policy. A single row
// exists; it is created with defaults on first read.
type RateLimitConfig struct {
	DailyLimit         int       `json:"daily_limit"`
	HourlyLimit        int       `json:"hourly_limit"`
	MinIntervalSeconds int       `json:"min_interval_seconds"`
	MaxIntervalSeconds int       `json:"max_interval_seconds"`
	WorkingHoursStart  string    `json:"working_hours_start"`
	WorkingHoursEnd    string    `json:"working_hours_end"`
	IsActive           bool      `json:"is_active"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// DefaultRateLimitConfig returns the policy used when none is stored
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		DailyLimit:         500,
		HourlyLimit:        50,
		MinIntervalSeconds: 15,
		MaxIntervalSeconds: 45,
		WorkingHoursStart:  "08:00",
		WorkingHoursEnd:    "20:00",
		IsActive:           true,
	}
}

// RateLimitUpdate is a partial update of the sending policy
type RateLimitUpdate struct {
	DailyLimit         *int    `json:"daily_limit,omitempty"`
	HourlyLimit        *int    `json:"hourly_limit,omitempty"`
	MinIntervalSeconds *int    `json:"min_interval_seconds,omitempty"`
	MaxIntervalSeconds *int    `json:"max_interval_seconds,omitempty"`
	WorkingHoursStart  *string `json:"working_hours_start,omitempty"`
	WorkingHoursEnd    *string `json:"working_hours_end,omitempty"`
	IsActive           *bool   `json:"is_active,omitempty"`
}

// Apply merges the update into cfg
func (u RateLimitUpdate) Apply(cfg *RateLimitConfig) {
	if u.DailyLimit != nil {
		cfg.DailyLimit = *u.DailyLimit
	}
	if u.HourlyLimit != nil {
		cfg.HourlyLimit = *u.HourlyLimit
	}
	if u.MinIntervalSeconds != nil {
		cfg.MinIntervalSeconds = *u.MinIntervalSeconds
	}
	if u.MaxIntervalSeconds != nil {
		cfg.MaxIntervalSeconds = *u.MaxIntervalSeconds
	}
	if u.WorkingHoursStart != nil {
		cfg.WorkingHoursStart = *u.WorkingHoursStart
	}
	if u.WorkingHoursEnd != nil {
		cfg.WorkingHoursEnd = *u.WorkingHoursEnd
	}
	if u.IsActive != nil {
		cfg.IsActive = *u.IsActive
	}
}
