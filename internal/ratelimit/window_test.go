package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/foxzi/drip/internal/models"
)

func TestParseWindow(t *testing.T) {
	tests := []struct {
		start, end string
		wantErr    bool
	}{
		{"08:00", "20:00", false},
		{"8:00", "20:30", false},
		{"00:00", "23:59", false},
		{"24:00", "20:00", true},
		{"08:60", "20:00", true},
		{"08", "20:00", true},
		{"08:00", "", true},
		{"08:0", "20:00", true},
	}

	for _, tt := range tests {
		_, err := ParseWindow(tt.start, tt.end)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseWindow(%q, %q) error = %v, wantErr %v", tt.start, tt.end, err, tt.wantErr)
		}
	}
}

func TestWindowOvernight(t *testing.T) {
	w, err := ParseWindow("22:00", "06:00")
	if err != nil {
		t.Fatal(err)
	}

	cases := map[time.Time]bool{
		at(23, 0): true,
		at(2, 0):  true,
		at(6, 0):  true,
		at(6, 1):  false,
		at(12, 0): false,
		at(22, 0): true,
	}
	for ts, want := range cases {
		if got := w.Contains(ts); got != want {
			t.Errorf("Contains(%s) = %v, want %v", ts.Format("15:04"), got, want)
		}
	}

	if d := w.UntilOpen(at(12, 0)); d != 10*time.Hour {
		t.Errorf("expected 10h until open, got %v", d)
	}
}

func TestValidate(t *testing.T) {
	valid := models.DefaultRateLimitConfig()
	if err := Validate(valid); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	tests := map[string]func(c *models.RateLimitConfig){
		"negative daily":  func(c *models.RateLimitConfig) { c.DailyLimit = -1 },
		"negative hourly": func(c *models.RateLimitConfig) { c.HourlyLimit = -1 },
		"negative min":    func(c *models.RateLimitConfig) { c.MinIntervalSeconds = -5 },
		"min above max":   func(c *models.RateLimitConfig) { c.MinIntervalSeconds = 60; c.MaxIntervalSeconds = 30 },
		"bad hours":       func(c *models.RateLimitConfig) { c.WorkingHoursEnd = "8pm" },
	}
	for name, mutate := range tests {
		cfg := valid
		mutate(&cfg)
		err := Validate(cfg)
		if !errors.Is(err, ErrInvalidRateLimit) {
			t.Errorf("%s: expected ErrInvalidRateLimit, got %v", name, err)
		}
	}

	zero := valid
	zero.DailyLimit = 0
	if err := Validate(zero); err != nil {
		t.Errorf("zero daily limit is a valid pause: %v", err)
	}
}
