package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrInvalidNumber is returned when a phone number cannot be used as a
// WhatsApp address
var ErrInvalidNumber = errors.New("invalid phone number")

const (
	minDigits = 8
	maxDigits = 15
)

// SendRequest is a single outbound message
type SendRequest struct {
	Phone       string
	Text        string
	MediaURL    string
	TypingDelay time.Duration
}

// HasMedia reports whether the message carries an attachment
func (r *SendRequest) HasMedia() bool {
	return strings.TrimSpace(r.MediaURL) != ""
}

// SendResult is the gateway acknowledgement
type SendResult struct {
	ProviderMessageID string
	Simulated         bool
}

// ConnectionState describes the gateway instance connection
type ConnectionState struct {
	Instance string `json:"instance"`
	State    string `json:"state"`
}

// Sender delivers messages through the messaging gateway
type Sender interface {
	Send(ctx context.Context, req *SendRequest) (*SendResult, error)
}

// StateChecker reports the gateway connection state
type StateChecker interface {
	ConnectionState(ctx context.Context) (*ConnectionState, error)
}

// Gateway is a sender that can also report its connection state
type Gateway interface {
	Sender
	StateChecker
}

// Options configures the gateway client
type Options struct {
	BaseURL           string
	APIKey            string
	Instance          string
	Timeout           time.Duration
	RequestsPerSecond float64
	DryRun            bool
}

// New returns the Evolution API client, or a dry-run gateway when the
// gateway is not configured or dry run is requested
func New(opts Options, logger *slog.Logger) Gateway {
	if opts.DryRun || opts.BaseURL == "" || opts.APIKey == "" {
		logger.Warn("messaging gateway not configured, sends are simulated",
			"dry_run", opts.DryRun)
		return NewDryRun(opts.Instance, logger)
	}
	return NewClient(opts, logger)
}

// NormalizeNumber strips everything but digits and checks the length
func NormalizeNumber(phone string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)

	if len(digits) < minDigits || len(digits) > maxDigits {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, phone)
	}
	return digits, nil
}
