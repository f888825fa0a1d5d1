package gateway

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// DryRun simulates sends without contacting the gateway
type DryRun struct {
	instance string
	logger   *slog.Logger
}

// NewDryRun creates a simulated gateway
func NewDryRun(instance string, logger *slog.Logger) *DryRun {
	return &DryRun{
		instance: instance,
		logger:   logger.With("component", "gateway", "dry_run", true),
	}
}

// Send validates the number and logs the message
func (d *DryRun) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	number, err := NormalizeNumber(req.Phone)
	if err != nil {
		return nil, err
	}

	id := "dryrun-" + uuid.New().String()
	d.logger.Info("simulated send",
		"number", number,
		"media", req.HasMedia(),
		"text_length", len([]rune(req.Text)),
		"typing_delay", req.TypingDelay,
		"provider_message_id", id,
	)

	return &SendResult{ProviderMessageID: id, Simulated: true}, nil
}

// ConnectionState always reports a simulated connection
func (d *DryRun) ConnectionState(ctx context.Context) (*ConnectionState, error) {
	return &ConnectionState{Instance: d.instance, State: "simulated"}, nil
}
