package delivery

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"OutreachEngine/internal/ports"
)

// DryRunChannel logs messages instead of transmitting them.
type DryRunChannel struct {
	logger *slog.Logger
}

var _ ports.Channel = (*DryRunChannel)(nil)

// NewDryRunChannel returns a channel that only logs.
func NewDryRunChannel(logger *slog.Logger) *DryRunChannel {
	return &DryRunChannel{logger: logger}
}

// Send records the envelope and returns a synthetic id.
func (d *DryRunChannel) Send(ctx context.Context, env ports.Envelope) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "dryrun-" + uuid.NewString()
	if d.logger != nil {
		d.logger.Info("dry run delivery", "to", env.To, "subject", env.Subject, "delivery_id", id, "body_chars", len(env.Body))
	}
	return id, nil
}
