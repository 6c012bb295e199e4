package service

import (
	"context"

	"r6-rolesync/internal/config"
	"r6-rolesync/internal/platform"

	"github.com/rs/zerolog"
)

// Audit sends administrative audit lines to the admin channel and mirrors
// them to the structured log. Delivery failures are logged, never fatal.
type Audit struct {
	messenger platform.Messenger
	channel   string
	logger    zerolog.Logger
}

func NewAudit(messenger platform.Messenger, cfg *config.Config, logger zerolog.Logger) *Audit {
	return &Audit{
		messenger: messenger,
		channel:   cfg.AdminChannelName,
		logger:    logger,
	}
}

func (a *Audit) Log(ctx context.Context, message string) {
	if err := a.messenger.Send(ctx, a.channel, message); err != nil {
		a.logger.Warn().Err(err).Str("channel", a.channel).Msg("failed to deliver audit message")
	}
	a.logger.Info().Msg(message)
}
