package main

import (
	"context"
	"database/sql"
	"fmt"

	"r6-rolesync/internal/api"
	"r6-rolesync/internal/bot"
	"r6-rolesync/internal/constants"
	fxmodules "r6-rolesync/internal/fx"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.StopTimeout(constants.ShutdownTimeout),
		fx.Invoke(runBot),
	).Run()
}

func runBot(
	lc fx.Lifecycle,
	session *discordgo.Session,
	b *bot.Bot,
	provider api.Provider,
	db *sql.DB,
	logger zerolog.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := session.Open(); err != nil {
				return fmt.Errorf("failed to open gateway session: %w", err)
			}
			logger.Info().Msg("gateway session opened")

			if err := provider.Authenticate(ctx); err != nil {
				return fmt.Errorf("failed to authenticate with rank provider: %w", err)
			}

			b.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down")

			b.Stop()

			if err := session.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing gateway session")
			}
			if err := provider.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing rank provider")
			}
			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}

			logger.Info().Msg("stopped gracefully")
			return nil
		},
	})
}
