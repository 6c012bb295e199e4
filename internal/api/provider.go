// Package api abstracts the external rank providers. Two implementations
// exist behind the Provider interface: a session-authenticated Ubisoft
// client and an API-key Tracker Network client, selected at construction
// time from configuration.
package api

import (
	"context"
	"errors"
	"fmt"

	"r6-rolesync/internal/config"
	"r6-rolesync/internal/rank"

	"github.com/rs/zerolog"
)

// ErrAuthExpired signals an authentication rejection from the upstream
// source. Callers get exactly one re-authentication and one retry through
// withReauth; a second failure is terminal for that call.
var ErrAuthExpired = errors.New("provider authentication expired")

// Result is the outcome of a rank lookup. Found is false when the handle
// does not exist upstream; that is a valid result, not an error.
type Result struct {
	Rank  rank.Rank
	Found bool
}

type Provider interface {
	// Authenticate establishes a fresh upstream session. Idempotent: any
	// existing session is torn down first.
	Authenticate(ctx context.Context) error
	PlayerRank(ctx context.Context, handle, platform string) (Result, error)
	HandleExists(ctx context.Context, handle, platform string) (bool, error)

	// RateLimitPercentage reports advisory quota pressure in [0,100]. It
	// never blocks requests.
	RateLimitPercentage() float64
	ResetRequestCount()
	Close() error
}

// New selects the provider implementation from configuration.
func New(cfg *config.Config, logger zerolog.Logger) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderUbisoft:
		return NewUbiClient(cfg.UbisoftEmail, cfg.UbisoftPassword, logger), nil
	case config.ProviderTRN:
		return NewTRNClient(cfg.TRNAPIKey, logger), nil
	default:
		return nil, fmt.Errorf("unknown rank provider %q", cfg.Provider)
	}
}

type reauther interface {
	Authenticate(ctx context.Context) error
}

// withReauth runs fn, and on an auth rejection re-authenticates once and
// retries once. Shared by both read operations of both clients so the
// retry bound lives in one place.
func withReauth[T any](ctx context.Context, client reauther, logger zerolog.Logger, fn func(context.Context) (T, error)) (T, error) {
	result, err := fn(ctx)
	if err == nil || !errors.Is(err, ErrAuthExpired) {
		return result, err
	}

	logger.Warn().Msg("authentication appears invalid, re-authenticating")
	if authErr := client.Authenticate(ctx); authErr != nil {
		var zero T
		return zero, fmt.Errorf("re-authentication failed: %w", authErr)
	}

	result, err = fn(ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("request failed after re-authentication: %w", err)
	}
	return result, nil
}

var platforms = map[string]string{
	"pc":   "uplay",
	"xbox": "xbl",
	"ps4":  "psn",
}

// normalizePlatform maps user-facing platform names onto provider platform
// identifiers. Unknown input falls back to pc.
func normalizePlatform(platform string) string {
	if p, ok := platforms[platform]; ok {
		return p
	}
	return platforms["pc"]
}
