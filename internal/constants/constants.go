package constants

import "time"

const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second

	// ConfirmTimeout bounds the wait for a yes/no reply when re-linking an
	// already linked member.
	ConfirmTimeout = 30 * time.Second
)

const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	// UbisoftCycleBudget is the soft per-cycle request budget used to derive
	// an advisory rate-limit percentage for the session-auth provider, which
	// has no hard quota of its own.
	UbisoftCycleBudget = 120
)
