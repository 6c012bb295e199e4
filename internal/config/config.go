package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

const (
	ProviderUbisoft = "ubisoft"
	ProviderTRN     = "trn"
)

type Config struct {
	DiscordToken string
	GuildID      string

	// Provider selects the rank source: "ubisoft" (session auth) or
	// "trn" (API key).
	Provider        string
	UbisoftEmail    string
	UbisoftPassword string
	TRNAPIKey       string

	DBPath   string
	LogLevel string

	CommandChannelName string
	AdminChannelName   string
	UnrankedRoleName   string
	UnlinkedRoleName   string

	UpdateInterval         time.Duration
	RateLimitWarnThreshold float64
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		DiscordToken:           getEnv("DISCORD_TOKEN", ""),
		GuildID:                getEnv("GUILD_ID", ""),
		Provider:               getEnv("RANK_PROVIDER", ProviderUbisoft),
		UbisoftEmail:           getEnv("UBISOFT_EMAIL", ""),
		UbisoftPassword:        getEnv("UBISOFT_PASSWORD", ""),
		TRNAPIKey:              getEnv("TRN_API_KEY", ""),
		DBPath:                 getEnv("DB_PATH", "rolesync.db"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		CommandChannelName:     getEnv("COMMAND_CHANNEL", "bot-commands"),
		AdminChannelName:       getEnv("ADMIN_CHANNEL", "admin-logs"),
		UnrankedRoleName:       getEnv("UNRANKED_ROLE", "Unranked"),
		UnlinkedRoleName:       getEnv("UNLINKED_ROLE", "Unlinked"),
		UpdateInterval:         getDurationEnv("UPDATE_INTERVAL", time.Hour),
		RateLimitWarnThreshold: getFloatEnv("RATE_LIMIT_WARN_THRESHOLD", 80),
	}

	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_TOKEN is required")
	}
	if cfg.GuildID == "" {
		return nil, fmt.Errorf("GUILD_ID is required")
	}

	switch cfg.Provider {
	case ProviderUbisoft:
		if cfg.UbisoftEmail == "" || cfg.UbisoftPassword == "" {
			return nil, fmt.Errorf("UBISOFT_EMAIL and UBISOFT_PASSWORD are required for the ubisoft provider")
		}
	case ProviderTRN:
		if cfg.TRNAPIKey == "" {
			return nil, fmt.Errorf("TRN_API_KEY is required for the trn provider")
		}
	default:
		return nil, fmt.Errorf("unknown RANK_PROVIDER %q", cfg.Provider)
	}

	logger.Info().
		Str("provider", cfg.Provider).
		Str("db_path", cfg.DBPath).
		Str("log_level", cfg.LogLevel).
		Dur("update_interval", cfg.UpdateInterval).
		Float64("rate_limit_warn_threshold", cfg.RateLimitWarnThreshold).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

var Module = fx.Provide(Load)
