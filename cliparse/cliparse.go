// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cliparse

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/danielhkuo/censeo/models"
)

type Config struct {
	Port          int
	DatabaseURL   string
	DatabaseType  string
	UserTokenSalt string
	TicketSecret  string
	Limits        Limits
}

// Limits are operator tunables read from the environment.
type Limits struct {
	MaxStoriesPerMeeting        int           `env:"MAX_STORIES_PER_MEETING"       envDefault:"50"`
	MaxTeamMembers              int           `env:"MAX_TEAM_MEMBERS"              envDefault:"15"`
	MaxMeetingsPerDay           int           `env:"MAX_MEETINGS_PER_TEAM_PER_DAY" envDefault:"5"`
	DisconnectionTimeoutSeconds int           `env:"DISCONNECTION_TIMEOUT_SECONDS" envDefault:"60"`
	SessionNameMaxLength        int           `env:"SESSION_NAME_MAX_LENGTH"       envDefault:"200"`
	StoryTitleMaxLength         int           `env:"STORY_TITLE_MAX_LENGTH"        envDefault:"500"`
	PointScale                  string        `env:"POINT_SCALE"                   envDefault:"1,2,3,5,8,13,21,?"`
	FacilitatorInQuorum         bool          `env:"FACILITATOR_IN_QUORUM"         envDefault:"true"`
	SweepInterval               time.Duration `env:"SWEEP_INTERVAL"                envDefault:"10s"`
	SessionRetention            time.Duration `env:"SESSION_RETENTION"             envDefault:"720h"`
	TicketTTL                   time.Duration `env:"TICKET_TTL"                    envDefault:"12h"`
	CORSAllowedOrigins          []string      `env:"CORS_ALLOWED_ORIGINS"          envDefault:"*" envSeparator:","`

	// Parsed from PointScale
	Scale models.Scale
}

// GracePeriod is how long a disconnected participant still counts toward quorum.
func (l Limits) GracePeriod() time.Duration {
	return time.Duration(l.DisconnectionTimeoutSeconds) * time.Second
}

// DefaultLimits mirrors the envDefault tags.
func DefaultLimits() Limits {
	return Limits{
		MaxStoriesPerMeeting:        models.DefaultMaxStoriesPerMeeting,
		MaxTeamMembers:              models.DefaultMaxTeamMembers,
		MaxMeetingsPerDay:           models.DefaultMaxMeetingsPerDay,
		DisconnectionTimeoutSeconds: models.DefaultDisconnectionTimeout,
		SessionNameMaxLength:        models.DefaultSessionNameMaxLength,
		StoryTitleMaxLength:         models.DefaultStoryTitleMaxLength,
		PointScale:                  models.DefaultPointScale,
		FacilitatorInQuorum:         true,
		SweepInterval:               10 * time.Second,
		SessionRetention:            720 * time.Hour,
		TicketTTL:                   12 * time.Hour,
		CORSAllowedOrigins:          []string{"*"},
		Scale:                       models.DefaultScale(),
	}
}

// ParseLimits reads Limits from the environment and validates them.
func ParseLimits() (Limits, error) {
	var limits Limits
	if err := env.Parse(&limits); err != nil {
		return Limits{}, fmt.Errorf("parse env: %w", err)
	}

	scale, err := models.ParseScale(limits.PointScale)
	if err != nil {
		return Limits{}, fmt.Errorf("invalid POINT_SCALE: %w", err)
	}
	limits.Scale = scale

	if limits.MaxStoriesPerMeeting <= 0 || limits.MaxTeamMembers <= 0 || limits.MaxMeetingsPerDay <= 0 {
		return Limits{}, errors.New("limits must be positive")
	}
	if limits.DisconnectionTimeoutSeconds < 0 {
		return Limits{}, errors.New("DISCONNECTION_TIMEOUT_SECONDS cannot be negative")
	}
	if limits.SweepInterval <= 0 {
		return Limits{}, errors.New("SWEEP_INTERVAL must be positive")
	}

	return limits, nil
}

// ParseFlags validates flags and sets port number
func ParseFlags(args []string) (Config, error) {
	var cfg Config

	// .env is optional
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("censeo", pflag.ContinueOnError)

	// Network config (can be CLI args or env)
	fs.IntVarP(&cfg.Port, "port", "p", 0, "Server port")
	fs.StringVarP(&cfg.DatabaseURL, "database-url", "d", "", "Database URL")
	fs.StringVarP(&cfg.DatabaseType, "database-type", "t", "", "Database type (sqlite or postgres)")

	// Secrets (prefer env variables, but allow CLI for dev)
	fs.StringVar(&cfg.UserTokenSalt, "token-salt", "", "User token salt (prefer env)")
	fs.StringVar(&cfg.TicketSecret, "ticket-secret", "", "WebSocket ticket signing secret (prefer env)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// Fall back to environment variables
	if cfg.Port == 0 {
		if portStr := os.Getenv("PORT"); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return Config{}, errors.New("invalid PORT env variable")
			}
			cfg.Port = port
		} else {
			cfg.Port = 3318 // default
		}
	}

	if cfg.DatabaseType == "" {
		cfg.DatabaseType = os.Getenv("DATABASE_TYPE")
		if cfg.DatabaseType == "" {
			cfg.DatabaseType = "sqlite"
		}
	}
	if cfg.DatabaseType != "sqlite" && cfg.DatabaseType != "postgres" {
		return Config{}, fmt.Errorf("unsupported database type %q", cfg.DatabaseType)
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		if cfg.DatabaseType == "postgres" {
			return Config{}, errors.New("database URL required (use -d or DATABASE_URL env)")
		}
		cfg.DatabaseURL = "file:censeo.db"
	}

	// Secrets - MUST be provided
	if cfg.UserTokenSalt == "" {
		cfg.UserTokenSalt = os.Getenv("USER_TOKEN_SALT")
	}
	if cfg.UserTokenSalt == "" {
		return Config{}, errors.New("USER_TOKEN_SALT required")
	}

	if cfg.TicketSecret == "" {
		cfg.TicketSecret = os.Getenv("TICKET_SECRET")
	}
	if cfg.TicketSecret == "" {
		return Config{}, errors.New("TICKET_SECRET required")
	}

	limits, err := ParseLimits()
	if err != nil {
		return Config{}, err
	}
	cfg.Limits = limits

	return cfg, nil
}
