package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Environment variables read by LoadSettings.
const (
	EnvAPIKey      = "DECLABILL_API_KEY"
	EnvAPIBase     = "DECLABILL_API_BASE"
	EnvInMemory    = "DECLABILL_IN_MEMORY"
	EnvStatePath   = "DECLABILL_STATE"
	EnvRedisURL    = "DECLABILL_REDIS_URL"
	EnvPolicyDir   = "DECLABILL_POLICIES"
	EnvMetricsAddr = "DECLABILL_METRICS_ADDR"
	EnvLogLevel    = "LOG_LEVEL"
)

// DefaultStatePath is the journal database used when none is configured.
const DefaultStatePath = ".declabill/state.db"

// Settings are the runtime settings of the CLI.
type Settings struct {
	// APIKey authenticates against the billing provider.
	APIKey string `validate:"required_without=InMemory"`

	// APIBase overrides the provider endpoint.
	APIBase string `validate:"omitempty,url"`

	// InMemory swaps the provider for an in-process fake.
	InMemory bool

	// StatePath is the SQLite journal. Empty disables journaling.
	StatePath string

	// RedisURL enables the distributed per-key lock.
	RedisURL string

	// PolicyDir holds rego policies gating applies.
	PolicyDir string

	// MetricsAddr serves Prometheus metrics when set.
	MetricsAddr string `validate:"omitempty,hostname_port"`

	LogLevel string `validate:"omitempty,oneof=trace debug info warn error fatal"`
}

// LoadSettings reads the settings from the environment after loading the
// given dotenv files. Variables already set in the environment win over the
// files. Missing files are skipped; with no files, ".env" is tried.
func LoadSettings(envFiles ...string) (*Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	s := &Settings{
		APIKey:      os.Getenv(EnvAPIKey),
		APIBase:     os.Getenv(EnvAPIBase),
		StatePath:   getenv(EnvStatePath, DefaultStatePath),
		RedisURL:    os.Getenv(EnvRedisURL),
		PolicyDir:   os.Getenv(EnvPolicyDir),
		MetricsAddr: os.Getenv(EnvMetricsAddr),
		LogLevel:    strings.ToLower(os.Getenv(EnvLogLevel)),
	}
	if v := os.Getenv(EnvInMemory); v != "" {
		inMemory, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvInMemory, err)
		}
		s.InMemory = inMemory
	}
	return s, nil
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			switch {
			case fe.Field() == "APIKey":
				msgs = append(msgs, "an API key is required (set "+EnvAPIKey+" or use --in-memory)")
			case fe.Param() != "":
				msgs = append(msgs, fmt.Sprintf("%s fails %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			default:
				msgs = append(msgs, fmt.Sprintf("%s fails %s", fe.Field(), fe.Tag()))
			}
		}
		return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
