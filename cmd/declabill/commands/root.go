package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/declabill/declabill/pkg/config"
	"github.com/declabill/declabill/pkg/telemetry"
)

var (
	// Global flags
	apiKey      string
	apiBase     string
	inMemory    bool
	statePath   string
	redisURL    string
	policyDir   string
	metricsAddr string
	environment string
	verbose     bool
	jsonOutput  bool
	eventsPath  string

	buildVersion = "dev"

	// settings is resolved before every command from env, .env and flags.
	settings *config.Settings
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "declabill",
		Short: "declabill - declarative billing reconciliation",
		Long: `declabill converges a billing provider account to a desired state.

Desired state is written in CUE, YAML, JSON or generated by Starlark:
  - Products and customers are found or created by their unique key
  - Invoices are drafted per (customer, exid) with an exact set of items
  - Invoice lifecycle targets (open, paid, void, sent) are reached idempotently
  - Plans are vetted by Rego policies before anything is written
  - Every decision is journaled to a local SQLite database`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, err := resolveSettings(cmd)
			if err != nil {
				return err
			}
			settings = s
			zerolog.SetGlobalLevel(telemetry.ParseLevel(s.LogLevel))
			return nil
		},
	}

	// Persistent flags available to all commands
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&apiKey, "api-key", "", "billing provider secret key (env "+config.EnvAPIKey+")")
	flags.StringVar(&apiBase, "api-base", "", "billing provider base URL (env "+config.EnvAPIBase+")")
	flags.BoolVar(&inMemory, "in-memory", false, "use an in-process provider instead of the remote API")
	flags.StringVar(&statePath, "state", "", "journal database path, empty string disables it (env "+config.EnvStatePath+")")
	flags.StringVar(&redisURL, "redis", "", "redis URL for cross-process key locks (env "+config.EnvRedisURL+")")
	flags.StringVar(&policyDir, "policies", "", "directory of rego policies gating applies (env "+config.EnvPolicyDir+")")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (env "+config.EnvMetricsAddr+")")
	flags.StringVar(&environment, "environment", "development", "environment name seen by policies")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVar(&jsonOutput, "json", false, "output in JSON format")
	flags.StringVar(&eventsPath, "events", "", "append run and entity events to this file as JSON lines ('-' for stderr)")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newInvoiceCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// resolveSettings layers explicitly set flags over the environment.
func resolveSettings(cmd *cobra.Command) (*config.Settings, error) {
	s, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("api-key") {
		s.APIKey = apiKey
	}
	if flags.Changed("api-base") {
		s.APIBase = apiBase
	}
	if flags.Changed("in-memory") {
		s.InMemory = inMemory
	}
	if flags.Changed("state") {
		s.StatePath = statePath
	}
	if flags.Changed("redis") {
		s.RedisURL = redisURL
	}
	if flags.Changed("policies") {
		s.PolicyDir = policyDir
	}
	if flags.Changed("metrics-addr") {
		s.MetricsAddr = metricsAddr
	}
	if verbose {
		s.LogLevel = "debug"
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	return s, nil
}
