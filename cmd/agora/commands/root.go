package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyluth/agora/internal/app"
	"github.com/dyluth/agora/internal/config"
	"github.com/dyluth/agora/internal/printer"
	"github.com/dyluth/agora/internal/resolver"
)

var (
	version string
	commit  string
	date    string
)

// Global flags
var (
	configPath   string
	instanceName string
	redisURL     string
	sqlitePath   string
	logLevel     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "agora",
	Short: "Agora - coordination substrate for multi-agent discussions",
	Long: `Agora lets independent agents register, meet in sessions, exchange
messages and collaborate: the substrate tracks discussion coherence, builds
consensus on proposals and surfaces emergent insights.

Every command talks directly to the record store: Redis by default, or a
local SQLite file with --sqlite.`,
	Version: version,
	// Show help instead of silently succeeding on a bare "agora"
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	// Enable strict flag parsing - unknown flags will cause an error
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
	// Errors are printed by the printer package
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command. Interrupts cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to agora.yml (defaults apply when omitted)")
	pf.StringVarP(&instanceName, "name", "n", "", "Instance name (overrides config and AGORA_INSTANCE_NAME)")
	pf.StringVar(&redisURL, "redis-url", "", "Redis URL (overrides config and REDIS_URL)")
	pf.StringVar(&sqlitePath, "sqlite", "", "Use a local SQLite store at this path instead of Redis")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (default warn)")
}

// loadConfig resolves agora.yml, the environment and the global flags, in that order.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Resolve(configPath, os.Getenv)
	if err != nil {
		return nil, err
	}

	if instanceName != "" {
		cfg.Instance = instanceName
	}
	if redisURL != "" {
		cfg.Store.Driver = config.DriverRedis
		cfg.Store.RedisURL = redisURL
	}
	if sqlitePath != "" {
		cfg.Store.Driver = config.DriverSQLite
		cfg.Store.SQLitePath = sqlitePath
	}

	// The CLI keeps stderr quiet unless asked otherwise.
	switch {
	case logLevel != "":
		cfg.Logging.Level = logLevel
	case configPath == "":
		cfg.Logging.Level = "warn"
	}
	if configPath == "" {
		cfg.Logging.Format = "text"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withApp bootstraps an App for the duration of fn. Operation errors are
// printed through printer.Fault.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{"Check agora.yml, or run without --config to use the defaults"},
		)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return printer.ErrorWithContext(
			"record store not accessible",
			err.Error(),
			map[string]string{"Driver": cfg.Store.Driver, "Instance": cfg.Instance},
			[]string{
				"Point at a running Redis:\n  agora --redis-url redis://localhost:6379/0 ...",
				"Or use a local file store:\n  agora --sqlite ./agora.db ...",
			},
		)
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		return printer.Fault(err)
	}
	return nil
}

// sessionArg expands a full or short session id argument.
func sessionArg(ctx context.Context, a *app.App, id string) (string, error) {
	return resolver.ResolveSessionID(ctx, a.Service, id)
}

// parsePairs turns repeated key=value flags into a map.
func parsePairs(flag string, pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, printer.Error(
				fmt.Sprintf("invalid --%s value", flag),
				fmt.Sprintf("Expected key=value, got %q", p),
				[]string{fmt.Sprintf("Example:\n  --%s team=platform", flag)},
			)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}
