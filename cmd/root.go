package cmd

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/abhisek/bandscore/internal/config"
	"github.com/abhisek/bandscore/internal/logging"
	"github.com/abhisek/bandscore/internal/store"
)

const serviceName = "bandscore"

var rootCmd = &cobra.Command{
	Use:   "bandscore",
	Short: "IELTS test sessions, token metering and band scoring",
	Long: "bandscore runs IELTS test sessions end to end: it meters attempts in tokens, " +
		"records answers, and produces band-scored analyses for Listening, Reading, Writing and Speaking.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "SQLite database file or postgres DSN (overrides BANDSCORE_DB_DSN)")
	rootCmd.PersistentFlags().String("driver", "", "Database driver: sqlite or postgres (overrides BANDSCORE_DB_DRIVER)")
	rootCmd.PersistentFlags().String("env-file", ".env", "Optional dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (overrides BANDSCORE_LOG_LEVEL)")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(analyseCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(graderCmd)
	rootCmd.AddCommand(contentCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the environment and applies the persistent flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if d, _ := cmd.Flags().GetString("driver"); d != "" {
		cfg.DB.Driver = d
	}
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		cfg.DB.DSN = p
	}
	if l, _ := cmd.Flags().GetString("log-level"); l != "" {
		cfg.Log.Level = l
	}
	return cfg, cfg.Validate()
}

// resolveDSN turns the configured DSN into one the driver accepts. For
// sqlite an empty DSN means the default file and a bare path is wrapped
// with the required pragmas.
func resolveDSN(cfg config.DBConfig) (string, error) {
	if cfg.Driver == store.DriverPostgres {
		return cfg.DSN, nil
	}
	path := cfg.DSN
	switch {
	case strings.HasPrefix(path, "file:"):
		return path, nil
	case path == "":
		p, err := store.DefaultDBPath()
		if err != nil {
			return "", err
		}
		path = p
	default:
		if err := store.EnsureDir(path); err != nil {
			return "", err
		}
	}
	return store.SQLiteDSN(path), nil
}

// env bundles what most commands need.
type env struct {
	cfg   config.Config
	log   *logrus.Entry
	store *store.Store
}

// setup loads configuration, builds the logger and opens the store.
func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log := logging.New(serviceName, cfg.Log).WithField("command", cmd.CommandPath())

	dsn, err := resolveDSN(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("resolve database: %w", err)
	}
	s, err := store.Open(cmd.Context(), cfg.DB.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &env{cfg: cfg, log: log, store: s}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.log.WithError(err).Warn("close store")
	}
}

// userFlag reads the required --user flag.
func userFlag(cmd *cobra.Command) (string, error) {
	u, _ := cmd.Flags().GetString("user")
	if u == "" {
		return "", fmt.Errorf("--user is required")
	}
	return u, nil
}
