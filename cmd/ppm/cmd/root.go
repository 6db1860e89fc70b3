package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ppm/src/config"
	"ppm/src/database"
	"ppm/src/logging"
	"ppm/src/tokenizer"
)

var (
	cfgFile string
	debug   bool

	settings *config.Settings
	logger   *zap.Logger
	logLevel zap.AtomicLevel
)

// overridable lists the settings that flags and PPM_* variables may replace.
var overridable = map[string]func(s *config.Settings) *string{
	"database.path":           func(s *config.Settings) *string { return &s.Database.Path },
	"tokenizer.default_model": func(s *config.Settings) *string { return &s.Tokenizer.DefaultModel },
	"tokenizer.cache":         func(s *config.Settings) *string { return &s.Tokenizer.Cache },
	"tokenizer.redis_url":     func(s *config.Settings) *string { return &s.Tokenizer.RedisURL },
	"log.level":               func(s *config.Settings) *string { return &s.Log.Level },
	"daemon.socket":           func(s *config.Settings) *string { return &s.Daemon.Socket },
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ppm",
	Short: "Persona prompt manager",
	Long: `ppm curates weighted descriptive tokens attached to personas and composes
them into positive and negative image generation prompts.

Edits can be applied directly, staged through a draft script with
'ppm edit', or driven interactively through the daemon's JSON-RPC socket.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/ppm/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Human readable debug logging")
	rootCmd.PersistentFlags().String("db", "", "Database path")
	rootCmd.PersistentFlags().String("model", "", "Tokenizer model id used for counts")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("tokenizer.default_model", rootCmd.PersistentFlags().Lookup("model"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(config.GetConfigDir())
		viper.SetConfigType("toml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("PPM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

// setup loads the settings file, applies flag and environment overrides and
// builds the logger.
func setup() error {
	s, err := config.LoadSettings(cfgFile)
	if err != nil {
		return err
	}
	applyOverrides(s)
	if err := s.Validate(); err != nil {
		return err
	}

	level, dev := s.Log.Level, s.Log.Development
	if debug {
		level, dev = "debug", true
	}
	l, atom, err := logging.New(level, dev)
	if err != nil {
		return err
	}

	settings, logger, logLevel = s, l, atom
	return nil
}

func applyOverrides(s *config.Settings) {
	for key, field := range overridable {
		if v := viper.GetString(key); v != "" {
			*field(s) = v
		}
	}
}

// openStore opens the configured database, creating its directory.
func openStore(ctx context.Context) (*database.Store, error) {
	if err := config.EnsureConfigDirs(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(settings.Database.Path), 0o755); err != nil {
		return nil, err
	}
	return database.Open(ctx, settings.Database.Path, database.WithLogger(logger))
}

// newCounter builds the tokenizer service; the returned function releases
// its cache.
func newCounter() (*tokenizer.Service, func() error, error) {
	return tokenizer.NewServiceFromConfig(settings.Tokenizer, logger)
}
