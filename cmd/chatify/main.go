package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	chatify "github.com/melodycartwright/chatify-client"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.chatify/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Auth    ConfigAuth    `toml:"auth"`
}

// ConfigDefault holds general client settings.
type ConfigDefault struct {
	BaseURL              string `toml:"base_url"`
	SentryDSN            string `toml:"sentry_dsn"`
	MessageInterval      string `toml:"message_interval"`
	ConversationInterval string `toml:"conversation_interval"`
	LogLevel             string `toml:"log_level"`
}

// ConfigAuth holds the persisted session.
type ConfigAuth struct {
	Token     string `toml:"token"`
	CSRFToken string `toml:"csrf_token"`
	Username  string `toml:"username"`
	UserID    string `toml:"user_id"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDirOverride replaces ~/.chatify in tests.
var configDirOverride string

// configDir returns the path to ~/.chatify, creating it if needed.
func configDir() (string, error) {
	dir := configDirOverride
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".chatify")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// titlesPath returns the file conversation titles are kept in.
func titlesPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "titles.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// resolvedConfig is loadConfig with environment overrides applied. It is
// never written back.
func resolvedConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(os.Getenv("CHATIFY_BASE_URL")); v != "" {
		cfg.Default.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATIFY_SENTRY_DSN")); v != "" {
		cfg.Default.SentryDSN = v
	}
	return cfg, nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.base_url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.base_url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "base_url":
			cfg.Default.BaseURL = value
		case "sentry_dsn":
			cfg.Default.SentryDSN = value
		case "message_interval", "conversation_interval":
			if value != "" {
				if _, err := time.ParseDuration(value); err != nil {
					return fmt.Errorf("%s must be a duration such as 4s: %w", field, err)
				}
			}
			if field == "message_interval" {
				cfg.Default.MessageInterval = value
			} else {
				cfg.Default.ConversationInterval = value
			}
		case "log_level":
			if value != "" {
				if _, err := zerolog.ParseLevel(value); err != nil {
					return fmt.Errorf("invalid log level %q", value)
				}
			}
			cfg.Default.LogLevel = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "token":
			cfg.Auth.Token = value
		case "csrf_token":
			cfg.Auth.CSRFToken = value
		case "username":
			cfg.Auth.Username = value
		case "user_id":
			cfg.Auth.UserID = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var (
	flagLogLevel string
	flagVerbose  bool
	flagJSON     bool

	logger   = zerolog.Nop()
	reporter chatify.Reporter = chatify.NopReporter{}
)

var rootCmd = &cobra.Command{
	Use:           "chatify",
	Short:         "Chatify messaging CLI",
	Long:          "Command-line client for the Chatify messaging API.\nSign in, manage conversations, invite people and chat.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}
		logger = newLogger(cfg)
		reporter = chatify.NewReporter(cfg.Default.SentryDSN, logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if f, ok := reporter.(interface{ Flush(time.Duration) bool }); ok {
			f.Flush(2 * time.Second)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Shorthand for --log-level debug")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Print raw JSON instead of formatted output")
}

// newLogger builds the stderr console logger. Flags win over the config.
func newLogger(cfg *Config) zerolog.Logger {
	level := zerolog.InfoLevel
	name := flagLogLevel
	if name == "" {
		name = cfg.Default.LogLevel
	}
	if name != "" {
		if l, err := zerolog.ParseLevel(name); err == nil {
			level = l
		}
	}
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintln(os.Stderr, "Something went wrong")
			logger.Error().Interface("panic", r).Msg("unrecovered panic")
			os.Exit(2)
		}
	}()

	// A .env next to the working directory may carry CHATIFY_* overrides.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", clean(err.Error()))
		os.Exit(1)
	}
}
