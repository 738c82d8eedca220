package main

import (
	"fmt"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	chatify "github.com/melodycartwright/chatify-client"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Chatify configuration",
	Long:  "View or modify the Chatify CLI configuration stored in ~/.chatify/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration",
	Long:  "Print the configuration with environment overrides applied. Tokens are masked.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}
		shown := *cfg
		if shown.Auth.Token != "" {
			shown.Auth.Token = maskKey(shown.Auth.Token)
		}
		if shown.Auth.CSRFToken != "" {
			shown.Auth.CSRFToken = maskKey(shown.Auth.CSRFToken)
		}
		data, err := toml.Marshal(shown)
		if err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: chatify config set default.message_interval 2s",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}

// ============================================================================
// Session store
// ============================================================================

// configSessionStore persists the session in the [auth] section.
type configSessionStore struct{}

func (configSessionStore) Load() (chatify.SessionState, error) {
	cfg, err := loadConfig()
	if err != nil {
		return chatify.SessionState{}, err
	}
	return chatify.SessionState{
		Token:     cfg.Auth.Token,
		CSRFToken: cfg.Auth.CSRFToken,
		Username:  cfg.Auth.Username,
		UserID:    cfg.Auth.UserID,
	}, nil
}

func (configSessionStore) Save(st chatify.SessionState) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Auth = ConfigAuth{
		Token:     st.Token,
		CSRFToken: st.CSRFToken,
		Username:  st.Username,
		UserID:    st.UserID,
	}
	return saveConfig(cfg)
}

func (s configSessionStore) Clear() error {
	return s.Save(chatify.SessionState{})
}

// maskKey shows the first and last four characters of a secret.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	if len(key) <= 16 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return key[:12] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
