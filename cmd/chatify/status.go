package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	chatify "github.com/melodycartwright/chatify-client"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration and, when signed in, resolve the account and count its conversations.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:      %s\n", valueOrDefault(cfg.Default.BaseURL, chatify.DefaultBaseURL))
		sentry := "disabled"
		if _, ok := chatify.DSNEnabled(cfg.Default.SentryDSN); ok {
			sentry = "enabled"
		}
		fmt.Printf("  Sentry:        %s\n", sentry)
		opts := pollerOptions(cfg)
		fmt.Printf("  Poll messages: %s\n", valueOrDefault(durationString(opts.MessageInterval), chatify.DefaultMessageInterval.String()))
		fmt.Printf("  Poll list:     %s\n", valueOrDefault(durationString(opts.ConversationInterval), chatify.DefaultConversationInterval.String()))

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.Token == "" {
			fmt.Println("  Username:      (not signed in)")
			return nil
		}
		fmt.Printf("  Username:      %s\n", clean(cfg.Auth.Username))
		fmt.Printf("  User ID:       %s\n", valueOrDefault(cfg.Auth.UserID, "(unknown)"))
		fmt.Printf("  Token:         %s\n", maskKey(cfg.Auth.Token))

		ctx, cancel := commandContext()
		defer cancel()

		session, _, err := openSession(ctx, true)
		if err != nil {
			return err
		}

		fmt.Println()
		fmt.Println("Live status:")
		ids, err := session.Client().Conversations.List(ctx)
		if err != nil {
			fmt.Printf("  Error fetching conversations: %s\n", clean(err.Error()))
			return nil
		}
		if u := session.User(); u != nil {
			fmt.Printf("  Account:       %s (%s)\n", clean(u.Username), valueOrDefault(clean(u.UserID), "?"))
		}
		fmt.Printf("  Conversations: %d\n", len(ids))
		return nil
	},
}

func durationString(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.String()
}
