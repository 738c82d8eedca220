package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var usersSearchLimit int

func init() {
	usersSearchCmd.Flags().IntVar(&usersSearchLimit, "limit", 10, "Maximum number of results")
	usersCmd.AddCommand(usersSearchCmd)
	rootCmd.AddCommand(usersCmd)
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Look up Chatify users",
}

var usersSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search users by username",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		session, _, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		users, err := session.Client().Users.Search(ctx, args[0], usersSearchLimit)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if flagJSON {
			return printJSON(users)
		}
		if len(users) == 0 {
			fmt.Println("No users found.")
			return nil
		}
		for _, u := range users {
			fmt.Printf("%-8s %s\n", clean(u.UserID), clean(u.Username))
		}
		return nil
	},
}
