package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	conversationsNewUserID   string
	conversationsNewUsername string
)

func init() {
	conversationsNewCmd.Flags().StringVar(&conversationsNewUserID, "user-id", "", "Invite this numeric user id")
	conversationsNewCmd.Flags().StringVar(&conversationsNewUsername, "username", "", "Invite this username")

	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsNewCmd)
	conversationsCmd.AddCommand(conversationsRenameCmd)
	rootCmd.AddCommand(conversationsCmd)
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "List, start and rename conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the conversations you take part in or were invited to",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		chat, _, err := openChat(ctx)
		if err != nil {
			return err
		}
		defer chat.Close()

		if err := chat.RefreshConversations(ctx, false); err != nil {
			return actionError(chat, err)
		}
		v := chat.View()
		if flagJSON {
			return printJSON(v.Conversations)
		}
		if len(v.Conversations) == 0 {
			fmt.Println("No conversations yet. Start one with 'chatify conversations new --username <name>'.")
			return nil
		}
		for _, item := range v.Conversations {
			fmt.Println(formatConversation(item))
		}
		return nil
	},
}

var conversationsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a conversation with a fresh id",
	Long: "Generate a new conversation id. A conversation exists on the server only once someone\n" +
		"is invited into it, so pass --username or --user-id to invite right away.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if conversationsNewUserID != "" && conversationsNewUsername != "" {
			return errors.New("use either --user-id or --username, not both")
		}

		ctx, cancel := commandContext()
		defer cancel()

		chat, _, err := openChat(ctx)
		if err != nil {
			return err
		}
		defer chat.Close()

		id := chat.NewConversation(ctx)
		switch {
		case conversationsNewUsername != "":
			err = chat.InviteUsername(ctx, conversationsNewUsername)
		case conversationsNewUserID != "":
			err = chat.InviteUserID(ctx, conversationsNewUserID)
		default:
			fmt.Println(id)
			fmt.Println(formatBanner(chat.View().Banner))
			fmt.Printf("Invite someone with 'chatify invite %s --username <name>'.\n", id)
			return nil
		}
		if err != nil {
			return actionError(chat, err)
		}
		v := chat.View()
		fmt.Println(id)
		fmt.Printf("%s %s\n", formatBanner(v.Banner), dimStyle.Render("("+clean(v.Header)+")"))
		return nil
	},
}

var conversationsRenameCmd = &cobra.Command{
	Use:   "rename <conversation-id> [title]",
	Short: "Set the local title of a conversation",
	Long:  "Set the title shown for a conversation on this machine. Omitting the title clears it.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		titles, err := openTitles()
		if err != nil {
			return err
		}
		title := strings.TrimSpace(strings.Join(args[1:], " "))
		if err := titles.Set(args[0], title); err != nil {
			return fmt.Errorf("failed to save title: %w", err)
		}
		if title == "" {
			fmt.Printf("Title of %s cleared.\n", args[0])
			return nil
		}
		fmt.Printf("%s is now %q\n", args[0], title)
		return nil
	},
}
