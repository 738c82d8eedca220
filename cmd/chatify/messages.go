package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	chatify "github.com/melodycartwright/chatify-client"
)

func init() {
	messagesCmd.AddCommand(messagesListCmd)
	messagesCmd.AddCommand(messagesSendCmd)
	messagesCmd.AddCommand(messagesDeleteCmd)
	rootCmd.AddCommand(messagesCmd)
}

var messagesCmd = &cobra.Command{
	Use:     "messages",
	Aliases: []string{"msg"},
	Short:   "Read, send and delete messages",
}

var messagesListCmd = &cobra.Command{
	Use:   "list <conversation-id>",
	Short: "Print the messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		chat, _, err := openChat(ctx)
		if err != nil {
			return err
		}
		defer chat.Close()

		if err := chat.Select(ctx, args[0]); err != nil {
			return actionError(chat, err)
		}
		v := chat.View()
		if flagJSON {
			return printJSON(v.Messages)
		}
		renderView(os.Stdout, v)
		return nil
	},
}

var messagesSendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text...>",
	Short: "Send a message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		chat, _, err := openChat(ctx)
		if err != nil {
			return err
		}
		defer chat.Close()

		if err := chat.Select(ctx, args[0]); err != nil {
			return actionError(chat, err)
		}
		if err := chat.Send(ctx, strings.Join(args[1:], " ")); err != nil {
			return actionError(chat, err)
		}
		rows := chat.View().Messages
		if flagJSON && len(rows) > 0 {
			return printJSON(rows[len(rows)-1])
		}
		if last := lastMine(rows); last != nil {
			fmt.Println(formatRow(*last))
		}
		return nil
	},
}

var messagesDeleteCmd = &cobra.Command{
	Use:   "delete <conversation-id> <message-id>",
	Short: "Delete one of your messages",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if chatify.IsTempID(args[1]) {
			fmt.Println("That message was never sent; nothing to delete.")
			return nil
		}

		ctx, cancel := commandContext()
		defer cancel()

		chat, _, err := openChat(ctx)
		if err != nil {
			return err
		}
		defer chat.Close()

		if err := chat.Select(ctx, args[0]); err != nil {
			return actionError(chat, err)
		}
		if err := chat.Delete(ctx, args[1]); err != nil {
			return actionError(chat, err)
		}
		fmt.Println(formatBanner(chat.View().Banner))
		return nil
	},
}

func lastMine(rows []chatify.MessageRow) *chatify.MessageRow {
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Mine {
			return &rows[i]
		}
	}
	return nil
}
