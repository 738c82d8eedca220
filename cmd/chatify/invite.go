package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	inviteUserID   string
	inviteUsername string
)

func init() {
	inviteCmd.Flags().StringVar(&inviteUserID, "user-id", "", "Numeric id of the user to invite")
	inviteCmd.Flags().StringVar(&inviteUsername, "username", "", "Username to invite (exact match preferred)")
	rootCmd.AddCommand(inviteCmd)
}

var inviteCmd = &cobra.Command{
	Use:   "invite <conversation-id>",
	Short: "Invite a user into a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (inviteUserID == "") == (inviteUsername == "") {
			return errors.New("pass exactly one of --user-id or --username")
		}

		ctx, cancel := commandContext()
		defer cancel()

		chat, _, err := openChat(ctx)
		if err != nil {
			return err
		}
		defer chat.Close()

		// A fresh id has no messages yet; a failed load does not block the invite.
		if err := chat.Select(ctx, args[0]); err != nil {
			logger.Debug().Err(err).Str("conversation", args[0]).Msg("cannot load conversation")
		}
		if inviteUsername != "" {
			err = chat.InviteUsername(ctx, inviteUsername)
		} else {
			err = chat.InviteUserID(ctx, inviteUserID)
		}
		if err != nil {
			return actionError(chat, err)
		}
		fmt.Println(formatBanner(chat.View().Banner))
		return nil
	},
}
