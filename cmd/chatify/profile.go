package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	chatify "github.com/melodycartwright/chatify-client"
)

var (
	profileUsername string
	profileEmail    string
	profileAvatar   string
	profileYes      bool
)

func init() {
	profileUpdateCmd.Flags().StringVar(&profileUsername, "username", "", "New username")
	profileUpdateCmd.Flags().StringVar(&profileEmail, "email", "", "New email")
	profileUpdateCmd.Flags().StringVar(&profileAvatar, "avatar", "", "New avatar URL")
	profileDeleteCmd.Flags().BoolVar(&profileYes, "yes", false, "Confirm account deletion")

	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileUpdateCmd)
	profileCmd.AddCommand(profileDeleteCmd)
	rootCmd.AddCommand(profileCmd)
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or change the signed-in account",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the signed-in account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		session, _, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		u := session.User()
		if u == nil {
			return fmt.Errorf("account %q could not be resolved", session.Username())
		}
		if flagJSON {
			return printJSON(u)
		}
		printUser(u, session.Self().AvatarURL)
		return nil
	},
}

var profileUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update username, email or avatar",
	RunE: func(cmd *cobra.Command, args []string) error {
		update := chatify.UserUpdate{Username: profileUsername, Email: profileEmail, Avatar: profileAvatar}
		if update.Empty() {
			return errors.New("nothing to update; pass --username, --email or --avatar")
		}

		ctx, cancel := commandContext()
		defer cancel()

		session, _, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		u, err := session.UpdateProfile(ctx, update)
		if err != nil {
			return fmt.Errorf("update failed: %w", err)
		}
		fmt.Println("Profile updated.")
		printUser(u, session.Self().AvatarURL)
		return nil
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the signed-in account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !profileYes {
			return errors.New("this permanently deletes your account; rerun with --yes")
		}

		ctx, cancel := commandContext()
		defer cancel()

		session, _, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		name := session.Username()
		if err := session.DeleteAccount(ctx); err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
		fmt.Printf("Account %s deleted.\n", name)
		return nil
	},
}

func printUser(u *chatify.User, avatar string) {
	fmt.Printf("Username: %s\n", clean(u.Username))
	fmt.Printf("User ID:  %s\n", valueOrDefault(clean(u.UserID), "(unknown)"))
	fmt.Printf("Email:    %s\n", valueOrDefault(clean(u.Email), "(not set)"))
	fmt.Printf("Avatar:   %s\n", valueOrDefault(clean(u.Avatar), avatar))
}
