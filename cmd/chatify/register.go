package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	chatify "github.com/melodycartwright/chatify-client"
)

var (
	registerEmail  string
	registerAvatar string
)

func init() {
	registerCmd.Flags().StringVar(&registerEmail, "email", "", "Email address (required)")
	registerCmd.Flags().StringVar(&registerAvatar, "avatar", "", "Avatar URL (defaults to a generated one)")
	_ = registerCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(registerCmd)
}

var registerCmd = &cobra.Command{
	Use:   "register <username>",
	Short: "Create a Chatify account",
	Long:  "Create an account. Input is validated locally before anything is sent. Run 'chatify login' afterwards.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword("Choose a password: ")
		if err != nil {
			return err
		}

		ctx, cancel := commandContext()
		defer cancel()

		session, _, err := openSession(ctx, false)
		if err != nil {
			return err
		}

		opts := chatify.RegisterOptions{
			Username: args[0],
			Password: password,
			Email:    registerEmail,
			Avatar:   registerAvatar,
		}
		if err := session.Register(ctx, opts); err != nil {
			var ve chatify.ValidationErrors
			if errors.As(err, &ve) {
				for _, e := range ve {
					fmt.Printf("  %s\n", e.Error())
				}
				return errors.New("registration rejected")
			}
			var apiErr *chatify.APIError
			if errors.As(err, &apiErr) && apiErr.Message != "" {
				return fmt.Errorf("registration failed: %s", apiErr.Message)
			}
			return fmt.Errorf("registration failed: %w", err)
		}

		fmt.Println("Registration successful!")
		fmt.Printf("  Username: %s\n", args[0])
		fmt.Printf("Run 'chatify login %s' to sign in.\n", args[0])
		return nil
	},
}
