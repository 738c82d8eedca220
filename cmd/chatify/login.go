package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Sign in and store the session",
	Long:  "Sign in to Chatify. The password is read from the terminal, or from stdin when it is not a terminal.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword("Password: ")
		if err != nil {
			return err
		}

		ctx, cancel := commandContext()
		defer cancel()

		session, _, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		if err := session.Login(ctx, args[0], password); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		fmt.Printf("Signed in as %s\n", clean(session.Username()))
		if u := session.User(); u != nil && u.UserID != "" {
			fmt.Printf("  User ID: %s\n", clean(u.UserID))
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		session, _, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		if err := session.Logout(); err != nil {
			return fmt.Errorf("failed to clear session: %w", err)
		}
		fmt.Println("Signed out.")
		return nil
	},
}

// readPassword prompts on a terminal without echo. Piped input is read up
// to the first newline.
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("cannot read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("cannot read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
