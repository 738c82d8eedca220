package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	chatify "github.com/melodycartwright/chatify-client"
)

// requestTimeout bounds one-shot commands.
const requestTimeout = 30 * time.Second

var errNotSignedIn = errors.New("not signed in; run 'chatify login' first")

// newClient creates a Chatify client from the resolved config.
func newClient(cfg *Config) *chatify.Client {
	opts := []chatify.ClientOption{chatify.WithLogger(logger)}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, chatify.WithBaseURL(cfg.Default.BaseURL))
	}
	return chatify.NewClient(opts...)
}

// openSession restores the saved session. With requireLogin it fails when
// nobody is signed in.
func openSession(ctx context.Context, requireLogin bool) (*chatify.Session, *Config, error) {
	cfg, err := resolvedConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	session := chatify.NewSession(newClient(cfg), configSessionStore{},
		chatify.WithSessionLogger(logger),
		chatify.WithReporter(reporter),
	)
	if err := session.Restore(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to restore session: %w", err)
	}
	if requireLogin && !session.SignedIn() {
		return nil, nil, errNotSignedIn
	}
	return session, cfg, nil
}

// openChat builds a chat controller on the saved session. Callers must
// Close it.
func openChat(ctx context.Context) (*chatify.Chat, *chatify.Session, error) {
	session, cfg, err := openSession(ctx, true)
	if err != nil {
		return nil, nil, err
	}
	titles, err := openTitles()
	if err != nil {
		return nil, nil, err
	}
	chat := chatify.NewChat(session.Client(), session, titles,
		chatify.WithPollerOptions(pollerOptions(cfg)),
		chatify.WithChatLogger(logger),
		chatify.WithChatReporter(reporter),
	)
	return chat, session, nil
}

func openTitles() (*chatify.FileTitleStore, error) {
	path, err := titlesPath()
	if err != nil {
		return nil, err
	}
	return chatify.NewFileTitleStore(path), nil
}

// pollerOptions reads the poll cadence from the config. Invalid or missing
// values keep the defaults.
func pollerOptions(cfg *Config) chatify.PollerOptions {
	var opts chatify.PollerOptions
	if d, err := time.ParseDuration(cfg.Default.MessageInterval); err == nil && d > 0 {
		opts.MessageInterval = d
	}
	if d, err := time.ParseDuration(cfg.Default.ConversationInterval); err == nil && d > 0 {
		opts.ConversationInterval = d
	}
	return opts
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// actionError turns the banner a failed action left behind into the error
// the command reports.
func actionError(chat *chatify.Chat, err error) error {
	if err == nil {
		return nil
	}
	if b := chat.View().Banner; b != nil && b.Kind == chatify.BannerError && b.Text != "" {
		return errors.New(b.Text)
	}
	return err
}
