package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	chatify "github.com/melodycartwright/chatify-client"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat [conversation-id]",
	Short: "Follow a conversation and chat interactively",
	Long: strings.TrimSpace(`
Open a conversation, print new messages as they arrive and send every line
typed on stdin. Without an id the first conversation is opened.

Commands:
  /open <id>        switch conversation
  /new              start a conversation with a fresh id
  /invite <name>    invite a user by username
  /rename [title]   set or clear the local title
  /delete <id>      delete one of your messages
  /retry <id>       send a failed message again
  /discard <id>     drop a failed message
  /list             list conversations
  /quit             leave
`),
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		chat, _, err := openChat(ctx)
		if err != nil {
			return err
		}
		defer chat.Close()

		p := newFollowPrinter(os.Stdout)
		chat.OnChange(p.safeRender)

		if len(args) == 1 {
			if err := chat.RefreshConversations(ctx, false); err != nil {
				logger.Debug().Err(err).Msg("cannot load conversations")
			}
			_ = chat.Select(ctx, args[0])
		} else if err := chat.Start(ctx); err != nil {
			logger.Debug().Err(err).Msg("start failed")
		}
		if chat.Selected() == "" {
			fmt.Println(dimStyle.Render("No conversation open. Use /new or /open <id>."))
		}

		lines := readLines(os.Stdin)
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if quit := runChatLine(ctx, chat, p, line); quit {
					return nil
				}
			}
		}
	},
}

// runChatLine executes one line of input. Failures are shown through the
// banner, so errors are only logged.
func runChatLine(ctx context.Context, chat *chatify.Chat, p *followPrinter, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if err := chat.Send(ctx, line); err != nil {
			logger.Debug().Err(err).Msg("send failed")
		}
		return false
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	var err error
	switch name {
	case "/quit", "/exit":
		return true
	case "/open":
		err = chat.Select(ctx, arg)
	case "/new":
		chat.NewConversation(ctx)
	case "/invite":
		err = chat.InviteUsername(ctx, arg)
	case "/rename":
		err = chat.Rename(arg)
	case "/delete":
		err = chat.Delete(ctx, arg)
	case "/retry":
		err = chat.Retry(ctx, arg)
	case "/discard":
		if !chat.Discard(arg) {
			fmt.Println(dimStyle.Render("No unsent message " + arg))
		}
	case "/list":
		if err = chat.RefreshConversations(ctx, false); err == nil {
			p.printConversations(chat.View())
		}
	default:
		fmt.Println(dimStyle.Render("Unknown command " + name))
	}
	if err != nil {
		logger.Debug().Err(err).Str("command", name).Msg("command failed")
	}
	return false
}

func readLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			out <- sc.Text()
		}
	}()
	return out
}

// ============================================================================
// Follow printer
// ============================================================================

// followPrinter prints only what changed between views: the header when the
// conversation or its title changes, confirmed messages not printed yet,
// failed sends and new banners.
type followPrinter struct {
	w io.Writer

	mu           sync.Mutex
	conversation string
	header       string
	banner       string
	seen         map[string]bool
}

func newFollowPrinter(w io.Writer) *followPrinter {
	return &followPrinter{w: w, seen: make(map[string]bool)}
}

// safeRender keeps the follow loop alive when rendering a view fails.
func (p *followPrinter) safeRender(v chatify.ChatView) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintln(os.Stderr, "Something went wrong")
			logger.Error().Interface("panic", r).Msg("render failed")
		}
	}()
	p.render(v)
}

func (p *followPrinter) render(v chatify.ChatView) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v.SelectedID != p.conversation {
		p.conversation = v.SelectedID
		p.header = ""
		p.seen = make(map[string]bool)
	}
	if v.SelectedID != "" && v.Header != p.header {
		p.header = v.Header
		fmt.Fprintln(p.w, headerStyle.Render(clean(v.Header)))
	}
	if !v.Loading {
		for _, r := range v.Messages {
			if p.seen[r.ID] || (chatify.IsTempID(r.ID) && !r.Failed) {
				continue
			}
			p.seen[r.ID] = true
			fmt.Fprintln(p.w, formatRow(r))
		}
	}

	text := ""
	if v.Banner != nil {
		text = string(v.Banner.Kind) + ":" + v.Banner.Text
	}
	if text != p.banner {
		p.banner = text
		if b := formatBanner(v.Banner); b != "" {
			fmt.Fprintln(p.w, b)
		}
	}
}

func (p *followPrinter) printConversations(v chatify.ChatView) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, item := range v.Conversations {
		fmt.Fprintln(p.w, formatConversation(item))
	}
}
