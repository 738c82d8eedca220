package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	chatify "github.com/melodycartwright/chatify-client"
)

// ============================================================================
// Styles
// ============================================================================

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	mineStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	otherStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	bannerStyles = map[chatify.BannerKind]lipgloss.Style{
		chatify.BannerError:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		chatify.BannerSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		chatify.BannerInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
	}
)

// clean strips terminal escape sequences and control characters from text
// that came from the server.
func clean(s string) string {
	s = ansi.Strip(s)
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
}

// when renders a message time relative to now.
func when(t time.Time) string {
	if t.IsZero() {
		return "just now"
	}
	return humanize.Time(t)
}

func formatRow(r chatify.MessageRow) string {
	style := otherStyle
	if r.Mine {
		style = mineStyle
	}
	line := fmt.Sprintf("%s %s %s",
		style.Render(clean(r.Author)+":"),
		clean(r.Text),
		dimStyle.Render(r.Symbol()),
	)
	meta := dimStyle.Render(fmt.Sprintf("  [%s · %s]", clean(r.ID), when(r.CreatedAt)))
	if r.Failed {
		return failedStyle.Render("! ") + line + failedStyle.Render(" (not sent)") + meta
	}
	return line + meta
}

func formatBanner(b *chatify.Banner) string {
	if b == nil || b.Text == "" {
		return ""
	}
	style, ok := bannerStyles[b.Kind]
	if !ok {
		style = dimStyle
	}
	return style.Render(clean(b.Text))
}

func formatConversation(item chatify.ConversationItem) string {
	marker := "  "
	if item.Selected {
		marker = "> "
	}
	id := clean(item.ID)
	label := clean(item.Label)
	if item.Local {
		label += dimStyle.Render(" (local)")
	}
	if label != id {
		label += dimStyle.Render("  " + id)
	}
	return marker + label
}

// renderView prints the header, the messages and the banner of v.
func renderView(w io.Writer, v chatify.ChatView) {
	fmt.Fprintln(w, headerStyle.Render(clean(v.Header)))
	if len(v.Messages) == 0 {
		fmt.Fprintln(w, dimStyle.Render("(no messages)"))
	}
	for _, r := range v.Messages {
		fmt.Fprintln(w, formatRow(r))
	}
	if b := formatBanner(v.Banner); b != "" {
		fmt.Fprintln(w, b)
	}
}
