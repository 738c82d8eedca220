package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"

	chatify "github.com/melodycartwright/chatify-client"
)

func TestClean(t *testing.T) {
	assert.Equal(t, "red text", clean("\x1b[31mred\x1b[0m text"))
	assert.Equal(t, "bell", clean("be\x07ll"))
	assert.Equal(t, "a\nb", clean("a\nb"))
}

func TestFormatRow(t *testing.T) {
	row := chatify.MessageRow{ID: "7", Author: "bob", Text: "hi \x1b[2J", Stage: chatify.StageRead}
	out := ansi.Strip(formatRow(row))
	assert.Contains(t, out, "bob: hi")
	assert.Contains(t, out, "✓✓")
	assert.Contains(t, out, "[7 · just now]")
	assert.NotContains(t, out, "not sent")

	row.Failed = true
	assert.Contains(t, ansi.Strip(formatRow(row)), "(not sent)")
}

func TestServerTextIsStripped(t *testing.T) {
	const esc = "\x1b]0;pwned\x07\x1b[2J"
	hasEscape := func(s string) bool {
		return strings.Contains(s, "\x1b]") || strings.Contains(s, "\x1b[2J") ||
			strings.Contains(s, "\x07") || strings.Contains(s, "pwned")
	}

	banner := formatBanner(&chatify.Banner{Kind: chatify.BannerError, Text: "server says " + esc})
	assert.False(t, hasEscape(banner), "%q", banner)
	assert.Contains(t, ansi.Strip(banner), "server says")

	row := formatRow(chatify.MessageRow{ID: "m1" + esc, Author: "bob", Text: "hi"})
	assert.False(t, hasEscape(row), "%q", row)
	assert.Contains(t, ansi.Strip(row), "[m1 · just now]")

	conv := formatConversation(chatify.ConversationItem{ID: "c" + esc, Label: "Team"})
	assert.False(t, hasEscape(conv), "%q", conv)
	assert.Contains(t, ansi.Strip(conv), "Team  c")
}

func TestFollowPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newFollowPrinter(&buf)
	lines := func() []string {
		s := strings.TrimSpace(ansi.Strip(buf.String()))
		buf.Reset()
		if s == "" {
			return nil
		}
		return strings.Split(s, "\n")
	}

	base := chatify.ChatView{
		SelectedID: "c1",
		Header:     "bob",
		Messages:   []chatify.MessageRow{{ID: "1", Author: "bob", Text: "hi"}},
	}
	p.render(base)
	got := lines()
	assert.Len(t, got, 2)
	assert.Equal(t, "bob", got[0])

	p.render(base)
	assert.Empty(t, lines(), "an identical view prints nothing")

	pending := base
	pending.Messages = append(append([]chatify.MessageRow(nil), base.Messages...),
		chatify.MessageRow{ID: "temp_1_1", Author: "alice", Text: "yo", Mine: true})
	p.render(pending)
	assert.Empty(t, lines(), "optimistic rows are not printed")

	confirmed := base
	confirmed.Messages = append(append([]chatify.MessageRow(nil), base.Messages...),
		chatify.MessageRow{ID: "2", Author: "alice", Text: "yo", Mine: true})
	confirmed.Banner = &chatify.Banner{Kind: chatify.BannerSuccess, Text: "Invite sent."}
	p.render(confirmed)
	got = lines()
	assert.Len(t, got, 2)
	assert.Contains(t, got[0], "alice: yo")
	assert.Equal(t, "Invite sent.", got[1])

	other := chatify.ChatView{SelectedID: "c2", Header: "carol", Messages: []chatify.MessageRow{{ID: "1", Author: "carol", Text: "x"}}}
	p.render(other)
	got = lines()
	assert.Len(t, got, 2, "switching conversations reprints, even for a reused id")
}

func TestSafeRenderRecovers(t *testing.T) {
	p := newFollowPrinter(nil)
	assert.NotPanics(t, func() {
		p.safeRender(chatify.ChatView{SelectedID: "c1", Header: "x"})
	})
}
