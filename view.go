package chatify

import (
	"strings"
	"time"
	"unicode/utf8"
)

// ConversationItem is one entry of the conversation list.
type ConversationItem struct {
	ID       string
	Label    string
	Selected bool
	// Local marks a conversation that exists only on this client so far.
	Local bool
}

// MessageRow is a message resolved for display.
type MessageRow struct {
	ID        string
	Author    string
	AvatarURL string
	Text      string
	CreatedAt time.Time
	Mine      bool
	Stage     DeliveryStage
	Failed    bool
}

// Symbol is the delivery tick of the row.
func (r MessageRow) Symbol() string { return DeliverySymbol(r.Stage) }

// ChatView is a snapshot of everything a chat screen renders.
type ChatView struct {
	Conversations []ConversationItem
	SelectedID    string
	Header        string
	Loading       bool
	EditingTitle  bool
	TitleDraft    string
	Banner        *Banner
	Messages      []MessageRow
	SearchResults []User
	// LocalConversation is the id created by NewConversation until an
	// invite makes it shared.
	LocalConversation string
}

// ShortID abbreviates a conversation id to its first and last four runes.
func ShortID(id string) string {
	if utf8.RuneCountInString(id) <= 9 {
		return id
	}
	r := []rune(id)
	return string(r[:4]) + "…" + string(r[len(r)-4:])
}

// View builds the current snapshot.
func (c *Chat) View() ChatView {
	c.mu.Lock()
	v := ChatView{
		SelectedID:        c.selected,
		Loading:           c.loading,
		EditingTitle:      c.editingTitle,
		TitleDraft:        c.titleDraft,
		SearchResults:     append([]User(nil), c.searchResults...),
		LocalConversation: c.localNew,
	}
	if c.banner != nil {
		b := *c.banner
		v.Banner = &b
	}
	ids := append([]string(nil), c.conversations...)
	if c.localNew != "" && !contains(ids, c.localNew) {
		ids = append([]string{c.localNew}, ids...)
	}
	c.mu.Unlock()

	titles := c.titles.All()
	for _, id := range ids {
		label := titles[id]
		if label == "" {
			label = ShortID(id)
		}
		v.Conversations = append(v.Conversations, ConversationItem{
			ID:       id,
			Label:    label,
			Selected: id == v.SelectedID,
			Local:    id == v.LocalConversation,
		})
	}

	if v.SelectedID != "" && c.recon.ConversationID() == v.SelectedID {
		v.Messages = buildRows(c.recon.View(), c.session.Self(), c.cache)
	}
	v.Header = headerTitle(v.SelectedID, titles[v.SelectedID], participants(v.Messages))
	return v
}

func buildRows(msgs []Message, self IdentityRecord, cache *IdentityCache) []MessageRow {
	rows := make([]MessageRow, 0, len(msgs))
	for _, m := range msgs {
		mine := isMine(m, self)
		var cached IdentityRecord
		if m.AuthorID != "" {
			cached, _ = cache.Lookup(m.AuthorID)
		}
		rows = append(rows, MessageRow{
			ID:        m.ID,
			Author:    authorName(m, mine, self, cached),
			AvatarURL: avatarURL(m, mine, self, cached),
			Text:      m.Text,
			CreatedAt: m.Time(),
			Mine:      mine,
			Stage:     m.Stage(),
			Failed:    m.Failed,
		})
	}
	return rows
}

func isMine(m Message, self IdentityRecord) bool {
	if m.AuthorID != "" && self.UserID != "" {
		return m.AuthorID == self.UserID
	}
	return m.AuthorName != "" && self.Username != "" && strings.EqualFold(m.AuthorName, self.Username)
}

// authorName resolves explicit name, then self, then cache, then the placeholder.
func authorName(m Message, mine bool, self IdentityRecord, cached IdentityRecord) string {
	if m.AuthorName != "" {
		return m.AuthorName
	}
	if mine && m.AuthorID != "" {
		return firstNonEmpty(self.Username, "me")
	}
	if cached.Username != "" {
		return cached.Username
	}
	return PlaceholderUsername
}

func avatarURL(m Message, mine bool, self IdentityRecord, cached IdentityRecord) string {
	if mine && self.AvatarURL != "" {
		return self.AvatarURL
	}
	if m.AvatarURL != "" {
		return m.AvatarURL
	}
	if m.AuthorID != "" {
		if cached.AvatarURL != "" {
			return cached.AvatarURL
		}
		return FallbackAvatar(firstNonEmpty(cached.Username, m.AuthorName, m.AuthorID))
	}
	return FallbackAvatar(firstNonEmpty(m.AuthorName, PlaceholderUsername))
}

// participants lists the distinct resolved names of other authors in order
// of appearance.
func participants(rows []MessageRow) []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range rows {
		if r.Mine || r.Author == "" || r.Author == PlaceholderUsername {
			continue
		}
		key := strings.ToLower(r.Author)
		if seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, r.Author)
	}
	return names
}

func headerTitle(selected, override string, others []string) string {
	switch {
	case selected == "":
		return "No conversation selected"
	case override != "":
		return override
	case len(others) == 1:
		return others[0]
	case len(others) > 1:
		return "Group: " + strings.Join(others, ", ")
	}
	return "New conversation"
}
