package chatify

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// userSearchLimit is the page size of user search and invite-by-name.
const userSearchLimit = 10

// ChangeHandler receives the view after every state change.
type ChangeHandler func(ChatView)

type ChatOption func(*Chat)

func WithPollerOptions(opts PollerOptions) ChatOption {
	return func(c *Chat) { c.pollOpts = opts }
}

func WithChatLogger(logger zerolog.Logger) ChatOption {
	return func(c *Chat) { c.logger = logger }
}

func WithChatReporter(r Reporter) ChatOption {
	return func(c *Chat) { c.reporter = r }
}

// loadMode selects how a message fetch is applied.
type loadMode int

const (
	// loadBackground is a poll tick: unchanged lists are skipped and
	// failures are only reported.
	loadBackground loadMode = iota
	// loadForced follows a mutation: the list is always applied.
	loadForced
	// loadExplicit is a user selection: the list is always applied, title
	// editing is reset and failures clear the list behind a banner.
	loadExplicit
)

// Chat is the controller behind a chat screen. It owns the selection, the
// reconciled message list and the transient UI state, and publishes a
// ChatView to its change handlers.
type Chat struct {
	client   *Client
	session  *Session
	titles   TitleStore
	cache    *IdentityCache
	recon    *Reconciler
	poller   *Poller
	reporter Reporter
	logger   zerolog.Logger
	pollOpts PollerOptions

	mu            sync.Mutex
	conversations []string
	selected      string
	localNew      string
	loading       bool
	banner        *Banner
	editingTitle  bool
	titleDraft    string
	searchResults []User
	closed        bool

	hmu      sync.RWMutex
	handlers []ChangeHandler

	// amu orders message lists: a fetch that started before the last
	// applied one is dropped.
	amu        sync.Mutex
	fetchSeq   uint64
	appliedSeq uint64
}

func NewChat(client *Client, session *Session, titles TitleStore, opts ...ChatOption) *Chat {
	c := &Chat{
		client:   client,
		session:  session,
		titles:   titles,
		cache:    session.Cache(),
		recon:    NewReconciler(),
		reporter: session.Reporter(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.titles == nil {
		c.titles = NewMemoryTitleStore()
	}
	if c.pollOpts.Reporter == nil {
		c.pollOpts.Reporter = c.reporter
	}
	c.poller = NewPoller(c.pollMessages, c.pollConversations, c.pollOpts)
	return c
}

// OnChange registers a handler. Handlers run synchronously on the goroutine
// that changed the state; a panicking handler is recovered.
func (c *Chat) OnChange(h ChangeHandler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *Chat) notify() {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	c.hmu.RLock()
	handlers := c.handlers
	c.hmu.RUnlock()
	if len(handlers) == 0 {
		return
	}
	v := c.View()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error().Interface("panic", r).Msg("change handler panicked")
				}
			}()
			h(v)
		}()
	}
}

// Reconciler exposes the message state.
func (c *Chat) Reconciler() *Reconciler { return c.recon }

// Poller exposes the background refresh driver.
func (c *Chat) Poller() *Poller { return c.poller }

// Selected returns the selected conversation id.
func (c *Chat) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

func (c *Chat) setBanner(b *Banner) {
	c.mu.Lock()
	c.banner = b
	c.mu.Unlock()
	c.notify()
}

func (c *Chat) fail(b Banner) {
	c.setBanner(&b)
}

// DismissBanner hides the current banner.
func (c *Chat) DismissBanner() {
	c.setBanner(nil)
}

// ============================================================================
// Loading
// ============================================================================

// Start loads the conversation list and selects the first conversation when
// nothing is selected.
func (c *Chat) Start(ctx context.Context) error {
	err := c.RefreshConversations(ctx, false)

	c.mu.Lock()
	first := ""
	if c.selected == "" && len(c.conversations) > 0 {
		first = c.conversations[0]
	}
	c.mu.Unlock()

	if first != "" {
		return c.Select(ctx, first)
	}
	return err
}

// Select switches to conversationID, loads it and restarts polling. An
// empty id deselects.
func (c *Chat) Select(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.selected = conversationID
	c.banner = nil
	c.editingTitle = false
	c.titleDraft = c.titles.Get(conversationID)
	c.mu.Unlock()

	gen := c.poller.Select(ctx, conversationID)
	if conversationID == "" {
		c.recon.Clear("")
		c.notify()
		return nil
	}
	return c.loadMessages(ctx, conversationID, gen, loadExplicit)
}

// RefreshConversations reloads the conversation list. A silent failure
// keeps the current list and is left to the caller to report.
func (c *Chat) RefreshConversations(ctx context.Context, silent bool) error {
	ids, err := c.client.Conversations.List(ctx)
	if err != nil {
		if !silent {
			c.reporter.Report("refreshConversations", err, nil)
			c.mu.Lock()
			c.conversations = nil
			c.banner = &Banner{Kind: BannerError, Text: "Failed to load conversations."}
			c.mu.Unlock()
			c.notify()
		}
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.localNew != "" && contains(ids, c.localNew) {
		c.localNew = ""
	}
	c.conversations = ids
	c.mu.Unlock()
	c.notify()
	return nil
}

// RefreshMessages reloads conversationID if it is still selected. A silent
// refresh is skipped when nothing changed and never raises a banner.
func (c *Chat) RefreshMessages(ctx context.Context, conversationID string, silent bool) error {
	mode := loadExplicit
	if silent {
		mode = loadBackground
	}
	return c.loadMessages(ctx, conversationID, c.currentGen(), mode)
}

func (c *Chat) currentGen() uint64 {
	return c.poller.Generation()
}

// current reports whether results for conversationID at gen may still be
// applied.
func (c *Chat) current(conversationID string, gen uint64) bool {
	c.mu.Lock()
	ok := !c.closed && c.selected == conversationID
	c.mu.Unlock()
	return ok && c.poller.Current(gen)
}

func (c *Chat) loadMessages(ctx context.Context, conversationID string, gen uint64, mode loadMode) error {
	if mode == loadExplicit {
		c.mu.Lock()
		c.loading = true
		c.mu.Unlock()
		c.notify()
	}

	c.amu.Lock()
	c.fetchSeq++
	seq := c.fetchSeq
	c.amu.Unlock()

	msgs, err := c.client.Messages.List(ctx, conversationID)
	if !c.current(conversationID, gen) {
		return nil
	}
	if err != nil {
		if mode != loadBackground {
			c.reporter.Report("refreshMessages", err, map[string]any{"conversationId": conversationID})
		}
		if mode == loadExplicit {
			c.recon.Clear(conversationID)
			c.mu.Lock()
			c.loading = false
			c.banner = &Banner{Kind: BannerError, Text: "Failed to load messages."}
			c.mu.Unlock()
			c.notify()
		}
		return err
	}

	changed := false
	c.amu.Lock()
	if seq > c.appliedSeq {
		c.appliedSeq = seq
		changed = c.recon.Apply(conversationID, msgs, mode == loadBackground)
	}
	c.amu.Unlock()
	if mode == loadExplicit {
		c.mu.Lock()
		c.loading = false
		c.editingTitle = false
		c.titleDraft = c.titles.Get(conversationID)
		c.mu.Unlock()
	}
	if !changed {
		return nil
	}
	c.notify()

	if err := c.cache.Ensure(ctx, msgs); err != nil {
		c.reporter.Report("ensurePeople", err, map[string]any{"count": len(msgs)})
	}
	if c.current(conversationID, gen) {
		c.notify()
	}
	return nil
}

func (c *Chat) pollMessages(ctx context.Context, conversationID string, gen uint64) error {
	return c.loadMessages(ctx, conversationID, gen, loadBackground)
}

func (c *Chat) pollConversations(ctx context.Context, gen uint64) error {
	return c.RefreshConversations(ctx, true)
}

// ============================================================================
// Actions
// ============================================================================

// Send appends text optimistically, posts it and reloads the list. A failed
// send stays visible, marked failed.
func (c *Chat) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return &ValidationError{Field: "text", Message: "message is empty"}
	}
	conversationID := c.Selected()
	if conversationID == "" {
		c.fail(BannerFor(ErrNoConversation, ""))
		return ErrNoConversation
	}
	gen := c.currentGen()

	temp := c.recon.AddPending(conversationID, c.session.Self(), text)
	c.notify()
	return c.deliver(ctx, temp, gen)
}

// Retry sends a failed message again. Nothing is retried automatically.
func (c *Chat) Retry(ctx context.Context, tempID string) error {
	msg, ok := c.recon.Retry(tempID)
	if !ok {
		return &ValidationError{Field: "id", Message: "no failed message with that id"}
	}
	gen := c.currentGen()
	c.notify()
	return c.deliver(ctx, msg, gen)
}

// Discard drops an unsent message from the list.
func (c *Chat) Discard(tempID string) bool {
	ok := c.recon.Discard(tempID)
	if ok {
		c.notify()
	}
	return ok
}

func (c *Chat) deliver(ctx context.Context, temp Message, gen uint64) error {
	conversationID := temp.ConversationID
	created, err := c.client.Messages.Send(ctx, conversationID, temp.Text)
	if err != nil {
		c.recon.Fail(temp.ID)
		c.reporter.Report("onSend", err, map[string]any{"conversationId": conversationID})
		c.fail(Banner{Kind: BannerError, Text: "Failed to send message."})
		_ = c.loadMessages(ctx, conversationID, gen, loadForced)
		return err
	}
	if created != nil {
		c.recon.Confirm(temp.ID, created.ID)
	}

	c.mu.Lock()
	c.banner = nil
	c.mu.Unlock()
	_ = c.loadMessages(ctx, conversationID, gen, loadForced)
	return nil
}

// Delete removes a confirmed message. Optimistic messages are ignored.
func (c *Chat) Delete(ctx context.Context, messageID string) error {
	if IsTempID(messageID) {
		return nil
	}
	conversationID := c.Selected()
	gen := c.currentGen()
	if err := c.client.Messages.Delete(ctx, messageID); err != nil {
		c.reporter.Report("onDeleteMessage", err, map[string]any{"id": messageID})
		c.fail(Banner{Kind: BannerError, Text: "Failed to delete message."})
		return err
	}
	if conversationID != "" {
		_ = c.loadMessages(ctx, conversationID, gen, loadForced)
	}
	c.setBanner(&Banner{Kind: BannerSuccess, Text: "Message deleted."})
	return nil
}

// NewConversation selects a fresh client-generated conversation id. It only
// exists locally until an invite into it succeeds.
func (c *Chat) NewConversation(ctx context.Context) string {
	id := uuid.NewString()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ""
	}
	c.localNew = id
	c.selected = id
	c.loading = false
	c.editingTitle = true
	c.titleDraft = ""
	c.banner = &Banner{Kind: BannerInfo, Text: "New conversation created. Invite a user to start chatting."}
	c.mu.Unlock()

	c.poller.Select(ctx, id)
	c.recon.Clear(id)
	c.reporter.Info("local conversation created", map[string]any{"conversationId": id})
	c.notify()
	return id
}

// InviteUserID invites a user by numeric id into the selected conversation.
func (c *Chat) InviteUserID(ctx context.Context, rawID string) error {
	userID, err := ParseUserID(rawID)
	if err != nil {
		c.fail(BannerFor(err, ""))
		return err
	}
	return c.invite(ctx, userID)
}

// InviteUsername resolves name, preferring an exact match, and invites the
// user into the selected conversation.
func (c *Chat) InviteUsername(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &ValidationError{Field: "username", Message: "enter a username"}
	}
	if c.Selected() == "" {
		c.fail(BannerFor(ErrNoConversation, ""))
		return ErrNoConversation
	}

	users, err := c.client.Users.Search(ctx, name, userSearchLimit)
	if err != nil {
		c.reporter.Report("onInviteByUsername", err, map[string]any{"name": name})
		c.fail(BannerFor(err, "Invite failed."))
		return err
	}
	var target *User
	for i := range users {
		if strings.EqualFold(users[i].Username, name) {
			target = &users[i]
			break
		}
	}
	if target == nil && len(users) > 0 {
		target = &users[0]
	}
	if target == nil || target.UserID == "" {
		c.fail(Banner{Kind: BannerError, Text: "No user found for “" + name + "”."})
		return ErrUserNotFound
	}
	return c.invite(ctx, target.UserID)
}

func (c *Chat) invite(ctx context.Context, userID string) error {
	conversationID := c.Selected()
	if conversationID == "" {
		c.fail(BannerFor(ErrNoConversation, ""))
		return ErrNoConversation
	}

	if err := c.client.Invites.Send(ctx, userID, conversationID); err != nil {
		c.reporter.Report("inviteKnownUserId", err, map[string]any{"id": userID, "conversationId": conversationID})
		c.fail(BannerFor(err, "Invite failed (use a unique GUID and a valid userId)"))
		return err
	}

	if invited, err := c.client.Users.Get(ctx, userID); err == nil && invited != nil {
		c.cache.Merge(invited.Identity())
		if invited.Username != "" {
			if err := c.titles.Set(conversationID, invited.Username); err != nil {
				c.logger.Warn().Err(err).Msg("cannot store conversation title")
			}
			c.mu.Lock()
			if c.selected == conversationID {
				c.titleDraft = invited.Username
			}
			c.mu.Unlock()
		}
	} else if err != nil {
		c.logger.Debug().Err(err).Str("user_id", userID).Msg("cannot look up invitee")
	}

	if err := c.RefreshConversations(ctx, true); err != nil {
		c.logger.Debug().Err(err).Msg("conversation refresh after invite failed")
	}
	c.setBanner(&Banner{Kind: BannerSuccess, Text: "Invite sent."})
	return nil
}

// SearchUsers lists users matching query. A blank query clears the results.
func (c *Chat) SearchUsers(ctx context.Context, query string) ([]User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		c.mu.Lock()
		c.searchResults = nil
		c.mu.Unlock()
		c.notify()
		return nil, nil
	}

	users, err := c.client.Users.Search(ctx, query, userSearchLimit)
	if err != nil {
		c.reporter.Report("onSearchUsers", err, map[string]any{"q": query})
		c.fail(Banner{Kind: BannerError, Text: "Search failed."})
		return nil, err
	}
	for _, u := range users {
		c.cache.Merge(u.Identity())
	}
	c.mu.Lock()
	c.searchResults = users
	c.mu.Unlock()
	c.notify()
	return users, nil
}

// ============================================================================
// Title editing
// ============================================================================

// BeginTitleEdit opens the title editor seeded with the stored title.
func (c *Chat) BeginTitleEdit() {
	c.mu.Lock()
	if c.selected == "" {
		c.mu.Unlock()
		return
	}
	c.editingTitle = true
	c.titleDraft = c.titles.Get(c.selected)
	c.mu.Unlock()
	c.notify()
}

func (c *Chat) SetTitleDraft(draft string) {
	c.mu.Lock()
	c.titleDraft = draft
	c.mu.Unlock()
	c.notify()
}

// SaveTitle stores the draft; a blank draft clears the title.
func (c *Chat) SaveTitle() error {
	c.mu.Lock()
	conversationID := c.selected
	draft := strings.TrimSpace(c.titleDraft)
	c.mu.Unlock()
	if conversationID == "" {
		return ErrNoConversation
	}

	if err := c.titles.Set(conversationID, draft); err != nil {
		c.reporter.Report("saveTitle", err, map[string]any{"conversationId": conversationID})
		c.fail(Banner{Kind: BannerError, Text: "Failed to save title."})
		return err
	}
	c.mu.Lock()
	c.editingTitle = false
	c.titleDraft = draft
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *Chat) CancelTitleEdit() {
	c.mu.Lock()
	c.editingTitle = false
	c.titleDraft = c.titles.Get(c.selected)
	c.mu.Unlock()
	c.notify()
}

// Rename sets the title of the selected conversation in one step.
func (c *Chat) Rename(title string) error {
	c.mu.Lock()
	c.titleDraft = title
	c.mu.Unlock()
	return c.SaveTitle()
}

// Close stops polling. Results of requests still running are discarded and
// handlers are no longer called.
func (c *Chat) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.poller.Stop()
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
