package chatify

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultMessageInterval      = 4 * time.Second
	DefaultConversationInterval = 10 * time.Second
)

// Scheduler runs fn every interval until the returned cancel func is called.
// Cancel must be synchronous: no tick may start after it returns.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (cancel func())
}

// TickerScheduler is the production Scheduler. Each tick runs on its own
// goroutine, so a slow tick does not delay the next one.
type TickerScheduler struct{}

func (TickerScheduler) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	stopCh := make(chan struct{})

	var mu sync.Mutex
	stopped := false
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				mu.Lock()
				if !stopped {
					go fn()
				}
				mu.Unlock()
			}
		}
	}()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		if !stopped {
			stopped = true
			close(stopCh)
		}
	}
}

// PollState is the poller state machine.
type PollState string

const (
	PollIdle    PollState = "idle"
	PollPolling PollState = "polling"
)

// MessageFetcher refreshes the messages of a selected conversation. gen is
// the selection generation the tick belongs to.
type MessageFetcher func(ctx context.Context, conversationID string, gen uint64) error

// ConversationFetcher refreshes the conversation list.
type ConversationFetcher func(ctx context.Context, gen uint64) error

type PollerOptions struct {
	MessageInterval      time.Duration
	ConversationInterval time.Duration
	Scheduler            Scheduler
	// Visible gates every tick; nil means always visible.
	Visible  func() bool
	Reporter Reporter
}

// Poller drives background refresh of the selected conversation. Selecting
// a conversation starts a fast message timer and a slow conversation timer;
// changing the selection cancels both before new ones start.
//
// Message ticks are mutually exclusive: a tick that fires while the previous
// fetch is still running is dropped, not queued. Conversation ticks have no
// guard. Tick errors are reported and the timers keep running.
type Poller struct {
	fetchMessages      MessageFetcher
	fetchConversations ConversationFetcher
	opts               PollerOptions

	mu          sync.Mutex
	selected    string
	gen         uint64
	cancels     []func()
	inflight    bool
	inflightGen uint64
}

func NewPoller(messages MessageFetcher, conversations ConversationFetcher, opts PollerOptions) *Poller {
	if opts.MessageInterval <= 0 {
		opts.MessageInterval = DefaultMessageInterval
	}
	if opts.ConversationInterval <= 0 {
		opts.ConversationInterval = DefaultConversationInterval
	}
	if opts.Scheduler == nil {
		opts.Scheduler = TickerScheduler{}
	}
	if opts.Reporter == nil {
		opts.Reporter = NopReporter{}
	}
	return &Poller{
		fetchMessages:      messages,
		fetchConversations: conversations,
		opts:               opts,
	}
}

// Select switches polling to conversationID; "" returns to idle. It returns
// the new selection generation.
//
// Ticks run under a context owned by the poller: ctx only lends its values,
// so a request-scoped ctx may be passed. Stop or the next Select cancels it.
func (p *Poller) Select(ctx context.Context, conversationID string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.gen++
	p.selected = conversationID
	if conversationID == "" {
		return p.gen
	}

	gen := p.gen
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancels = append(p.cancels,
		cancel,
		p.opts.Scheduler.Every(p.opts.MessageInterval, func() { p.messageTick(ctx, conversationID, gen) }),
		p.opts.Scheduler.Every(p.opts.ConversationInterval, func() { p.conversationTick(ctx, gen) }),
	)
	return gen
}

// Stop cancels both timers and the context of fetches already running, and
// returns to idle.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.gen++
	p.selected = ""
}

func (p *Poller) stopLocked() {
	for _, cancel := range p.cancels {
		cancel()
	}
	p.cancels = nil
}

// State reports whether a conversation is being polled.
func (p *Poller) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.selected == "" {
		return PollIdle
	}
	return PollPolling
}

// Selected returns the polled conversation id.
func (p *Poller) Selected() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected
}

// Generation returns the active selection generation.
func (p *Poller) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

// Current reports whether gen is still the active selection generation.
func (p *Poller) Current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen == p.gen
}

func (p *Poller) visible() bool {
	return p.opts.Visible == nil || p.opts.Visible()
}

func (p *Poller) messageTick(ctx context.Context, conversationID string, gen uint64) {
	if !p.visible() {
		return
	}
	p.mu.Lock()
	if gen != p.gen || (p.inflight && p.inflightGen == gen) {
		p.mu.Unlock()
		return
	}
	p.inflight = true
	p.inflightGen = gen
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.inflightGen == gen {
			p.inflight = false
		}
		p.mu.Unlock()
	}()

	if err := p.fetchMessages(ctx, conversationID, gen); err != nil && p.Current(gen) {
		p.opts.Reporter.Report("poll.messages", err, map[string]any{"conversationId": conversationID})
	}
}

func (p *Poller) conversationTick(ctx context.Context, gen uint64) {
	if !p.visible() || !p.Current(gen) {
		return
	}
	if err := p.fetchConversations(ctx, gen); err != nil && p.Current(gen) {
		p.opts.Reporter.Report("poll.conversations", err, nil)
	}
}
