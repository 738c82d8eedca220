package chatify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Manual scheduler
// ============================================================================

type manualTimer struct {
	interval  time.Duration
	fn        func()
	cancelled bool
}

// manualScheduler fires ticks only when the test asks for them.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (s *manualScheduler) Every(interval time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm := &manualTimer{interval: interval, fn: fn}
	s.timers = append(s.timers, tm)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		tm.cancelled = true
	}
}

func (s *manualScheduler) active(interval time.Duration) []*manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*manualTimer
	for _, tm := range s.timers {
		if !tm.cancelled && tm.interval == interval {
			out = append(out, tm)
		}
	}
	return out
}

// fire runs one tick of every live timer with interval, synchronously.
func (s *manualScheduler) fire(interval time.Duration) {
	for _, tm := range s.active(interval) {
		tm.fn()
	}
}

// fireAsync starts one tick of every live timer with interval.
func (s *manualScheduler) fireAsync(interval time.Duration) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, tm := range s.active(interval) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tm.fn()
		}()
	}
	return &wg
}

type recordingReporter struct {
	mu     sync.Mutex
	events []string
	infos  []string
	user   *User
}

func (r *recordingReporter) Report(event string, err error, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingReporter) Info(msg string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, msg)
}

func (r *recordingReporter) SetUser(u *User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.user = u
}

func (r *recordingReporter) reported() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// ============================================================================
// Tests
// ============================================================================

func TestPollerSelectStartsBothTimers(t *testing.T) {
	sched := &manualScheduler{}
	var msgCalls, convCalls atomic.Int32
	p := NewPoller(
		func(ctx context.Context, id string, gen uint64) error {
			assert.Equal(t, "c1", id)
			msgCalls.Add(1)
			return nil
		},
		func(ctx context.Context, gen uint64) error {
			convCalls.Add(1)
			return nil
		},
		PollerOptions{Scheduler: sched},
	)

	assert.Equal(t, PollIdle, p.State())
	p.Select(context.Background(), "c1")
	assert.Equal(t, PollPolling, p.State())
	assert.Len(t, sched.active(DefaultMessageInterval), 1)
	assert.Len(t, sched.active(DefaultConversationInterval), 1)

	sched.fire(DefaultMessageInterval)
	sched.fire(DefaultMessageInterval)
	sched.fire(DefaultConversationInterval)
	assert.EqualValues(t, 2, msgCalls.Load())
	assert.EqualValues(t, 1, convCalls.Load())
}

func TestPollerSwitchCancelsPreviousTimers(t *testing.T) {
	sched := &manualScheduler{}
	var got []string
	var mu sync.Mutex
	p := NewPoller(
		func(ctx context.Context, id string, gen uint64) error {
			mu.Lock()
			got = append(got, id)
			mu.Unlock()
			return nil
		},
		func(ctx context.Context, gen uint64) error { return nil },
		PollerOptions{Scheduler: sched},
	)

	g1 := p.Select(context.Background(), "c1")
	g2 := p.Select(context.Background(), "c2")
	assert.NotEqual(t, g1, g2)
	assert.False(t, p.Current(g1))
	assert.True(t, p.Current(g2))

	assert.Len(t, sched.active(DefaultMessageInterval), 1, "no overlap between selections")
	sched.fire(DefaultMessageInterval)
	assert.Equal(t, []string{"c2"}, got)

	p.Select(context.Background(), "")
	assert.Equal(t, PollIdle, p.State())
	assert.Empty(t, sched.active(DefaultMessageInterval))
	assert.Empty(t, sched.active(DefaultConversationInterval))
}

func TestPollerMessageTicksAreExclusive(t *testing.T) {
	sched := &manualScheduler{}
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	p := NewPoller(
		func(ctx context.Context, id string, gen uint64) error {
			if calls.Add(1) == 1 {
				close(started)
				<-release
			}
			return nil
		},
		func(ctx context.Context, gen uint64) error { return nil },
		PollerOptions{Scheduler: sched},
	)
	p.Select(context.Background(), "c1")

	wg := sched.fireAsync(DefaultMessageInterval)
	<-started

	// Fired while the first fetch is pending: dropped, not queued.
	sched.fire(DefaultMessageInterval)
	sched.fire(DefaultMessageInterval)
	assert.EqualValues(t, 1, calls.Load())

	close(release)
	wg.Wait()
	assert.EqualValues(t, 1, calls.Load(), "skipped ticks are not replayed")

	sched.fire(DefaultMessageInterval)
	assert.EqualValues(t, 2, calls.Load())
}

func TestPollerConversationTicksMayOverlap(t *testing.T) {
	sched := &manualScheduler{}
	var calls atomic.Int32
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	p := NewPoller(
		func(ctx context.Context, id string, gen uint64) error { return nil },
		func(ctx context.Context, gen uint64) error {
			calls.Add(1)
			started <- struct{}{}
			<-release
			return nil
		},
		PollerOptions{Scheduler: sched},
	)
	p.Select(context.Background(), "c1")

	wg1 := sched.fireAsync(DefaultConversationInterval)
	wg2 := sched.fireAsync(DefaultConversationInterval)
	<-started
	<-started
	assert.EqualValues(t, 2, calls.Load())
	close(release)
	wg1.Wait()
	wg2.Wait()
}

func TestPollerSkipsWhenHidden(t *testing.T) {
	sched := &manualScheduler{}
	var visible atomic.Bool
	var calls atomic.Int32
	p := NewPoller(
		func(ctx context.Context, id string, gen uint64) error { calls.Add(1); return nil },
		func(ctx context.Context, gen uint64) error { calls.Add(1); return nil },
		PollerOptions{Scheduler: sched, Visible: visible.Load},
	)
	p.Select(context.Background(), "c1")

	sched.fire(DefaultMessageInterval)
	sched.fire(DefaultConversationInterval)
	assert.EqualValues(t, 0, calls.Load())

	visible.Store(true)
	sched.fire(DefaultMessageInterval)
	sched.fire(DefaultConversationInterval)
	assert.EqualValues(t, 2, calls.Load())
}

func TestPollerReportsErrorsAndKeepsTicking(t *testing.T) {
	sched := &manualScheduler{}
	rep := &recordingReporter{}
	var calls atomic.Int32
	p := NewPoller(
		func(ctx context.Context, id string, gen uint64) error {
			calls.Add(1)
			return errors.New("boom")
		},
		func(ctx context.Context, gen uint64) error { return ErrNetwork },
		PollerOptions{Scheduler: sched, Reporter: rep},
	)
	p.Select(context.Background(), "c1")

	sched.fire(DefaultMessageInterval)
	sched.fire(DefaultMessageInterval)
	sched.fire(DefaultConversationInterval)

	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, []string{"poll.messages", "poll.messages", "poll.conversations"}, rep.reported())
	assert.Equal(t, PollPolling, p.State())
}

func TestPollerStopInvalidatesGeneration(t *testing.T) {
	sched := &manualScheduler{}
	p := NewPoller(
		func(ctx context.Context, id string, gen uint64) error { return nil },
		func(ctx context.Context, gen uint64) error { return nil },
		PollerOptions{Scheduler: sched},
	)
	gen := p.Select(context.Background(), "c1")
	p.Stop()
	assert.False(t, p.Current(gen))
	assert.Equal(t, PollIdle, p.State())
	assert.Empty(t, sched.active(DefaultMessageInterval))
}

type ctxKey struct{}

func TestPollerOwnsTickContext(t *testing.T) {
	sched := &manualScheduler{}
	rep := &recordingReporter{}
	var got []context.Context
	var mu sync.Mutex
	p := NewPoller(
		func(ctx context.Context, id string, gen uint64) error {
			mu.Lock()
			got = append(got, ctx)
			mu.Unlock()
			return ctx.Err()
		},
		func(ctx context.Context, gen uint64) error { return ctx.Err() },
		PollerOptions{Scheduler: sched, Reporter: rep},
	)

	reqCtx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "req"))
	p.Select(reqCtx, "c1")
	cancel()

	sched.fire(DefaultMessageInterval)
	sched.fire(DefaultConversationInterval)
	require.Len(t, got, 1)
	assert.NoError(t, got[0].Err(), "caller cancellation does not reach ticks")
	assert.Equal(t, "req", got[0].Value(ctxKey{}))
	assert.Empty(t, rep.reported())

	p.Stop()
	assert.ErrorIs(t, got[0].Err(), context.Canceled, "Stop cancels the tick context")
}

func TestTickerSchedulerCancel(t *testing.T) {
	var ticks atomic.Int32
	cancel := TickerScheduler{}.Every(5*time.Millisecond, func() { ticks.Add(1) })

	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	cancel()

	time.Sleep(20 * time.Millisecond)
	after := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, ticks.Load())
}
