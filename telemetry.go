package chatify

import (
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
)

// Reporter is a fire-and-forget sink for failures and notable events.
// Implementations must never block the caller on delivery.
type Reporter interface {
	Report(event string, err error, fields map[string]any)
	Info(msg string, fields map[string]any)
	SetUser(u *User)
}

// NopReporter discards everything.
type NopReporter struct{}

func (NopReporter) Report(string, error, map[string]any) {}
func (NopReporter) Info(string, map[string]any)          {}
func (NopReporter) SetUser(*User)                        {}

// LogReporter writes events to a zerolog logger.
type LogReporter struct {
	mu     sync.RWMutex
	logger zerolog.Logger
	user   *User
}

func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(event string, err error, fields map[string]any) {
	e := r.logger.Error().Err(err).Str("event", event)
	r.decorate(e, fields).Msg("chatify error")
}

func (r *LogReporter) Info(msg string, fields map[string]any) {
	r.decorate(r.logger.Info(), fields).Msg(msg)
}

func (r *LogReporter) SetUser(u *User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u == nil {
		r.user = nil
		return
	}
	cp := *u
	r.user = &cp
}

func (r *LogReporter) decorate(e *zerolog.Event, fields map[string]any) *zerolog.Event {
	r.mu.RLock()
	u := r.user
	r.mu.RUnlock()
	if u != nil {
		e = e.Str("user", u.Username)
	}
	if len(fields) > 0 {
		e = e.Fields(fields)
	}
	return e
}

// ============================================================================
// Sentry
// ============================================================================

var placeholderDSNs = map[string]bool{
	"YOUR_SENTRY_DSN":  true,
	"___REPLACE_ME___": true,
	"your_dsn_here":    true,
}

// DSNEnabled returns the trimmed DSN and whether it looks like a real one.
func DSNEnabled(dsn string) (string, bool) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || placeholderDSNs[dsn] {
		return "", false
	}
	return dsn, true
}

// SentryReporter forwards events to Sentry and mirrors them to the log.
type SentryReporter struct {
	log *LogReporter
}

// NewReporter returns a SentryReporter for a usable DSN and a LogReporter
// otherwise, including when Sentry rejects the DSN.
func NewReporter(dsn string, logger zerolog.Logger) Reporter {
	log := NewLogReporter(logger)
	dsn, ok := DSNEnabled(dsn)
	if !ok {
		logger.Debug().Msg("sentry disabled: no DSN set")
		return log
	}
	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, TracesSampleRate: 1.0}); err != nil {
		logger.Warn().Err(err).Msg("sentry disabled: bad DSN")
		return log
	}
	return &SentryReporter{log: log}
}

func (r *SentryReporter) Report(event string, err error, fields map[string]any) {
	r.log.Report(event, err, fields)
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("event", event)
		scope.SetExtras(fields)
		sentry.CaptureException(err)
	})
}

func (r *SentryReporter) Info(msg string, fields map[string]any) {
	r.log.Info(msg, fields)
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelInfo)
		scope.SetExtras(fields)
		sentry.CaptureMessage(msg)
	})
}

func (r *SentryReporter) SetUser(u *User) {
	r.log.SetUser(u)
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		if u == nil {
			scope.SetUser(sentry.User{})
			return
		}
		scope.SetUser(sentry.User{ID: u.UserID, Username: u.Username})
	})
}

// Flush waits up to timeout for queued events to be delivered.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}
