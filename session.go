package chatify

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionState is the persisted part of a session.
type SessionState struct {
	Token     string `toml:"token"`
	CSRFToken string `toml:"csrf_token"`
	Username  string `toml:"username"`
	UserID    string `toml:"user_id"`
}

// SessionStore persists the session between runs.
type SessionStore interface {
	Load() (SessionState, error)
	Save(SessionState) error
	Clear() error
}

// MemorySessionStore keeps the session for the life of the process.
type MemorySessionStore struct {
	mu    sync.Mutex
	state SessionState
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

func (m *MemorySessionStore) Load() (SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *MemorySessionStore) Save(st SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
	return nil
}

func (m *MemorySessionStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = SessionState{}
	return nil
}

// ============================================================================
// Session
// ============================================================================

// userResolveLimit is the page size used to find the signed-in account by name.
const userResolveLimit = 5

// Session owns the credentials of the signed-in user and the identity cache
// that lives as long as they stay signed in. It is the Credentials source of
// its Client.
type Session struct {
	client   *Client
	store    SessionStore
	cache    *IdentityCache
	reporter Reporter
	logger   zerolog.Logger

	mu       sync.RWMutex
	token    string
	csrf     string
	username string
	user     *User
}

type SessionOption func(*Session)

func WithSessionLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

func WithReporter(r Reporter) SessionOption {
	return func(s *Session) { s.reporter = r }
}

// NewSession binds a signed-out session to client.
func NewSession(client *Client, store SessionStore, opts ...SessionOption) *Session {
	s := &Session{
		client:   client,
		store:    store,
		reporter: NopReporter{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = NewMemorySessionStore()
	}
	s.cache = NewIdentityCache(client.Users, s.logger)
	client.SetCredentials(s)
	return s
}

func (s *Session) BearerToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// CSRFToken returns the anti-forgery token, generating it on first use.
func (s *Session) CSRFToken() string {
	s.mu.RLock()
	token := s.csrf
	s.mu.RUnlock()
	if token != "" {
		return token
	}

	s.mu.Lock()
	if s.csrf == "" {
		s.csrf = uuid.NewString()
	}
	token = s.csrf
	s.mu.Unlock()
	s.persist()
	return token
}

func (s *Session) SignedIn() bool {
	return s.BearerToken() != ""
}

// Username is the last name used to sign in.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// User returns a copy of the resolved account, or nil.
func (s *Session) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Self is the signed-in user's display identity, with a fallback avatar.
func (s *Session) Self() IdentityRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := IdentityRecord{Username: s.username}
	if s.user != nil {
		rec = s.user.Identity()
		if rec.Username == "" {
			rec.Username = s.username
		}
	}
	if rec.AvatarURL == "" {
		rec.AvatarURL = FallbackAvatar(firstNonEmpty(rec.Username, rec.UserID))
	}
	return rec
}

// Cache is the identity cache of this session.
func (s *Session) Cache() *IdentityCache { return s.cache }

// Client is the API client the session authenticates.
func (s *Session) Client() *Client { return s.client }

// Reporter is the telemetry sink the session was created with.
func (s *Session) Reporter() Reporter { return s.reporter }

// Login exchanges credentials for a token and resolves the account.
func (s *Session) Login(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return &ValidationError{Message: "username and password are required"}
	}

	token, err := s.client.Auth.Token(ctx, username, password, s.CSRFToken())
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.token = token
	s.username = username
	s.user = nil
	s.mu.Unlock()

	if err := s.ReloadUser(ctx); err != nil {
		s.logger.Warn().Err(err).Str("username", username).Msg("cannot resolve signed-in user")
	}
	s.persist()
	return nil
}

// Register validates opts locally, then creates the account. It does not
// sign in.
func (s *Session) Register(ctx context.Context, opts RegisterOptions) error {
	opts.Username = strings.TrimSpace(opts.Username)
	opts.Email = strings.TrimSpace(opts.Email)
	if err := ValidateRegistration(opts); err != nil {
		return err
	}
	if strings.TrimSpace(opts.Avatar) == "" {
		opts.Avatar = FallbackAvatar(opts.Username)
	}
	return s.client.Auth.Register(ctx, opts, s.CSRFToken())
}

// Logout drops the credentials, the anti-forgery token and the identity
// cache.
func (s *Session) Logout() error {
	s.mu.Lock()
	s.token = ""
	s.csrf = ""
	s.username = ""
	s.user = nil
	s.mu.Unlock()

	s.cache.Reset()
	s.reporter.SetUser(nil)
	return s.store.Clear()
}

// Restore loads a saved session. The account is re-resolved; if that fails
// the saved identity is kept.
func (s *Session) Restore(ctx context.Context) error {
	st, err := s.store.Load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.token = st.Token
	s.csrf = st.CSRFToken
	s.username = st.Username
	if st.UserID != "" || st.Username != "" {
		s.user = &User{UserID: st.UserID, Username: st.Username}
	}
	s.mu.Unlock()

	if st.Token == "" || st.Username == "" {
		return nil
	}
	if err := s.ReloadUser(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("keeping last known user")
		s.seed()
	}
	return nil
}

// ReloadUser resolves the account by the signed-in username, exact match
// ignoring case.
func (s *Session) ReloadUser(ctx context.Context) error {
	name := s.Username()
	if name == "" {
		return nil
	}
	found, err := s.client.Users.Find(ctx, name, userResolveLimit)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if found != nil {
		s.user = found
	} else if s.user == nil || !strings.EqualFold(s.user.Username, name) {
		s.user = &User{Username: name}
	}
	s.mu.Unlock()

	s.seed()
	s.persist()
	return nil
}

// UpdateProfile changes the signed-in account.
func (s *Session) UpdateProfile(ctx context.Context, update UserUpdate) (*User, error) {
	u := s.User()
	if !s.SignedIn() || u == nil || u.UserID == "" {
		return nil, ErrNotSignedIn
	}
	if update.Empty() {
		return u, nil
	}
	updated, err := s.client.Users.Update(ctx, u.UserID, update)
	if err != nil {
		return nil, err
	}

	next := *u
	if updated != nil && updated.UserID != "" {
		next = *updated
	} else {
		next.Username = firstNonEmpty(update.Username, next.Username)
		next.Email = firstNonEmpty(update.Email, next.Email)
		next.Avatar = firstNonEmpty(update.Avatar, next.Avatar)
	}

	s.mu.Lock()
	s.user = &next
	if next.Username != "" {
		s.username = next.Username
	}
	s.mu.Unlock()

	s.seed()
	s.persist()
	return &next, nil
}

// DeleteAccount deletes the signed-in account and signs out.
func (s *Session) DeleteAccount(ctx context.Context) error {
	u := s.User()
	if !s.SignedIn() || u == nil || u.UserID == "" {
		return ErrNotSignedIn
	}
	if err := s.client.Users.Delete(ctx, u.UserID); err != nil {
		return err
	}
	return s.Logout()
}

func (s *Session) seed() {
	u := s.User()
	if u == nil {
		return
	}
	s.cache.Seed(u)
	s.reporter.SetUser(u)
}

func (s *Session) persist() {
	s.mu.RLock()
	st := SessionState{Token: s.token, CSRFToken: s.csrf, Username: s.username}
	if s.user != nil {
		st.UserID = s.user.UserID
	}
	s.mu.RUnlock()
	if err := s.store.Save(st); err != nil {
		s.logger.Warn().Err(err).Msg("cannot persist session")
	}
}
