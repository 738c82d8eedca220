// Package chatify is a client core for the Chatify messaging API.
//
// It covers the REST endpoints through sub-clients, and the client-side
// state a chat front end needs on top of them: an identity cache for
// message authors, persisted conversation titles, a reconciler merging
// optimistic sends with the polled server list, and a two-cadence poller.
//
// Example:
//
//	client := chatify.NewClient(chatify.WithBaseURL("https://chatify-api.up.railway.app"))
//	session := chatify.NewSession(client, chatify.NewMemorySessionStore())
//	_ = session.Login(ctx, "alice", "s3cret-pass1")
//
//	chat := chatify.NewChat(client, session, chatify.NewMemoryTitleStore())
//	chat.OnChange(func(v chatify.ChatView) { render(v) })
//	_ = chat.Start(ctx)
//	_ = chat.Send(ctx, "hello")
package chatify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ============================================================================
// Client
// ============================================================================

const (
	DefaultBaseURL = "https://chatify-api.up.railway.app"
	DefaultTimeout = 30 * time.Second
)

// Credentials supplies the tokens attached to outgoing requests. *Session
// implements it.
type Credentials interface {
	BearerToken() string
	CSRFToken() string
}

// StaticCredentials is a fixed bearer token without an anti-forgery token.
type StaticCredentials string

func (s StaticCredentials) BearerToken() string { return string(s) }
func (s StaticCredentials) CSRFToken() string   { return "" }

type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger

	mu    sync.RWMutex
	creds Credentials

	Auth          *AuthClient
	Users         *UsersClient
	Conversations *ConversationsClient
	Messages      *MessagesClient
	Invites       *InvitesClient
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithRateLimit throttles requests to rps per second with the given burst.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

func WithCredentials(creds Credentials) ClientOption {
	return func(c *Client) { c.creds = creds }
}

// NewClient creates a Chatify API client. Without credentials requests are
// sent anonymously, which is enough for register and login.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Auth = &AuthClient{c: c}
	c.Users = &UsersClient{c: c}
	c.Conversations = &ConversationsClient{c: c}
	c.Messages = &MessagesClient{c: c}
	c.Invites = &InvitesClient{c: c}
	return c
}

// SetCredentials replaces the token source.
func (c *Client) SetCredentials(creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
}

// BaseURL returns the API root requests are sent to.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if creds := c.credentials(); creds != nil {
		if token := creds.BearerToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if method != http.MethodGet {
			if csrf := creds.CSRFToken(); csrf != "" {
				req.Header.Set("X-CSRF-Token", csrf)
			}
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrNetwork, err)
	}
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	return data, nil
}

// errorMessage pulls the server's explanation out of an error body.
func errorMessage(data []byte) string {
	var body map[string]any
	if err := json.Unmarshal(data, &body); err == nil {
		for _, key := range []string{"error", "message"} {
			if s, ok := body[key].(string); ok && s != "" {
				return s
			}
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func decodeObject(data []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// ============================================================================
// Auth
// ============================================================================

type AuthClient struct{ c *Client }

// Token exchanges credentials for a bearer token.
func (a *AuthClient) Token(ctx context.Context, username, password, csrfToken string) (string, error) {
	payload := map[string]string{
		"username":  username,
		"password":  password,
		"csrfToken": csrfToken,
	}
	data, err := a.c.doRequest(ctx, http.MethodPost, "/auth/token", payload, nil)
	if err != nil {
		return "", err
	}
	res, err := decodeJSON[tokenResult](data)
	if err != nil {
		return "", err
	}
	if res.Token == "" {
		return "", errors.New("chatify: token response without token")
	}
	return res.Token, nil
}

// Register creates an account.
func (a *AuthClient) Register(ctx context.Context, opts RegisterOptions, csrfToken string) error {
	payload := map[string]string{
		"username":  opts.Username,
		"password":  opts.Password,
		"email":     opts.Email,
		"avatar":    opts.Avatar,
		"csrfToken": csrfToken,
	}
	_, err := a.c.doRequest(ctx, http.MethodPost, "/auth/register", payload, nil)
	return err
}

// ============================================================================
// Users
// ============================================================================

type UsersClient struct{ c *Client }

// Search lists users whose name matches username. A limit of zero leaves
// the server default.
func (u *UsersClient) Search(ctx context.Context, username string, limit int) ([]User, error) {
	q := url.Values{}
	if username != "" {
		q.Set("username", username)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	data, err := u.c.doRequest(ctx, http.MethodGet, "/users", nil, q)
	if err != nil {
		return nil, err
	}
	users, err := decodeUsers(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal users: %w", err)
	}
	return users, nil
}

// Find returns the user whose name equals username, ignoring case, or nil.
func (u *UsersClient) Find(ctx context.Context, username string, limit int) (*User, error) {
	users, err := u.Search(ctx, username, limit)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if strings.EqualFold(users[i].Username, username) {
			return &users[i], nil
		}
	}
	return nil, nil
}

func (u *UsersClient) Get(ctx context.Context, userID string) (*User, error) {
	data, err := u.c.doRequest(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, nil)
	if err != nil {
		return nil, err
	}
	user := decodeUser(decodeObject(data))
	if user == nil {
		return nil, fmt.Errorf("failed to unmarshal user %s", userID)
	}
	if user.UserID == "" {
		user.UserID = userID
	}
	return user, nil
}

// Update changes profile fields of userID and returns the updated user when
// the server echoes one.
func (u *UsersClient) Update(ctx context.Context, userID string, update UserUpdate) (*User, error) {
	payload := map[string]any{
		"userId":      userID,
		"updatedData": update,
	}
	data, err := u.c.doRequest(ctx, http.MethodPut, "/user", payload, nil)
	if err != nil {
		return nil, err
	}
	obj := decodeObject(data)
	if inner, ok := obj["user"].(map[string]any); ok {
		obj = inner
	}
	return decodeUser(obj), nil
}

func (u *UsersClient) Delete(ctx context.Context, userID string) error {
	_, err := u.c.doRequest(ctx, http.MethodDelete, "/users/"+url.PathEscape(userID), nil, nil)
	return err
}

// ============================================================================
// Conversations
// ============================================================================

type ConversationsClient struct{ c *Client }

// Raw returns the conversations payload undecoded.
func (cv *ConversationsClient) Raw(ctx context.Context) ([]byte, error) {
	return cv.c.doRequest(ctx, http.MethodGet, "/conversations", nil, nil)
}

// List returns the normalized conversation ids.
func (cv *ConversationsClient) List(ctx context.Context) ([]string, error) {
	data, err := cv.Raw(ctx)
	if err != nil {
		return nil, err
	}
	return NormalizeConversations(data), nil
}

// ============================================================================
// Messages
// ============================================================================

type MessagesClient struct{ c *Client }

// List fetches a conversation's messages in server order.
func (m *MessagesClient) List(ctx context.Context, conversationID string) ([]Message, error) {
	q := url.Values{}
	q.Set("conversationId", conversationID)
	data, err := m.c.doRequest(ctx, http.MethodGet, "/messages", nil, q)
	if err != nil {
		return nil, err
	}
	msgs, err := DecodeMessages(data, conversationID, DefaultExtractor)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}
	return msgs, nil
}

// Send posts text and returns the created message. The result is nil when
// the server does not echo it.
func (m *MessagesClient) Send(ctx context.Context, conversationID, text string) (*Message, error) {
	payload := map[string]string{
		"text":           text,
		"conversationId": conversationID,
	}
	data, err := m.c.doRequest(ctx, http.MethodPost, "/messages", payload, nil)
	if err != nil {
		return nil, err
	}
	obj := decodeObject(data)
	if inner, ok := obj["latestMessage"].(map[string]any); ok {
		obj = inner
	} else if inner, ok := obj["message"].(map[string]any); ok {
		obj = inner
	}
	if obj == nil {
		return nil, nil
	}
	msg := decodeMessage(obj, conversationID, DefaultExtractor)
	if msg.ID == "" {
		return nil, nil
	}
	return &msg, nil
}

// Delete removes a message. Optimistic messages only exist locally, so a
// temp id returns nil without a request.
func (m *MessagesClient) Delete(ctx context.Context, messageID string) error {
	if IsTempID(messageID) {
		return nil
	}
	_, err := m.c.doRequest(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil)
	return err
}

// ============================================================================
// Invites
// ============================================================================

type InvitesClient struct{ c *Client }

// Send invites userID into conversationID. Inviting into a conversation id
// that already exists fails with an error matching ErrConflict.
func (i *InvitesClient) Send(ctx context.Context, userID, conversationID string) error {
	payload := map[string]string{"conversationId": conversationID}
	_, err := i.c.doRequest(ctx, http.MethodPost, "/invite/"+url.PathEscape(userID), payload, nil)
	return err
}
