package chatify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Fake Chatify API
// ============================================================================

type fakeUser struct {
	ID       int    `json:"userId"`
	Username string `json:"username"`
	Password string `json:"-"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// fakeAPI is an in-memory Chatify server. Tokens are "tok-<userId>", so a
// rename keeps the caller signed in.
type fakeAPI struct {
	t *testing.T

	mu            sync.Mutex
	users         []*fakeUser
	conversations any
	messages      map[string][]map[string]any
	invited       map[string]bool
	nextUserID    int
	nextMsgID     int
	calls         map[string]int
	headers       map[string]http.Header
	bodies        map[string]map[string]any
	fail          map[string]int
	block         map[string]chan struct{}
	late          map[string]chan struct{}
	echoSend      bool
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{
		t:          t,
		messages:   make(map[string][]map[string]any),
		invited:    make(map[string]bool),
		nextUserID: 50,
		nextMsgID:  1000,
		calls:      make(map[string]int),
		headers:    make(map[string]http.Header),
		bodies:     make(map[string]map[string]any),
		fail:       make(map[string]int),
		block:      make(map[string]chan struct{}),
		late:       make(map[string]chan struct{}),
		echoSend:   true,
	}
	f.conversations = []any{}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) addUser(name, password string) *fakeUser {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextUserID++
	u := &fakeUser{ID: f.nextUserID, Username: name, Password: password, Email: name + "@example.com"}
	f.users = append(f.users, u)
	return u
}

func (f *fakeAPI) addMessage(conversationID string, author *fakeUser, text string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addMessageLocked(conversationID, author, text)
}

func (f *fakeAPI) addMessageLocked(conversationID string, author *fakeUser, text string) map[string]any {
	f.nextMsgID++
	m := map[string]any{
		"id":             f.nextMsgID,
		"text":           text,
		"conversationId": conversationID,
		"userId":         author.ID,
		"createdAt":      time.Now().UTC().Format(time.RFC3339Nano),
	}
	f.messages[conversationID] = append(f.messages[conversationID], m)
	return m
}

func (f *fakeAPI) setConversations(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = v
}

// failWith makes the next n calls of key ("GET /messages") answer status.
func (f *fakeAPI) failWith(key string, status, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[key] = status*1000 + n
}

// holdCalls blocks every call of key until the returned func is called.
func (f *fakeAPI) holdCalls(key string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.block[key] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.block, key)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// delayResponse lets the next call of key read the current state but holds
// its response until the returned func is called.
func (f *fakeAPI) delayResponse(key string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.late[key] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fakeAPI) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeAPI) lastHeader(key string) http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers[key]
}

func (f *fakeAPI) lastBody(key string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[key]
}

func (f *fakeAPI) route(r *http.Request) string {
	p := r.URL.Path
	for _, prefix := range []string{"/users/", "/messages/", "/invite/"} {
		if strings.HasPrefix(p, prefix) && len(p) > len(prefix) {
			return r.Method + " " + prefix + "{id}"
		}
	}
	return r.Method + " " + p
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	key := f.route(r)
	f.mu.Lock()
	late := f.late[key]
	delete(f.late, key)
	f.mu.Unlock()
	if late == nil {
		f.handle(w, r, key)
		return
	}

	rec := httptest.NewRecorder()
	f.handle(rec, r, key)
	<-late
	for k, v := range rec.Header() {
		w.Header()[k] = v
	}
	w.WriteHeader(rec.Code)
	_, _ = w.Write(rec.Body.Bytes())
}

func (f *fakeAPI) handle(w http.ResponseWriter, r *http.Request, key string) {
	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	f.mu.Lock()
	f.calls[key]++
	f.headers[key] = r.Header.Clone()
	f.bodies[key] = body
	block := f.block[key]
	failure := f.fail[key]
	if failure > 0 {
		if failure%1000 <= 1 {
			delete(f.fail, key)
		} else {
			f.fail[key] = failure - 1
		}
	}
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if failure > 0 {
		writeJSON(w, failure/1000, map[string]any{"error": "injected failure"})
		return
	}

	who := f.caller(r)
	if !strings.HasPrefix(r.URL.Path, "/auth/") && who == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Missing token"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	tail := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	switch key {
	case "POST /auth/token":
		u := f.findLocked(str(body["username"]))
		if u == nil || u.Password != str(body["password"]) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": tokenFor(u)})

	case "POST /auth/register":
		if f.findLocked(str(body["username"])) != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Username or email already exists"})
			return
		}
		f.nextUserID++
		f.users = append(f.users, &fakeUser{
			ID: f.nextUserID, Username: str(body["username"]), Password: str(body["password"]),
			Email: str(body["email"]), Avatar: str(body["avatar"]),
		})
		writeJSON(w, http.StatusCreated, map[string]any{"message": "User registered"})

	case "GET /users":
		q := strings.ToLower(r.URL.Query().Get("username"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		out := []any{}
		for _, u := range f.users {
			if q != "" && !strings.Contains(strings.ToLower(u.Username), q) {
				continue
			}
			out = append(out, u)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		writeJSON(w, http.StatusOK, out)

	case "GET /users/{id}":
		u := f.byIDLocked(tail)
		if u == nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "User not found"})
			return
		}
		writeJSON(w, http.StatusOK, u)

	case "PUT /user":
		u := f.byIDLocked(str(body["userId"]))
		if u == nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "User not found"})
			return
		}
		upd, _ := body["updatedData"].(map[string]any)
		if s := str(upd["username"]); s != "" {
			u.Username = s
		}
		if s := str(upd["email"]); s != "" {
			u.Email = s
		}
		if s := str(upd["avatar"]); s != "" {
			u.Avatar = s
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "User updated", "user": u})

	case "DELETE /users/{id}":
		for i, u := range f.users {
			if strconv.Itoa(u.ID) == tail {
				f.users = append(f.users[:i], f.users[i+1:]...)
				writeJSON(w, http.StatusOK, map[string]any{"message": "User deleted"})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "User not found"})

	case "GET /conversations":
		writeJSON(w, http.StatusOK, f.conversations)

	case "GET /messages":
		msgs := f.messages[r.URL.Query().Get("conversationId")]
		if msgs == nil {
			msgs = []map[string]any{}
		}
		writeJSON(w, http.StatusOK, msgs)

	case "POST /messages":
		m := f.addMessageLocked(str(body["conversationId"]), who, str(body["text"]))
		if f.echoSend {
			writeJSON(w, http.StatusCreated, map[string]any{"message": "Message sent", "latestMessage": m})
		} else {
			writeJSON(w, http.StatusCreated, map[string]any{"message": "Message sent"})
		}

	case "DELETE /messages/{id}":
		for conv, msgs := range f.messages {
			for i, m := range msgs {
				if str(m["id"]) == tail {
					f.messages[conv] = append(msgs[:i], msgs[i+1:]...)
					writeJSON(w, http.StatusOK, map[string]any{"message": "Message deleted"})
					return
				}
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Message not found"})

	case "POST /invite/{id}":
		conv := str(body["conversationId"])
		if f.byIDLocked(tail) == nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "User not found"})
			return
		}
		if f.invited[conv] {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invite with this conversation ID already exists"})
			return
		}
		f.invited[conv] = true
		if list, ok := f.conversations.([]any); ok {
			f.conversations = append(list, conv)
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Invite sent"})

	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no route " + key})
	}
}

func (f *fakeAPI) caller(r *http.Request) *fakeUser {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer tok-") {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byIDLocked(strings.TrimPrefix(auth, "Bearer tok-"))
}

func (f *fakeAPI) findLocked(name string) *fakeUser {
	for _, u := range f.users {
		if strings.EqualFold(u.Username, name) {
			return u
		}
	}
	return nil
}

func (f *fakeAPI) byIDLocked(id string) *fakeUser {
	for _, u := range f.users {
		if strconv.Itoa(u.ID) == id {
			return u
		}
	}
	return nil
}

func tokenFor(u *fakeUser) string {
	return "tok-" + strconv.Itoa(u.ID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func str(v any) string {
	s, _ := scalarString(v)
	return s
}

// signedIn returns a client and session logged in as name on f.
func signedIn(t *testing.T, f *fakeAPI, srv *httptest.Server, name string) (*Client, *Session) {
	t.Helper()
	if f.findLockedSafe(name) == nil {
		f.addUser(name, "passw0rd!")
	}
	client := NewClient(WithBaseURL(srv.URL))
	session := NewSession(client, NewMemorySessionStore())
	if err := session.Login(context.Background(), name, "passw0rd!"); err != nil {
		t.Fatalf("login %s: %v", name, err)
	}
	return client, session
}

func (f *fakeAPI) findLockedSafe(name string) *fakeUser {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findLocked(name)
}
