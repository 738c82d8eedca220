package chatify

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultMatchWindow bounds the distance between a local send and the
// server timestamp of the message that confirms it.
const DefaultMatchWindow = 2 * time.Minute

// Signature is a cheap fingerprint of a message list, used to detect that a
// background poll returned nothing new.
type Signature struct {
	Count         int
	LastID        string
	LastCreatedAt string
}

// SignatureOf fingerprints msgs.
func SignatureOf(msgs []Message) Signature {
	sig := Signature{Count: len(msgs)}
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		sig.LastID = last.ID
		sig.LastCreatedAt = last.CreatedAt
	}
	return sig
}

func (s Signature) String() string {
	return fmt.Sprintf("%d:%s:%s", s.Count, s.LastID, s.LastCreatedAt)
}

type pendingMessage struct {
	msg      Message
	sentAt   time.Time
	baseline map[string]struct{}
	serverID string
}

// Reconciler keeps the rendered message state of the selected conversation
// as two lists: the confirmed list, replaced wholesale by each accepted
// fetch, and the pending list of optimistic messages. View merges them.
//
// A pending message is superseded when the confirmed list contains the
// server id returned for its send, or otherwise the first unclaimed
// confirmed message that was absent when the optimistic message was
// created, with the same author and text and a timestamp within
// MatchWindow of the local send. Pending messages claim in insertion order,
// so identical concurrent sends each claim a distinct server message.
type Reconciler struct {
	// MatchWindow is the timestamp tolerance; zero disables the time check.
	MatchWindow time.Duration

	mu             sync.Mutex
	conversationID string
	confirmed      []Message
	pending        []*pendingMessage
	sig            Signature
	hasSig         bool
	seq            uint64
	now            func() time.Time
}

// NewReconciler creates an empty reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{MatchWindow: DefaultMatchWindow, now: time.Now}
}

// Apply offers a freshly fetched list. A silent (background) fetch whose
// signature equals the previous one for the same conversation is dropped and
// Apply returns false; any other fetch replaces the confirmed list.
func (r *Reconciler) Apply(conversationID string, fetched []Message, silent bool) bool {
	sig := SignatureOf(fetched)

	r.mu.Lock()
	defer r.mu.Unlock()

	if silent && r.hasSig && r.conversationID == conversationID && r.sig == sig {
		return false
	}
	r.conversationID = conversationID
	r.confirmed = append([]Message(nil), fetched...)
	r.sig = sig
	r.hasSig = true
	r.settle()
	return true
}

// settle drops the pending messages of the current conversation that the
// confirmed list now contains.
func (r *Reconciler) settle() {
	claimed := make(map[int]bool)
	superseded := make(map[*pendingMessage]bool)

	for _, p := range r.pending {
		if p.serverID == "" || p.msg.ConversationID != r.conversationID {
			continue
		}
		for i, c := range r.confirmed {
			if !claimed[i] && c.ID == p.serverID {
				claimed[i] = true
				superseded[p] = true
				break
			}
		}
	}
	for _, p := range r.pending {
		if superseded[p] || p.msg.ConversationID != r.conversationID {
			continue
		}
		if i := r.match(p, claimed); i >= 0 {
			claimed[i] = true
			superseded[p] = true
		}
	}

	if len(superseded) == 0 {
		return
	}
	keep := r.pending[:0]
	for _, p := range r.pending {
		if !superseded[p] {
			keep = append(keep, p)
		}
	}
	for i := len(keep); i < len(r.pending); i++ {
		r.pending[i] = nil
	}
	r.pending = keep
}

func (r *Reconciler) match(p *pendingMessage, claimed map[int]bool) int {
	text := strings.TrimSpace(p.msg.Text)
	for i, c := range r.confirmed {
		if claimed[i] {
			continue
		}
		if _, existed := p.baseline[c.ID]; existed {
			continue
		}
		if strings.TrimSpace(c.Text) != text || !sameAuthor(c, p.msg) {
			continue
		}
		if r.MatchWindow > 0 {
			if t := c.Time(); !t.IsZero() {
				d := t.Sub(p.sentAt)
				if d < 0 {
					d = -d
				}
				if d > r.MatchWindow {
					continue
				}
			}
		}
		return i
	}
	return -1
}

func sameAuthor(a, b Message) bool {
	if a.AuthorID != "" && b.AuthorID != "" {
		return a.AuthorID == b.AuthorID
	}
	if a.AuthorName != "" && b.AuthorName != "" {
		return strings.EqualFold(a.AuthorName, b.AuthorName)
	}
	return true
}

// AddPending appends an optimistic message authored by author and returns it.
func (r *Reconciler) AddPending(conversationID string, author IdentityRecord, text string) Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	now := r.now()
	msg := Message{
		ID:             fmt.Sprintf("%s%d_%d", TempPrefix, now.UnixNano(), r.seq),
		ConversationID: conversationID,
		AuthorID:       author.UserID,
		AuthorName:     author.Username,
		AvatarURL:      author.AvatarURL,
		Text:           text,
		CreatedAt:      now.UTC().Format(time.RFC3339Nano),
	}
	baseline := make(map[string]struct{})
	if conversationID == r.conversationID {
		for _, c := range r.confirmed {
			baseline[c.ID] = struct{}{}
		}
	}
	r.pending = append(r.pending, &pendingMessage{msg: msg, sentAt: now, baseline: baseline})
	return msg
}

// Confirm records the server id assigned to a pending message.
func (r *Reconciler) Confirm(tempID, serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.find(tempID); p != nil {
		p.serverID = serverID
		p.msg.Failed = false
		r.settle()
	}
}

// Fail marks a pending message whose send errored. It stays visible.
func (r *Reconciler) Fail(tempID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.find(tempID); p != nil {
		p.msg.Failed = true
	}
}

// Retry clears the failed mark of a pending message so it can be sent
// again. It reports false for unknown ids and messages that have not failed.
func (r *Reconciler) Retry(tempID string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.find(tempID)
	if p == nil || !p.msg.Failed {
		return Message{}, false
	}
	p.msg.Failed = false
	p.sentAt = r.now()
	return p.msg, true
}

// Discard removes a pending message, e.g. a failed send the user dismissed.
func (r *Reconciler) Discard(tempID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.pending {
		if p.msg.ID == tempID {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Reconciler) find(tempID string) *pendingMessage {
	for _, p := range r.pending {
		if p.msg.ID == tempID {
			return p
		}
	}
	return nil
}

// View returns the rendered list: confirmed messages followed by the
// pending messages of the current conversation.
func (r *Reconciler) View() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, 0, len(r.confirmed)+len(r.pending))
	out = append(out, r.confirmed...)
	for _, p := range r.pending {
		if p.msg.ConversationID == r.conversationID {
			out = append(out, p.msg)
		}
	}
	return out
}

// Pending returns the number of unconfirmed messages across conversations.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Signature returns the fingerprint of the last accepted fetch.
func (r *Reconciler) Signature() Signature {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sig
}

// ConversationID returns the conversation of the confirmed list.
func (r *Reconciler) ConversationID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conversationID
}

// Clear empties the confirmed list of conversationID, keeping pending
// messages, so a failed explicit load does not show another list.
func (r *Reconciler) Clear(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversationID = conversationID
	r.confirmed = nil
	r.sig = Signature{}
	r.hasSig = false
}

// Reset forgets everything.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversationID = ""
	r.confirmed = nil
	r.pending = nil
	r.sig = Signature{}
	r.hasSig = false
}
