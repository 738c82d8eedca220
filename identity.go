package chatify

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// PlaceholderUsername is displayed while an author is still being resolved.
// It is never stored over a known name.
const PlaceholderUsername = "user"

// DefaultBackfillLimit caps the lookups issued by one Ensure call.
const DefaultBackfillLimit = 10

// FallbackAvatar returns a stable generated avatar for a username or id, so
// every author has something renderable before backfill completes.
func FallbackAvatar(seed string) string {
	if seed == "" {
		seed = "U"
	}
	return "https://i.pravatar.cc/150?u=" + url.QueryEscape(seed)
}

// IdentityRecord is what the client knows about a user.
type IdentityRecord struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar"`
}

// UserLookup fetches a single user. *UsersClient implements it.
type UserLookup interface {
	Get(ctx context.Context, userID string) (*User, error)
}

// IdentityCache maps user ids to display identities. Entries only ever gain
// information: a populated username or avatar is never replaced by an
// empty value or by the placeholder.
type IdentityCache struct {
	mu      sync.RWMutex
	entries map[string]IdentityRecord

	lookup UserLookup
	limit  int
	logger zerolog.Logger
}

// NewIdentityCache creates a cache that backfills through lookup.
func NewIdentityCache(lookup UserLookup, logger zerolog.Logger) *IdentityCache {
	return &IdentityCache{
		entries: make(map[string]IdentityRecord),
		lookup:  lookup,
		limit:   DefaultBackfillLimit,
		logger:  logger,
	}
}

// Lookup is cache-only and never blocks on the network.
func (c *IdentityCache) Lookup(userID string) (IdentityRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.entries[userID]
	return rec, ok
}

// Merge folds rec into the cache and returns the resulting entry.
func (c *IdentityCache) Merge(rec IdentityRecord) IdentityRecord {
	if rec.UserID == "" {
		return rec
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := mergeIdentity(c.entries[rec.UserID], rec)
	c.entries[rec.UserID] = merged
	return merged
}

// Seed caches the signed-in user.
func (c *IdentityCache) Seed(u *User) {
	if u == nil || u.UserID == "" {
		return
	}
	rec := u.Identity()
	if rec.AvatarURL == "" {
		rec.AvatarURL = FallbackAvatar(firstNonEmpty(u.Username, u.UserID))
	}
	c.Merge(rec)
}

// Reset drops every entry; used on logout.
func (c *IdentityCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]IdentityRecord)
}

// Len returns the number of cached users.
func (c *IdentityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func mergeIdentity(old, incoming IdentityRecord) IdentityRecord {
	out := old
	out.UserID = firstNonEmpty(old.UserID, incoming.UserID)
	name := strings.TrimSpace(incoming.Username)
	if name != "" && (name != PlaceholderUsername || old.Username == "") {
		out.Username = name
	}
	if avatar := strings.TrimSpace(incoming.AvatarURL); avatar != "" {
		out.AvatarURL = avatar
	}
	return out
}

// Ensure backfills the authors of msgs that are unknown or have no avatar.
// Names embedded in the messages are cached first. At most the backfill
// limit of lookups run per call, concurrently; a failed lookup is logged and
// does not affect the others.
func (c *IdentityCache) Ensure(ctx context.Context, msgs []Message) error {
	if c.lookup == nil {
		return nil
	}
	toFetch := c.pending(msgs)
	if len(toFetch) == 0 {
		return nil
	}

	results := make([]*IdentityRecord, len(toFetch))
	var g errgroup.Group
	g.SetLimit(c.limit)
	for i, id := range toFetch {
		g.Go(func() error {
			u, err := c.lookup.Get(ctx, id)
			if err != nil {
				c.logger.Debug().Err(err).Str("user_id", id).Msg("identity backfill failed")
				return nil
			}
			if u == nil {
				return nil
			}
			rec := u.Identity()
			rec.UserID = id
			results[i] = &rec
			return nil
		})
	}
	_ = g.Wait()

	for _, rec := range results {
		if rec == nil {
			continue
		}
		known, _ := c.Lookup(rec.UserID)
		if rec.AvatarURL == "" && known.AvatarURL == "" {
			rec.AvatarURL = FallbackAvatar(firstNonEmpty(rec.Username, known.Username, rec.UserID))
		}
		c.Merge(*rec)
	}
	return ctx.Err()
}

// pending returns the ids Ensure should fetch, in message order.
func (c *IdentityCache) pending(msgs []Message) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, m := range msgs {
		id := m.AuthorID
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		rec, ok := c.Lookup(id)
		if ok && rec.AvatarURL != "" {
			continue
		}
		if !ok && (m.AuthorName != "" || m.AvatarURL != "") {
			c.Merge(IdentityRecord{UserID: id, Username: m.AuthorName, AvatarURL: m.AvatarURL})
			if m.AvatarURL != "" {
				continue
			}
		}
		ids = append(ids, id)
		if len(ids) >= c.limit {
			break
		}
	}
	return ids
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
