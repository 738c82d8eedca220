package chatify

import (
	"encoding/json"
	"strconv"
	"strings"
)

// FieldPath is a key path into a loosely-typed JSON object, e.g.
// {"createdBy", "userId"}.
type FieldPath []string

// ParseFieldPath splits a dotted path such as "user.id".
func ParseFieldPath(s string) FieldPath {
	return FieldPath(strings.Split(s, "."))
}

func (p FieldPath) String() string {
	return strings.Join(p, ".")
}

// lookup walks the path and returns the leaf, if every step resolves.
func (p FieldPath) lookup(m map[string]any) (any, bool) {
	var cur any = m
	for _, key := range p {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// Extractor resolves message fields whose location varies between API
// versions. Each rule list is tried in order and the first scalar hit wins.
type Extractor struct {
	AuthorID   []FieldPath
	AuthorName []FieldPath
	Avatar     []FieldPath
	ReadFlags  []FieldPath
}

// DefaultExtractor covers every message shape the API has been seen to return.
var DefaultExtractor = Extractor{
	AuthorID: paths(
		"userId", "userid", "userID", "authorId", "senderId",
		"user", "user.userId", "user.id",
		"createdBy", "createdBy.userId", "createdBy.id",
	),
	AuthorName: paths(
		"username", "userName", "user.username", "user.name",
		"author.username", "sender.username", "createdBy.username", "createdByName",
	),
	Avatar: paths(
		"avatar", "user.avatar", "author.avatar", "sender.avatar", "createdBy.avatar",
	),
	ReadFlags: paths("read", "seen", "isRead"),
}

func paths(ss ...string) []FieldPath {
	out := make([]FieldPath, 0, len(ss))
	for _, s := range ss {
		out = append(out, ParseFieldPath(s))
	}
	return out
}

// First returns the first non-empty scalar found by rules.
func (x Extractor) First(m map[string]any, rules []FieldPath) (string, bool) {
	for _, rule := range rules {
		v, ok := rule.lookup(m)
		if !ok {
			continue
		}
		if s, ok := scalarString(v); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// AuthorIDOf returns the author id of a raw message.
func (x Extractor) AuthorIDOf(m map[string]any) string {
	s, _ := x.First(m, x.AuthorID)
	return s
}

// AuthorNameOf returns the author name embedded in a raw message.
func (x Extractor) AuthorNameOf(m map[string]any) string {
	s, _ := x.First(m, x.AuthorName)
	return s
}

// AvatarOf returns the author avatar embedded in a raw message.
func (x Extractor) AvatarOf(m map[string]any) string {
	s, _ := x.First(m, x.Avatar)
	return strings.TrimSpace(s)
}

// IsRead reports whether any read flag is truthy.
func (x Extractor) IsRead(m map[string]any) bool {
	for _, rule := range x.ReadFlags {
		if v, ok := rule.lookup(m); ok && truthy(v) {
			return true
		}
	}
	return false
}

// scalarString renders strings and numbers; objects and arrays do not match.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	}
	return "", false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	case float64:
		return t != 0
	}
	return v != nil
}

func strOr(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
