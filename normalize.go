package chatify

import "encoding/json"

// Normalizer turns a conversations payload of any shape into an ordered
// list of unique conversation ids.
type Normalizer struct {
	// IDKeys are the object fields that name a conversation, in priority order.
	IDKeys []string
	// Wrappers are the object paths whose values are walked recursively.
	Wrappers []FieldPath
}

// DefaultNormalizer knows the payload layouts served by the API so far:
// plain arrays, and objects categorizing ids into participating and invite lists.
var DefaultNormalizer = Normalizer{
	IDKeys: []string{"conversationId", "id"},
	Wrappers: paths(
		"participating",
		"invites.sent", "invites.received",
		"invitesSent", "invitesReceived",
		"items",
	),
}

// NormalizeConversations decodes raw and normalizes it with DefaultNormalizer.
// Malformed input yields an empty list.
func NormalizeConversations(raw []byte) []string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return []string{}
	}
	return DefaultNormalizer.Normalize(v)
}

// Normalize never fails: a payload it cannot make sense of yields an empty
// list, because a parse failure must not blank the conversation list.
func (n Normalizer) Normalize(v any) (ids []string) {
	seen := make(map[string]struct{})
	ids = []string{}
	defer func() {
		if r := recover(); r != nil {
			ids = []string{}
		}
	}()
	n.walk(v, seen, &ids, 0)
	return ids
}

const maxNormalizeDepth = 32

func (n Normalizer) walk(v any, seen map[string]struct{}, ids *[]string, depth int) {
	if depth > maxNormalizeDepth {
		return
	}
	add := func(id string) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		*ids = append(*ids, id)
	}

	switch t := v.(type) {
	case string:
		add(t)
	case []any:
		for _, item := range t {
			n.walk(item, seen, ids, depth+1)
		}
	case map[string]any:
		for _, key := range n.IDKeys {
			if id, ok := scalarString(t[key]); ok && id != "" {
				add(id)
				break
			}
		}
		for _, w := range n.Wrappers {
			if inner, ok := w.lookup(t); ok {
				n.walk(inner, seen, ids, depth+1)
			}
		}
	}
}
