package chatify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeConversations(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"null", `null`, []string{}},
		{"empty array", `[]`, []string{}},
		{"empty object", `{}`, []string{}},
		{"malformed", `{"participating": [`, []string{}},
		{"strings", `["a", "b", "a"]`, []string{"a", "b"}},
		{"conversationId objects", `[{"conversationId": "c1"}, {"conversationId": "c2"}]`, []string{"c1", "c2"}},
		{"id objects", `[{"id": "c1"}, {"id": 7}]`, []string{"c1", "7"}},
		{"conversationId wins over id", `[{"conversationId": "c1", "id": "x"}]`, []string{"c1"}},
		{
			"categorized",
			`{"participating": ["c1", {"conversationId": "c2"}],
			  "invites": {"sent": [{"id": "c3"}], "received": ["c1", "c4"]}}`,
			[]string{"c1", "c2", "c3", "c4"},
		},
		{
			"flat invite keys",
			`{"invitesSent": ["c2"], "invitesReceived": [{"conversationId": "c3"}], "participating": ["c1"]}`,
			[]string{"c1", "c2", "c3"},
		},
		{"items wrapper", `{"items": [{"conversationId": "c9"}]}`, []string{"c9"}},
		{"unknown keys ignored", `{"other": ["c1"], "count": 3}`, []string{}},
		{"nested arrays", `[["a", ["b"]], "a"]`, []string{"a", "b"}},
		{"empty ids skipped", `["", {"id": ""}, {"conversationId": null, "id": "c1"}]`, []string{"c1"}},
		{"scalar number ignored", `42`, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeConversations([]byte(tt.raw)))
		})
	}
}

func TestNormalizerCustomWrappers(t *testing.T) {
	n := Normalizer{IDKeys: []string{"key"}, Wrappers: paths("data.threads")}
	got := n.Normalize(map[string]any{
		"data": map[string]any{"threads": []any{map[string]any{"key": "t1"}, "t2"}},
	})
	assert.Equal(t, []string{"t1", "t2"}, got)
}

func TestNormalizerDepthLimit(t *testing.T) {
	var v any = "deep"
	for i := 0; i < maxNormalizeDepth+5; i++ {
		v = []any{v}
	}
	assert.Empty(t, DefaultNormalizer.Normalize(v))
}
