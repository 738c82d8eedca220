package chatify

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError is a non-2xx response from the Chatify API.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "chatify: request failed with status " + strconv.Itoa(e.StatusCode)
	}
	return "chatify: " + e.Message
}

// Is lets errors.Is classify API errors against the sentinel taxonomy.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return true
	case ErrConflict:
		return isConflictMessage(e.Message)
	}
	return false
}

// ============================================================================
// Users
// ============================================================================

// User is an account as returned by the users and auth endpoints.
type User struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Identity returns the cache record for the user.
func (u *User) Identity() IdentityRecord {
	if u == nil {
		return IdentityRecord{}
	}
	return IdentityRecord{UserID: u.UserID, Username: u.Username, AvatarURL: strings.TrimSpace(u.Avatar)}
}

// UserUpdate carries the optional profile fields for PUT /user.
type UserUpdate struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// Empty reports whether no field is set.
func (u UserUpdate) Empty() bool {
	return u.Username == "" && u.Email == "" && u.Avatar == ""
}

// RegisterOptions is the payload of POST /auth/register.
type RegisterOptions struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar,omitempty"`
}

type tokenResult struct {
	Token string `json:"token"`
}

// decodeUser reads a user object whose id may be numeric or a string.
func decodeUser(m map[string]any) *User {
	if m == nil {
		return nil
	}
	id, _ := scalarString(m["userId"])
	if id == "" {
		id, _ = scalarString(m["id"])
	}
	name := strOr(m, "username", strOr(m, "userName", ""))
	return &User{
		UserID:   id,
		Username: name,
		Avatar:   strings.TrimSpace(strOr(m, "avatar", "")),
		Email:    strOr(m, "email", ""),
	}
}

// decodeUsers accepts either a bare array or an object with a "users" array.
func decodeUsers(data []byte) ([]User, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case map[string]any:
		items, _ = t["users"].([]any)
	}
	users := make([]User, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			if u := decodeUser(m); u != nil {
				users = append(users, *u)
			}
		}
	}
	return users, nil
}

// ============================================================================
// Banners
// ============================================================================

// BannerKind classifies a user-facing notice.
type BannerKind string

const (
	BannerError   BannerKind = "error"
	BannerSuccess BannerKind = "success"
	BannerInfo    BannerKind = "info"
)

// Banner is the short notice shown above the message list.
type Banner struct {
	Kind BannerKind `json:"kind"`
	Text string     `json:"text"`
}
