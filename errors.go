package chatify

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrNetwork marks a rejected, failed or timed out request.
	ErrNetwork = errors.New("chatify: network failure")

	// ErrConflict marks a server refusal because the resource already exists,
	// e.g. an invite into a conversation id that is already in use.
	ErrConflict = errors.New("chatify: already exists")

	// ErrNotSignedIn is returned by operations that need a session token.
	ErrNotSignedIn = errors.New("chatify: not signed in")

	// ErrUserNotFound is returned when a username matches no account.
	ErrUserNotFound = errors.New("chatify: user not found")

	// ErrNoConversation is returned when an action needs a selected conversation.
	ErrNoConversation = errors.New("chatify: no conversation selected")
)

// ValidationError is a local input check failure. It never reaches the network.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every failed check of a form.
type ValidationErrors []*ValidationError

func (ve ValidationErrors) Error() string {
	msgs := make([]string, 0, len(ve))
	for _, e := range ve {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// As exposes the first failure to errors.As(*ValidationError).
func (ve ValidationErrors) As(target any) bool {
	if t, ok := target.(**ValidationError); ok && len(ve) > 0 {
		*t = ve[0]
		return true
	}
	return false
}

func isConflictMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "already exists")
}

// ============================================================================
// Local validation
// ============================================================================

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,24}$`)
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]{2,}$`)
	passwordChars   = regexp.MustCompile("^[A-Za-z\\d!@#$%^&*()_+\\-={}\\[\\]|;:'\",.<>/?`~]{8,64}$")
	hasLetter       = regexp.MustCompile(`[A-Za-z]`)
	hasDigit        = regexp.MustCompile(`\d`)
)

// ValidateRegistration checks the register form before anything is sent.
func ValidateRegistration(opts RegisterOptions) error {
	var errs ValidationErrors
	if !usernamePattern.MatchString(opts.Username) {
		errs = append(errs, &ValidationError{Field: "username", Message: "3-24 chars, letters/numbers/._- only"})
	}
	if !emailPattern.MatchString(opts.Email) {
		errs = append(errs, &ValidationError{Field: "email", Message: "enter a valid email address"})
	}
	if !passwordChars.MatchString(opts.Password) || !hasLetter.MatchString(opts.Password) || !hasDigit.MatchString(opts.Password) {
		errs = append(errs, &ValidationError{Field: "password", Message: "8-64 chars, include at least one letter and one number"})
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ParseUserID validates an invite target. Accounts are numbered, so a GUID
// or a name is rejected here instead of by the server.
func ParseUserID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", &ValidationError{Message: "UserId must be a number (e.g. 55), not a GUID."}
	}
	return strconv.FormatInt(n, 10), nil
}

// ============================================================================
// Banners
// ============================================================================

// BannerFor maps an action failure onto the banner shown to the user.
func BannerFor(err error, fallback string) Banner {
	var ve *ValidationError
	var apiErr *APIError
	switch {
	case err == nil:
		return Banner{Kind: BannerSuccess, Text: fallback}
	case errors.Is(err, ErrConflict):
		return Banner{Kind: BannerError, Text: "Invite with this conversation ID already exists. Start a new conversation for a fresh GUID."}
	case errors.As(err, &ve):
		return Banner{Kind: BannerError, Text: err.Error()}
	case errors.Is(err, ErrNoConversation):
		return Banner{Kind: BannerError, Text: "Select or create a conversation first."}
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return Banner{Kind: BannerError, Text: apiErr.Message}
	}
	return Banner{Kind: BannerError, Text: fallback}
}
