package models

import "strings"

// UserInfo is optional context used to penalize personal data in a
// password. Subject keys the reuse history; when empty the email is used.
type UserInfo struct {
	Subject string `json:"userId,omitempty"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
}

// AnonymousHistoryKey holds the reuse history of checks made without any
// identity.
const AnonymousHistoryKey = "anonymous"

// HistoryKey is the key the reuse history is kept under.
func (u *UserInfo) HistoryKey() string {
	if u == nil {
		return AnonymousHistoryKey
	}
	if u.Subject != "" {
		return u.Subject
	}
	if email := strings.ToLower(strings.TrimSpace(u.Email)); email != "" {
		return email
	}
	return AnonymousHistoryKey
}

type FeedbackCode string

const (
	FeedbackTooShort      FeedbackCode = "too_short"
	FeedbackTooLong       FeedbackCode = "too_long"
	FeedbackNoLowercase   FeedbackCode = "missing_lowercase"
	FeedbackNoUppercase   FeedbackCode = "missing_uppercase"
	FeedbackNoDigit       FeedbackCode = "missing_digit"
	FeedbackNoSpecial     FeedbackCode = "missing_special"
	FeedbackRepeated      FeedbackCode = "repeated_characters"
	FeedbackSequence      FeedbackCode = "common_sequence"
	FeedbackCommon        FeedbackCode = "common_password"
	FeedbackKeyboard      FeedbackCode = "keyboard_pattern"
	FeedbackLowEntropy    FeedbackCode = "low_entropy"
	FeedbackContainsEmail FeedbackCode = "contains_email"
	FeedbackContainsName  FeedbackCode = "contains_name"
	FeedbackReused        FeedbackCode = "recently_used"
	FeedbackBreached      FeedbackCode = "breached"
	FeedbackBreachUnknown FeedbackCode = "breach_check_unavailable"
)

// Feedback is one finding. Required findings fail validation regardless of
// score.
type Feedback struct {
	Code     FeedbackCode `json:"code"`
	Message  string       `json:"message"`
	Required bool         `json:"required,omitempty"`
}

type Breach struct {
	IsBreached bool `json:"isBreached"`
	Count      int  `json:"count"`
	// Checked is false when the corpus was disabled or unreachable.
	Checked bool `json:"checked"`
}

// Assessment is never persisted and never carries the password.
type Assessment struct {
	Score    int        `json:"score"`
	Feedback []Feedback `json:"feedback"`
	Breach   Breach     `json:"breach"`
	IsValid  bool       `json:"isValid"`
}

// HasRequiredFailure reports whether any hard requirement failed.
func (a *Assessment) HasRequiredFailure() bool {
	for _, f := range a.Feedback {
		if f.Required {
			return true
		}
	}
	return false
}

// Has reports whether feedback with code was produced.
func (a *Assessment) Has(code FeedbackCode) bool {
	for _, f := range a.Feedback {
		if f.Code == code {
			return true
		}
	}
	return false
}
