// Package strength scores a password locally. It knows nothing about
// breach corpora or history; the password service layers those on top.
package strength

import (
	"math"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"aegis/internal/password/models"
)

const (
	MinLength    = 8
	StrongLength = 12
	MaxLength    = 128
)

var (
	sequencePattern = regexp.MustCompile(`(?i)123|abc|qwerty`)

	keyboardRuns = []string{
		"qwer", "wert", "erty", "rtyu", "tyui", "yuio", "uiop",
		"asdf", "sdfg", "dfgh", "fghj", "ghjk", "hjkl",
		"zxcv", "xcvb", "cvbn", "vbnm",
		"1qaz", "2wsx", "3edc", "qazw", "wasd",
		"!@#$", "@#$%", "#$%^",
	}

	commonPasswords = []string{
		"password", "password1", "password123", "passw0rd", "123456", "12345678",
		"123456789", "1234567890", "qwerty", "qwerty123", "abc123", "111111",
		"123123", "admin", "admin123", "letmein", "welcome", "welcome1",
		"monkey", "dragon", "football", "baseball", "iloveyou", "trustno1",
		"sunshine", "master", "shadow", "superman", "princess", "login",
		"starwars", "whatever", "p@ssw0rd", "changeme", "secret",
	}
)

// Evaluate returns the local score clamped to [0,100] plus feedback.
func Evaluate(password string, user *models.UserInfo) (int, []models.Feedback) {
	e := &evaluation{}
	length := len([]rune(password))

	switch {
	case length > MaxLength:
		e.fail(models.FeedbackTooLong, "Password must be at most 128 characters")
	case length >= StrongLength:
		e.score += 20
	case length >= MinLength:
		e.score += 10
	default:
		e.fail(models.FeedbackTooShort, "Password must be at least 8 characters")
	}

	classes := classify(password)
	e.class(classes.lower, models.FeedbackNoLowercase, "Add lowercase letters")
	e.class(classes.upper, models.FeedbackNoUppercase, "Add uppercase letters")
	e.class(classes.digit, models.FeedbackNoDigit, "Add numbers")
	e.class(classes.special, models.FeedbackNoSpecial, "Add special characters")

	lowered := strings.ToLower(password)
	if hasRepeatedRun(password, 3) {
		e.penalize(10, models.FeedbackRepeated, "Avoid repeating the same character")
	}
	if sequencePattern.MatchString(password) {
		e.penalize(15, models.FeedbackSequence, "Avoid common sequences like 123 or abc")
	}
	if slices.Contains(commonPasswords, lowered) {
		e.penalize(20, models.FeedbackCommon, "This is a commonly used password")
	}
	if containsAny(lowered, keyboardRuns) {
		e.penalize(15, models.FeedbackKeyboard, "Avoid keyboard patterns")
	}

	switch bits := Entropy(password); {
	case bits < 40:
		e.penalize(10, models.FeedbackLowEntropy, "Password is too predictable")
	case bits > 60:
		e.score += 10
	}

	if user != nil {
		local, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(user.Email)), "@")
		if len(local) >= 3 && strings.Contains(lowered, local) {
			e.penalize(20, models.FeedbackContainsEmail, "Password should not contain your email")
		}
		if containsName(lowered, user.Name) {
			e.penalize(20, models.FeedbackContainsName, "Password should not contain your name")
		}
	}

	return Clamp(e.score), e.feedback
}

// Clamp bounds a score to [0,100].
func Clamp(score int) int {
	return max(0, min(score, 100))
}

// Entropy estimates bits as length × log2(charset size), where the charset
// is the union of the character classes present.
func Entropy(password string) float64 {
	c := classify(password)
	size := 0
	if c.lower {
		size += 26
	}
	if c.upper {
		size += 26
	}
	if c.digit {
		size += 10
	}
	if c.special {
		size += 32
	}
	if size == 0 {
		return 0
	}
	return float64(len([]rune(password))) * math.Log2(float64(size))
}

type evaluation struct {
	score    int
	feedback []models.Feedback
}

func (e *evaluation) fail(code models.FeedbackCode, msg string) {
	e.feedback = append(e.feedback, models.Feedback{Code: code, Message: msg, Required: true})
}

func (e *evaluation) penalize(points int, code models.FeedbackCode, msg string) {
	e.score -= points
	e.feedback = append(e.feedback, models.Feedback{Code: code, Message: msg})
}

func (e *evaluation) class(present bool, code models.FeedbackCode, msg string) {
	if present {
		e.score += 15
		return
	}
	e.feedback = append(e.feedback, models.Feedback{Code: code, Message: msg})
}

type classes struct {
	lower, upper, digit, special bool
}

func classify(s string) classes {
	var c classes
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			c.lower = true
		case unicode.IsUpper(r):
			c.upper = true
		case unicode.IsDigit(r):
			c.digit = true
		case !unicode.IsSpace(r):
			c.special = true
		}
	}
	return c
}

func hasRepeatedRun(s string, n int) bool {
	run := 0
	var prev rune
	for i, r := range s {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run >= n {
			return true
		}
		prev = r
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// containsName matches the full name and each part of three or more
// characters.
func containsName(lowered, name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	if strings.Contains(lowered, strings.ReplaceAll(name, " ", "")) {
		return true
	}
	for _, part := range strings.Fields(name) {
		if len(part) >= 3 && strings.Contains(lowered, part) {
			return true
		}
	}
	return false
}
