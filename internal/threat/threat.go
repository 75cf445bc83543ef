// Package threat scores security signals. Everything here is a pure
// function of its input; callers own any state (counts, timing).
package threat

import (
	"regexp"
	"slices"
	"strings"
	"time"
)

type Kind string

const (
	KindCSPViolation Kind = "csp_violation"
	KindRuntimeError Kind = "runtime_error"
)

type Category string

const (
	CategoryLow      Category = "low"
	CategoryMedium   Category = "medium"
	CategoryHigh     Category = "high"
	CategoryCritical Category = "critical"
)

// Signal is one observation about a source.
type Signal struct {
	Kind Kind
	// Count is the number of signals from the source, this one included.
	Count int
	// SinceLast is the gap to the source's previous signal; zero when there
	// was none.
	SinceLast time.Duration
	// Window overrides RepeatWindow when positive.
	Window time.Duration
	// Text holds every free-form field worth pattern matching (URIs,
	// samples, messages).
	Text      []string
	Directive string
}

type Assessment struct {
	Score    int
	Category Category
	Patterns []string
	Reasons  []string
}

// RepeatWindow is the gap under which a repeat from the same source counts
// as rapid.
const RepeatWindow = time.Second

const (
	reasonHighRiskPattern   = "high_risk_pattern"
	reasonCriticalDirective = "critical_directive"
	reasonRapidRepeat       = "rapid_repeat"
	reasonRepeatedSource    = "repeated_source"
)

var kindBase = map[Kind]int{
	KindCSPViolation: 10,
	KindRuntimeError: 20,
}

// Score maps a signal to a 0-100 score and category.
// Rule order:
//  1. High-risk patterns and critical directives put the signal at High
//     or above regardless of count.
//  2. Each earlier signal from the source adds 10, capped at 30.
//  3. A repeat inside RepeatWindow adds 20, enough to reach Medium.
func Score(s Signal) Assessment {
	a := Assessment{Score: kindBase[s.Kind]}

	// Rule 1: pattern risk
	a.Patterns = MatchHighRisk(s.Text...)
	if len(a.Patterns) > 0 {
		a.Score += 60
		a.Reasons = append(a.Reasons, reasonHighRiskPattern)
	}
	if IsCriticalDirective(s.Directive) {
		a.Score += 60
		a.Reasons = append(a.Reasons, reasonCriticalDirective)
	}

	// Rule 2: accumulated count
	if s.Count > 1 {
		a.Score += min((s.Count-1)*10, 30)
		a.Reasons = append(a.Reasons, reasonRepeatedSource)
	}

	// Rule 3: timing
	window := RepeatWindow
	if s.Window > 0 {
		window = s.Window
	}
	if s.Count > 1 && s.SinceLast > 0 && s.SinceLast < window {
		a.Score += 20
		a.Reasons = append(a.Reasons, reasonRapidRepeat)
	}

	a.Score = max(0, min(a.Score, 100))
	a.Category = categorize(a.Score)
	if (len(a.Patterns) > 0 || IsCriticalDirective(s.Directive)) && !a.Category.AtLeast(CategoryHigh) {
		a.Category = CategoryHigh
	}
	return a
}

func categorize(score int) Category {
	switch {
	case score >= 90:
		return CategoryCritical
	case score >= 70:
		return CategoryHigh
	case score >= 40:
		return CategoryMedium
	default:
		return CategoryLow
	}
}

// AtLeast reports whether c is as severe as other.
func (c Category) AtLeast(other Category) bool {
	return c.rank() >= other.rank()
}

func (c Category) rank() int {
	switch c {
	case CategoryCritical:
		return 3
	case CategoryHigh:
		return 2
	case CategoryMedium:
		return 1
	default:
		return 0
	}
}

type pattern struct {
	name string
	re   *regexp.Regexp
}

// inlineEventHandler matches a DOM event attribute as it appears in markup:
// a known on* name at the start of the text or after whitespace, a tag
// opener, a quote, a slash or a semicolon. Query parameters such as
// "?one=1" or "&online=true" do not match.
var inlineEventHandler = regexp.MustCompile(`(?i)(?:^|[\s<"'/;])on(?:` +
	`abort|animation(?:start|end|iteration)|auxclick|before(?:unload|input|print)|begin|blur|` +
	`change|click|contextmenu|copy|cut|dblclick|drag(?:start|end|enter|leave|over)?|drop|` +
	`end|error|finish|focus(?:in|out)?|hashchange|input|invalid|key(?:down|press|up)|` +
	`load|message|mouse(?:down|enter|leave|move|out|over|up|wheel)|paste|pageshow|` +
	`pointer(?:down|enter|leave|move|out|over|up|cancel)|popstate|reset|resize|` +
	`scroll|search|select|start|submit|toggle|touch(?:start|end|move|cancel)|` +
	`transition(?:start|end|run|cancel)|unload|wheel` +
	`)\s*=`)

var highRiskPatterns = []pattern{
	{"javascript_uri", regexp.MustCompile(`(?i)javascript\s*:`)},
	{"vbscript_uri", regexp.MustCompile(`(?i)vbscript\s*:`)},
	{"html_data_uri", regexp.MustCompile(`(?i)data\s*:\s*text/html`)},
	{"inline_event_handler", inlineEventHandler},
	{"eval_call", regexp.MustCompile(`^eval$|\beval\s*\(`)},
	{"function_constructor", regexp.MustCompile(`\bFunction\s*\(`)},
	{"document_write", regexp.MustCompile(`document\.write(ln)?\s*\(`)},
}

// xssIndicators is the narrower set that turns a runtime error into a
// synthetic high-risk violation.
var xssIndicators = []string{"inline_event_handler", "javascript_uri", "eval_call"}

// MatchHighRisk returns the names of high-risk patterns found in any of the
// inputs, in declaration order and without duplicates.
func MatchHighRisk(texts ...string) []string {
	var matched []string
	for _, p := range highRiskPatterns {
		for _, t := range texts {
			if t != "" && p.re.MatchString(t) {
				matched = append(matched, p.name)
				break
			}
		}
	}
	return matched
}

// IsXSSIndicative reports whether a runtime error message looks like
// script injection.
func IsXSSIndicative(message string) bool {
	for _, name := range MatchHighRisk(message) {
		if slices.Contains(xssIndicators, name) {
			return true
		}
	}
	return false
}

var criticalDirectives = []string{"script-src-attr", "object-src", "base-uri", "form-action"}

// IsCriticalDirective reports whether violating directive is severe on its
// own. Matching ignores case and any trailing policy value.
func IsCriticalDirective(directive string) bool {
	name, _, _ := strings.Cut(strings.TrimSpace(strings.ToLower(directive)), " ")
	return slices.Contains(criticalDirectives, name)
}
