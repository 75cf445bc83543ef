package threat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// ScoreSuite covers the risk scorer.
// Justification: Score decides whether a source is blocked on its first
// violation; the category boundaries gate every escalation tier.
type ScoreSuite struct {
	suite.Suite
}

func TestScoreSuite(t *testing.T) {
	suite.Run(t, new(ScoreSuite))
}

func (s *ScoreSuite) TestHighRiskPatternShortCircuitsCount() {
	a := Score(Signal{
		Kind:      KindCSPViolation,
		Count:     1,
		Text:      []string{"javascript:alert(1)"},
		Directive: "script-src",
	})
	s.Equal(CategoryHigh, a.Category)
	s.Contains(a.Patterns, "javascript_uri")
	s.Contains(a.Reasons, "high_risk_pattern")
}

func (s *ScoreSuite) TestCriticalDirectiveIsHighRisk() {
	a := Score(Signal{Kind: KindCSPViolation, Count: 1, Directive: "object-src 'none'"})
	s.True(a.Category.AtLeast(CategoryHigh))
	s.Contains(a.Reasons, "critical_directive")
}

func (s *ScoreSuite) TestBenignViolationsStayBelowHigh() {
	for count := 1; count <= 6; count++ {
		a := Score(Signal{
			Kind:      KindCSPViolation,
			Count:     count,
			SinceLast: 10 * time.Millisecond,
			Text:      []string{"https://cdn.example.com/lib.js"},
			Directive: "img-src",
		})
		s.False(a.Category.AtLeast(CategoryHigh), "count %d scored %d", count, a.Score)
	}
}

func (s *ScoreSuite) TestRapidRepeatRaisesToMedium() {
	slow := Score(Signal{Kind: KindCSPViolation, Count: 2, SinceLast: time.Minute})
	fast := Score(Signal{Kind: KindCSPViolation, Count: 2, SinceLast: 200 * time.Millisecond})

	s.Equal(CategoryLow, slow.Category)
	s.Equal(CategoryMedium, fast.Category)
	s.Contains(fast.Reasons, "rapid_repeat")
}

func (s *ScoreSuite) TestScoreIsClamped() {
	a := Score(Signal{
		Kind:      KindRuntimeError,
		Count:     50,
		SinceLast: time.Millisecond,
		Text:      []string{"<img onerror=eval(atob('x'))>"},
		Directive: "script-src-attr",
	})
	s.Equal(100, a.Score)
	s.Equal(CategoryCritical, a.Category)
}

func (s *ScoreSuite) TestMatchHighRisk() {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"javascript uri", "JavaScript:void(0)", []string{"javascript_uri"}},
		{"vbscript uri", "vbscript:msgbox", []string{"vbscript_uri"}},
		{"html data uri", "data:text/html;base64,PHNjcmlwdD4=", []string{"html_data_uri"}},
		{"inline handler", `<svg onload="x()">`, []string{"inline_event_handler"}},
		{"eval blocked uri", "eval", []string{"eval_call"}},
		{"function constructor", "new Function('return 1')", []string{"function_constructor"}},
		{"document write", "document.write('<p>')", []string{"document_write"}},
		{"image data uri is fine", "data:image/png;base64,AAA", nil},
		{"plain url is fine", "https://example.com/app.js", nil},
		{"inline handler after slash", "<img/onerror=alert(1)>", []string{"inline_event_handler"}},
		{"quoted handler", `x" onmouseover="steal()`, []string{"inline_event_handler"}},
		{"on-prefixed query parameter is fine", "https://example.com/search?one=1&online=true", nil},
		{"handler-named query parameter is fine", "https://example.com/widget?onload=init", nil},
		{"unknown on attribute is fine", `<div onboarding="1">`, nil},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.Equal(tt.want, MatchHighRisk(tt.text))
		})
	}
}

func (s *ScoreSuite) TestIsXSSIndicative() {
	s.True(IsXSSIndicative("Uncaught ReferenceError at onclick=steal()"))
	s.True(IsXSSIndicative("Refused to run eval(payload)"))
	s.True(IsXSSIndicative("navigation to javascript:alert(1) blocked"))
	s.False(IsXSSIndicative("TypeError: cannot read properties of undefined"))
	s.False(IsXSSIndicative("document.write called after load"))
}
