package strength

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"aegis/internal/password/models"
)

// EvaluateSuite covers the local scoring rules.
// Justification: every rule moves the score that gates signup; a silent
// change in one weight flips passwords between valid and invalid.
type EvaluateSuite struct {
	suite.Suite
}

func TestEvaluateSuite(t *testing.T) {
	suite.Run(t, new(EvaluateSuite))
}

func codes(fb []models.Feedback) []models.FeedbackCode {
	out := make([]models.FeedbackCode, 0, len(fb))
	for _, f := range fb {
		out = append(out, f.Code)
	}
	return out
}

func (s *EvaluateSuite) TestStrongPassword() {
	score, fb := Evaluate("xT9!qL2vR#7zK", nil)
	// 20 length + 60 classes + 10 entropy
	s.Equal(90, score)
	s.Empty(fb)
}

func (s *EvaluateSuite) TestCommonPasswordScoresLow() {
	score, fb := Evaluate("Password123", nil)
	// 10 length + 45 classes - 15 sequence - 20 common + 10 entropy
	s.Equal(30, score)
	s.Contains(codes(fb), models.FeedbackCommon)
	s.Contains(codes(fb), models.FeedbackSequence)
	s.Contains(codes(fb), models.FeedbackNoSpecial)
}

func (s *EvaluateSuite) TestShortPasswordIsAHardFailure() {
	score, fb := Evaluate("aB3!", nil)
	s.GreaterOrEqual(score, 0)
	s.Require().NotEmpty(fb)
	s.Equal(models.FeedbackTooShort, fb[0].Code)
	s.True(fb[0].Required)
}

func (s *EvaluateSuite) TestOverlongPasswordIsAHardFailure() {
	long := make([]byte, MaxLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, fb := Evaluate(string(long), nil)
	s.Equal(models.FeedbackTooLong, fb[0].Code)
	s.True(fb[0].Required)
}

func (s *EvaluateSuite) TestPenalties() {
	s.Run("repeated characters", func() {
		_, fb := Evaluate("xT9!qLLLvR#7zK", nil)
		s.Contains(codes(fb), models.FeedbackRepeated)
	})

	s.Run("keyboard pattern", func() {
		_, fb := Evaluate("Zxcv!9Tm#Rq2", nil)
		s.Contains(codes(fb), models.FeedbackKeyboard)
	})

	s.Run("low entropy", func() {
		score, fb := Evaluate("aaaaaaab", nil)
		s.Contains(codes(fb), models.FeedbackLowEntropy)
		// 10 length + 15 lowercase - 10 repeated - 10 entropy
		s.Equal(5, score)
	})

	s.Run("email local part", func() {
		withUser, fb := Evaluate("Jdoe!9Tm#Rq2xV", &models.UserInfo{Email: "JDoe@example.com"})
		without, _ := Evaluate("Jdoe!9Tm#Rq2xV", nil)
		s.Contains(codes(fb), models.FeedbackContainsEmail)
		s.Equal(without-20, withUser)
	})

	s.Run("name part", func() {
		_, fb := Evaluate("Margaret!9Tm#2", &models.UserInfo{Name: "Margaret Hamilton"})
		s.Contains(codes(fb), models.FeedbackContainsName)
	})

	s.Run("short email local part is ignored", func() {
		_, fb := Evaluate("Ab!9Tm#Rq2xVw", &models.UserInfo{Email: "ab@example.com"})
		s.NotContains(codes(fb), models.FeedbackContainsEmail)
	})
}

func (s *EvaluateSuite) TestEntropy() {
	s.InDelta(0, Entropy(""), 1e-9)
	s.InDelta(8*4.7004, Entropy("abcdefgh"), 0.01)
}

func (s *EvaluateSuite) TestClamp() {
	s.Equal(0, Clamp(-30))
	s.Equal(100, Clamp(130))
	s.Equal(42, Clamp(42))
}
