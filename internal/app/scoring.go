package app

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"

	"live-quiz-service/internal/domain"
)

// maxSpeedBonus is the fraction of base points a correct answer earns at zero response time.
const maxSpeedBonus = 0.5

// Evaluate reports whether raw is a correct answer to q. Payloads that do not
// decode for the question type are incorrect rather than errors.
func Evaluate(q domain.Question, raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false
	}
	switch q.Type {
	case domain.QuestionShortAnswer:
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return false
		}
		given := normalizeText(text)
		if given == "" {
			return false
		}
		for _, accepted := range q.AcceptedAnswers {
			if normalizeText(accepted) == given {
				return true
			}
		}
		return false
	default:
		if q.CorrectOption == nil {
			return false
		}
		// 1 and 1.0 name the same option; 1.5 names none
		var index float64
		if err := json.Unmarshal(raw, &index); err != nil {
			return false
		}
		return index == math.Trunc(index) && index == float64(*q.CorrectOption)
	}
}

// normalizeText lowercases and collapses runs of whitespace.
func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// AwardPoints computes the time-weighted award for one submission. Faster
// correct answers earn up to a 50% bonus; incorrect answers earn zero.
func AwardPoints(q domain.Question, correct bool, responseTime float64, defaultLimit time.Duration) int {
	if !correct {
		return 0
	}
	limit := float64(timeLimitSeconds(q, defaultLimit))
	if responseTime < 0 {
		responseTime = 0
	}
	bonus := math.Max(0, 1-responseTime/limit) * maxSpeedBonus
	return int(math.Round(float64(basePoints(q)) * (1 + bonus)))
}

func basePoints(q domain.Question) int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

func timeLimitSeconds(q domain.Question, defaultLimit time.Duration) int {
	if q.TimeLimit > 0 {
		return q.TimeLimit
	}
	if secs := int(defaultLimit / time.Second); secs > 0 {
		return secs
	}
	return int(defaultQuestionDuration / time.Second)
}
