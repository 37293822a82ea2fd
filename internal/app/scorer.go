package app

import (
	"math"
	"time"

	"gradeup-exam-service/internal/domain"
)

// Score compares recorded answers with each question's key. Missing answers
// count as incorrect; free-response answers only match verbatim.
func Score(questions []domain.Question, answers map[int]domain.Answer) (score, percentage int) {
	for _, q := range questions {
		answer, ok := answers[q.ID]
		if !ok {
			continue
		}
		if isCorrect(q, answer) {
			score++
		}
	}
	if len(questions) == 0 {
		return score, 0
	}
	percentage = int(math.Round(float64(score) / float64(len(questions)) * 100))
	return score, percentage
}

func isCorrect(q domain.Question, answer domain.Answer) bool {
	if answer.Kind != q.Kind {
		return false
	}
	switch q.Kind {
	case domain.KindSingleChoice:
		return answer.Choice == q.CorrectIndex
	case domain.KindFreeResponse:
		return answer.Text == q.ReferenceAnswer
	default:
		return false
	}
}

func buildResult(s *Session, completedAt time.Time, reason domain.CompletionReason) domain.ExamResult {
	score, pct := Score(s.questions, s.answers)
	return domain.ExamResult{
		SessionID:      s.id,
		UserID:         s.userID,
		Subject:        s.subject,
		Score:          score,
		TotalQuestions: len(s.questions),
		Percentage:     pct,
		CompletedAt:    completedAt,
		Reason:         reason,
	}
}
