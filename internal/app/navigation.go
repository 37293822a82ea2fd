package app

import (
	"errors"

	"gradeup-exam-service/internal/domain"
)

var errUnknownIntent = errors.New("unknown navigation intent")

// DeriveStatus reports the palette status of the question at index.
// Precedence is current > answered > marked > unanswered.
func DeriveStatus(index, cursor int, question domain.Question, answers map[int]domain.Answer, marked map[int]bool) domain.Status {
	if index == cursor {
		return domain.StatusCurrent
	}
	if _, ok := answers[question.ID]; ok {
		return domain.StatusAnswered
	}
	if marked[question.ID] {
		return domain.StatusMarked
	}
	return domain.StatusUnanswered
}

// Palette derives the status of every question in order.
func Palette(questions []domain.Question, cursor int, answers map[int]domain.Answer, marked map[int]bool) []domain.Status {
	statuses := make([]domain.Status, len(questions))
	for i, q := range questions {
		statuses[i] = DeriveStatus(i, cursor, q, answers, marked)
	}
	return statuses
}

// Intent is a navigation request coming from a client.
type Intent string

const (
	IntentNext     Intent = "next"
	IntentPrevious Intent = "previous"
	IntentGoTo     Intent = "goto"
	IntentMark     Intent = "mark"
)

// Navigate translates an intent into the matching session call. arg is the
// target index for IntentGoTo and the question ID for IntentMark.
func Navigate(s *Session, intent Intent, arg int) error {
	switch intent {
	case IntentNext:
		return s.Next()
	case IntentPrevious:
		return s.Previous()
	case IntentGoTo:
		return s.GoTo(arg)
	case IntentMark:
		return s.ToggleReviewMark(arg)
	default:
		return errUnknownIntent
	}
}
