package domain

import "time"

// QuestionKind tags which answer shape a question expects.
type QuestionKind string

const (
	KindSingleChoice QuestionKind = "single_choice"
	KindFreeResponse QuestionKind = "free_response"
)

// Question is one assessable item. It is immutable once loaded for a session.
type Question struct {
	ID         int          `json:"id" yaml:"id"`
	Prompt     string       `json:"prompt" yaml:"prompt"`
	Kind       QuestionKind `json:"kind" yaml:"kind"`
	Subject    string       `json:"subject" yaml:"subject"`
	Difficulty string       `json:"difficulty" yaml:"difficulty"`

	// Single-choice questions.
	Options      []string `json:"options,omitempty" yaml:"options,omitempty"`
	CorrectIndex int      `json:"correctIndex,omitempty" yaml:"correctIndex,omitempty"`

	// Free-response questions.
	ReferenceAnswer string `json:"referenceAnswer,omitempty" yaml:"referenceAnswer,omitempty"`

	Explanation string `json:"explanation,omitempty" yaml:"explanation,omitempty"`
}

// OptionIndex returns the index of the option with the given text.
func (q Question) OptionIndex(text string) (int, bool) {
	for i, opt := range q.Options {
		if opt == text {
			return i, true
		}
	}
	return 0, false
}

// Answer is a recorded response. Kind decides whether Choice or Text is meaningful.
type Answer struct {
	Kind   QuestionKind `json:"kind"`
	Choice int          `json:"choice,omitempty"`
	Text   string       `json:"text,omitempty"`
}

// ChoiceAnswer selects the option at index i of a single-choice question.
func ChoiceAnswer(i int) Answer {
	return Answer{Kind: KindSingleChoice, Choice: i}
}

// TextAnswer is a free-response answer.
func TextAnswer(text string) Answer {
	return Answer{Kind: KindFreeResponse, Text: text}
}

// QuestionView is what clients see of a question: no answer key.
type QuestionView struct {
	ID         int          `json:"id"`
	Prompt     string       `json:"prompt"`
	Kind       QuestionKind `json:"kind"`
	Options    []string     `json:"options,omitempty"`
	Subject    string       `json:"subject"`
	Difficulty string       `json:"difficulty"`
}

// View strips the answer key from a question.
func (q Question) View() QuestionView {
	return QuestionView{
		ID:         q.ID,
		Prompt:     q.Prompt,
		Kind:       q.Kind,
		Options:    q.Options,
		Subject:    q.Subject,
		Difficulty: q.Difficulty,
	}
}

// Status is the display state of one question in the palette.
type Status string

const (
	StatusCurrent    Status = "current"
	StatusAnswered   Status = "answered"
	StatusMarked     Status = "marked"
	StatusUnanswered Status = "unanswered"
)

// StartConfig describes an exam attempt requested by a user.
type StartConfig struct {
	UserID          string `json:"userId" validate:"required"`
	Subject         string `json:"subject" validate:"required"`
	QuestionCount   int    `json:"questionCount" validate:"min=1"`
	DurationMinutes int    `json:"durationMinutes" validate:"min=1"`
}

// CompletionReason records why a session ended.
type CompletionReason string

const (
	ReasonSubmitted CompletionReason = "submitted"
	ReasonTimeout   CompletionReason = "timeout"
)

// ExamResult is the immutable outcome of a finished session.
type ExamResult struct {
	SessionID      string           `json:"sessionId"`
	UserID         string           `json:"userId"`
	Subject        string           `json:"subject"`
	Score          int              `json:"score"`
	TotalQuestions int              `json:"totalQuestions"`
	Percentage     int              `json:"percentage"`
	CompletedAt    time.Time        `json:"completedAt"`
	Reason         CompletionReason `json:"reason"`
}

// SessionSnapshot is a point-in-time copy of an exam session for clients.
type SessionSnapshot struct {
	SessionID string         `json:"sessionId"`
	UserID    string         `json:"userId"`
	Subject   string         `json:"subject"`
	Cursor    int            `json:"cursor"`
	Question  QuestionView   `json:"question"`
	Total     int            `json:"total"`
	Answers   map[int]Answer `json:"answers"`
	Marked    map[int]bool   `json:"marked"`
	Palette   []Status       `json:"palette"`
	Remaining int            `json:"remaining"`
	StartedAt time.Time      `json:"startedAt"`
	Active    bool           `json:"active"`
}

// AnswerInput is an answer as sent by a client. Exactly one field is expected;
// Option carries the option text for single-choice questions.
type AnswerInput struct {
	Choice *int    `json:"choice,omitempty"`
	Option *string `json:"option,omitempty"`
	Text   *string `json:"text,omitempty"`
}

// Resolve converts the input into an Answer for question q.
func (in AnswerInput) Resolve(q Question) (Answer, error) {
	switch q.Kind {
	case KindSingleChoice:
		if in.Choice != nil {
			if *in.Choice < 0 || *in.Choice >= len(q.Options) {
				return Answer{}, ErrOptionNotFound
			}
			return ChoiceAnswer(*in.Choice), nil
		}
		if in.Option != nil {
			idx, ok := q.OptionIndex(*in.Option)
			if !ok {
				return Answer{}, ErrOptionNotFound
			}
			return ChoiceAnswer(idx), nil
		}
		return Answer{}, ErrAnswerKindMismatch
	case KindFreeResponse:
		if in.Text != nil {
			return TextAnswer(*in.Text), nil
		}
		return Answer{}, ErrAnswerKindMismatch
	default:
		return Answer{}, ErrAnswerKindMismatch
	}
}

// EventType tags a session event pushed to subscribers.
type EventType string

const (
	EventState     EventType = "state"
	EventTick      EventType = "tick"
	EventFinished  EventType = "finished"
	EventAbandoned EventType = "abandoned"
)

// SessionEvent is broadcast to subscribers after every session change.
type SessionEvent struct {
	Type     EventType       `json:"type"`
	Snapshot SessionSnapshot `json:"snapshot"`
	Result   *ExamResult     `json:"result,omitempty"`
}
