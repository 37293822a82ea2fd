package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a user has no exam session.
	ErrSessionNotFound = errors.New("exam session not found")
	// ErrSessionInactive is returned when mutating a submitted session.
	ErrSessionInactive = errors.New("exam session is no longer active")
	// ErrSessionReplaced is returned when acting on a session the user has since replaced.
	ErrSessionReplaced = errors.New("exam session was replaced by a newer one")
	// ErrNotCurrentQuestion is returned when answering a question other than the current one.
	ErrNotCurrentQuestion = errors.New("question is not the current question")
	// ErrSubjectNotFound indicates the question bank for a subject could not be loaded.
	ErrSubjectNotFound = errors.New("subject not found")
	// ErrNoQuestions is returned when a subject has an empty question bank.
	ErrNoQuestions = errors.New("no questions available")
	// ErrQuestionNotFound indicates a question ID is not part of the session.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted option text does not exist on the question.
	ErrOptionNotFound = errors.New("option not found")
	// ErrAnswerKindMismatch is returned when an answer does not match its question kind.
	ErrAnswerKindMismatch = errors.New("answer kind does not match question")
	// ErrIndexOutOfRange is returned by GoTo; the cursor is left unchanged.
	ErrIndexOutOfRange = errors.New("question index out of range")
	// ErrInvalidConfig wraps validation failures of a start request.
	ErrInvalidConfig = errors.New("invalid exam configuration")
)
