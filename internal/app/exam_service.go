package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gradeup-exam-service/internal/domain"
)

// SessionRepository abstracts where the active session of each user is kept.
type SessionRepository interface {
	// Put stores s as the user's session and returns the one it replaced.
	Put(userID string, s *Session) (*Session, bool)
	Get(userID string) (*Session, bool)
	// Delete removes the user's session only if it is still sessionID.
	Delete(userID, sessionID string)
}

// QuestionSource provides the ordered question pool of a subject.
type QuestionSource interface {
	Questions(ctx context.Context, subject string) ([]domain.Question, error)
}

// ResultSink accepts finished exam results for history display.
type ResultSink interface {
	Record(ctx context.Context, result domain.ExamResult) error
}

// HistoryReader lists past results of a user, newest first.
type HistoryReader interface {
	History(ctx context.Context, userID string) ([]domain.ExamResult, error)
}

// HistoryClearer drops every stored result of a user.
type HistoryClearer interface {
	Clear(ctx context.Context, userID string) error
}

// KVStore is app-lifetime key-value state with no transactional guarantees.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Clear(ctx context.Context, key string) error
}

const sinkTimeout = 5 * time.Second

// ExamService contains the exam session use cases.
type ExamService struct {
	sessions  SessionRepository
	questions QuestionSource
	sink      ResultSink
	history   HistoryReader
	newTicker TickerFactory
	now       func() time.Time
	validate  *validator.Validate
	log       zerolog.Logger

	timerCtx    context.Context
	cancelTimer context.CancelFunc

	mu     sync.Mutex
	timers map[string]*Timer
}

// Option customises an ExamService.
type Option func(*ExamService)

// WithTicker replaces the one-second clock source, mainly for tests.
func WithTicker(f TickerFactory) Option {
	return func(s *ExamService) { s.newTicker = f }
}

// WithClock sets the wall clock used for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *ExamService) { s.now = now }
}

// WithHistory enables History lookups.
func WithHistory(h HistoryReader) Option {
	return func(s *ExamService) { s.history = h }
}

func NewExamService(store SessionRepository, questions QuestionSource, sink ResultSink, log zerolog.Logger, opts ...Option) *ExamService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &ExamService{
		sessions:    store,
		questions:   questions,
		sink:        sink,
		newTicker:   NewSecondTicker,
		now:         time.Now,
		validate:    validator.New(),
		log:         log.With().Str("component", "exam_service").Logger(),
		timerCtx:    ctx,
		cancelTimer: cancel,
		timers:      make(map[string]*Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates a new session for the user and starts its timer. Any session
// the user already had is discarded without being scored or persisted.
func (s *ExamService) Start(ctx context.Context, cfg domain.StartConfig) (domain.SessionSnapshot, error) {
	if err := s.validate.Struct(cfg); err != nil {
		return domain.SessionSnapshot{}, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	pool, err := s.questions.Questions(ctx, cfg.Subject)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	if len(pool) == 0 {
		return domain.SessionSnapshot{}, domain.ErrNoQuestions
	}
	// Asking for more questions than the pool holds yields the whole pool.
	if cfg.QuestionCount < len(pool) {
		pool = pool[:cfg.QuestionCount]
	}

	session := NewSession(SessionParams{
		ID:              uuid.NewString(),
		UserID:          cfg.UserID,
		Subject:         cfg.Subject,
		Questions:       pool,
		DurationMinutes: cfg.DurationMinutes,
		Now:             s.now,
		OnFinish:        s.finished,
	})

	if previous, ok := s.sessions.Put(cfg.UserID, session); ok {
		s.stopTimer(previous.ID())
		previous.Abandon()
		s.log.Info().
			Str("user_id", cfg.UserID).
			Str("session_id", previous.ID()).
			Msg("previous session discarded")
	}

	timer := NewTimer(session, s.newTicker)
	s.mu.Lock()
	s.timers[session.ID()] = timer
	s.mu.Unlock()
	timer.Start(s.timerCtx)

	s.log.Info().
		Str("user_id", cfg.UserID).
		Str("session_id", session.ID()).
		Str("subject", cfg.Subject).
		Int("questions", len(pool)).
		Int("duration_minutes", cfg.DurationMinutes).
		Msg("exam session started")

	return session.Snapshot(), nil
}

// Session returns the user's current session.
func (s *ExamService) Session(_ context.Context, userID string) (*Session, error) {
	session, ok := s.sessions.Get(userID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// Attempt returns the user's session only while it is still sessionID. A
// connection that started an attempt keeps addressing that attempt, never
// whatever session replaced it.
func (s *ExamService) Attempt(ctx context.Context, userID, sessionID string) (*Session, error) {
	session, err := s.Session(ctx, userID)
	if err != nil {
		return nil, err
	}
	if session.ID() != sessionID {
		return nil, domain.ErrSessionReplaced
	}
	return session, nil
}

// Snapshot returns the state of the user's current session.
func (s *ExamService) Snapshot(ctx context.Context, userID string) (domain.SessionSnapshot, error) {
	session, err := s.Session(ctx, userID)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	return session.Snapshot(), nil
}

// Select sets the in-flight answer for the current question.
func (s *ExamService) Select(ctx context.Context, userID, sessionID string, in domain.AnswerInput) error {
	session, err := s.Attempt(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	return session.Select(in)
}

// Answer records an answer for the current question of the attempt.
func (s *ExamService) Answer(ctx context.Context, userID, sessionID string, questionID int, in domain.AnswerInput) error {
	session, err := s.Attempt(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	return session.RecordAnswer(questionID, in)
}

// Navigate applies a navigation intent and returns the resulting state.
func (s *ExamService) Navigate(ctx context.Context, userID, sessionID string, intent Intent, arg int) (domain.SessionSnapshot, error) {
	session, err := s.Attempt(ctx, userID, sessionID)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	if err := Navigate(session, intent, arg); err != nil {
		return session.Snapshot(), err
	}
	return session.Snapshot(), nil
}

// Next moves the cursor forward.
func (s *ExamService) Next(ctx context.Context, userID, sessionID string) (domain.SessionSnapshot, error) {
	return s.Navigate(ctx, userID, sessionID, IntentNext, 0)
}

// Previous moves the cursor back.
func (s *ExamService) Previous(ctx context.Context, userID, sessionID string) (domain.SessionSnapshot, error) {
	return s.Navigate(ctx, userID, sessionID, IntentPrevious, 0)
}

// GoTo jumps to a question index; out-of-range targets are ignored.
func (s *ExamService) GoTo(ctx context.Context, userID, sessionID string, index int) (domain.SessionSnapshot, error) {
	return s.Navigate(ctx, userID, sessionID, IntentGoTo, index)
}

// ToggleMark flips the review flag of a question.
func (s *ExamService) ToggleMark(ctx context.Context, userID, sessionID string, questionID int) (domain.SessionSnapshot, error) {
	return s.Navigate(ctx, userID, sessionID, IntentMark, questionID)
}

// Submit finishes the attempt and returns its result. Submitting an already
// finished attempt returns the same result again.
func (s *ExamService) Submit(ctx context.Context, userID, sessionID string) (domain.ExamResult, error) {
	session, err := s.Attempt(ctx, userID, sessionID)
	if err != nil {
		return domain.ExamResult{}, err
	}
	result, err := session.Submit()
	s.stopTimer(session.ID())
	return result, err
}

// Abandon tears down the user's session if it is still sessionID. An active
// session is dropped without a result.
func (s *ExamService) Abandon(_ context.Context, userID, sessionID string) {
	session, ok := s.sessions.Get(userID)
	if !ok || session.ID() != sessionID {
		return
	}
	s.stopTimer(sessionID)
	if session.Active() {
		s.log.Info().
			Str("user_id", userID).
			Str("session_id", sessionID).
			Msg("exam session abandoned")
	}
	session.Abandon()
	s.sessions.Delete(userID, sessionID)
}

// Subscribe returns a channel of events of the attempt.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *ExamService) Subscribe(ctx context.Context, userID, sessionID string) (<-chan domain.SessionEvent, func(), error) {
	session, err := s.Attempt(ctx, userID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.Subscribe()
	return ch, cancel, nil
}

// History lists the user's past results.
func (s *ExamService) History(ctx context.Context, userID string) ([]domain.ExamResult, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.History(ctx, userID)
}

// ClearHistory forgets the user's past results in every store that keeps them.
func (s *ExamService) ClearHistory(ctx context.Context, userID string) error {
	var errs []error
	if c, ok := s.history.(HistoryClearer); ok {
		errs = append(errs, c.Clear(ctx, userID))
	}
	// Clearing is idempotent, so a store that is both sink and reader may be cleared twice.
	if c, ok := s.sink.(HistoryClearer); ok {
		errs = append(errs, c.Clear(ctx, userID))
	}
	return errors.Join(errs...)
}

// Close stops every running timer.
func (s *ExamService) Close() {
	s.cancelTimer()

	s.mu.Lock()
	timers := make([]*Timer, 0, len(s.timers))
	for id, t := range s.timers {
		timers = append(timers, t)
		delete(s.timers, id)
	}
	s.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
}

func (s *ExamService) stopTimer(sessionID string) {
	s.mu.Lock()
	timer, ok := s.timers[sessionID]
	delete(s.timers, sessionID)
	s.mu.Unlock()
	if ok {
		timer.Stop()
	}
}

// finished runs once per session, possibly on the timer goroutine, so it must
// not stop that session's timer.
func (s *ExamService) finished(result domain.ExamResult) {
	if result.Reason == domain.ReasonTimeout {
		// The timer loop exits on its own once the session is done.
		s.mu.Lock()
		delete(s.timers, result.SessionID)
		s.mu.Unlock()
	}

	log := s.log.With().
		Str("user_id", result.UserID).
		Str("session_id", result.SessionID).
		Logger()
	log.Info().
		Str("reason", string(result.Reason)).
		Int("score", result.Score).
		Int("total", result.TotalQuestions).
		Int("percentage", result.Percentage).
		Msg("exam session finished")

	if s.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := s.sink.Record(ctx, result); err != nil {
		log.Warn().Err(err).Msg("failed to record exam result")
	}
}

// MultiSink records a result in every sink and joins their errors.
type MultiSink []ResultSink

func (m MultiSink) Record(ctx context.Context, result domain.ExamResult) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Record(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clear clears the user's results in every sink that supports it.
func (m MultiSink) Clear(ctx context.Context, userID string) error {
	var errs []error
	for _, sink := range m {
		if c, ok := sink.(HistoryClearer); ok {
			if err := c.Clear(ctx, userID); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
