package app

import (
	"sync"
	"time"

	"gradeup-exam-service/internal/domain"
)

// SessionParams configures a new exam session.
type SessionParams struct {
	ID              string
	UserID          string
	Subject         string
	Questions       []domain.Question
	DurationMinutes int
	// Now defaults to time.Now.
	Now func() time.Time
	// OnFinish is called exactly once, outside the session lock, when the
	// session is submitted or times out. It is not called on Abandon.
	OnFinish func(domain.ExamResult)
}

// Session holds the mutable state of one exam attempt.
type Session struct {
	id        string
	userID    string
	subject   string
	questions []domain.Question
	positions map[int]int
	startedAt time.Time
	now       func() time.Time
	onFinish  func(domain.ExamResult)

	mu          sync.RWMutex
	cursor      int
	answers     map[int]domain.Answer
	marked      map[int]bool
	draft       *domain.Answer
	remaining   int
	active      bool
	result      *domain.ExamResult
	done        chan struct{}
	subscribers map[chan domain.SessionEvent]struct{}
}

// NewSession creates an active session with the cursor on the first question.
func NewSession(p SessionParams) *Session {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	questions := make([]domain.Question, len(p.Questions))
	copy(questions, p.Questions)

	positions := make(map[int]int, len(questions))
	for i, q := range questions {
		positions[q.ID] = i
	}

	return &Session{
		id:          p.ID,
		userID:      p.UserID,
		subject:     p.Subject,
		questions:   questions,
		positions:   positions,
		startedAt:   now(),
		now:         now,
		onFinish:    p.OnFinish,
		answers:     make(map[int]domain.Answer),
		marked:      make(map[int]bool),
		remaining:   p.DurationMinutes * 60,
		active:      true,
		done:        make(chan struct{}),
		subscribers: make(map[chan domain.SessionEvent]struct{}),
	}
}

func (s *Session) ID() string      { return s.id }
func (s *Session) UserID() string  { return s.userID }
func (s *Session) Subject() string { return s.subject }

// Done is closed once the session stops being active.
func (s *Session) Done() <-chan struct{} { return s.done }

// Active reports whether the session still accepts input.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Remaining returns the remaining time in seconds.
func (s *Session) Remaining() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remaining
}

// Cursor returns the index of the current question.
func (s *Session) Cursor() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// Result returns the exam result once the session has finished.
func (s *Session) Result() (domain.ExamResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result == nil {
		return domain.ExamResult{}, false
	}
	return *s.result, true
}

// Question returns a question of this session by ID.
func (s *Session) Question(questionID int) (domain.Question, bool) {
	pos, ok := s.positions[questionID]
	if !ok {
		return domain.Question{}, false
	}
	return s.questions[pos], true
}

// Select sets the in-flight answer for the current question. It is committed
// on the next move or on submit.
func (s *Session) Select(in domain.AnswerInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return domain.ErrSessionInactive
	}
	if len(s.questions) == 0 {
		return domain.ErrQuestionNotFound
	}
	answer, err := in.Resolve(s.questions[s.cursor])
	if err != nil {
		return err
	}
	s.draft = &answer
	s.broadcastLocked(domain.EventState, nil)
	return nil
}

// RecordAnswer stores an answer for the current question, replacing any
// earlier one. Other questions must be navigated to first.
func (s *Session) RecordAnswer(questionID int, in domain.AnswerInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return domain.ErrSessionInactive
	}
	pos, ok := s.positions[questionID]
	if !ok {
		return domain.ErrQuestionNotFound
	}
	if pos != s.cursor {
		return domain.ErrNotCurrentQuestion
	}
	answer, err := in.Resolve(s.questions[pos])
	if err != nil {
		return err
	}
	s.answers[questionID] = answer
	s.draft = nil
	s.broadcastLocked(domain.EventState, nil)
	return nil
}

// ToggleReviewMark flips the review flag of a question.
func (s *Session) ToggleReviewMark(questionID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return domain.ErrSessionInactive
	}
	if _, ok := s.positions[questionID]; !ok {
		return domain.ErrQuestionNotFound
	}
	if s.marked[questionID] {
		delete(s.marked, questionID)
	} else {
		s.marked[questionID] = true
	}
	s.broadcastLocked(domain.EventState, nil)
	return nil
}

// Next advances the cursor; it stays put on the last question.
func (s *Session) Next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return domain.ErrSessionInactive
	}
	s.commitDraftLocked()
	if s.cursor < len(s.questions)-1 {
		s.cursor++
	}
	s.broadcastLocked(domain.EventState, nil)
	return nil
}

// Previous moves the cursor back; it stays put on the first question.
func (s *Session) Previous() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return domain.ErrSessionInactive
	}
	s.commitDraftLocked()
	if s.cursor > 0 {
		s.cursor--
	}
	s.broadcastLocked(domain.EventState, nil)
	return nil
}

// GoTo jumps to index. Out-of-range targets are ignored and reported with
// domain.ErrIndexOutOfRange; the draft is kept in that case.
func (s *Session) GoTo(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return domain.ErrSessionInactive
	}
	if index < 0 || index >= len(s.questions) {
		return domain.ErrIndexOutOfRange
	}
	s.commitDraftLocked()
	s.cursor = index
	s.broadcastLocked(domain.EventState, nil)
	return nil
}

// Tick consumes one second. When the remaining time reaches zero the session
// is submitted; later ticks are no-ops. It returns the remaining time and
// whether this tick triggered the submission.
func (s *Session) Tick() (int, bool) {
	s.mu.Lock()
	if !s.active {
		remaining := s.remaining
		s.mu.Unlock()
		return remaining, false
	}
	if s.remaining > 0 {
		s.remaining--
	}
	if s.remaining > 0 {
		s.broadcastLocked(domain.EventTick, nil)
		remaining := s.remaining
		s.mu.Unlock()
		return remaining, false
	}
	result := s.finishLocked(domain.ReasonTimeout)
	s.mu.Unlock()

	s.notifyFinished(result)
	return 0, true
}

// Submit commits the in-flight answer, freezes the session and scores it.
// Calling it again returns the first result without notifying anyone.
// An abandoned session cannot be submitted.
func (s *Session) Submit() (domain.ExamResult, error) {
	s.mu.Lock()
	if s.result != nil {
		result := *s.result
		s.mu.Unlock()
		return result, nil
	}
	if !s.active {
		s.mu.Unlock()
		return domain.ExamResult{}, domain.ErrSessionInactive
	}
	result := s.finishLocked(domain.ReasonSubmitted)
	s.mu.Unlock()

	s.notifyFinished(result)
	return result, nil
}

// Abandon deactivates the session without scoring it.
func (s *Session) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	s.draft = nil
	close(s.done)
	s.broadcastLocked(domain.EventAbandoned, nil)
}

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() domain.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel that receives session events, starting with
// the current state. The caller must invoke the returned cancel function.
func (s *Session) Subscribe() (<-chan domain.SessionEvent, func()) {
	ch := make(chan domain.SessionEvent, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	ch <- domain.SessionEvent{Type: domain.EventState, Snapshot: s.snapshotLocked()}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Session) commitDraftLocked() {
	if s.draft == nil {
		return
	}
	s.answers[s.questions[s.cursor].ID] = *s.draft
	s.draft = nil
}

func (s *Session) finishLocked(reason domain.CompletionReason) domain.ExamResult {
	s.commitDraftLocked()
	s.active = false
	result := buildResult(s, s.now(), reason)
	s.result = &result
	close(s.done)
	s.broadcastLocked(domain.EventFinished, &result)
	return result
}

func (s *Session) notifyFinished(result domain.ExamResult) {
	if s.onFinish != nil {
		s.onFinish(result)
	}
}

func (s *Session) broadcastLocked(typ domain.EventType, result *domain.ExamResult) {
	event := domain.SessionEvent{Type: typ, Snapshot: s.snapshotLocked(), Result: result}
	for ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// Drop the oldest event so the newest state always gets through.
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
}

func (s *Session) snapshotLocked() domain.SessionSnapshot {
	answers := make(map[int]domain.Answer, len(s.answers))
	for id, a := range s.answers {
		answers[id] = a
	}
	marked := make(map[int]bool, len(s.marked))
	for id, m := range s.marked {
		marked[id] = m
	}

	var current domain.QuestionView
	if len(s.questions) > 0 {
		current = s.questions[s.cursor].View()
	}

	return domain.SessionSnapshot{
		SessionID: s.id,
		UserID:    s.userID,
		Subject:   s.subject,
		Cursor:    s.cursor,
		Question:  current,
		Total:     len(s.questions),
		Answers:   answers,
		Marked:    marked,
		Palette:   Palette(s.questions, s.cursor, s.answers, s.marked),
		Remaining: s.remaining,
		StartedAt: s.startedAt,
		Active:    s.active,
	}
}
