package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"gradeup-exam-service/internal/domain"
)

func TestQuestionRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		QuestionLoader: NewStaticQuestionLoader(map[string][]domain.Question{
			"math": sampleBank(),
		}),
	}
	repo := NewQuestionRepository(loader, time.Minute)

	if _, err := repo.Questions(context.Background(), "math"); err != nil {
		t.Fatalf("get questions: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	if _, err := repo.Questions(context.Background(), "math"); err != nil {
		t.Fatalf("get questions 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
}

func TestQuestionRepositoryExpires(t *testing.T) {
	loader := &countingLoader{
		QuestionLoader: NewStaticQuestionLoader(map[string][]domain.Question{"math": sampleBank()}),
	}
	repo := NewQuestionRepository(loader, time.Minute)
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	repo.clock = func() time.Time { return now }

	_, _ = repo.Questions(context.Background(), "math")
	now = now.Add(2 * time.Minute)
	_, _ = repo.Questions(context.Background(), "math")
	if loader.calls != 2 {
		t.Fatalf("expected reload after expiry, loader calls %d", loader.calls)
	}
}

func TestQuestionRepositoryReturnsCopies(t *testing.T) {
	repo := NewQuestionRepository(NewStaticQuestionLoader(map[string][]domain.Question{"math": sampleBank()}), time.Minute)

	first, _ := repo.Questions(context.Background(), "math")
	first[0].Prompt = "mutated"
	second, _ := repo.Questions(context.Background(), "math")
	if second[0].Prompt == "mutated" {
		t.Fatalf("cache must not be mutated through returned slices")
	}
}

func TestStaticLoaderUnknownSubject(t *testing.T) {
	loader := NewStaticQuestionLoader(nil)
	if _, err := loader.LoadQuestions(context.Background(), "art"); !errors.Is(err, domain.ErrSubjectNotFound) {
		t.Fatalf("expected subject not found, got %v", err)
	}
}

type countingLoader struct {
	QuestionLoader
	calls int
}

func (l *countingLoader) LoadQuestions(ctx context.Context, subject string) ([]domain.Question, error) {
	l.calls++
	return l.QuestionLoader.LoadQuestions(ctx, subject)
}

func sampleBank() []domain.Question {
	return []domain.Question{
		{
			ID:           1,
			Prompt:       "What is 2 + 2?",
			Kind:         domain.KindSingleChoice,
			Options:      []string{"3", "4"},
			CorrectIndex: 1,
			Subject:      "math",
		},
	}
}
