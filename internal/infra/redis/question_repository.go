package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"gradeup-exam-service/internal/domain"
)

// QuestionLoader fetches a subject's question bank from a backing store.
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, subject string) ([]domain.Question, error)
}

// QuestionRepository caches question banks in Redis and falls back to a loader on cache miss.
// Banks are stored as JSON: SET exam:questions:{subject} [...]
type QuestionRepository struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewQuestionRepository(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) Questions(ctx context.Context, subject string) ([]domain.Question, error) {
	if questions, ok := r.cached(ctx, subject); ok {
		return questions, nil
	}

	result, err, _ := r.sf.Do(subject, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if questions, ok := r.cached(ctx, subject); ok {
			return questions, nil
		}

		questions, err := r.loader.LoadQuestions(ctx, subject)
		if err != nil {
			return nil, err
		}

		// Cache writes are best effort; the loader stays the source of truth.
		if raw, err := json.Marshal(questions); err == nil {
			_ = r.client.Set(ctx, r.key(subject), raw, r.ttlWithJitter()).Err()
		}
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	// Each caller gets its own slice so sessions never share backing arrays.
	shared := result.([]domain.Question)
	questions := make([]domain.Question, len(shared))
	copy(questions, shared)
	return questions, nil
}

func (r *QuestionRepository) cached(ctx context.Context, subject string) ([]domain.Question, bool) {
	raw, err := r.client.Get(ctx, r.key(subject)).Bytes()
	if err != nil {
		return nil, false
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, false
	}
	return questions, true
}

// Invalidate drops the cached bank of a subject, e.g. after seeding.
func (r *QuestionRepository) Invalidate(ctx context.Context, subject string) error {
	err := r.client.Del(ctx, r.key(subject)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (r *QuestionRepository) key(subject string) string {
	return "exam:questions:" + subject
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
