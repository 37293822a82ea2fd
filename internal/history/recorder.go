package history

import (
	"context"
	"encoding/json"
	"fmt"

	"gradeup-exam-service/internal/app"
	"gradeup-exam-service/internal/domain"
)

// DefaultLimit is how many results are kept per user when none is configured.
const DefaultLimit = 20

// Recorder keeps the latest results of each user in a key-value store as a
// JSON array, newest first. It is both a result sink and a history reader.
type Recorder struct {
	store app.KVStore
	limit int
}

func NewRecorder(store app.KVStore, limit int) *Recorder {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Recorder{store: store, limit: limit}
}

func (r *Recorder) Record(ctx context.Context, result domain.ExamResult) error {
	results, err := r.History(ctx, result.UserID)
	if err != nil {
		return err
	}
	results = append([]domain.ExamResult{result}, results...)
	if len(results) > r.limit {
		results = results[:r.limit]
	}

	raw, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return r.store.Set(ctx, key(result.UserID), string(raw))
}

func (r *Recorder) History(ctx context.Context, userID string) ([]domain.ExamResult, error) {
	raw, ok, err := r.store.Get(ctx, key(userID))
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var results []domain.ExamResult
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return nil, fmt.Errorf("decode history of %s: %w", userID, err)
	}
	return results, nil
}

// Clear forgets every result of the user.
func (r *Recorder) Clear(ctx context.Context, userID string) error {
	return r.store.Clear(ctx, key(userID))
}

func key(userID string) string {
	return "history:" + userID
}
