package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"gradeup-exam-service/internal/domain"
)

const historyLimit = 50

// ResultStore persists finished exam results in exam_results.
type ResultStore struct {
	pool *pgxpool.Pool
}

func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

// Record stores a result. Recording the same session twice is a no-op.
func (s *ResultStore) Record(ctx context.Context, result domain.ExamResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO exam_results
			(session_id, user_id, subject, score, total_questions, percentage, reason, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO NOTHING`,
		result.SessionID, result.UserID, result.Subject, result.Score,
		result.TotalQuestions, result.Percentage, string(result.Reason), result.CompletedAt)
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	return nil
}

// History lists the latest results of a user, newest first.
func (s *ResultStore) History(ctx context.Context, userID string) ([]domain.ExamResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, user_id, subject, score, total_questions, percentage, reason, completed_at
		FROM exam_results
		WHERE user_id=$1
		ORDER BY completed_at DESC
		LIMIT $2`, userID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var results []domain.ExamResult
	for rows.Next() {
		var (
			r      domain.ExamResult
			reason string
		)
		if err := rows.Scan(&r.SessionID, &r.UserID, &r.Subject, &r.Score,
			&r.TotalQuestions, &r.Percentage, &reason, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		r.Reason = domain.CompletionReason(reason)
		results = append(results, r)
	}
	return results, rows.Err()
}

// Clear deletes every stored result of a user.
func (s *ResultStore) Clear(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM exam_results WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
