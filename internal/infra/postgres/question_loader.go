package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"gradeup-exam-service/internal/domain"
)

// QuestionLoader loads a subject's question bank stored as a JSONB array.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadQuestions(ctx context.Context, subject string) ([]domain.Question, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM question_banks WHERE subject=$1`, subject).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSubjectNotFound, subject)
	}
	if err != nil {
		return nil, fmt.Errorf("load question bank: %w", err)
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, fmt.Errorf("unmarshal question bank: %w", err)
	}
	return questions, nil
}

// SeedQuestionBank inserts or replaces the bank of a subject.
func SeedQuestionBank(ctx context.Context, pool *pgxpool.Pool, subject string, questions []domain.Question) error {
	raw, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("marshal question bank: %w", err)
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO question_banks (subject, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (subject) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		subject, raw)
	if err != nil {
		return fmt.Errorf("seed question bank %s: %w", subject, err)
	}
	return nil
}
