package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"gradeup-exam-service/internal/config"
	"gradeup-exam-service/internal/domain"
	"gradeup-exam-service/internal/infra/memory"
	"gradeup-exam-service/internal/infra/postgres"
	redisinfra "gradeup-exam-service/internal/infra/redis"
	"gradeup-exam-service/internal/logger"
)

// NewSeedCmd loads a YAML question bank into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a YAML question bank into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logger.Setup(cfg.Log.Level, cfg.Log.Format)
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			if file == "" {
				file = cfg.Questions.BankFile
			}
			if file == "" {
				return fmt.Errorf("no bank file given")
			}

			banks, err := memory.LoadBankFile(file)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := runMigrations(ctx, cfg, log); err != nil {
				return err
			}
			pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
			if err != nil {
				return err
			}
			defer pool.Close()

			var cache bankCache
			if cfg.Redis.Addr != "" {
				client := redis.NewClient(&redis.Options{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
				})
				defer client.Close()
				cache = redisinfra.NewQuestionRepository(client, postgres.NewQuestionLoader(pool), 0)
			}

			store := func(ctx context.Context, subject string, questions []domain.Question) error {
				return postgres.SeedQuestionBank(ctx, pool, subject, questions)
			}
			return seedBanks(ctx, banks, store, cache, log)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML question bank (defaults to questions.bank_file)")
	return cmd
}

// bankCache is a question cache that must forget re-seeded subjects.
type bankCache interface {
	Invalidate(ctx context.Context, subject string) error
}

type bankStore func(ctx context.Context, subject string, questions []domain.Question) error

// seedBanks stores every bank in subject order and drops its cached copy.
func seedBanks(ctx context.Context, banks map[string][]domain.Question, store bankStore, cache bankCache, log zerolog.Logger) error {
	subjects := make([]string, 0, len(banks))
	for subject := range banks {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)

	for _, subject := range subjects {
		if err := store(ctx, subject, banks[subject]); err != nil {
			return err
		}
		if cache != nil {
			if err := cache.Invalidate(ctx, subject); err != nil {
				return fmt.Errorf("invalidate cached bank %s: %w", subject, err)
			}
		}
		log.Info().Str("subject", subject).Int("questions", len(banks[subject])).Msg("question bank seeded")
	}
	return nil
}
