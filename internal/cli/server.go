package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gradeup-exam-service/internal/app"
	"gradeup-exam-service/internal/config"
	"gradeup-exam-service/internal/domain"
	"gradeup-exam-service/internal/history"
	"gradeup-exam-service/internal/infra/memory"
	"gradeup-exam-service/internal/infra/postgres"
	redisinfra "gradeup-exam-service/internal/infra/redis"
	"gradeup-exam-service/internal/logger"
	transport "gradeup-exam-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the exam server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, log); err != nil {
			return err
		}
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 2*time.Hour)

	var loader memory.QuestionLoader
	if pool != nil {
		loader = postgres.NewQuestionLoader(pool)
	} else {
		banks := sampleBank()
		if cfg.Questions.BankFile != "" {
			if banks, err = memory.LoadBankFile(cfg.Questions.BankFile); err != nil {
				return err
			}
		}
		static := memory.NewStaticQuestionLoader(banks)
		log.Info().Strs("subjects", static.Subjects()).Msg("serving in-memory question banks")
		loader = static
	}

	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)
	var (
		questions app.QuestionSource
		store     app.SessionRepository
		kv        app.KVStore
	)
	if redisClient != nil {
		questions = redisinfra.NewQuestionRepository(redisClient, loader, questionTTL)
		store = redisinfra.NewSessionStore(redisClient, redisTTL)
		kv = redisinfra.NewKVStore(redisClient, "gradeup:")
	} else {
		questions = memory.NewQuestionRepository(loader, questionTTL)
		store = memory.NewSessionStore()
		kv = memory.NewKVStore()
	}

	recorder := history.NewRecorder(kv, cfg.Exam.HistoryLimit)
	sinks := app.MultiSink{recorder}
	var reader app.HistoryReader = recorder
	if pool != nil {
		results := postgres.NewResultStore(pool)
		sinks = append(sinks, results)
		reader = results
	}

	service := app.NewExamService(store, questions, sinks, log, app.WithHistory(reader))
	defer service.Close()

	wsHandler := transport.NewWSHandler(service, transport.Defaults{
		QuestionCount:   cfg.Exam.DefaultCount,
		DurationMinutes: cfg.Exam.DefaultDuration,
	}, cfg.Server.AllowedOrigins, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.Handle("/history", transport.NewHistoryHandler(service, log))

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("starting exam service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// sampleBank is served when neither Postgres nor a bank file is configured.
func sampleBank() map[string][]domain.Question {
	return map[string][]domain.Question{
		"math": {
			{
				ID:           1,
				Prompt:       "What is 2 + 2?",
				Kind:         domain.KindSingleChoice,
				Subject:      "math",
				Difficulty:   "easy",
				Options:      []string{"3", "4", "5", "22"},
				CorrectIndex: 1,
				Explanation:  "Two plus two is four.",
			},
			{
				ID:           2,
				Prompt:       "Which number is prime?",
				Kind:         domain.KindSingleChoice,
				Subject:      "math",
				Difficulty:   "easy",
				Options:      []string{"9", "15", "17", "21"},
				CorrectIndex: 2,
			},
			{
				ID:              3,
				Prompt:          "What is 7 * 8?",
				Kind:            domain.KindFreeResponse,
				Subject:         "math",
				Difficulty:      "medium",
				ReferenceAnswer: "56",
			},
		},
	}
}
