package cli

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"school-session-agent/internal/backend"
	"school-session-agent/internal/config"
	"school-session-agent/internal/domain"
	"school-session-agent/internal/infra/memory"
	pgstore "school-session-agent/internal/infra/postgres"
	redisstore "school-session-agent/internal/infra/redis"
)

// NewBackendCmd builds the CLI subcommand that runs the reference REST backend.
func NewBackendCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "backend",
		Short: "Start the reference activity and attendance backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackend(cmd.Context(), *configPath, *port)
		},
	}
}

func runBackend(ctx context.Context, configPath, portFlag string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger("backend", cfg)
	defer logger.Close()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Backend.Port
	}

	seed := sampleActivities()
	if cfg.Backend.SeedFile != "" {
		if seed, err = readSeedFile(cfg.Backend.SeedFile); err != nil {
			return err
		}
	}

	var (
		loader backend.ActivityLoader = memory.NewStaticActivityLoader(seed)
		store  backend.Store          = memory.NewBackendStore()
	)
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg.Postgres.URL, logger); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return errors.Wrap(err, "connect postgres")
		}
		defer pool.Close()

		activities := pgstore.NewActivityStore(pool)
		if cfg.Backend.SeedFile != "" {
			for _, act := range seed {
				if err := activities.SaveActivity(ctx, act); err != nil {
					return err
				}
			}
			logger.Infof("seeded %d activities", len(seed))
		}
		loader = activities
		store = pgstore.NewBackendStore(pool)
	}

	activityTTL := config.TTLDuration(cfg.Activity.TTL, 10*time.Minute)
	if cfg.Redis.Addr != "" {
		redisClient := newRedisClient(cfg)
		defer redisClient.Close()
		loader = redisstore.NewActivityCache(redisClient, loader, activityTTL, logger)
	} else {
		loader = memory.NewActivityCache(loader, activityTTL)
	}

	srv := backend.NewServer(backend.Options{
		Address:        ":" + finalPort,
		Activities:     loader,
		Store:          store,
		Secret:         cfg.Auth.Secret,
		MaxUploadBytes: cfg.Backend.MaxUploadBytes,
		Logger:         logger,
	})
	if cfg.Auth.Secret == "" {
		logger.Warnf("auth.secret is empty; API routes accept anonymous requests")
	}

	go func() {
		if err := srv.Start(); err != nil {
			logger.Errorf("failed to start backend: %v", err)
		}
	}()

	waitForShutdown(ctx, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// readSeedFile loads a JSON array of activities. Each one must validate.
func readSeedFile(path string) (map[string]domain.Activity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read seed file %s", path)
	}
	var list []domain.Activity
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, errors.Wrapf(err, "parse seed file %s", path)
	}
	out := make(map[string]domain.Activity, len(list))
	for _, act := range list {
		if err := domain.Validate(act); err != nil {
			return nil, errors.Wrapf(err, "seed activity %q", act.ID)
		}
		out[act.ID] = act
	}
	return out, nil
}

// sampleActivities is served when no seed file or database is configured.
func sampleActivities() map[string]domain.Activity {
	return map[string]domain.Activity{
		"quiz-1": {
			ID:               "quiz-1",
			Kind:             domain.KindQuiz,
			Title:            "Warm-up",
			TimeLimitSeconds: 120,
			ScoreVisibility:  domain.VisibleImmediate,
			QuestionOrder:    domain.OrderRandom,
			Questions: []domain.Question{
				{
					ID:        "q1",
					Prompt:    "What is 2 + 2?",
					Selection: domain.SelectSingle,
					Choices: []domain.Choice{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5"},
					},
					Points: 1,
				},
				{
					ID:        "q2",
					Prompt:    "Which numbers are prime?",
					Selection: domain.SelectMultiple,
					Choices: []domain.Choice{
						{ID: "o1", Text: "2", Correct: true},
						{ID: "o2", Text: "4"},
						{ID: "o3", Text: "7", Correct: true},
					},
					Points: 2,
				},
			},
		},
		"essay-1": {
			ID:             "essay-1",
			Kind:           domain.KindTask,
			Title:          "Weekend reading summary",
			SubmissionType: domain.SubmitBoth,
		},
	}
}
