package cli

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"school-session-agent/internal/app"
	"school-session-agent/internal/config"
	"school-session-agent/internal/infra/memory"
	redisstore "school-session-agent/internal/infra/redis"
	"school-session-agent/internal/logging"
	"school-session-agent/internal/metrics"
	"school-session-agent/internal/remote"
	transport "school-session-agent/internal/transport/http"
)

// NewAgentCmd builds the CLI subcommand that runs the session agent next to the page.
func NewAgentCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Start the session agent (websocket relay for activities and attendance)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), *configPath, *port)
		},
	}
}

func runAgent(ctx context.Context, configPath, portFlag string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger("agent", cfg)
	defer logger.Close()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Agent.Port
	}

	var store app.LocalStore = memory.NewLocalStore()
	if cfg.Agent.Store == "redis" {
		redisClient := newRedisClient(cfg)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		store = redisstore.NewLocalStore(redisClient, cfg.Redis.Prefix, config.TTLDuration(cfg.Redis.TTL, 7*24*time.Hour))
	}

	client := remote.New(cfg.Agent.BackendURL)
	activityHandler := transport.NewActivityHandler(client, app.CollectorOptions{
		SubmitTimeout:    config.TTLDuration(cfg.Agent.SubmitTimeout, 30*time.Second),
		LowTimeThreshold: cfg.Agent.LowTimeThreshold,
		Logger:           logger,
	}, cfg.Agent.AllowedOrigins)
	attendanceHandler := transport.NewAttendanceHandler(store, client, transport.AttendanceOptions{
		TrackHomework:    cfg.Attendance.TrackHomework,
		RejectDuplicates: cfg.Attendance.RejectDuplicates,
		FlushTimeout:     config.TTLDuration(cfg.Attendance.FlushTimeout, 15*time.Second),
		StartOffline:     cfg.Agent.StartOffline,
		Logger:           logger,
	}, cfg.Agent.AllowedOrigins)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/ws/activity", activityHandler.ServeWS)
	mux.HandleFunc("/ws/attendance", attendanceHandler.ServeWS)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		logger.Infof("starting session agent on :%s (backend %s, store %s)", finalPort, cfg.Agent.BackendURL, cfg.Agent.Store)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("failed to start agent: %v", err)
		}
	}()

	waitForShutdown(ctx, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func newLogger(component string, cfg config.Config) *logging.RollbarLogger {
	host, _ := os.Hostname()
	return logging.NewRollbar(logging.New(component, cfg.Log.Level), logging.RollbarConfig{
		Token:       cfg.Rollbar.Token,
		Environment: cfg.Rollbar.Environment,
		Host:        host,
	})
}

func newRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func waitForShutdown(ctx context.Context, logger logging.Logger) {
	<-ctx.Done()
	logger.Infof("shutting down...")
}
