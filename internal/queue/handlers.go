package queue

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/esignature/internal/config"
)

// Server runs registered task handlers against the Redis queue.
type Server struct {
	srv   *asynq.Server
	mux   *asynq.ServeMux
	types []string
}

func NewServer(cfg config.RedisConfig, concurrency int, logger asynq.Logger) *Server {
	srv := asynq.NewServer(RedisOpt(cfg), asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
		Logger: logger,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			slog.Warn("task failed", "type", t.Type(), "attempt", retried+1, "max_retry", maxRetry, "error", err)
		}),
	})
	return &Server{srv: srv, mux: asynq.NewServeMux()}
}

func (s *Server) Register(taskType string, handler asynq.Handler) {
	s.mux.Handle(taskType, handler)
	s.types = append(s.types, taskType)
}

// Run blocks until the process receives a termination signal.
func (s *Server) Run() error {
	slog.Info("starting worker", "task_types", s.types)
	return s.srv.Run(s.mux)
}
