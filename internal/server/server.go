package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"OutreachEngine/internal/domain"
	"OutreachEngine/internal/ports"
	"OutreachEngine/internal/usecase"
)

// JobRun is the latest known run of one job.
type JobRun struct {
	Job        string    `json:"job"`
	Running    bool      `json:"running"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
	Report     any       `json:"report,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Server exposes job triggers and store inspection over HTTP.
type Server struct {
	App *fiber.App

	jobs   *usecase.Jobs
	base   context.Context
	logger *slog.Logger

	mu   sync.Mutex
	runs map[string]JobRun
	wg   sync.WaitGroup
}

// New builds the Fiber app. Triggered jobs run on base, so they outlive the
// request that started them and stop when base is cancelled. metrics may be nil.
func New(base context.Context, jobs *usecase.Jobs, metrics http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal Server Error"

			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
				message = e.Message
			}
			return jsonError(c, code, message)
		},
	})

	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		jobs:   jobs,
		base:   base,
		logger: log,
		runs:   map[string]JobRun{},
	}

	app.Get("/healthz", func(c fiber.Ctx) error {
		return jsonSuccess(c, fiber.Map{"healthy": true})
	})
	if metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics))
	}

	api := app.Group("/api")
	api.Get("/status", s.status)
	api.Get("/prospects", s.prospects)
	api.Post("/retry", s.retry)
	api.Get("/jobs/:name", s.jobStatus)
	api.Post("/jobs/:name", s.trigger)

	return s
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	return s.App.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting requests and waits for triggered jobs.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.App.ShutdownWithContext(ctx)

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

// Wait blocks until every triggered job has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) status(c fiber.Ctx) error {
	st, err := s.jobs.Status(c.Context())
	if err != nil {
		s.logger.Error("status failed", "error", err)
		return jsonError(c, fiber.StatusInternalServerError, "failed to read store")
	}
	return jsonSuccess(c, st)
}

func (s *Server) prospects(c fiber.Ctx) error {
	state := domain.State(strings.TrimSpace(c.Query("state", "")))
	list, err := s.jobs.Prospects(c.Context(), state)
	if err != nil {
		s.logger.Error("list prospects failed", "error", err)
		return jsonError(c, fiber.StatusInternalServerError, "failed to read store")
	}
	return jsonSuccess(c, list)
}

type retryRequest struct {
	Key string `json:"key"`
}

func (s *Server) retry(c fiber.Ctx) error {
	var req retryRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil || strings.TrimSpace(req.Key) == "" {
		return jsonError(c, fiber.StatusBadRequest, "body must be {\"key\": \"...\"}")
	}

	p, err := s.jobs.Retry(c.Context(), req.Key)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		return jsonError(c, fiber.StatusNotFound, "prospect not found")
	case errors.Is(err, usecase.ErrNotRetryable):
		return jsonError(c, fiber.StatusConflict, err.Error())
	case err != nil:
		s.logger.Error("retry failed", "key", req.Key, "error", err)
		return jsonError(c, fiber.StatusInternalServerError, "retry failed")
	}
	return jsonSuccess(c, p)
}

func knownJob(name string) bool {
	switch name {
	case usecase.JobDiscover, usecase.JobOutreach, usecase.JobFollowUps:
		return true
	}
	return false
}

func (s *Server) jobStatus(c fiber.Ctx) error {
	name := c.Params("name")
	if !knownJob(name) {
		return jsonError(c, fiber.StatusNotFound, "unknown job")
	}
	s.mu.Lock()
	run, ok := s.runs[name]
	s.mu.Unlock()
	if !ok {
		return jsonError(c, fiber.StatusNotFound, "job has not run since startup")
	}
	return jsonSuccess(c, run)
}

// trigger starts a job in the background. One run per job at a time,
// including runs started by the scheduler.
func (s *Server) trigger(c fiber.Ctx) error {
	name := c.Params("name")
	if !knownJob(name) {
		return jsonError(c, fiber.StatusNotFound, "unknown job")
	}

	s.mu.Lock()
	if s.runs[name].Running || s.jobs.Running(name) {
		s.mu.Unlock()
		return jsonError(c, fiber.StatusConflict, "job already running")
	}
	run := JobRun{Job: name, Running: true, StartedAt: time.Now().UTC()}
	s.runs[name] = run
	s.wg.Add(1)
	s.mu.Unlock()

	go s.execute(name, run)
	return jsonAccepted(c, run)
}

func (s *Server) execute(name string, run JobRun) {
	defer s.wg.Done()

	report, err := s.jobs.Run(s.base, name)
	run.Running = false
	run.FinishedAt = time.Now().UTC()
	run.Report = report
	if err != nil {
		run.Error = err.Error()
		s.logger.Error("triggered job failed", "job", name, "error", err)
	}

	s.mu.Lock()
	s.runs[name] = run
	s.mu.Unlock()
}
