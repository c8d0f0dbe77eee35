package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"OutreachEngine/internal/config"
	"OutreachEngine/internal/content"
	"OutreachEngine/internal/infrastructure/delivery"
	"OutreachEngine/internal/infrastructure/llm"
	"OutreachEngine/internal/infrastructure/scheduler"
	"OutreachEngine/internal/infrastructure/storage"
	"OutreachEngine/internal/infrastructure/telegram"
	"OutreachEngine/internal/infrastructure/websearch"
	"OutreachEngine/internal/logging"
	"OutreachEngine/internal/metrics"
	"OutreachEngine/internal/ports"
	"OutreachEngine/internal/records"
	"OutreachEngine/internal/search"
	"OutreachEngine/internal/server"
	"OutreachEngine/internal/usecase"
)

const shutdownTimeout = 30 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	store     ports.Store
	registry  *prometheus.Registry
	jobs      *usecase.Jobs
	scheduler *usecase.Scheduler
}

// New opens the store and builds every collaborator the jobs need.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	repo := records.New(store)

	completer, err := newCompleter(ctx, cfg.LLM)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	composer := content.NewComposer(completer, content.Brand{
		Name:        cfg.Campaign.Brand.Name,
		Description: cfg.Campaign.Brand.Description,
		Founder:     cfg.Campaign.Brand.Founder,
		Highlights:  cfg.Campaign.Brand.Highlights,
		WordLimit:   cfg.Campaign.Brand.WordLimit,
	})

	channel, err := newChannel(cfg.Delivery, baseLogger.With("component", "delivery"))
	if err != nil {
		closeStore(store)
		return nil, err
	}

	registry := search.NewRegistry()
	registry.Register(websearch.NewDuckDuckGo(nil, ""))
	registry.Register(websearch.NewNewsRSS(nil, ""))
	source := websearch.NewConfiguredSource(registry, cfg.Discovery.Source, baseLogger.With("component", "source"))

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewStoreCollector(repo),
	)
	recorder := metrics.NewRecorder(promRegistry)

	clock := usecase.SystemClock{}
	sender := usecase.Sender{Name: cfg.Delivery.FromName, Email: cfg.Delivery.FromEmail}

	jobs := &usecase.Jobs{
		Discovery: usecase.NewDiscoveryPipeline(usecase.DiscoverySettings{
			Queries:           cfg.Discovery.Queries,
			Topics:            cfg.Discovery.Topics,
			ResultsPerQuery:   cfg.Discovery.ResultsPerQuery,
			MinRelevanceScore: cfg.Discovery.MinRelevanceScore,
		}, usecase.DiscoveryDeps{
			Searcher:   source,
			Analyzer:   composer,
			Repository: repo,
			Clock:      clock,
			Recorder:   recorder,
			Logger:     baseLogger.With("component", "discovery"),
		}),
		Campaign: usecase.NewCampaignEngine(usecase.CampaignSettings{
			DailyLimit:    cfg.Campaign.DailyLimit,
			SendInterval:  cfg.Campaign.SendInterval,
			FollowUpDelay: cfg.Campaign.FollowUpDelay(),
			MaxFollowUps:  cfg.Campaign.MaxFollowUps,
			Template:      cfg.Campaign.InitialTemplate,
			Sender:        sender,
			Location:      cfg.Scheduler.Location(),
		}, usecase.CampaignDeps{
			Composer:   composer,
			Channel:    channel,
			Repository: repo,
			Clock:      clock,
			Recorder:   recorder,
			Logger:     baseLogger.With("component", "campaign"),
		}),
		FollowUps: usecase.NewFollowUpScheduler(usecase.FollowUpSettings{
			Delay:        cfg.Campaign.FollowUpDelay(),
			MaxFollowUps: cfg.Campaign.MaxFollowUps,
			SendInterval: cfg.Campaign.SendInterval,
			Template:     cfg.Campaign.FollowUpTemplate,
			Sender:       sender,
		}, usecase.FollowUpDeps{
			Composer:   composer,
			Channel:    channel,
			Repository: repo,
			Clock:      clock,
			Recorder:   recorder,
			Logger:     baseLogger.With("component", "followups"),
		}),
		Repository: repo,
		Notifier:   newNotifier(cfg.Notifications.Telegram),
		Recorder:   recorder,
		Clock:      clock,
		Logger:     baseLogger.With("component", "jobs"),
	}

	sched := usecase.NewScheduler(jobs, map[string]ports.Scheduler{
		usecase.JobDiscover:  scheduler.NewIntervalScheduler(cfg.Scheduler.DiscoveryInterval),
		usecase.JobOutreach:  scheduler.NewIntervalScheduler(cfg.Scheduler.OutreachInterval),
		usecase.JobFollowUps: scheduler.NewIntervalScheduler(cfg.Scheduler.FollowUpInterval),
	})

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		store:     store,
		registry:  promRegistry,
		jobs:      jobs,
		scheduler: sched,
	}, nil
}

// Jobs exposes the batch jobs for one-shot invocation.
func (a *Application) Jobs() *usecase.Jobs {
	return a.jobs
}

// Serve runs the scheduler and the HTTP surface until ctx is cancelled or
// either of them fails.
func (a *Application) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	srv := server.New(gctx, a.jobs, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}), a.logger.With("component", "http"))

	g.Go(func() error {
		return srv.Start(a.cfg.Server.Addr)
	})

	g.Go(func() error {
		if err := a.scheduler.Start(gctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		a.logger.Info("scheduler started",
			"discovery", a.cfg.Scheduler.DiscoveryInterval,
			"outreach", a.cfg.Scheduler.OutreachInterval,
			"followups", a.cfg.Scheduler.FollowUpInterval)

		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(a.scheduler.Stop(shutdownCtx), srv.Shutdown(shutdownCtx))
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the store.
func (a *Application) Close() error {
	if c, ok := a.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (ports.Store, error) {
	if cfg.Dialect == "memory" {
		return storage.NewMemoryStore(), nil
	}
	store, err := storage.Open(ctx, cfg.Dialect, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

func closeStore(store ports.Store) {
	if c, ok := store.(io.Closer); ok {
		_ = c.Close()
	}
}

func newCompleter(ctx context.Context, cfg config.LLMConfig) (ports.Completer, error) {
	switch cfg.Provider {
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return missingKey("gemini"), nil
		}
		return llm.NewGeminiClient(ctx, cfg.Gemini)
	case "chatgpt", "":
		if cfg.ChatGPT.APIKey == "" {
			return missingKey("chatgpt"), nil
		}
		return llm.NewChatGPTClient(cfg.ChatGPT), nil
	default:
		return nil, fmt.Errorf("llm provider %q is not supported", cfg.Provider)
	}
}

// missingKey lets read-only commands run without credentials; generation
// fails per item instead.
type missingKey string

func (m missingKey) Complete(context.Context, ports.CompletionRequest) (string, error) {
	return "", fmt.Errorf("llm provider %s has no API key configured", string(m))
}

func newChannel(cfg config.DeliveryConfig, logger *slog.Logger) (ports.Channel, error) {
	switch cfg.Channel {
	case "smtp":
		return delivery.NewSMTPChannel(cfg.SMTP, logger), nil
	case "api":
		return delivery.NewAPIChannel(cfg.API), nil
	case "dryrun", "":
		return delivery.NewDryRunChannel(logger), nil
	default:
		return nil, fmt.Errorf("delivery channel %q is not supported", cfg.Channel)
	}
}

func newNotifier(cfg config.TelegramConfig) ports.Notifier {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil
	}
	return telegram.NewNotifier(cfg.BotToken, cfg.ChatID)
}
