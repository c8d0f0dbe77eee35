package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"OutreachEngine/internal/config"
	"OutreachEngine/internal/domain"
	"OutreachEngine/internal/logging"
	"OutreachEngine/internal/usecase"
)

func memoryConfig() config.Config {
	cfg := config.Default()
	cfg.Store.Dialect = "memory"
	cfg.Delivery.Channel = "dryrun"
	return cfg
}

func TestNewBuildsRunnableJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	application, err := New(ctx, memoryConfig(), logging.Discard())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer application.Close()

	st, err := application.Jobs().Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Prospects != 0 || st.PendingTasks != 0 {
		t.Fatalf("expected empty store, got %+v", st)
	}

	// Without an API key generation fails for every prospect, which the batch
	// reports as a total outage.
	if _, err := application.Jobs().Repository.InsertProspect(ctx, domain.Prospect{
		Key: "pat@example.com", Email: "pat@example.com", State: domain.StateNew,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	report, err := application.Jobs().Outreach(ctx)
	if !errors.Is(err, usecase.ErrTotalOutage) {
		t.Fatalf("expected total outage, got %v", err)
	}
	if report.Counts[domain.OutcomeGenerationFailed] != 1 {
		t.Fatalf("expected one generation failure, got %+v", report.Counts)
	}
}

func TestNewRejectsUnknownAdapters(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*config.Config){
		"llm provider":     func(c *config.Config) { c.LLM.Provider = "parrot" },
		"delivery channel": func(c *config.Config) { c.Delivery.Channel = "pigeon" },
		"store.dialect":    func(c *config.Config) { c.Store.Dialect = "csv" },
	}
	for want, mutate := range cases {
		cfg := memoryConfig()
		mutate(&cfg)
		_, err := New(context.Background(), cfg, logging.Discard())
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error mentioning %q, got %v", want, err)
		}
	}
}
