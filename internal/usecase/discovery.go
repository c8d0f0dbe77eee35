package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"OutreachEngine/internal/content"
	"OutreachEngine/internal/domain"
	"OutreachEngine/internal/ports"
	"OutreachEngine/internal/records"
)

// ErrTotalOutage is returned by a batch that attempted work and saw every
// attempt fail. The batch report is still returned alongside it.
var ErrTotalOutage = errors.New("total outage")

// DiscoverySettings is the scoring criterion and query plan of a discovery batch.
type DiscoverySettings struct {
	Queries           []string
	Topics            []string
	ResultsPerQuery   int
	MinRelevanceScore int
}

// DiscoveryDeps wires the driven adapters of the discovery pipeline.
type DiscoveryDeps struct {
	Searcher   ports.Searcher
	Analyzer   Analyzer
	Repository *records.Repository
	Clock      ports.Clock
	Recorder   Recorder
	Logger     *slog.Logger
}

// DiscoveryPipeline turns seed queries into deduplicated prospect records.
type DiscoveryPipeline struct {
	settings DiscoverySettings
	searcher ports.Searcher
	analyzer Analyzer
	repo     *records.Repository
	clock    ports.Clock
	recorder Recorder
	logger   *slog.Logger
}

// NewDiscoveryPipeline constructs the discovery component.
func NewDiscoveryPipeline(settings DiscoverySettings, deps DiscoveryDeps) *DiscoveryPipeline {
	if settings.ResultsPerQuery <= 0 {
		settings.ResultsPerQuery = 10
	}
	return &DiscoveryPipeline{
		settings: settings,
		searcher: deps.Searcher,
		analyzer: deps.Analyzer,
		repo:     deps.Repository,
		clock:    orClock(deps.Clock),
		recorder: orRecorder(deps.Recorder),
		logger:   orLogger(deps.Logger),
	}
}

// Discover runs every seed query and returns the accepted prospects without
// persisting them. Only a total outage is returned as an error: every query
// failed, or results came back and every one of them failed analysis.
func (d *DiscoveryPipeline) Discover(ctx context.Context) ([]domain.Prospect, domain.DiscoveryReport, error) {
	report := domain.DiscoveryReport{StartedAt: d.clock.Now(), Queries: len(d.settings.Queries)}
	if d.searcher == nil || d.analyzer == nil {
		return nil, report, fmt.Errorf("discovery pipeline is not configured")
	}

	seen := map[string]struct{}{}
	var (
		prospects []domain.Prospect
		failed    int
		lastErr   error
	)

	for _, query := range d.settings.Queries {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = d.clock.Now()
			return prospects, report, err
		}

		results, err := d.searcher.Search(ctx, query, d.settings.ResultsPerQuery)
		if err != nil {
			failed++
			lastErr = err
			d.logger.Warn("discovery query failed", "query", query, "stage", "search", "error", err)
			d.record(&report, domain.ItemResult{Key: query, Outcome: domain.OutcomeQueryFailed, Error: err.Error()})
			continue
		}
		if len(results) > d.settings.ResultsPerQuery {
			results = results[:d.settings.ResultsPerQuery]
		}
		report.Results += len(results)
		d.logger.Debug("query returned results", "query", query, "count", len(results))

		for _, result := range results {
			p, item, ok := d.evaluate(ctx, query, result)
			if ok {
				if _, dup := seen[p.Key]; dup {
					item.Outcome = domain.OutcomeDuplicate
					ok = false
				} else {
					seen[p.Key] = struct{}{}
				}
			}
			d.record(&report, item)
			if ok {
				prospects = append(prospects, p)
			}
		}
	}

	report.Prospects = prospects
	report.FinishedAt = d.clock.Now()

	if len(d.settings.Queries) > 0 && failed == len(d.settings.Queries) {
		return nil, report, fmt.Errorf("%w: %v", ErrTotalOutage, lastErr)
	}
	analysisFailed := report.Counts[domain.OutcomeAnalysisFailed] + report.Counts[domain.OutcomeParseFailed]
	if report.Results > 0 && analysisFailed == report.Results {
		return nil, report, fmt.Errorf("%w: all %d results failed analysis", ErrTotalOutage, analysisFailed)
	}

	if n := report.Counts[domain.OutcomeParseFailed]; n > 0 {
		d.logger.Warn("discarded unparseable analyses", "count", n)
	}

	return prospects, report, nil
}

// Run discovers prospects and stores the new ones. A key that already exists
// in the store keeps its original record and send history.
func (d *DiscoveryPipeline) Run(ctx context.Context) (domain.DiscoveryReport, error) {
	prospects, report, err := d.Discover(ctx)
	if err != nil {
		return report, err
	}
	if d.repo == nil {
		return report, fmt.Errorf("discovery repository is not configured")
	}

	for _, p := range prospects {
		created, err := d.repo.InsertProspect(ctx, p)
		if err != nil {
			report.FinishedAt = d.clock.Now()
			return report, fmt.Errorf("persist prospect %s: %w", p.Key, err)
		}
		if created {
			report.Stored++
		} else {
			report.Existing++
		}
	}

	report.FinishedAt = d.clock.Now()
	d.logger.Info("discovery finished",
		"queries", report.Queries,
		"results", report.Results,
		"accepted", len(prospects),
		"stored", report.Stored,
		"existing", report.Existing)
	return report, nil
}

func (d *DiscoveryPipeline) evaluate(ctx context.Context, query string, result domain.SearchResult) (domain.Prospect, domain.ItemResult, bool) {
	item := domain.ItemResult{Key: result.URL, Name: result.Title}

	analysis, err := d.analyzer.Analyze(ctx, result, d.settings.Topics)
	if err != nil {
		item.Error = err.Error()
		item.Outcome = domain.OutcomeAnalysisFailed
		if errors.Is(err, content.ErrMalformed) {
			item.Outcome = domain.OutcomeParseFailed
		}
		d.logger.Warn("result analysis failed", "key", result.URL, "stage", string(item.Outcome), "error", err)
		return domain.Prospect{}, item, false
	}

	if analysis.RelevanceScore < d.settings.MinRelevanceScore {
		item.Outcome = domain.OutcomeBelowThreshold
		return domain.Prospect{}, item, false
	}

	key := domain.IdentityKey(analysis.Email, result.URL)
	if key == "" {
		item.Outcome = domain.OutcomeParseFailed
		item.Error = "result has neither email nor url"
		return domain.Prospect{}, item, false
	}

	now := d.clock.Now().UTC()
	p := domain.Prospect{
		Key:            key,
		Name:           firstNonEmpty(analysis.ContactPerson, strings.TrimSpace(result.Title)),
		Email:          analysis.Email,
		Platform:       analysis.PlatformType,
		URL:            strings.TrimSpace(result.URL),
		Source:         strings.TrimSpace(result.Title),
		Query:          query,
		RelevanceScore: analysis.RelevanceScore,
		Reason:         analysis.Reason,
		PitchAngle:     analysis.PitchAngle,
		DiscoveredAt:   now,
		State:          domain.StateNew,
		UpdatedAt:      now,
	}

	item.Key = key
	item.Name = p.Name
	item.Outcome = domain.OutcomeAccepted
	return p, item, true
}

func (d *DiscoveryPipeline) record(report *domain.DiscoveryReport, item domain.ItemResult) {
	report.Record(item)
	d.recorder.Discovery(item.Outcome)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
