package usecase

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OutreachEngine/internal/content"
	"OutreachEngine/internal/domain"
	"OutreachEngine/internal/records"
)

func TestDiscoverFiltersAndDeduplicates(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{results: map[string][]domain.SearchResult{
		"q1": {
			{Title: "Show A", URL: "https://a.example"},
			{Title: "Show B", URL: "https://b.example"},
			{Title: "Show C", URL: "https://c.example"},
		},
		"q2": {
			{Title: "Show A again", URL: "https://a2.example"},
			{Title: "Blog D", URL: "https://d.example"},
			{Title: "Broken", URL: "https://broken.example"},
			{Title: "Down", URL: "https://down.example"},
		},
	}}
	analyzer := &fakeAnalyzer{
		byURL: map[string]content.Analysis{
			"https://a.example":  {ContactPerson: "Ana", Email: "ana@example.com", RelevanceScore: 9},
			"https://b.example":  {Email: "bo@example.com", RelevanceScore: 3},
			"https://c.example":  {ContactPerson: "Cy", RelevanceScore: 7},
			"https://a2.example": {ContactPerson: "Ana", Email: "ANA@example.com", RelevanceScore: 8},
			"https://d.example":  {ContactPerson: "Dee", Email: "dee@example.com", RelevanceScore: 10},
		},
		errs: map[string]error{
			"https://broken.example": fmt.Errorf("%w: no json", content.ErrMalformed),
			"https://down.example":   errBoom,
		},
	}
	recorder := newCountingRecorder()

	pipeline := NewDiscoveryPipeline(DiscoverySettings{
		Queries:           []string{"q1", "q2"},
		ResultsPerQuery:   10,
		MinRelevanceScore: 7,
	}, DiscoveryDeps{Searcher: searcher, Analyzer: analyzer, Clock: newFakeClock(), Recorder: recorder})

	prospects, report, err := pipeline.Discover(context.Background())
	require.NoError(t, err)

	keys := make([]string, 0, len(prospects))
	for _, p := range prospects {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []string{"ana@example.com", "https://c.example", "dee@example.com"}, keys)
	assert.Equal(t, "https://a.example", prospects[0].URL, "first occurrence wins")
	assert.Equal(t, "q1", prospects[0].Query)
	assert.Equal(t, domain.StateNew, prospects[0].State)

	assert.Equal(t, 7, report.Results)
	assert.Equal(t, 3, report.Counts[domain.OutcomeAccepted])
	assert.Equal(t, 1, report.Counts[domain.OutcomeDuplicate])
	assert.Equal(t, 1, report.Counts[domain.OutcomeBelowThreshold])
	assert.Equal(t, 1, report.Counts[domain.OutcomeParseFailed])
	assert.Equal(t, 1, report.Counts[domain.OutcomeAnalysisFailed])
	assert.Equal(t, 3, recorder.discovery[domain.OutcomeAccepted])
}

func TestDiscoverSkipsFailedQueries(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{
		results: map[string][]domain.SearchResult{"ok": {{Title: "Pod", URL: "https://pod.example"}}},
		fail:    map[string]bool{"down": true},
	}
	analyzer := &fakeAnalyzer{byURL: map[string]content.Analysis{
		"https://pod.example": {Email: "pod@example.com", RelevanceScore: 8},
	}}

	pipeline := NewDiscoveryPipeline(DiscoverySettings{
		Queries:           []string{"down", "ok"},
		MinRelevanceScore: 7,
	}, DiscoveryDeps{Searcher: searcher, Analyzer: analyzer})

	prospects, report, err := pipeline.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, prospects, 1)
	assert.Equal(t, 1, report.Counts[domain.OutcomeQueryFailed])
}

func TestDiscoverTotalOutage(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{fail: map[string]bool{"a": true, "b": true}}
	pipeline := NewDiscoveryPipeline(DiscoverySettings{Queries: []string{"a", "b"}},
		DiscoveryDeps{Searcher: searcher, Analyzer: &fakeAnalyzer{}, Repository: newRepo()})

	report, err := pipeline.Run(context.Background())
	require.ErrorIs(t, err, ErrTotalOutage)
	assert.Equal(t, 2, report.Counts[domain.OutcomeQueryFailed])
}

func TestDiscoverAnalysisOutage(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{results: map[string][]domain.SearchResult{
		"a": {{Title: "One", URL: "https://one.example"}},
		"b": {{Title: "Two", URL: "https://two.example"}, {Title: "Three", URL: "https://three.example"}},
	}}
	analyzer := &fakeAnalyzer{errs: map[string]error{
		"https://one.example":   errBoom,
		"https://two.example":   errBoom,
		"https://three.example": fmt.Errorf("%w: no json", content.ErrMalformed),
	}}
	repo := newRepo()
	pipeline := NewDiscoveryPipeline(DiscoverySettings{Queries: []string{"a", "b"}, MinRelevanceScore: 7},
		DiscoveryDeps{Searcher: searcher, Analyzer: analyzer, Repository: repo})

	report, err := pipeline.Run(context.Background())
	require.ErrorIs(t, err, ErrTotalOutage)
	assert.Equal(t, 3, report.Results)
	assert.Equal(t, 2, report.Counts[domain.OutcomeAnalysisFailed])
	assert.Equal(t, 1, report.Counts[domain.OutcomeParseFailed])
	assert.Zero(t, report.Counts[domain.OutcomeQueryFailed])

	prospects, _, err := repo.ListProspects(context.Background())
	require.NoError(t, err)
	assert.Empty(t, prospects)
}

func TestDiscoverBelowThresholdIsNotAnOutage(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{results: map[string][]domain.SearchResult{
		"a": {{Title: "One", URL: "https://one.example"}, {Title: "Two", URL: "https://two.example"}},
	}}
	analyzer := &fakeAnalyzer{
		byURL: map[string]content.Analysis{"https://one.example": {Email: "one@example.com", RelevanceScore: 2}},
		errs:  map[string]error{"https://two.example": errBoom},
	}
	pipeline := NewDiscoveryPipeline(DiscoverySettings{Queries: []string{"a"}, MinRelevanceScore: 7},
		DiscoveryDeps{Searcher: searcher, Analyzer: analyzer})

	prospects, report, err := pipeline.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, prospects)
	assert.Equal(t, 1, report.Counts[domain.OutcomeBelowThreshold])
}

func TestRunDeduplicatesAcrossBatches(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newRepo()
	searcher := &fakeSearcher{results: map[string][]domain.SearchResult{
		"q": {{Title: "Pod", URL: "https://pod.example"}},
	}}
	analyzer := &fakeAnalyzer{byURL: map[string]content.Analysis{
		"https://pod.example": {ContactPerson: "Pat", Email: "pat@example.com", RelevanceScore: 8},
	}}
	pipeline := NewDiscoveryPipeline(DiscoverySettings{Queries: []string{"q"}, MinRelevanceScore: 7},
		DiscoveryDeps{Searcher: searcher, Analyzer: analyzer, Repository: repo})

	first, err := pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Stored)

	// A contacted prospect must keep its state when rediscovered.
	p, err := repo.GetProspect(ctx, "pat@example.com")
	require.NoError(t, err)
	p.State = domain.StateFollowUpPending
	require.NoError(t, repo.Commit(ctx, func(w *records.Writer) error { return w.PutProspect(p) }))

	second, err := pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Stored)
	assert.Equal(t, 1, second.Existing)

	all, _, err := repo.ListProspects(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.StateFollowUpPending, all[0].State)
}
