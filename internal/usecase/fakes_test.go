package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"OutreachEngine/internal/content"
	"OutreachEngine/internal/domain"
	"OutreachEngine/internal/infrastructure/storage"
	"OutreachEngine/internal/ports"
	"OutreachEngine/internal/records"
)

var errBoom = errors.New("collaborator unavailable")

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	onSleep func(n int)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	n := len(c.sleeps)
	hook := c.onSleep
	c.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return ctx.Err()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type fakeSearcher struct {
	results map[string][]domain.SearchResult
	fail    map[string]bool
}

func (s *fakeSearcher) Search(_ context.Context, query string, limit int) ([]domain.SearchResult, error) {
	if s.fail[query] {
		return nil, fmt.Errorf("search %q: %w", query, errBoom)
	}
	out := s.results[query]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeAnalyzer struct {
	byURL map[string]content.Analysis
	errs  map[string]error
}

func (a *fakeAnalyzer) Analyze(_ context.Context, result domain.SearchResult, _ []string) (content.Analysis, error) {
	if err, ok := a.errs[result.URL]; ok {
		return content.Analysis{}, err
	}
	return a.byURL[result.URL], nil
}

type fakeComposer struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (c *fakeComposer) Compose(_ context.Context, template string, p domain.Prospect) (domain.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, template+":"+p.Key)
	if c.fail[p.Key] {
		return domain.Message{}, fmt.Errorf("compose %s: %w", p.Key, errBoom)
	}
	return domain.Message{
		Subject:  fmt.Sprintf("Hello %s", p.Name),
		Body:     fmt.Sprintf("Follow-up %d for %s", p.FollowUpAttempts+1, p.Key),
		Template: template,
	}, nil
}

type sentMessage struct {
	Envelope ports.Envelope
	At       time.Time
}

type fakeChannel struct {
	mu    sync.Mutex
	clock ports.Clock
	fail  map[string]bool
	sent  []sentMessage
	// onSend runs before the delivery is decided, outside the channel lock.
	onSend func(env ports.Envelope)
}

func (c *fakeChannel) Send(_ context.Context, env ports.Envelope) (string, error) {
	if c.onSend != nil {
		c.onSend(env)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if c.clock != nil {
		now = c.clock.Now()
	}
	if c.fail[env.To] {
		return "", fmt.Errorf("deliver to %s: %w", env.To, errBoom)
	}
	c.sent = append(c.sent, sentMessage{Envelope: env, At: now})
	return fmt.Sprintf("msg-%d", len(c.sent)), nil
}

func (c *fakeChannel) Sent() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

func (c *fakeChannel) SetFail(to string, fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail == nil {
		c.fail = map[string]bool{}
	}
	c.fail[to] = fail
}

// scriptedCompleter answers analysis prompts from a URL table and writes a
// fixed message for everything else.
type scriptedCompleter struct {
	analyses map[string]string
}

func (s *scriptedCompleter) Complete(_ context.Context, req ports.CompletionRequest) (string, error) {
	if strings.HasPrefix(req.Prompt, "Analyze") {
		for _, line := range strings.Split(req.Prompt, "\n") {
			if url, ok := strings.CutPrefix(line, "URL: "); ok {
				if reply, ok := s.analyses[url]; ok {
					return reply, nil
				}
				return `{"relevanceScore": 1}`, nil
			}
		}
		return "", errBoom
	}
	return "Subject: Quick idea for your show\n\nHi there,\nwould you be open to a short conversation?", nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Publish(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return nil
}

type countingRecorder struct {
	mu        sync.Mutex
	discovery map[domain.Outcome]int
	outreach  map[string]int
	batches   []string
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{discovery: map[domain.Outcome]int{}, outreach: map[string]int{}}
}

func (r *countingRecorder) Discovery(o domain.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discovery[o]++
}

func (r *countingRecorder) Outreach(kind domain.AttemptKind, o domain.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outreach[string(kind)+"/"+string(o)]++
}

func (r *countingRecorder) Batch(job string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, job)
}

func newRepo() *records.Repository {
	return records.New(storage.NewMemoryStore())
}

func seedProspect(repo *records.Repository, key string, discovered time.Time) domain.Prospect {
	p := domain.Prospect{
		Key:          key,
		Name:         "Host " + key,
		Email:        key,
		Platform:     "podcast",
		DiscoveredAt: discovered,
		State:        domain.StateNew,
	}
	if _, err := repo.InsertProspect(context.Background(), p); err != nil {
		panic(err)
	}
	return p
}

func countAttempts(attempts []domain.Attempt, kind domain.AttemptKind) map[string]int {
	out := map[string]int{}
	for _, a := range attempts {
		if a.Kind == kind {
			out[a.ProspectKey]++
		}
	}
	return out
}

func campaignSettings() CampaignSettings {
	return CampaignSettings{
		DailyLimit:    10,
		SendInterval:  2 * time.Second,
		FollowUpDelay: 7 * 24 * time.Hour,
		MaxFollowUps:  2,
		Template:      "initial",
		Sender:        Sender{Name: "Hey Neighbor", Email: "hello@example.com"},
	}
}

func followUpSettings() FollowUpSettings {
	return FollowUpSettings{
		Delay:        7 * 24 * time.Hour,
		MaxFollowUps: 2,
		SendInterval: 2 * time.Second,
		Template:     "follow-up",
		Sender:       Sender{Name: "Hey Neighbor", Email: "hello@example.com"},
	}
}
