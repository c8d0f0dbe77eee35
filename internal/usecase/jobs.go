package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"OutreachEngine/internal/domain"
	"OutreachEngine/internal/ports"
	"OutreachEngine/internal/records"
)

// Job names used for metrics, notifications and the scheduler.
const (
	JobDiscover  = "discover"
	JobOutreach  = "outreach"
	JobFollowUps = "followups"
)

// ErrJobRunning is returned when a batch of the same job is still in progress.
var ErrJobRunning = errors.New("job is already running")

// Jobs is the invocation surface shared by the CLI, the HTTP API and the
// scheduler. At most one batch per job name runs at a time.
type Jobs struct {
	Discovery  *DiscoveryPipeline
	Campaign   *CampaignEngine
	FollowUps  *FollowUpScheduler
	Repository *records.Repository
	Notifier   ports.Notifier
	Recorder   Recorder
	Clock      ports.Clock
	Logger     *slog.Logger

	mu      sync.Mutex
	running map[string]bool
}

// Discover runs one discovery batch.
func (j *Jobs) Discover(ctx context.Context) (domain.DiscoveryReport, error) {
	if err := j.acquire(JobDiscover); err != nil {
		return domain.DiscoveryReport{}, err
	}
	defer j.release(JobDiscover)

	started := j.clock().Now()
	report, err := j.Discovery.Run(ctx)
	j.finish(ctx, JobDiscover, started, summarizeDiscovery(report), err)
	return report, err
}

// Outreach runs one first-contact batch.
func (j *Jobs) Outreach(ctx context.Context) (domain.OutreachReport, error) {
	if err := j.acquire(JobOutreach); err != nil {
		return domain.OutreachReport{}, err
	}
	defer j.release(JobOutreach)

	started := j.clock().Now()
	report, err := j.Campaign.Run(ctx)
	j.finish(ctx, JobOutreach, started, summarizeCounts(report.Counts), err)
	return report, err
}

// RunFollowUps runs one follow-up batch.
func (j *Jobs) RunFollowUps(ctx context.Context) (domain.FollowUpReport, error) {
	if err := j.acquire(JobFollowUps); err != nil {
		return domain.FollowUpReport{}, err
	}
	defer j.release(JobFollowUps)

	started := j.clock().Now()
	report, err := j.FollowUps.Run(ctx)
	j.finish(ctx, JobFollowUps, started, fmt.Sprintf("due %d, %s", report.Due, summarizeCounts(report.Counts)), err)
	return report, err
}

// Run dispatches a job by name and returns its report.
func (j *Jobs) Run(ctx context.Context, name string) (any, error) {
	switch name {
	case JobDiscover:
		return j.Discover(ctx)
	case JobOutreach:
		return j.Outreach(ctx)
	case JobFollowUps:
		return j.RunFollowUps(ctx)
	default:
		return nil, fmt.Errorf("unknown job %q", name)
	}
}

// Running reports whether a batch of job is in progress.
func (j *Jobs) Running(job string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running[job]
}

func (j *Jobs) acquire(job string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running[job] {
		return fmt.Errorf("%w: %s", ErrJobRunning, job)
	}
	if j.running == nil {
		j.running = map[string]bool{}
	}
	j.running[job] = true
	return nil
}

func (j *Jobs) release(job string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.running, job)
}

// Retry moves a send_failed prospect back to new.
func (j *Jobs) Retry(ctx context.Context, key string) (domain.Prospect, error) {
	return j.Campaign.Retry(ctx, key)
}

// Status summarizes the store: prospects per state and live follow-up tasks.
type Status struct {
	Prospects      int                  `json:"prospects"`
	States         map[domain.State]int `json:"states"`
	PendingTasks   int                  `json:"pendingTasks"`
	DueTasks       int                  `json:"dueTasks"`
	CorruptRecords []string             `json:"corruptRecords,omitempty"`
}

// Status reads the current store state.
func (j *Jobs) Status(ctx context.Context) (Status, error) {
	prospects, corruptProspects, err := j.Repository.ListProspects(ctx)
	if err != nil {
		return Status{}, err
	}
	tasks, corruptTasks, err := j.Repository.ListFollowUps(ctx)
	if err != nil {
		return Status{}, err
	}

	now := j.clock().Now()
	st := Status{
		Prospects:      len(prospects),
		States:         map[domain.State]int{},
		PendingTasks:   len(tasks),
		CorruptRecords: append(corruptProspects, corruptTasks...),
	}
	for _, p := range prospects {
		st.States[p.State]++
	}
	for _, t := range tasks {
		if t.Due(now) {
			st.DueTasks++
		}
	}
	return st, nil
}

// Prospects lists stored prospects, optionally filtered by state.
func (j *Jobs) Prospects(ctx context.Context, state domain.State) ([]domain.Prospect, error) {
	all, _, err := j.Repository.ListProspects(ctx)
	if err != nil {
		return nil, err
	}
	if state == "" {
		return all, nil
	}
	out := make([]domain.Prospect, 0, len(all))
	for _, p := range all {
		if p.State == state {
			out = append(out, p)
		}
	}
	return out, nil
}

func (j *Jobs) finish(ctx context.Context, job string, started time.Time, summary string, runErr error) {
	elapsed := j.clock().Now().Sub(started)
	orRecorder(j.Recorder).Batch(job, elapsed)

	logger := orLogger(j.Logger)
	if runErr != nil {
		logger.Error("batch failed", "job", job, "elapsed", elapsed, "error", runErr)
		summary = "failed: " + runErr.Error()
	} else {
		logger.Info("batch completed", "job", job, "elapsed", elapsed, "summary", summary)
	}

	if j.Notifier == nil {
		return
	}
	if err := j.Notifier.Publish(ctx, buildBatchMessage(job, summary)); err != nil {
		logger.Warn("batch notification failed", "job", job, "error", err)
	}
}

func (j *Jobs) clock() ports.Clock {
	return orClock(j.Clock)
}

func buildBatchMessage(job, summary string) string {
	return fmt.Sprintf("*%s*: %s", job, summary)
}

func summarizeDiscovery(r domain.DiscoveryReport) string {
	return fmt.Sprintf("%d queries, %d results, %d stored, %d existing; %s",
		r.Queries, r.Results, r.Stored, r.Existing, summarizeCounts(r.Counts))
}

func summarizeCounts(c domain.Counts) string {
	if len(c) == 0 {
		return "nothing to do"
	}
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, c[domain.Outcome(k)]))
	}
	return strings.Join(parts, " ")
}
