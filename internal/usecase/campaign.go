package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"OutreachEngine/internal/domain"
	"OutreachEngine/internal/ports"
	"OutreachEngine/internal/records"
)

// ErrNotRetryable is returned by Retry for prospects outside send_failed.
var ErrNotRetryable = errors.New("prospect is not in send_failed state")

// CampaignSettings controls the first-contact batch.
type CampaignSettings struct {
	DailyLimit    int
	SendInterval  time.Duration
	FollowUpDelay time.Duration
	MaxFollowUps  int
	Template      string
	Sender        Sender
	// Location decides which calendar day a send counts against.
	Location *time.Location
}

// CampaignDeps wires the driven adapters of the campaign engine.
type CampaignDeps struct {
	Composer   Composer
	Channel    ports.Channel
	Repository *records.Repository
	Clock      ports.Clock
	Recorder   Recorder
	Logger     *slog.Logger
}

// CampaignEngine sends first-contact messages to new prospects.
type CampaignEngine struct {
	settings CampaignSettings
	composer Composer
	channel  ports.Channel
	repo     *records.Repository
	clock    ports.Clock
	recorder Recorder
	logger   *slog.Logger
}

// NewCampaignEngine constructs the outreach component.
func NewCampaignEngine(settings CampaignSettings, deps CampaignDeps) *CampaignEngine {
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	if settings.MaxFollowUps < 0 {
		settings.MaxFollowUps = 0
	}
	return &CampaignEngine{
		settings: settings,
		composer: deps.Composer,
		channel:  deps.Channel,
		repo:     deps.Repository,
		clock:    orClock(deps.Clock),
		recorder: orRecorder(deps.Recorder),
		logger:   orLogger(deps.Logger),
	}
}

// Run contacts eligible prospects one at a time. Every prospect's outcome is
// committed before the next one is touched, so an interrupted run can simply
// be re-invoked.
func (e *CampaignEngine) Run(ctx context.Context) (domain.OutreachReport, error) {
	report := domain.OutreachReport{StartedAt: e.clock.Now()}
	if e.repo == nil || e.composer == nil || e.channel == nil {
		return report, fmt.Errorf("campaign engine is not configured")
	}

	all, corrupt, err := e.repo.ListProspects(ctx)
	if err != nil {
		return report, err
	}
	for _, key := range corrupt {
		e.logger.Warn("skipping corrupt prospect record", "key", key, "stage", "select")
	}

	day := e.day()
	used, err := e.repo.QuotaUsed(ctx, day)
	if err != nil {
		return report, err
	}
	quota := e.settings.DailyLimit - used
	if quota < 0 {
		quota = 0
	}
	report.Quota = quota

	// Prospects without an address leave the pool for good and never count
	// against the quota.
	var pending []domain.Prospect
	for _, p := range all {
		if p.State != domain.StateNew {
			continue
		}
		if !p.HasEmail() {
			if err := e.markNoContact(ctx, p, &report); err != nil {
				return e.finish(report), err
			}
			continue
		}
		pending = append(pending, p)
	}
	report.Eligible = len(pending)

	sort.SliceStable(pending, func(i, j int) bool {
		if !pending[i].DiscoveredAt.Equal(pending[j].DiscoveredAt) {
			return pending[i].DiscoveredAt.Before(pending[j].DiscoveredAt)
		}
		return pending[i].Key < pending[j].Key
	})
	if len(pending) > quota {
		pending = pending[:quota]
	}

	e.logger.Info("outreach batch selected", "eligible", report.Eligible, "quota", quota, "selected", len(pending))

	for i, p := range pending {
		if err := ctx.Err(); err != nil {
			return e.finish(report), err
		}

		if err := e.contact(ctx, p, day, &report); err != nil {
			return e.finish(report), err
		}

		if i < len(pending)-1 {
			if err := e.clock.Sleep(ctx, e.settings.SendInterval); err != nil {
				return e.finish(report), err
			}
		}
	}

	report = e.finish(report)
	e.logger.Info("outreach finished",
		"sent", report.Counts[domain.OutcomeSent],
		"send_failed", report.Counts[domain.OutcomeSendFailed],
		"generation_failed", report.Counts[domain.OutcomeGenerationFailed],
		"skipped", report.Counts[domain.OutcomeSkipped])

	failed := report.Counts[domain.OutcomeSendFailed] + report.Counts[domain.OutcomeGenerationFailed]
	if failed > 0 && report.Counts[domain.OutcomeSent] == 0 {
		return report, fmt.Errorf("%w: all %d outreach attempts failed", ErrTotalOutage, failed)
	}
	return report, nil
}

// contact processes one prospect. The prospect is re-read before sending and
// again inside the commit; if another run moved it out of new in between, only
// the attempt and the quota are recorded.
func (e *CampaignEngine) contact(ctx context.Context, p domain.Prospect, day string, report *domain.OutreachReport) error {
	item := domain.ItemResult{Key: p.Key, Name: p.Name}

	current, err := e.repo.GetProspect(ctx, p.Key)
	switch {
	case errors.Is(err, ports.ErrNotFound), errors.Is(err, records.ErrCorrupt):
		item.Outcome = domain.OutcomeSkipped
		item.Error = err.Error()
		e.record(report, item)
		return nil
	case err != nil:
		return fmt.Errorf("reload %s: %w", p.Key, err)
	case current.State != domain.StateNew:
		item.Outcome = domain.OutcomeSkipped
		e.logger.Info("prospect already handled", "key", p.Key, "state", current.State)
		e.record(report, item)
		return nil
	}
	p = current

	msg, err := e.composer.Compose(ctx, e.settings.Template, p)
	if err != nil {
		// Nothing was sent; the prospect stays new for the next run.
		item.Outcome = domain.OutcomeGenerationFailed
		item.Error = err.Error()
		e.logger.Warn("initial message generation failed", "key", p.Key, "stage", "generate", "error", err)
		e.record(report, item)
		return nil
	}
	item.Subject = msg.Subject

	deliveryID, sendErr := e.channel.Send(ctx, ports.Envelope{
		To:       p.Email,
		FromName: e.settings.Sender.Name,
		From:     e.settings.Sender.Email,
		Subject:  msg.Subject,
		Body:     msg.Body,
	})

	now := e.clock.Now().UTC()
	attempt := domain.Attempt{
		ID:          uuid.NewString(),
		ProspectKey: p.Key,
		Kind:        domain.AttemptInitial,
		Template:    msg.Template,
		Subject:     msg.Subject,
		Success:     sendErr == nil,
		DeliveryID:  deliveryID,
		At:          now,
	}

	next := p
	next.UpdatedAt = now
	var task *domain.FollowUpTask

	if sendErr != nil {
		attempt.Error = sendErr.Error()
		next.State = domain.StateSendFailed
		next.LastError = sendErr.Error()
		item.Outcome = domain.OutcomeSendFailed
		item.Error = sendErr.Error()
		e.logger.Warn("initial delivery failed", "key", p.Key, "stage", "deliver", "error", sendErr)
	} else {
		next.LastContactedAt = now
		next.LastError = ""
		next.State = domain.StateContacted
		if e.settings.MaxFollowUps > 0 {
			next.State = domain.StateFollowUpPending
			task = &domain.FollowUpTask{
				ProspectKey:  p.Key,
				ScheduledFor: now.Add(e.settings.FollowUpDelay),
				Attempt:      1,
				CreatedAt:    now,
			}
		}
		item.Outcome = domain.OutcomeSent
		e.logger.Info("initial message sent", "key", p.Key, "delivery_id", deliveryID)
	}

	stale := false
	err = e.repo.Commit(ctx, func(w *records.Writer) error {
		if err := w.LogAttempt(attempt); err != nil {
			return err
		}
		if _, err := w.AddQuota(day, 1); err != nil {
			return err
		}
		stored, err := w.Prospect(p.Key)
		if err != nil || stored.State != domain.StateNew {
			stale = true
			return nil
		}
		if err := w.PutProspect(next); err != nil {
			return err
		}
		if task != nil {
			return w.PutFollowUp(*task)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit outreach for %s: %w", p.Key, err)
	}
	if stale {
		e.logger.Warn("prospect changed during delivery; state left as found", "key", p.Key, "stage", "commit")
	}

	e.record(report, item)
	return nil
}

func (e *CampaignEngine) markNoContact(ctx context.Context, p domain.Prospect, report *domain.OutreachReport) error {
	p.State = domain.StateNoContact
	p.UpdatedAt = e.clock.Now().UTC()
	if err := e.repo.Commit(ctx, func(w *records.Writer) error { return w.PutProspect(p) }); err != nil {
		return fmt.Errorf("mark %s without contact: %w", p.Key, err)
	}
	e.record(report, domain.ItemResult{Key: p.Key, Name: p.Name, Outcome: domain.OutcomeNoEmail})
	return nil
}

// Retry returns a prospect whose first delivery failed to the new pool.
func (e *CampaignEngine) Retry(ctx context.Context, key string) (domain.Prospect, error) {
	if e.repo == nil {
		return domain.Prospect{}, fmt.Errorf("campaign engine is not configured")
	}
	p, err := e.repo.GetProspect(ctx, strings.TrimSpace(key))
	if err != nil {
		return domain.Prospect{}, err
	}
	if p.State != domain.StateSendFailed {
		return p, fmt.Errorf("%w: %s is %s", ErrNotRetryable, p.Key, p.State)
	}

	p.State = domain.StateNew
	p.UpdatedAt = e.clock.Now().UTC()
	if err := e.repo.Commit(ctx, func(w *records.Writer) error { return w.PutProspect(p) }); err != nil {
		return p, fmt.Errorf("reset %s: %w", p.Key, err)
	}
	e.logger.Info("prospect returned to outreach pool", "key", p.Key)
	return p, nil
}

func (e *CampaignEngine) day() string {
	return e.clock.Now().In(e.settings.Location).Format(time.DateOnly)
}

func (e *CampaignEngine) record(report *domain.OutreachReport, item domain.ItemResult) {
	report.Record(item)
	e.recorder.Outreach(domain.AttemptInitial, item.Outcome)
}

func (e *CampaignEngine) finish(report domain.OutreachReport) domain.OutreachReport {
	report.FinishedAt = e.clock.Now()
	return report
}
