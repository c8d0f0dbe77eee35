package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"OutreachEngine/internal/domain"
	"OutreachEngine/internal/ports"
	"OutreachEngine/internal/records"
)

// FollowUpSettings controls the follow-up batch.
type FollowUpSettings struct {
	Delay        time.Duration
	MaxFollowUps int
	SendInterval time.Duration
	Template     string
	Sender       Sender
}

// FollowUpDeps wires the driven adapters of the follow-up scheduler.
type FollowUpDeps struct {
	Composer   Composer
	Channel    ports.Channel
	Repository *records.Repository
	Clock      ports.Clock
	Recorder   Recorder
	Logger     *slog.Logger
}

// FollowUpScheduler sends due follow-ups and keeps one live task per prospect.
type FollowUpScheduler struct {
	settings FollowUpSettings
	composer Composer
	channel  ports.Channel
	repo     *records.Repository
	clock    ports.Clock
	recorder Recorder
	logger   *slog.Logger
}

// NewFollowUpScheduler constructs the follow-up component.
func NewFollowUpScheduler(settings FollowUpSettings, deps FollowUpDeps) *FollowUpScheduler {
	return &FollowUpScheduler{
		settings: settings,
		composer: deps.Composer,
		channel:  deps.Channel,
		repo:     deps.Repository,
		clock:    orClock(deps.Clock),
		recorder: orRecorder(deps.Recorder),
		logger:   orLogger(deps.Logger),
	}
}

// Run processes every task due at the current time, oldest schedule first.
func (s *FollowUpScheduler) Run(ctx context.Context) (domain.FollowUpReport, error) {
	now := s.clock.Now()
	report := domain.FollowUpReport{StartedAt: now}
	if s.repo == nil || s.composer == nil || s.channel == nil {
		return report, fmt.Errorf("follow-up scheduler is not configured")
	}

	tasks, corrupt, err := s.repo.ListFollowUps(ctx)
	if err != nil {
		return report, err
	}
	for _, key := range corrupt {
		s.logger.Warn("skipping corrupt follow-up task", "key", key, "stage", "scan")
	}
	report.Scanned = len(tasks)

	var due []domain.FollowUpTask
	for _, t := range tasks {
		if t.Due(now) {
			due = append(due, t)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		if !due[i].ScheduledFor.Equal(due[j].ScheduledFor) {
			return due[i].ScheduledFor.Before(due[j].ScheduledFor)
		}
		return due[i].ProspectKey < due[j].ProspectKey
	})
	report.Due = len(due)

	for i, task := range due {
		if err := ctx.Err(); err != nil {
			return s.finish(report), err
		}

		sent, err := s.process(ctx, task, &report)
		if err != nil {
			return s.finish(report), err
		}

		if sent && i < len(due)-1 {
			if err := s.clock.Sleep(ctx, s.settings.SendInterval); err != nil {
				return s.finish(report), err
			}
		}
	}

	report = s.finish(report)
	s.logger.Info("follow-ups finished",
		"scanned", report.Scanned,
		"due", report.Due,
		"sent", report.Counts[domain.OutcomeSent],
		"exhausted", report.Counts[domain.OutcomeExhausted])

	failed := report.Counts[domain.OutcomeSendFailed] + report.Counts[domain.OutcomeGenerationFailed]
	delivered := report.Counts[domain.OutcomeSent] + report.Counts[domain.OutcomeExhausted]
	if failed > 0 && delivered == 0 {
		return report, fmt.Errorf("%w: all %d due follow-ups failed", ErrTotalOutage, failed)
	}
	return report, nil
}

// orphanScanLimit is how many scans a task may reference an unreadable
// prospect before it is dropped.
const orphanScanLimit = 3

// process handles one due task. It reports whether an outbound call was made,
// which is what the pacing interval guards.
func (s *FollowUpScheduler) process(ctx context.Context, task domain.FollowUpTask, report *domain.FollowUpReport) (bool, error) {
	item := domain.ItemResult{Key: task.ProspectKey}

	current, err := s.repo.GetFollowUp(ctx, task.ProspectKey)
	switch {
	case errors.Is(err, ports.ErrNotFound), errors.Is(err, records.ErrCorrupt):
		item.Outcome = domain.OutcomeSkipped
		s.record(report, item)
		return false, nil
	case err != nil:
		return false, fmt.Errorf("reload follow-up %s: %w", task.ProspectKey, err)
	case current.Attempt != task.Attempt:
		item.Outcome = domain.OutcomeSkipped
		s.logger.Info("follow-up already handled", "key", task.ProspectKey, "attempt", task.Attempt, "current", current.Attempt)
		s.record(report, item)
		return false, nil
	}
	task = current

	p, err := s.repo.GetProspect(ctx, task.ProspectKey)
	if errors.Is(err, ports.ErrNotFound) || errors.Is(err, records.ErrCorrupt) {
		return false, s.orphan(ctx, task, err, item, report)
	}
	if err != nil {
		return false, fmt.Errorf("load prospect %s: %w", task.ProspectKey, err)
	}
	item.Name = p.Name

	if task.Attempt > s.settings.MaxFollowUps || !p.HasEmail() {
		return false, s.retire(ctx, p, task, item, report)
	}

	// The template sees the number of the follow-up being written.
	p.FollowUpAttempts = task.Attempt - 1
	msg, err := s.composer.Compose(ctx, s.settings.Template, p)
	if err != nil {
		item.Outcome = domain.OutcomeGenerationFailed
		item.Error = err.Error()
		s.logger.Warn("follow-up generation failed", "key", p.Key, "stage", "generate", "attempt", task.Attempt, "error", err)
		s.record(report, item)
		return true, nil
	}
	item.Subject = msg.Subject

	deliveryID, sendErr := s.channel.Send(ctx, ports.Envelope{
		To:       p.Email,
		FromName: s.settings.Sender.Name,
		From:     s.settings.Sender.Email,
		Subject:  msg.Subject,
		Body:     msg.Body,
	})

	now := s.clock.Now().UTC()
	attempt := domain.Attempt{
		ID:          uuid.NewString(),
		ProspectKey: p.Key,
		Kind:        domain.AttemptFollowUp,
		Number:      task.Attempt,
		Template:    msg.Template,
		Subject:     msg.Subject,
		Success:     sendErr == nil,
		DeliveryID:  deliveryID,
		At:          now,
	}

	var next *domain.FollowUpTask
	if sendErr != nil {
		// The task stays in place and is picked up again by the next scan.
		attempt.Error = sendErr.Error()
		p.FollowUpAttempts = task.Attempt - 1
		p.LastError = sendErr.Error()
		p.UpdatedAt = now
		item.Outcome = domain.OutcomeSendFailed
		item.Error = sendErr.Error()
		s.logger.Warn("follow-up delivery failed", "key", p.Key, "stage", "deliver", "attempt", task.Attempt, "error", sendErr)
	} else {
		p.FollowUpAttempts = task.Attempt
		p.LastContactedAt = now
		p.LastError = ""
		p.UpdatedAt = now
		if task.Attempt < s.settings.MaxFollowUps {
			p.State = domain.StateFollowUpPending
			next = &domain.FollowUpTask{
				ProspectKey:  p.Key,
				ScheduledFor: now.Add(s.settings.Delay),
				Attempt:      task.Attempt + 1,
				CreatedAt:    now,
			}
			item.Outcome = domain.OutcomeSent
		} else {
			p.State = domain.StateExhausted
			item.Outcome = domain.OutcomeExhausted
		}
	}

	// The replacement task overwrites the consumed one under the same key, so
	// the schedule is never lost and never duplicated. A task whose attempt
	// moved on since the scan belongs to another run and is left alone.
	stale := false
	err = s.repo.Commit(ctx, func(w *records.Writer) error {
		if err := w.LogAttempt(attempt); err != nil {
			return err
		}
		stored, err := w.FollowUp(p.Key)
		if err != nil || stored.Attempt != task.Attempt {
			stale = true
			return nil
		}
		if err := w.PutProspect(p); err != nil {
			return err
		}
		switch {
		case sendErr != nil:
			return nil
		case next != nil:
			return w.PutFollowUp(*next)
		default:
			return w.DeleteFollowUp(p.Key)
		}
	})
	if err != nil {
		return true, fmt.Errorf("commit follow-up for %s: %w", p.Key, err)
	}
	if stale {
		s.logger.Warn("follow-up task changed during delivery; state left as found", "key", p.Key, "stage", "commit", "attempt", task.Attempt)
	}

	if sendErr == nil {
		s.logger.Info("follow-up sent", "key", p.Key, "attempt", task.Attempt, "delivery_id", deliveryID, "state", p.State)
	}
	s.record(report, item)
	return true, nil
}

// orphan counts a scan that found the task's prospect missing or unreadable
// and drops the task once orphanScanLimit is reached.
func (s *FollowUpScheduler) orphan(ctx context.Context, task domain.FollowUpTask, cause error, item domain.ItemResult, report *domain.FollowUpReport) error {
	task.OrphanedScans++
	drop := task.OrphanedScans >= orphanScanLimit
	err := s.repo.Commit(ctx, func(w *records.Writer) error {
		if drop {
			return w.DeleteFollowUp(task.ProspectKey)
		}
		return w.PutFollowUp(task)
	})
	if err != nil {
		return fmt.Errorf("record orphaned follow-up %s: %w", task.ProspectKey, err)
	}

	item.Outcome = domain.OutcomeMissingProspect
	item.Error = cause.Error()
	if drop {
		item.Outcome = domain.OutcomeRetired
		s.logger.Warn("orphaned follow-up task dropped", "key", task.ProspectKey, "stage", "lookup", "scans", task.OrphanedScans, "error", cause)
	} else {
		s.logger.Warn("follow-up task without prospect", "key", task.ProspectKey, "stage", "lookup", "scans", task.OrphanedScans, "error", cause)
	}
	s.record(report, item)
	return nil
}

// retire closes a task that can no longer be honored: its attempt number is
// past the configured ceiling or the prospect lost its address.
func (s *FollowUpScheduler) retire(ctx context.Context, p domain.Prospect, task domain.FollowUpTask, item domain.ItemResult, report *domain.FollowUpReport) error {
	p.State = domain.StateExhausted
	p.UpdatedAt = s.clock.Now().UTC()
	err := s.repo.Commit(ctx, func(w *records.Writer) error {
		if err := w.PutProspect(p); err != nil {
			return err
		}
		return w.DeleteFollowUp(p.Key)
	})
	if err != nil {
		return fmt.Errorf("retire follow-up for %s: %w", p.Key, err)
	}
	item.Outcome = domain.OutcomeRetired
	s.logger.Info("follow-up retired", "key", p.Key, "attempt", task.Attempt, "ceiling", s.settings.MaxFollowUps)
	s.record(report, item)
	return nil
}

func (s *FollowUpScheduler) record(report *domain.FollowUpReport, item domain.ItemResult) {
	report.Record(item)
	s.recorder.Outreach(domain.AttemptFollowUp, item.Outcome)
}

func (s *FollowUpScheduler) finish(report domain.FollowUpReport) domain.FollowUpReport {
	report.FinishedAt = s.clock.Now()
	return report
}
