package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OutreachEngine/internal/domain"
	"OutreachEngine/internal/ports"
	"OutreachEngine/internal/records"
)

func TestCampaignContactsOldestFirstAndSchedulesFollowUps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newRepo()
	clock := newFakeClock()
	base := clock.Now().Add(-time.Hour)
	seedProspect(repo, "c@example.com", base)
	seedProspect(repo, "b@example.com", base.Add(-time.Minute))
	seedProspect(repo, "a@example.com", base)

	channel := &fakeChannel{clock: clock}
	engine := NewCampaignEngine(campaignSettings(), CampaignDeps{
		Composer: &fakeComposer{}, Channel: channel, Repository: repo, Clock: clock,
	})

	report, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Counts[domain.OutcomeSent])
	assert.Equal(t, 10, report.Quota)

	sent := channel.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "b@example.com", sent[0].Envelope.To)
	assert.Equal(t, "a@example.com", sent[1].Envelope.To)
	assert.Equal(t, "c@example.com", sent[2].Envelope.To)
	assert.Equal(t, "hello@example.com", sent[0].Envelope.From)

	tasks, _, err := repo.ListFollowUps(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.Equal(t, 1, task.Attempt)
		p, err := repo.GetProspect(ctx, task.ProspectKey)
		require.NoError(t, err)
		assert.Equal(t, domain.StateFollowUpPending, p.State)
		assert.Equal(t, p.LastContactedAt.Add(7*24*time.Hour), task.ScheduledFor)
	}

	used, err := repo.QuotaUsed(ctx, clock.Now().Format(time.DateOnly))
	require.NoError(t, err)
	assert.Equal(t, 3, used)
}

func TestCampaignAtMostOneInitialAttempt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newRepo()
	clock := newFakeClock()
	seedProspect(repo, "ok@example.com", clock.Now())
	seedProspect(repo, "bounce@example.com", clock.Now())

	channel := &fakeChannel{clock: clock}
	channel.SetFail("bounce@example.com", true)
	engine := NewCampaignEngine(campaignSettings(), CampaignDeps{
		Composer: &fakeComposer{}, Channel: channel, Repository: repo, Clock: clock,
	})

	first, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Counts[domain.OutcomeSent])
	assert.Equal(t, 1, first.Counts[domain.OutcomeSendFailed])

	second, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Eligible)
	assert.Empty(t, second.Items)

	attempts, err := repo.Attempts(ctx, "")
	require.NoError(t, err)
	for key, n := range countAttempts(attempts, domain.AttemptInitial) {
		assert.Equal(t, 1, n, key)
	}

	failed, err := repo.GetProspect(ctx, "bounce@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.StateSendFailed, failed.State)
	assert.NotEmpty(t, failed.LastError)

	tasks, _, err := repo.ListFollowUps(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "ok@example.com", tasks[0].ProspectKey)
}

func TestCampaignRetryReturnsProspectToPool(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newRepo()
	clock := newFakeClock()
	seedProspect(repo, "bounce@example.com", clock.Now())

	channel := &fakeChannel{clock: clock}
	channel.SetFail("bounce@example.com", true)
	engine := NewCampaignEngine(campaignSettings(), CampaignDeps{
		Composer: &fakeComposer{}, Channel: channel, Repository: repo, Clock: clock,
	})

	_, err := engine.Run(ctx)
	require.ErrorIs(t, err, ErrTotalOutage)

	_, err = engine.Retry(ctx, "ok@example.com")
	require.Error(t, err)

	p, err := engine.Retry(ctx, " bounce@example.com ")
	require.NoError(t, err)
	assert.Equal(t, domain.StateNew, p.State)

	_, err = engine.Retry(ctx, "bounce@example.com")
	require.ErrorIs(t, err, ErrNotRetryable)

	channel.SetFail("bounce@example.com", false)
	report, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[domain.OutcomeSent])
}

func TestCampaignGenerationFailureKeepsProspectNew(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newRepo()
	clock := newFakeClock()
	seedProspect(repo, "a@example.com", clock.Now())

	composer := &fakeComposer{fail: map[string]bool{"a@example.com": true}}
	channel := &fakeChannel{clock: clock}
	engine := NewCampaignEngine(campaignSettings(), CampaignDeps{
		Composer: composer, Channel: channel, Repository: repo, Clock: clock,
	})

	report, err := engine.Run(ctx)
	require.ErrorIs(t, err, ErrTotalOutage)
	assert.Equal(t, 1, report.Counts[domain.OutcomeGenerationFailed])
	assert.Empty(t, channel.Sent())

	p, err := repo.GetProspect(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.StateNew, p.State)

	attempts, err := repo.Attempts(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestCampaignMarksProspectsWithoutEmail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newRepo()
	clock := newFakeClock()
	_, err := repo.InsertProspect(ctx, domain.Prospect{Key: "https://blog.example", URL: "https://blog.example", State: domain.StateNew})
	require.NoError(t, err)
	seedProspect(repo, "a@example.com", clock.Now())

	settings := campaignSettings()
	settings.DailyLimit = 1
	engine := NewCampaignEngine(settings, CampaignDeps{
		Composer: &fakeComposer{}, Channel: &fakeChannel{clock: clock}, Repository: repo, Clock: clock,
	})

	report, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[domain.OutcomeNoEmail])
	assert.Equal(t, 1, report.Counts[domain.OutcomeSent])
	assert.Empty(t, clock.Sleeps())

	p, err := repo.GetProspect(ctx, "https://blog.example")
	require.NoError(t, err)
	assert.Equal(t, domain.StateNoContact, p.State)
}

func TestCampaignEnforcesDailyLimitAcrossRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newRepo()
	clock := newFakeClock()
	for _, key := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		seedProspect(repo, key, clock.Now())
	}

	settings := campaignSettings()
	settings.DailyLimit = 2
	engine := NewCampaignEngine(settings, CampaignDeps{
		Composer: &fakeComposer{}, Channel: &fakeChannel{clock: clock}, Repository: repo, Clock: clock,
	})

	first, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Counts[domain.OutcomeSent])
	assert.Equal(t, 3, first.Eligible)

	second, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Quota)
	assert.Zero(t, second.Counts[domain.OutcomeSent])

	clock.Advance(24 * time.Hour)
	third, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, third.Quota)
	assert.Equal(t, 1, third.Counts[domain.OutcomeSent])
}

func TestCampaignPacesEverySend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newRepo()
	clock := newFakeClock()
	for _, key := range []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com"} {
		seedProspect(repo, key, clock.Now())
	}

	composer := &fakeComposer{fail: map[string]bool{"b@example.com": true}}
	channel := &fakeChannel{clock: clock}
	engine := NewCampaignEngine(campaignSettings(), CampaignDeps{
		Composer: composer, Channel: channel, Repository: repo, Clock: clock,
	})

	_, err := engine.Run(ctx)
	require.NoError(t, err)

	// One pause after every processed prospect except the last, generation
	// failures included.
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, clock.Sleeps())

	sent := channel.Sent()
	require.Len(t, sent, 3)
	for i := 1; i < len(sent); i++ {
		assert.GreaterOrEqual(t, sent[i].At.Sub(sent[i-1].At), 2*time.Second)
	}
	assert.Equal(t, 4*time.Second, sent[1].At.Sub(sent[0].At))
}

func TestCampaignPacingWithWallClock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newRepo()
	for _, key := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		seedProspect(repo, key, time.Now())
	}

	settings := campaignSettings()
	settings.SendInterval = 20 * time.Millisecond
	channel := &fakeChannel{}
	engine := NewCampaignEngine(settings, CampaignDeps{
		Composer: &fakeComposer{}, Channel: channel, Repository: repo, Clock: SystemClock{},
	})

	_, err := engine.Run(ctx)
	require.NoError(t, err)

	sent := channel.Sent()
	require.Len(t, sent, 3)
	for i := 1; i < len(sent); i++ {
		assert.GreaterOrEqual(t, sent[i].At.Sub(sent[i-1].At), settings.SendInterval)
	}
}

func TestCampaignResumesAfterInterruption(t *testing.T) {
	t.Parallel()

	const total, processed = 5, 2

	repo := newRepo()
	clock := newFakeClock()
	for _, key := range []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com", "e@example.com"} {
		seedProspect(repo, key, clock.Now())
	}

	ctx, cancel := context.WithCancel(context.Background())
	clock.onSleep = func(n int) {
		if n == processed {
			cancel()
		}
	}

	channel := &fakeChannel{clock: clock}
	engine := NewCampaignEngine(campaignSettings(), CampaignDeps{
		Composer: &fakeComposer{}, Channel: channel, Repository: repo, Clock: clock,
	})

	partial, err := engine.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, processed, partial.Counts[domain.OutcomeSent])

	clock.onSleep = nil
	rest, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, total-processed, rest.Counts[domain.OutcomeSent])

	attempts, err := repo.Attempts(context.Background(), "")
	require.NoError(t, err)
	perProspect := countAttempts(attempts, domain.AttemptInitial)
	assert.Len(t, perProspect, total)
	for key, n := range perProspect {
		assert.Equal(t, 1, n, key)
	}
	assert.Len(t, channel.Sent(), total)
}

func TestCampaignEveryDeliveryFailingIsTotalOutage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newRepo()
	clock := newFakeClock()
	seedProspect(repo, "a@example.com", clock.Now())
	seedProspect(repo, "b@example.com", clock.Now())

	channel := &fakeChannel{clock: clock}
	channel.SetFail("a@example.com", true)
	channel.SetFail("b@example.com", true)
	engine := NewCampaignEngine(campaignSettings(), CampaignDeps{
		Composer: &fakeComposer{}, Channel: channel, Repository: repo, Clock: clock,
	})

	report, err := engine.Run(ctx)
	require.ErrorIs(t, err, ErrTotalOutage)
	assert.Equal(t, domain.Counts{domain.OutcomeSendFailed: 2}, report.Counts)
	assert.False(t, report.FinishedAt.IsZero())

	// Failures are still committed: both prospects leave the pool.
	failed, err := (&Jobs{Repository: repo}).Prospects(ctx, domain.StateSendFailed)
	require.NoError(t, err)
	assert.Len(t, failed, 2)
}

func TestCampaignWithoutFollowUpsLeavesProspectContacted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newRepo()
	clock := newFakeClock()
	seedProspect(repo, "a@example.com", clock.Now())

	settings := campaignSettings()
	settings.MaxFollowUps = 0
	engine := NewCampaignEngine(settings, CampaignDeps{
		Composer: &fakeComposer{}, Channel: &fakeChannel{clock: clock}, Repository: repo, Clock: clock,
	})

	report, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[domain.OutcomeSent])

	p, err := repo.GetProspect(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.StateContacted, p.State)
	assert.True(t, p.State.Terminal())
	assert.False(t, p.LastContactedAt.IsZero())

	tasks, _, err := repo.ListFollowUps(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestCampaignSkipsProspectHandledByAnotherRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newRepo()
	clock := newFakeClock()
	seedProspect(repo, "a@example.com", clock.Now())
	seedProspect(repo, "b@example.com", clock.Now())

	channel := &fakeChannel{clock: clock}
	channel.onSend = func(env ports.Envelope) {
		if env.To != "a@example.com" {
			return
		}
		p, err := repo.GetProspect(ctx, "b@example.com")
		if err != nil {
			panic(err)
		}
		p.State = domain.StateFollowUpPending
		if err := repo.Commit(ctx, func(w *records.Writer) error { return w.PutProspect(p) }); err != nil {
			panic(err)
		}
	}
	engine := NewCampaignEngine(campaignSettings(), CampaignDeps{
		Composer: &fakeComposer{}, Channel: channel, Repository: repo, Clock: clock,
	})

	report, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[domain.OutcomeSent])
	assert.Equal(t, 1, report.Counts[domain.OutcomeSkipped])

	sent := channel.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "a@example.com", sent[0].Envelope.To)

	attempts, err := repo.Attempts(ctx, "b@example.com")
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestCampaignCommitKeepsStateWrittenDuringDelivery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newRepo()
	clock := newFakeClock()
	seedProspect(repo, "a@example.com", clock.Now())
	marker := clock.Now().Add(-time.Minute).UTC()

	channel := &fakeChannel{clock: clock}
	channel.onSend = func(ports.Envelope) {
		// Another process finished the same prospect while this delivery was in flight.
		p, err := repo.GetProspect(ctx, "a@example.com")
		if err != nil {
			panic(err)
		}
		p.State = domain.StateFollowUpPending
		err = repo.Commit(ctx, func(w *records.Writer) error {
			if err := w.PutProspect(p); err != nil {
				return err
			}
			return w.PutFollowUp(domain.FollowUpTask{ProspectKey: p.Key, Attempt: 1, ScheduledFor: marker, CreatedAt: marker})
		})
		if err != nil {
			panic(err)
		}
	}
	engine := NewCampaignEngine(campaignSettings(), CampaignDeps{
		Composer: &fakeComposer{}, Channel: channel, Repository: repo, Clock: clock,
	})

	_, err := engine.Run(ctx)
	require.NoError(t, err)

	p, err := repo.GetProspect(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFollowUpPending, p.State)
	assert.True(t, p.LastContactedAt.IsZero(), "prospect record must be the one written by the other run")

	tasks, _, err := repo.ListFollowUps(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, marker, tasks[0].CreatedAt.UTC())

	// The delivery itself still happened and is accounted for.
	attempts, err := repo.Attempts(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
	used, err := repo.QuotaUsed(ctx, clock.Now().Format(time.DateOnly))
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}
