package usecase

import (
	"context"
	"log/slog"
	"time"

	"OutreachEngine/internal/content"
	"OutreachEngine/internal/domain"
	"OutreachEngine/internal/logging"
	"OutreachEngine/internal/ports"
)

// Analyzer extracts a structured judgment from a raw search result.
type Analyzer interface {
	Analyze(ctx context.Context, result domain.SearchResult, topics []string) (content.Analysis, error)
}

// Composer generates a message for a prospect using a template identifier.
type Composer interface {
	Compose(ctx context.Context, template string, p domain.Prospect) (domain.Message, error)
}

// Recorder receives batch outcomes for metrics.
type Recorder interface {
	Discovery(outcome domain.Outcome)
	Outreach(kind domain.AttemptKind, outcome domain.Outcome)
	Batch(job string, elapsed time.Duration)
}

// Sender is the identity messages are sent from.
type Sender struct {
	Name  string
	Email string
}

// SystemClock is the wall clock; Sleep returns early when ctx ends.
type SystemClock struct{}

var _ ports.Clock = SystemClock{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep blocks for d or until ctx is done.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type nopRecorder struct{}

func (nopRecorder) Discovery(domain.Outcome)                    {}
func (nopRecorder) Outreach(domain.AttemptKind, domain.Outcome) {}
func (nopRecorder) Batch(string, time.Duration)                 {}

func orClock(c ports.Clock) ports.Clock {
	if c == nil {
		return SystemClock{}
	}
	return c
}

func orRecorder(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}

func orLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return logging.Discard()
	}
	return l
}
