package ports

import (
	"context"
	"errors"
	"time"

	"OutreachEngine/internal/domain"
)

// ErrNotFound is returned by Store.Get when the key is absent.
var ErrNotFound = errors.New("key not found")

// Searcher returns ranked results for a discovery query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error)
}

// CompletionRequest is a single prompt sent to the content generator.
type CompletionRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature *float64
}

// Completer produces free text (or JSON) for a prompt.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Envelope is everything a delivery channel needs to transmit one message.
type Envelope struct {
	To       string
	FromName string
	From     string
	Subject  string
	Body     string
}

// Channel transmits a message and returns the provider delivery identifier.
type Channel interface {
	Send(ctx context.Context, env Envelope) (string, error)
}

// Entry is a key/value pair returned from a prefix scan.
type Entry struct {
	Key   string
	Value []byte
}

// LogEntry is one append-only event record.
type LogEntry struct {
	ID      string
	Event   string
	Payload []byte
	At      time.Time
}

// Tx groups writes that must become durable together. Get reads the current
// value inside the transaction, so checks made with it hold at commit time.
// Callers must not read through the Store while a Tx is open.
type Tx interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	AppendLog(event string, payload []byte) error
}

// Store is the persistent key-value store shared by all batch jobs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Insert writes value only when key is absent and reports whether it did.
	Insert(ctx context.Context, key string, value []byte) (bool, error)
	Delete(ctx context.Context, key string) error
	Scan(ctx context.Context, prefix string) ([]Entry, error)
	AppendLog(ctx context.Context, event string, payload []byte) error
	ReadLog(ctx context.Context, event string) ([]LogEntry, error)
	// Update runs fn and commits all of its writes atomically.
	Update(ctx context.Context, fn func(tx Tx) error) error
}

// Notifier pushes short operator-facing summaries.
type Notifier interface {
	Publish(ctx context.Context, text string) error
}

// Scheduler controls when jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

// Clock abstracts wall time and pacing waits.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}
