// Package records maps outreach entities onto the key-value store.
//
// Keys:
//
//	prospect:<identityKey>   current Prospect record (state stored explicitly)
//	followup:<identityKey>   the single live FollowUpTask of a prospect
//	quota:<YYYY-MM-DD>       initial delivery attempts made that day
//
// Attempts go to the append-only event log as outreach_sent / outreach_failed.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"OutreachEngine/internal/domain"
	"OutreachEngine/internal/ports"
)

const (
	ProspectPrefix = "prospect:"
	FollowUpPrefix = "followup:"
	QuotaPrefix    = "quota:"

	EventSent   = "outreach_sent"
	EventFailed = "outreach_failed"
)

// ErrCorrupt marks a stored value that no longer decodes.
var ErrCorrupt = errors.New("corrupt record")

// ErrStale is returned from a commit when the record it was based on has
// changed since it was read.
var ErrStale = errors.New("record changed by another run")

// ProspectKey returns the store key of a prospect.
func ProspectKey(id string) string { return ProspectPrefix + id }

// FollowUpKey returns the store key of a prospect's follow-up task.
func FollowUpKey(id string) string { return FollowUpPrefix + id }

// QuotaKey returns the store key of the daily send counter.
func QuotaKey(day string) string { return QuotaPrefix + day }

type quota struct {
	Count int `json:"count"`
}

// Repository is the typed access layer shared by all batch jobs.
type Repository struct {
	store ports.Store
}

// New wraps a store.
func New(store ports.Store) *Repository {
	return &Repository{store: store}
}

// Store exposes the underlying store.
func (r *Repository) Store() ports.Store {
	return r.store
}

// GetProspect loads one prospect. Missing keys return ports.ErrNotFound,
// undecodable values ErrCorrupt.
func (r *Repository) GetProspect(ctx context.Context, id string) (domain.Prospect, error) {
	raw, err := r.store.Get(ctx, ProspectKey(id))
	if err != nil {
		return domain.Prospect{}, err
	}
	var p domain.Prospect
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Prospect{}, fmt.Errorf("%w: prospect %s: %v", ErrCorrupt, id, err)
	}
	return p, nil
}

// GetFollowUp loads the live task of a prospect.
func (r *Repository) GetFollowUp(ctx context.Context, prospectKey string) (domain.FollowUpTask, error) {
	raw, err := r.store.Get(ctx, FollowUpKey(prospectKey))
	if err != nil {
		return domain.FollowUpTask{}, err
	}
	var t domain.FollowUpTask
	if err := json.Unmarshal(raw, &t); err != nil {
		return domain.FollowUpTask{}, fmt.Errorf("%w: follow-up %s: %v", ErrCorrupt, prospectKey, err)
	}
	return t, nil
}

// InsertProspect stores p unless a record with the same key exists.
func (r *Repository) InsertProspect(ctx context.Context, p domain.Prospect) (bool, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("encode prospect %s: %w", p.Key, err)
	}
	return r.store.Insert(ctx, ProspectKey(p.Key), raw)
}

// ListProspects returns all decodable prospects ordered by key and the keys
// of records that could not be decoded.
func (r *Repository) ListProspects(ctx context.Context) ([]domain.Prospect, []string, error) {
	entries, err := r.store.Scan(ctx, ProspectPrefix)
	if err != nil {
		return nil, nil, fmt.Errorf("scan prospects: %w", err)
	}

	prospects := make([]domain.Prospect, 0, len(entries))
	var corrupt []string
	for _, e := range entries {
		var p domain.Prospect
		if err := json.Unmarshal(e.Value, &p); err != nil {
			corrupt = append(corrupt, e.Key)
			continue
		}
		prospects = append(prospects, p)
	}
	return prospects, corrupt, nil
}

// ListFollowUps returns all decodable follow-up tasks and the keys of corrupt ones.
func (r *Repository) ListFollowUps(ctx context.Context) ([]domain.FollowUpTask, []string, error) {
	entries, err := r.store.Scan(ctx, FollowUpPrefix)
	if err != nil {
		return nil, nil, fmt.Errorf("scan follow-ups: %w", err)
	}

	tasks := make([]domain.FollowUpTask, 0, len(entries))
	var corrupt []string
	for _, e := range entries {
		var t domain.FollowUpTask
		if err := json.Unmarshal(e.Value, &t); err != nil || t.ProspectKey == "" {
			corrupt = append(corrupt, e.Key)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, corrupt, nil
}

// QuotaUsed returns how many initial attempts were made on day.
func (r *Repository) QuotaUsed(ctx context.Context, day string) (int, error) {
	raw, err := r.store.Get(ctx, QuotaKey(day))
	if errors.Is(err, ports.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load quota %s: %w", day, err)
	}
	var q quota
	if err := json.Unmarshal(raw, &q); err != nil {
		return 0, fmt.Errorf("%w: quota %s: %v", ErrCorrupt, day, err)
	}
	return q.Count, nil
}

// Attempts reads the attempt log, oldest first. When prospectKey is non-empty
// only that prospect's attempts are returned.
func (r *Repository) Attempts(ctx context.Context, prospectKey string) ([]domain.Attempt, error) {
	var out []domain.Attempt
	for _, event := range []string{EventSent, EventFailed} {
		entries, err := r.store.ReadLog(ctx, event)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", event, err)
		}
		for _, e := range entries {
			var a domain.Attempt
			if err := json.Unmarshal(e.Payload, &a); err != nil {
				continue
			}
			if prospectKey != "" && a.ProspectKey != prospectKey {
				continue
			}
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// Commit runs fn with a typed writer; every write becomes durable together.
func (r *Repository) Commit(ctx context.Context, fn func(w *Writer) error) error {
	return r.store.Update(ctx, func(tx ports.Tx) error {
		return fn(&Writer{tx: tx})
	})
}

// Writer offers typed writes inside one atomic commit.
type Writer struct {
	tx ports.Tx
}

// Prospect reads the prospect as it is inside the transaction.
func (w *Writer) Prospect(id string) (domain.Prospect, error) {
	raw, err := w.tx.Get(ProspectKey(id))
	if err != nil {
		return domain.Prospect{}, err
	}
	var p domain.Prospect
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Prospect{}, fmt.Errorf("%w: prospect %s: %v", ErrCorrupt, id, err)
	}
	return p, nil
}

// FollowUp reads the prospect's live task inside the transaction.
func (w *Writer) FollowUp(prospectKey string) (domain.FollowUpTask, error) {
	raw, err := w.tx.Get(FollowUpKey(prospectKey))
	if err != nil {
		return domain.FollowUpTask{}, err
	}
	var t domain.FollowUpTask
	if err := json.Unmarshal(raw, &t); err != nil {
		return domain.FollowUpTask{}, fmt.Errorf("%w: follow-up %s: %v", ErrCorrupt, prospectKey, err)
	}
	return t, nil
}

// PutProspect overwrites the prospect record.
func (w *Writer) PutProspect(p domain.Prospect) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode prospect %s: %w", p.Key, err)
	}
	return w.tx.Set(ProspectKey(p.Key), raw)
}

// PutFollowUp creates or replaces the prospect's follow-up task.
func (w *Writer) PutFollowUp(t domain.FollowUpTask) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode follow-up %s: %w", t.ProspectKey, err)
	}
	return w.tx.Set(FollowUpKey(t.ProspectKey), raw)
}

// DeleteFollowUp removes the prospect's follow-up task.
func (w *Writer) DeleteFollowUp(prospectKey string) error {
	return w.tx.Delete(FollowUpKey(prospectKey))
}

// LogAttempt appends the attempt to the sent or failed log.
func (w *Writer) LogAttempt(a domain.Attempt) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode attempt %s: %w", a.ID, err)
	}
	event := EventSent
	if !a.Success {
		event = EventFailed
	}
	return w.tx.AppendLog(event, raw)
}

// AddQuota increments the day's counter by n and returns the new value.
func (w *Writer) AddQuota(day string, n int) (int, error) {
	var q quota
	raw, err := w.tx.Get(QuotaKey(day))
	switch {
	case errors.Is(err, ports.ErrNotFound):
	case err != nil:
		return 0, fmt.Errorf("load quota %s: %w", day, err)
	default:
		if err := json.Unmarshal(raw, &q); err != nil {
			return 0, fmt.Errorf("%w: quota %s: %v", ErrCorrupt, day, err)
		}
	}
	q.Count += n
	raw, err = json.Marshal(q)
	if err != nil {
		return 0, err
	}
	return q.Count, w.tx.Set(QuotaKey(day), raw)
}
