package domain

import "time"

// AttemptKind distinguishes first contact from follow-ups.
type AttemptKind string

const (
	AttemptInitial  AttemptKind = "initial"
	AttemptFollowUp AttemptKind = "follow-up"
)

// Attempt is an immutable record of one delivery attempt.
type Attempt struct {
	ID          string      `json:"id"`
	ProspectKey string      `json:"prospectKey"`
	Kind        AttemptKind `json:"kind"`
	Number      int         `json:"number"`
	Template    string      `json:"template"`
	Subject     string      `json:"subject"`
	Success     bool        `json:"success"`
	DeliveryID  string      `json:"deliveryId,omitempty"`
	Error       string      `json:"error,omitempty"`
	At          time.Time   `json:"at"`
}

// FollowUpTask schedules the next follow-up for a prospect. At most one task
// exists per prospect.
type FollowUpTask struct {
	ProspectKey  string    `json:"prospectKey"`
	ScheduledFor time.Time `json:"scheduledFor"`
	Attempt      int       `json:"attempt"`
	CreatedAt    time.Time `json:"createdAt"`
	// OrphanedScans counts consecutive scans that found no readable prospect.
	OrphanedScans int `json:"orphanedScans,omitempty"`
}

// Due reports whether the task should be processed at now.
func (t FollowUpTask) Due(now time.Time) bool {
	return !t.ScheduledFor.After(now)
}

// Message is generated content ready to send.
type Message struct {
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Template string `json:"template"`
}

// SearchResult is one ranked hit returned by a discovery source.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}
