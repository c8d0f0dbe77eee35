package domain

import (
	"strings"
	"time"
)

// State is the persisted position of a prospect in the outreach state machine.
type State string

const (
	StateNew             State = "new"
	StateContacted       State = "contacted"
	StateFollowUpPending State = "follow_up_pending"
	StateNoContact       State = "no_contact"
	StateSendFailed      State = "send_failed"
	StateExhausted       State = "exhausted"
)

// Terminal reports whether no component will move the prospect out of s.
// Contacted is terminal because it is only stored when no follow-up is
// scheduled.
func (s State) Terminal() bool {
	return s == StateNoContact || s == StateContacted || s == StateExhausted
}

// Prospect is a discovered outreach target.
type Prospect struct {
	Key              string    `json:"key"`
	Name             string    `json:"name"`
	Email            string    `json:"email,omitempty"`
	Platform         string    `json:"platform"`
	URL              string    `json:"url"`
	Source           string    `json:"source"`
	Query            string    `json:"query,omitempty"`
	RelevanceScore   int       `json:"relevanceScore"`
	Reason           string    `json:"reason"`
	PitchAngle       string    `json:"pitchAngle"`
	DiscoveredAt     time.Time `json:"discoveredAt"`
	State            State     `json:"state"`
	FollowUpAttempts int       `json:"followUpAttempts"`
	LastContactedAt  time.Time `json:"lastContactedAt,omitempty"`
	LastError        string    `json:"lastError,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// HasEmail reports whether the prospect can be contacted.
func (p Prospect) HasEmail() bool {
	return strings.TrimSpace(p.Email) != ""
}

// IdentityKey returns the deduplication key: the normalized email when known,
// otherwise the source URL.
func IdentityKey(email, url string) string {
	if e := strings.ToLower(strings.TrimSpace(email)); e != "" {
		return e
	}
	return strings.TrimSpace(url)
}
