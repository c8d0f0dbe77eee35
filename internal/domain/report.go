package domain

import "time"

// Outcome labels a per-item result inside a batch report.
type Outcome string

const (
	OutcomeAccepted         Outcome = "accepted"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeBelowThreshold   Outcome = "below_threshold"
	OutcomeParseFailed      Outcome = "parse_failed"
	OutcomeAnalysisFailed   Outcome = "analysis_failed"
	OutcomeQueryFailed      Outcome = "query_failed"
	OutcomeSent             Outcome = "sent"
	OutcomeSendFailed       Outcome = "send_failed"
	OutcomeGenerationFailed Outcome = "generation_failed"
	OutcomeNoEmail          Outcome = "no_email"
	OutcomeExhausted        Outcome = "exhausted"
	OutcomeRetired          Outcome = "retired"
	OutcomeMissingProspect  Outcome = "missing_prospect"
	OutcomeSkipped          Outcome = "skipped"
)

// ItemResult is the status of a single item processed by a batch.
type ItemResult struct {
	Key     string  `json:"key"`
	Name    string  `json:"name,omitempty"`
	Outcome Outcome `json:"outcome"`
	Subject string  `json:"subject,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// Counts tallies outcomes by label.
type Counts map[Outcome]int

// DiscoveryReport summarizes one discovery batch.
type DiscoveryReport struct {
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Queries    int          `json:"queries"`
	Results    int          `json:"results"`
	Prospects  []Prospect   `json:"prospects"`
	Stored     int          `json:"stored"`
	Existing   int          `json:"existing"`
	Counts     Counts       `json:"counts"`
	Items      []ItemResult `json:"items"`
}

// OutreachReport summarizes one first-contact batch.
type OutreachReport struct {
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Eligible   int          `json:"eligible"`
	Quota      int          `json:"quota"`
	Counts     Counts       `json:"counts"`
	Items      []ItemResult `json:"items"`
}

// FollowUpReport summarizes one follow-up batch.
type FollowUpReport struct {
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Scanned    int          `json:"scanned"`
	Due        int          `json:"due"`
	Counts     Counts       `json:"counts"`
	Items      []ItemResult `json:"items"`
}

func (c Counts) add(o Outcome) Counts {
	if c == nil {
		c = Counts{}
	}
	c[o]++
	return c
}

// Record appends an item and updates counts.
func (r *DiscoveryReport) Record(item ItemResult) {
	r.Items = append(r.Items, item)
	r.Counts = r.Counts.add(item.Outcome)
}

// Record appends an item and updates counts.
func (r *OutreachReport) Record(item ItemResult) {
	r.Items = append(r.Items, item)
	r.Counts = r.Counts.add(item.Outcome)
}

// Record appends an item and updates counts.
func (r *FollowUpReport) Record(item ItemResult) {
	r.Items = append(r.Items, item)
	r.Counts = r.Counts.add(item.Outcome)
}
