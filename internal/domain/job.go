package domain

import (
	"fmt"
	"time"
)

// JobKind identifies what a SendJob does when a worker picks it up.
type JobKind string

const (
	JobSingleEmail       JobKind = "single_email"
	JobCampaignBatch     JobKind = "campaign_batch"
	JobScheduledCampaign JobKind = "scheduled_campaign"
)

// JobKinds lists every kind a queue consumer must serve.
var JobKinds = []JobKind{JobSingleEmail, JobCampaignBatch, JobScheduledCampaign}

// Valid reports whether k is a known kind.
func (k JobKind) Valid() bool {
	switch k {
	case JobSingleEmail, JobCampaignBatch, JobScheduledCampaign:
		return true
	}
	return false
}

// JobStatus enumerates the lifecycle of a SendJob inside a queue backend.
type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobDelayed   JobStatus = "delayed"
)

// EmailPayload is everything a worker needs to deliver one message, or to
// start a campaign orchestration (CampaignID only).
type EmailPayload struct {
	To             string            `json:"to,omitempty"`
	From           string            `json:"from,omitempty"`
	FromName       string            `json:"from_name,omitempty"`
	ReplyTo        string            `json:"reply_to,omitempty"`
	Subject        string            `json:"subject,omitempty"`
	HTML           string            `json:"html,omitempty"`
	Text           string            `json:"text,omitempty"`
	CampaignID     string            `json:"campaign_id,omitempty"`
	SubscriberID   string            `json:"subscriber_id,omitempty"`
	AutomationID   string            `json:"automation_id,omitempty"`
	TemplateID     string            `json:"template_id,omitempty"`
	OrganizationID string            `json:"organization_id,omitempty"`
	BounceAddress  string            `json:"bounce_address,omitempty"`
	BounceToken    string            `json:"bounce_token,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
}

// IdempotencyKey returns the delivery-log key for this payload.
// Triggered emails have no campaign: the automation id stands in for it, and
// the recipient address stands in for a missing subscriber id.
func (p EmailPayload) IdempotencyKey() string {
	campaign := p.CampaignID
	if campaign == "" {
		campaign = p.AutomationID
	}
	subscriber := p.SubscriberID
	if subscriber == "" {
		subscriber = NormalizeEmail(p.To)
	}
	return IdempotencyKey(campaign, subscriber, p.Subject)
}

// Backoff configures exponential retry delays.
type Backoff struct {
	Base time.Duration `json:"base"`
}

// Delay returns the wait before the next attempt after n failures: base × 2ⁿ.
func (b Backoff) Delay(n int) time.Duration {
	if b.Base <= 0 || n < 0 {
		return 0
	}
	if n > 20 {
		n = 20
	}
	return b.Base * time.Duration(1<<uint(n))
}

// JobOptions are the per-enqueue knobs callers may set. Zero values fall back
// to the backend defaults.
type JobOptions struct {
	Delay    time.Duration
	Priority int
	Attempts int
	Backoff  Backoff
}

// SendJob is one unit of work inside a queue backend. It is created by the
// dispatcher or a triggered action and mutated only by the queue worker.
type SendJob struct {
	ID          string       `json:"id"`
	Kind        JobKind      `json:"kind"`
	Payload     EmailPayload `json:"payload"`
	Attempts    int          `json:"attempts"`
	MaxAttempts int          `json:"max_attempts"`
	Backoff     Backoff      `json:"backoff"`
	NotBefore   time.Time    `json:"not_before"`
	Priority    int          `json:"priority"`
	Status      JobStatus    `json:"status"`
	LastError   string       `json:"last_error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
}

// Validate checks the fields every backend relies on.
func (j *SendJob) Validate() error {
	if !j.Kind.Valid() {
		return fmt.Errorf("%w: unknown job kind %q", ErrValidation, j.Kind)
	}
	switch j.Kind {
	case JobSingleEmail:
		if j.Payload.To == "" {
			return fmt.Errorf("%w: single email job requires a recipient", ErrValidation)
		}
	case JobCampaignBatch, JobScheduledCampaign:
		if j.Payload.CampaignID == "" {
			return fmt.Errorf("%w: campaign job requires a campaign id", ErrValidation)
		}
	}
	return nil
}

// IsTerminal reports whether the job will never run again.
func (j *SendJob) IsTerminal() bool {
	return j.Status == JobCompleted || (j.Status == JobFailed && j.Attempts >= j.MaxAttempts)
}

// FinalAttempt reports whether the attempt currently running is the last one allowed.
func (j *SendJob) FinalAttempt() bool {
	return j.Attempts+1 >= j.MaxAttempts
}

// JobHandle identifies an enqueued job to the caller.
type JobHandle struct {
	ID      string `json:"id"`
	Backend string `json:"backend"`
}

// QueueStats is a point-in-time count of jobs per status.
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Paused    bool  `json:"paused"`
}
