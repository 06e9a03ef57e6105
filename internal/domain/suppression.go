package domain

import (
	"fmt"
	"time"
)

// SuppressionType enumerates why an address may not receive mail.
type SuppressionType string

const (
	SuppressUnsubscribe SuppressionType = "unsubscribe"
	SuppressBounce      SuppressionType = "bounce"
	SuppressComplaint   SuppressionType = "complaint"
	SuppressManual      SuppressionType = "manual"
)

// Valid reports whether t is a known suppression type.
func (t SuppressionType) Valid() bool {
	switch t {
	case SuppressUnsubscribe, SuppressBounce, SuppressComplaint, SuppressManual:
		return true
	}
	return false
}

// SuppressionSource indicates where the suppression signal originated.
type SuppressionSource string

const (
	SourceESPWebhook SuppressionSource = "esp_webhook"
	SourceTracking   SuppressionSource = "tracking_unsubscribe"
	SourceManual     SuppressionSource = "manual"
	SourceImport     SuppressionSource = "import"
)

// SuppressionRecord is unique per (email, type, organization). Repeat events
// bump Count and LastEventAt instead of creating duplicates.
type SuppressionRecord struct {
	ID             string            `json:"id" db:"id"`
	Email          string            `json:"email" db:"email"`
	Type           SuppressionType   `json:"type" db:"type"`
	OrganizationID string            `json:"organization_id,omitempty" db:"organization_id"`
	Count          int               `json:"count" db:"count"`
	Reason         string            `json:"reason,omitempty" db:"reason"`
	Source         SuppressionSource `json:"source,omitempty" db:"source"`
	CampaignID     string            `json:"campaign_id,omitempty" db:"campaign_id"`
	FirstEventAt   time.Time         `json:"first_event_at" db:"first_event_at"`
	LastEventAt    time.Time         `json:"last_event_at" db:"last_event_at"`
}

// SuppressionEvent is the input to an upsert.
type SuppressionEvent struct {
	Email          string            `json:"email"`
	Type           SuppressionType   `json:"type"`
	OrganizationID string            `json:"organization_id,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	Source         SuppressionSource `json:"source,omitempty"`
	CampaignID     string            `json:"campaign_id,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

// Validate normalizes the address and checks required fields.
func (e *SuppressionEvent) Validate() error {
	e.Email = NormalizeEmail(e.Email)
	if e.Email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown suppression type %q", ErrValidation, e.Type)
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return nil
}
