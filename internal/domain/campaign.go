package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Campaign is the read model the dispatcher needs plus the lifecycle fields
// it writes back.
type Campaign struct {
	ID                 string         `json:"id" db:"id"`
	OrganizationID     string         `json:"organization_id,omitempty" db:"organization_id"`
	UserID             string         `json:"user_id,omitempty" db:"user_id"`
	Name               string         `json:"name" db:"name"`
	Subject            string         `json:"subject" db:"subject"`
	FromName           string         `json:"from_name" db:"from_name"`
	FromEmail          string         `json:"from_email" db:"from_email"`
	ReplyTo            string         `json:"reply_to,omitempty" db:"reply_to"`
	TemplateID         string         `json:"template_id,omitempty" db:"template_id"`
	HTMLContent        string         `json:"html_content,omitempty" db:"html_content"`
	TextContent        string         `json:"text_content,omitempty" db:"text_content"`
	SubscriberIDs      []string       `json:"subscriber_ids,omitempty" db:"subscriber_ids"`
	GroupIDs           []string       `json:"group_ids,omitempty" db:"group_ids"`
	SegmentIDs         []string       `json:"segment_ids,omitempty" db:"segment_ids"`
	PreferenceCategory string         `json:"preference_category,omitempty" db:"preference_category"`
	Status             CampaignStatus `json:"status" db:"status"`
	ScheduledAt        *time.Time     `json:"scheduled_at,omitempty" db:"scheduled_at"`
	ScheduledJobID     string         `json:"scheduled_job_id,omitempty" db:"scheduled_job_id"`
	TotalRecipients    int            `json:"total_recipients" db:"total_recipients"`
	Processed          int            `json:"processed" db:"processed"`
	Note               string         `json:"note,omitempty" db:"note"`
	StartedAt          *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// Owner returns the campaign's owning principal.
func (c *Campaign) Owner() Owner {
	if c.OrganizationID != "" {
		return Owner{OrganizationID: c.OrganizationID}
	}
	return Owner{UserID: c.UserID}
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	switch c.Status {
	case CampaignSent, CampaignCompleted, CampaignFailed, CampaignCancelled:
		return true
	}
	return false
}

// DispatchProgress is persisted after each batch.
type DispatchProgress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}
