package campaign

import (
	"context"
	"time"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/queue"
	"github.com/ignite/mailpipe/internal/service/sendgate"
	"github.com/ignite/mailpipe/internal/service/suppression"
)

// Repository reads campaigns and writes back their dispatch lifecycle.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// UpdateStatus sets status and note. Sending also stamps started_at.
	UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus, note string) error

	// SaveProgress records processed/total after each batch.
	SaveProgress(ctx context.Context, id string, p domain.DispatchProgress) error

	// Finish sets the terminal status, total recipients and completed_at.
	Finish(ctx context.Context, id string, status domain.CampaignStatus, total int, note string) error

	// SetSchedule stores the scheduled time and job id with the new status.
	SetSchedule(ctx context.Context, id string, at *time.Time, jobID string, status domain.CampaignStatus) error
}

// SubscriberStore answers read-only recipient queries.
type SubscriberStore interface {
	ByIDs(ctx context.Context, orgID string, ids []string) ([]domain.Subscriber, error)
	ByGroups(ctx context.Context, orgID string, groupIDs []string) ([]domain.Subscriber, error)
	BySegments(ctx context.Context, orgID string, segmentIDs []string) ([]domain.Subscriber, error)
}

// Template is a stored email template.
type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// TemplateStore loads templates. Returns ErrTemplateNotFound when missing.
type TemplateStore interface {
	GetTemplate(ctx context.Context, id string) (*Template, error)
}

// Suppressor is the part of the suppression service dispatch uses.
type Suppressor interface {
	BulkFilter(ctx context.Context, orgID string, emails []string) (*suppression.FilterResult, error)
	IsSuppressed(ctx context.Context, orgID, email string) (bool, error)
}

// Gate is the part of the send gate dispatch uses.
type Gate interface {
	CheckSender(ctx context.Context, from string, o sendgate.Override) (sendgate.Decision, error)
	BounceFor(ctx context.Context, from string) (address, token string)
}

// Queue accepts jobs and cancels waiting ones.
type Queue interface {
	queue.Submitter
	Remove(ctx context.Context, id string) (bool, error)
}
