package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/service/campaign"
)

const campaignColumns = `id, COALESCE(organization_id,''), COALESCE(user_id,''), name, subject,
	from_name, from_email, COALESCE(reply_to,''), COALESCE(template_id,''),
	COALESCE(html_content,''), COALESCE(plain_content,''),
	subscriber_ids, list_ids, segment_ids, COALESCE(preference_category,''),
	status, scheduled_at, COALESCE(scheduled_job_id,''), total_recipients, processed,
	COALESCE(note,''), started_at, completed_at`

// CampaignRepo implements campaign.Repository, campaign.SubscriberStore and
// campaign.TemplateStore against the mailing tables.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM mailing_campaigns WHERE id = $1`, id,
	).Scan(
		&c.ID, &c.OrganizationID, &c.UserID, &c.Name, &c.Subject,
		&c.FromName, &c.FromEmail, &c.ReplyTo, &c.TemplateID,
		&c.HTMLContent, &c.TextContent,
		pq.Array(&c.SubscriberIDs), pq.Array(&c.GroupIDs), pq.Array(&c.SegmentIDs), &c.PreferenceCategory,
		&c.Status, &c.ScheduledAt, &c.ScheduledJobID, &c.TotalRecipients, &c.Processed,
		&c.Note, &c.StartedAt, &c.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) exec(ctx context.Context, what, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

// UpdateStatus stamps started_at the first time a campaign enters sending.
func (r *CampaignRepo) UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus, note string) error {
	return r.exec(ctx, "update campaign status", `
		UPDATE mailing_campaigns SET
			status = $2,
			note = $3,
			started_at = CASE WHEN $2 = 'sending' AND started_at IS NULL THEN NOW() ELSE started_at END,
			updated_at = NOW()
		WHERE id = $1
	`, id, status, nullable(note))
}

func (r *CampaignRepo) SaveProgress(ctx context.Context, id string, p domain.DispatchProgress) error {
	return r.exec(ctx, "save campaign progress",
		`UPDATE mailing_campaigns SET processed = $2, total_recipients = $3, updated_at = NOW() WHERE id = $1`,
		id, p.Processed, p.Total)
}

func (r *CampaignRepo) Finish(ctx context.Context, id string, status domain.CampaignStatus, total int, note string) error {
	return r.exec(ctx, "finish campaign", `
		UPDATE mailing_campaigns SET
			status = $2, total_recipients = $3, note = $4, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id, status, total, nullable(note))
}

func (r *CampaignRepo) SetSchedule(ctx context.Context, id string, at *time.Time, jobID string, status domain.CampaignStatus) error {
	return r.exec(ctx, "set campaign schedule", `
		UPDATE mailing_campaigns SET scheduled_at = $2, scheduled_job_id = $3, status = $4, updated_at = NOW()
		WHERE id = $1
	`, id, at, nullable(jobID), status)
}

const subscriberColumns = `s.id, COALESCE(s.organization_id,''), s.email, COALESCE(s.first_name,''),
	COALESCE(s.last_name,''), s.status, s.opted_out_categories`

func (r *CampaignRepo) subscribers(ctx context.Context, query string, args ...interface{}) ([]domain.Subscriber, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	var out []domain.Subscriber
	for rows.Next() {
		var s domain.Subscriber
		if err := rows.Scan(&s.ID, &s.OrganizationID, &s.Email, &s.FirstName, &s.LastName,
			&s.Status, pq.Array(&s.OptedOutCategories)); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ByIDs keeps the caller's order.
func (r *CampaignRepo) ByIDs(ctx context.Context, orgID string, ids []string) ([]domain.Subscriber, error) {
	return r.subscribers(ctx, `
		SELECT `+subscriberColumns+`
		FROM unnest($2::text[]) WITH ORDINALITY AS want(id, ord)
		JOIN mailing_subscribers s ON s.id = want.id
		WHERE ($1 = '' OR s.organization_id = $1)
		ORDER BY want.ord
	`, orgID, pq.Array(ids))
}

func (r *CampaignRepo) ByGroups(ctx context.Context, orgID string, groupIDs []string) ([]domain.Subscriber, error) {
	return r.subscribers(ctx, `
		SELECT DISTINCT ON (s.id) `+subscriberColumns+`
		FROM mailing_list_subscribers ls
		JOIN mailing_subscribers s ON s.id = ls.subscriber_id
		WHERE ls.list_id = ANY($2) AND ($1 = '' OR s.organization_id = $1)
		ORDER BY s.id
	`, orgID, pq.Array(groupIDs))
}

func (r *CampaignRepo) BySegments(ctx context.Context, orgID string, segmentIDs []string) ([]domain.Subscriber, error) {
	return r.subscribers(ctx, `
		SELECT DISTINCT ON (s.id) `+subscriberColumns+`
		FROM mailing_segment_members sm
		JOIN mailing_subscribers s ON s.id = sm.subscriber_id
		WHERE sm.segment_id = ANY($2) AND ($1 = '' OR s.organization_id = $1)
		ORDER BY s.id
	`, orgID, pq.Array(segmentIDs))
}

func (r *CampaignRepo) GetTemplate(ctx context.Context, id string) (*campaign.Template, error) {
	t := &campaign.Template{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(subject,''), COALESCE(html_content,''), COALESCE(plain_content,'')
		FROM mailing_templates WHERE id = $1
	`, id).Scan(&t.ID, &t.Subject, &t.HTML, &t.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}
