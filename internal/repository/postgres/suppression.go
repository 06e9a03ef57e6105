package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/service/suppression"
)

// Rows without an organization apply to every organization. org_key is the
// generated COALESCE(organization_id, '') column backing the unique index.
const (
	suppressionColumns = `id, email, type, COALESCE(organization_id,''), count, COALESCE(reason,''),
		COALESCE(source,''), COALESCE(campaign_id,''), first_event_at, last_event_at`
	appliesToOrg = `(organization_id IS NULL OR organization_id = $1)`
)

// SuppressionRepo implements suppression.Repository against PostgreSQL.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

func scanSuppression(row scanner) (*domain.SuppressionRecord, error) {
	rec := &domain.SuppressionRecord{}
	err := row.Scan(&rec.ID, &rec.Email, &rec.Type, &rec.OrganizationID, &rec.Count, &rec.Reason,
		&rec.Source, &rec.CampaignID, &rec.FirstEventAt, &rec.LastEventAt)
	return rec, err
}

func (r *SuppressionRepo) IsSuppressed(ctx context.Context, orgID, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM suppressions WHERE `+appliesToOrg+` AND email = $2)`,
		orgID, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check suppression: %w", err)
	}
	return exists, nil
}

// FindMany resolves a whole recipient list in one round trip.
func (r *SuppressionRepo) FindMany(ctx context.Context, orgID string, emails []string) ([]domain.SuppressionRecord, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+suppressionColumns+` FROM suppressions WHERE `+appliesToOrg+` AND email = ANY($2)`,
		orgID, pq.Array(emails))
	if err != nil {
		return nil, fmt.Errorf("find suppressions: %w", err)
	}
	defer rows.Close()

	var out []domain.SuppressionRecord
	for rows.Next() {
		rec, err := scanSuppression(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suppression: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Upsert inserts the record or bumps count and last_event_at on repeat events.
func (r *SuppressionRepo) Upsert(ctx context.Context, ev domain.SuppressionEvent) (*domain.SuppressionRecord, error) {
	rec, err := scanSuppression(r.db.QueryRowContext(ctx, `
		INSERT INTO suppressions (id, email, type, organization_id, count, reason, source, campaign_id, first_event_at, last_event_at)
		VALUES ($1, $2, $3, $4, 1, $5, $6, $7, $8, $8)
		ON CONFLICT (email, type, org_key) DO UPDATE SET
			count = suppressions.count + 1,
			last_event_at = GREATEST(suppressions.last_event_at, EXCLUDED.last_event_at),
			reason = COALESCE(EXCLUDED.reason, suppressions.reason)
		RETURNING `+suppressionColumns,
		uuid.New().String(), ev.Email, ev.Type, nullable(ev.OrganizationID), nullable(ev.Reason),
		nullable(string(ev.Source)), nullable(ev.CampaignID), ev.OccurredAt))
	if err != nil {
		return nil, fmt.Errorf("upsert suppression: %w", err)
	}
	return rec, nil
}

func (r *SuppressionRepo) Remove(ctx context.Context, orgID, email string, typ domain.SuppressionType) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM suppressions WHERE org_key = $1 AND email = $2 AND type = $3`,
		orgID, email, typ)
	if err != nil {
		return fmt.Errorf("remove suppression: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return suppression.ErrNotFound
	}
	return nil
}

func listWhere(orgID string, f suppression.ListFilter) (string, []interface{}) {
	conds := []string{appliesToOrg}
	args := []interface{}{orgID}
	if f.Type != "" {
		args = append(args, f.Type)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.Source != "" {
		args = append(args, f.Source)
		conds = append(conds, fmt.Sprintf("source = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
		conds = append(conds, fmt.Sprintf("email LIKE $%d", len(args)))
	}
	return strings.Join(conds, " AND "), args
}

func (r *SuppressionRepo) List(ctx context.Context, orgID string, f suppression.ListFilter) ([]domain.SuppressionRecord, int, error) {
	where, args := listWhere(orgID, f)

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM suppressions WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count suppressions: %w", err)
	}

	// A zero limit returns everything; stats rely on it.
	q := `SELECT ` + suppressionColumns + ` FROM suppressions WHERE ` + where + ` ORDER BY last_event_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		q += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	var out []domain.SuppressionRecord
	for rows.Next() {
		rec, err := scanSuppression(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan suppression: %w", err)
		}
		out = append(out, *rec)
	}
	return out, total, rows.Err()
}

func (r *SuppressionRepo) Count(ctx context.Context, orgID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM suppressions WHERE `+appliesToOrg, orgID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count suppressions: %w", err)
	}
	return n, nil
}
