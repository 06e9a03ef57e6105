package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/service/identity"
)

const identityColumns = `id, domain, COALESCE(user_id,''), COALESCE(organization_id,''),
	dkim_selector, dkim_public_key, dkim_private_key, dkim_private_key_encrypted,
	dkim_verified, spf_verified, tracking_verified, mx_observed, status, is_primary,
	bounce_token, COALESCE(dkim_error,''), COALESCE(spf_error,''), COALESCE(tracking_error,''),
	COALESCE(mx_error,''), last_checked_at, created_at, updated_at`

// IdentityRepo implements identity.Repository and identity.OwnerFlagger.
type IdentityRepo struct{ db *sql.DB }

// NewIdentityRepo creates a Postgres-backed identity repository.
func NewIdentityRepo(db *sql.DB) *IdentityRepo { return &IdentityRepo{db: db} }

func scanIdentity(row scanner) (*domain.DomainIdentity, error) {
	d := &domain.DomainIdentity{}
	err := row.Scan(
		&d.ID, &d.Domain, &d.Owner.UserID, &d.Owner.OrganizationID,
		&d.DKIM.Selector, &d.DKIM.PublicKey, &d.DKIM.EncryptedPrivateKey, &d.DKIM.Encrypted,
		&d.DKIMVerified, &d.SPFVerified, &d.TrackingVerified, &d.MXObserved, &d.Status, &d.IsPrimary,
		&d.BounceToken, &d.DKIMError, &d.SPFError, &d.TrackingError,
		&d.MXError, &d.LastCheckedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

func (r *IdentityRepo) Create(ctx context.Context, d *domain.DomainIdentity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sending_domains (
			id, domain, user_id, organization_id,
			dkim_selector, dkim_public_key, dkim_private_key, dkim_private_key_encrypted,
			status, is_primary, bounce_token, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, $10, $11, $11)
	`, d.ID, d.Domain, nullable(d.Owner.UserID), nullable(d.Owner.OrganizationID),
		d.DKIM.Selector, d.DKIM.PublicKey, d.DKIM.EncryptedPrivateKey, d.DKIM.Encrypted,
		d.Status, d.BounceToken, d.CreatedAt)
	if uniqueViolation(err) {
		return identity.ErrDuplicateDomain
	}
	if err != nil {
		return fmt.Errorf("create domain identity: %w", err)
	}
	return nil
}

func (r *IdentityRepo) getOne(ctx context.Context, where string, arg interface{}) (*domain.DomainIdentity, error) {
	d, err := scanIdentity(r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM sending_domains WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get domain identity: %w", err)
	}
	return d, nil
}

func (r *IdentityRepo) Get(ctx context.Context, id string) (*domain.DomainIdentity, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *IdentityRepo) GetByDomain(ctx context.Context, name string) (*domain.DomainIdentity, error) {
	return r.getOne(ctx, "domain = $1", name)
}

func (r *IdentityRepo) list(ctx context.Context, query string, args ...interface{}) ([]domain.DomainIdentity, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list domain identities: %w", err)
	}
	defer rows.Close()

	var out []domain.DomainIdentity
	for rows.Next() {
		d, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan domain identity: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ownerClause returns the WHERE fragment and argument selecting owner's rows.
func ownerClause(owner domain.Owner, idx int) (string, string) {
	if owner.OrganizationID != "" {
		return fmt.Sprintf("organization_id = $%d", idx), owner.OrganizationID
	}
	return fmt.Sprintf("user_id = $%d", idx), owner.UserID
}

func (r *IdentityRepo) ListByOwner(ctx context.Context, owner domain.Owner) ([]domain.DomainIdentity, error) {
	where, arg := ownerClause(owner, 1)
	return r.list(ctx, `SELECT `+identityColumns+` FROM sending_domains WHERE `+where+
		` ORDER BY is_primary DESC, created_at`, arg)
}

func (r *IdentityRepo) ListUnverified(ctx context.Context, limit int) ([]domain.DomainIdentity, error) {
	return r.list(ctx, `SELECT `+identityColumns+` FROM sending_domains
		WHERE status <> 'verified'
		ORDER BY last_checked_at ASC NULLS FIRST
		LIMIT $1`, limit)
}

func (r *IdentityRepo) Update(ctx context.Context, d *domain.DomainIdentity) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sending_domains SET
			dkim_selector = $2, dkim_public_key = $3, dkim_private_key = $4, dkim_private_key_encrypted = $5,
			dkim_verified = $6, spf_verified = $7, tracking_verified = $8, mx_observed = $9, status = $10,
			dkim_error = $11, spf_error = $12, tracking_error = $13, mx_error = $14,
			last_checked_at = $15, updated_at = $16
		WHERE id = $1
	`, d.ID, d.DKIM.Selector, d.DKIM.PublicKey, d.DKIM.EncryptedPrivateKey, d.DKIM.Encrypted,
		d.DKIMVerified, d.SPFVerified, d.TrackingVerified, d.MXObserved, d.Status,
		nullable(d.DKIMError), nullable(d.SPFError), nullable(d.TrackingError), nullable(d.MXError),
		d.LastCheckedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update domain identity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (r *IdentityRepo) UpdateVerification(ctx context.Context, d *domain.DomainIdentity) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sending_domains SET
			dkim_verified = $3, spf_verified = $4, tracking_verified = $5, mx_observed = $6, status = $7,
			dkim_error = $8, spf_error = $9, tracking_error = $10, mx_error = $11,
			last_checked_at = $12, updated_at = $13
		WHERE id = $1 AND dkim_selector = $2
	`, d.ID, d.DKIM.Selector,
		d.DKIMVerified, d.SPFVerified, d.TrackingVerified, d.MXObserved, d.Status,
		nullable(d.DKIMError), nullable(d.SPFError), nullable(d.TrackingError), nullable(d.MXError),
		d.LastCheckedAt, d.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("update domain verification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update domain verification: %w", err)
	}
	return n > 0, nil
}

// SetPrimary locks every row of the owner, then clears the old primary and
// sets the new one inside one transaction. The partial unique index on
// (owner_key) WHERE is_primary rejects any concurrent writer that slips past.
func (r *IdentityRepo) SetPrimary(ctx context.Context, owner domain.Owner, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set primary: %w", err)
	}
	defer tx.Rollback()

	where, arg := ownerClause(owner, 1)
	rows, err := tx.QueryContext(ctx,
		`SELECT id, status FROM sending_domains WHERE `+where+` FOR UPDATE`, arg)
	if err != nil {
		return fmt.Errorf("lock owner domains: %w", err)
	}
	var status domain.DomainStatus
	found := false
	for rows.Next() {
		var rid string
		var st domain.DomainStatus
		if err := rows.Scan(&rid, &st); err != nil {
			rows.Close()
			return fmt.Errorf("scan owner domain: %w", err)
		}
		if rid == id {
			found, status = true, st
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("lock owner domains: %w", err)
	}
	if !found {
		return identity.ErrNotFound
	}
	if status != domain.DomainVerified {
		return identity.ErrNotVerified
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sending_domains SET is_primary = false, updated_at = NOW() WHERE `+where+` AND is_primary AND id <> $2`,
		arg, id); err != nil {
		return fmt.Errorf("clear primary: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sending_domains SET is_primary = true, updated_at = NOW() WHERE id = $1`, id); err != nil {
		if uniqueViolation(err) {
			return identity.ErrPrimaryBusy
		}
		return fmt.Errorf("set primary: %w", err)
	}
	return tx.Commit()
}

func (r *IdentityRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sending_domains WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete domain identity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

// MarkHasVerifiedDomain sets the flag on the owning organization or user.
func (r *IdentityRepo) MarkHasVerifiedDomain(ctx context.Context, owner domain.Owner) error {
	table, id := "users", owner.UserID
	if owner.OrganizationID != "" {
		table, id = "organizations", owner.OrganizationID
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE `+table+` SET has_verified_domain = true WHERE id = $1 AND NOT has_verified_domain`, id)
	if err != nil {
		return fmt.Errorf("mark owner verified: %w", err)
	}
	return nil
}
