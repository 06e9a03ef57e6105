package identity

import (
	"context"

	"github.com/ignite/mailpipe/internal/domain"
)

// Repository persists domain identities.
type Repository interface {
	// Create inserts a new identity. Returns ErrDuplicateDomain when the
	// domain is already registered by anyone.
	Create(ctx context.Context, d *domain.DomainIdentity) error

	// Get returns ErrNotFound when the id is unknown.
	Get(ctx context.Context, id string) (*domain.DomainIdentity, error)

	// GetByDomain looks up a normalized domain. Returns ErrNotFound when absent.
	GetByDomain(ctx context.Context, name string) (*domain.DomainIdentity, error)

	ListByOwner(ctx context.Context, owner domain.Owner) ([]domain.DomainIdentity, error)

	// ListUnverified returns identities that are not yet fully verified,
	// oldest check first.
	ListUnverified(ctx context.Context, limit int) ([]domain.DomainIdentity, error)

	// Update writes key material, verification state and status. It never
	// touches is_primary. Only key rotation uses it.
	Update(ctx context.Context, d *domain.DomainIdentity) error

	// UpdateVerification writes the check results, status and
	// last_checked_at, and only while the stored selector still equals
	// d.DKIM.Selector. It reports false when no row matched.
	UpdateVerification(ctx context.Context, d *domain.DomainIdentity) (bool, error)

	// SetPrimary makes id the only primary identity of owner in one
	// statement. Returns ErrNotVerified if id is not verified and
	// ErrNotFound if id does not belong to owner.
	SetPrimary(ctx context.Context, owner domain.Owner, id string) error

	Delete(ctx context.Context, id string) error
}

// OwnerFlagger records on the owner that it has at least one verified domain.
type OwnerFlagger interface {
	MarkHasVerifiedDomain(ctx context.Context, owner domain.Owner) error
}

// Publisher pushes the records an identity needs into a managed DNS zone.
type Publisher interface {
	Publish(ctx context.Context, records []domain.DNSRecord) error
}
