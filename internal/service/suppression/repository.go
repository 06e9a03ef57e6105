package suppression

import (
	"context"

	"github.com/ignite/mailpipe/internal/domain"
)

// Repository defines the data access contract for the suppression list.
// Emails passed in are already normalized.
type Repository interface {
	// IsSuppressed returns true if a global record or a record of orgID
	// exists for the email.
	IsSuppressed(ctx context.Context, orgID, email string) (bool, error)

	// FindMany returns every record that applies to any of the emails, in a
	// single round trip.
	FindMany(ctx context.Context, orgID string, emails []string) ([]domain.SuppressionRecord, error)

	// Upsert inserts the record with count 1 or, when (email, type, org)
	// exists, increments count and refreshes last_event_at atomically.
	Upsert(ctx context.Context, ev domain.SuppressionEvent) (*domain.SuppressionRecord, error)

	// Remove deletes one record. Returns ErrNotFound if it doesn't exist.
	Remove(ctx context.Context, orgID, email string, typ domain.SuppressionType) error

	// List returns records matching the filter plus the unpaged total.
	List(ctx context.Context, orgID string, filter ListFilter) ([]domain.SuppressionRecord, int, error)

	// Count returns the number of records that apply to orgID.
	Count(ctx context.Context, orgID string) (int, error)
}

// ListFilter controls pagination and filtering for suppression lists.
type ListFilter struct {
	Type   string
	Source string
	Search string
	Limit  int
	Offset int
}
