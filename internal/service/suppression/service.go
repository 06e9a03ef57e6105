package suppression

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/logger"
)

// Service implements suppression business logic. It is safe for concurrent use.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a suppression service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// IsSuppressed checks whether an email address should be blocked from sending.
func (s *Service) IsSuppressed(ctx context.Context, orgID, email string) (bool, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return false, fmt.Errorf("%w: email is required", domain.ErrValidation)
	}
	return s.repo.IsSuppressed(ctx, orgID, email)
}

// FilterResult is the outcome of BulkFilter.
type FilterResult struct {
	Suppressed map[string]struct{}
	Records    []domain.SuppressionRecord
}

// Contains reports whether email was suppressed.
func (r *FilterResult) Contains(email string) bool {
	_, ok := r.Suppressed[domain.NormalizeEmail(email)]
	return ok
}

// Allowed returns the input addresses that were not suppressed, in order.
func (r *FilterResult) Allowed(emails []string) []string {
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		if !r.Contains(e) {
			out = append(out, e)
		}
	}
	return out
}

// BulkFilter checks the whole list with one repository call.
func (s *Service) BulkFilter(ctx context.Context, orgID string, emails []string) (*FilterResult, error) {
	res := &FilterResult{Suppressed: make(map[string]struct{})}
	if len(emails) == 0 {
		return res, nil
	}
	seen := make(map[string]struct{}, len(emails))
	normalized := make([]string, 0, len(emails))
	for _, e := range emails {
		e = domain.NormalizeEmail(e)
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		normalized = append(normalized, e)
	}

	records, err := s.repo.FindMany(ctx, orgID, normalized)
	if err != nil {
		return nil, fmt.Errorf("bulk suppression lookup: %w", err)
	}
	res.Records = records
	for _, r := range records {
		res.Suppressed[r.Email] = struct{}{}
	}
	return res, nil
}

// Add records a suppression event. Repeat events for the same
// (email, type, organization) increment the existing record's count.
func (s *Service) Add(ctx context.Context, ev domain.SuppressionEvent) (*domain.SuppressionRecord, error) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now().UTC()
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if ev.Source == "" {
		ev.Source = domain.SourceManual
	}
	rec, err := s.repo.Upsert(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("upsert suppression: %w", err)
	}
	logger.Info("suppression recorded", "email", rec.Email, "type", rec.Type, "count", rec.Count, "org", ev.OrganizationID)
	return rec, nil
}

// Remove deletes one suppression record.
func (s *Service) Remove(ctx context.Context, orgID, email string, typ domain.SuppressionType) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", domain.ErrValidation)
	}
	if !typ.Valid() {
		return fmt.Errorf("%w: unknown suppression type %q", domain.ErrValidation, typ)
	}
	return s.repo.Remove(ctx, orgID, email, typ)
}

// List returns suppression entries matching the given filter.
func (s *Service) List(ctx context.Context, orgID string, filter ListFilter) ([]domain.SuppressionRecord, int, error) {
	return s.repo.List(ctx, orgID, filter)
}

// Count returns the number of records applying to an organization.
func (s *Service) Count(ctx context.Context, orgID string) (int, error) {
	return s.repo.Count(ctx, orgID)
}

// Stats returns aggregate counts grouped by type and source.
type Stats struct {
	Total       int            `json:"total"`
	ByType      map[string]int `json:"by_type"`
	BySource    map[string]int `json:"by_source"`
	Last24Hours int            `json:"last_24_hours"`
}

// GetStats computes suppression statistics for the dashboard.
func (s *Service) GetStats(ctx context.Context, orgID string) (*Stats, error) {
	entries, total, err := s.repo.List(ctx, orgID, ListFilter{Limit: 0})
	if err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-24 * time.Hour)
	stats := &Stats{
		Total:    total,
		ByType:   make(map[string]int),
		BySource: make(map[string]int),
	}
	for _, e := range entries {
		stats.ByType[string(e.Type)]++
		stats.BySource[string(e.Source)]++
		if e.LastEventAt.After(cutoff) {
			stats.Last24Hours++
		}
	}
	return stats, nil
}
