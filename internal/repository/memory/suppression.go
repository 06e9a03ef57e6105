package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/service/suppression"
)

// SuppressionRepo implements suppression.Repository.
type SuppressionRepo struct {
	mu    sync.RWMutex
	store map[string]*domain.SuppressionRecord // keyed by org|email|type
}

// NewSuppressionRepo returns an empty repository.
func NewSuppressionRepo() *SuppressionRepo {
	return &SuppressionRepo{store: make(map[string]*domain.SuppressionRecord)}
}

func suppressionKey(orgID, email string, typ domain.SuppressionType) string {
	return orgID + "|" + email + "|" + string(typ)
}

func appliesTo(r *domain.SuppressionRecord, orgID string) bool {
	return r.OrganizationID == "" || r.OrganizationID == orgID
}

func (r *SuppressionRepo) IsSuppressed(_ context.Context, orgID, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.store {
		if rec.Email == email && appliesTo(rec, orgID) {
			return true, nil
		}
	}
	return false, nil
}

func (r *SuppressionRepo) FindMany(_ context.Context, orgID string, emails []string) ([]domain.SuppressionRecord, error) {
	want := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		want[e] = struct{}{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.SuppressionRecord
	for _, rec := range r.store {
		if _, ok := want[rec.Email]; ok && appliesTo(rec, orgID) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *SuppressionRepo) Upsert(_ context.Context, ev domain.SuppressionEvent) (*domain.SuppressionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := suppressionKey(ev.OrganizationID, ev.Email, ev.Type)
	if rec, ok := r.store[k]; ok {
		rec.Count++
		if ev.OccurredAt.After(rec.LastEventAt) {
			rec.LastEventAt = ev.OccurredAt
		}
		if ev.Reason != "" {
			rec.Reason = ev.Reason
		}
		out := *rec
		return &out, nil
	}
	rec := &domain.SuppressionRecord{
		ID:             uuid.New().String(),
		Email:          ev.Email,
		Type:           ev.Type,
		OrganizationID: ev.OrganizationID,
		Count:          1,
		Reason:         ev.Reason,
		Source:         ev.Source,
		CampaignID:     ev.CampaignID,
		FirstEventAt:   ev.OccurredAt,
		LastEventAt:    ev.OccurredAt,
	}
	r.store[k] = rec
	out := *rec
	return &out, nil
}

func (r *SuppressionRepo) Remove(_ context.Context, orgID, email string, typ domain.SuppressionType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := suppressionKey(orgID, email, typ)
	if _, ok := r.store[k]; !ok {
		return suppression.ErrNotFound
	}
	delete(r.store, k)
	return nil
}

func (r *SuppressionRepo) List(_ context.Context, orgID string, f suppression.ListFilter) ([]domain.SuppressionRecord, int, error) {
	r.mu.RLock()
	var all []domain.SuppressionRecord
	for _, rec := range r.store {
		if !appliesTo(rec, orgID) {
			continue
		}
		if f.Type != "" && string(rec.Type) != f.Type {
			continue
		}
		if f.Source != "" && string(rec.Source) != f.Source {
			continue
		}
		if f.Search != "" && !strings.Contains(rec.Email, strings.ToLower(f.Search)) {
			continue
		}
		all = append(all, *rec)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].LastEventAt.After(all[j].LastEventAt) })
	total := len(all)
	if f.Offset > 0 {
		if f.Offset >= len(all) {
			return nil, total, nil
		}
		all = all[f.Offset:]
	}
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (r *SuppressionRepo) Count(ctx context.Context, orgID string) (int, error) {
	_, n, err := r.List(ctx, orgID, suppression.ListFilter{})
	return n, err
}
