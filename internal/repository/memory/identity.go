package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/service/identity"
)

// IdentityRepo implements identity.Repository.
type IdentityRepo struct {
	mu       sync.RWMutex
	byID     map[string]domain.DomainIdentity
	verified map[string]bool // owner keys flagged as having a verified domain
}

// NewIdentityRepo returns an empty repository.
func NewIdentityRepo() *IdentityRepo {
	return &IdentityRepo{byID: make(map[string]domain.DomainIdentity), verified: make(map[string]bool)}
}

func (r *IdentityRepo) Create(_ context.Context, d *domain.DomainIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.Domain == d.Domain {
			return identity.ErrDuplicateDomain
		}
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	r.byID[d.ID] = *d
	return nil
}

func (r *IdentityRepo) Get(_ context.Context, id string) (*domain.DomainIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return &d, nil
}

func (r *IdentityRepo) GetByDomain(_ context.Context, name string) (*domain.DomainIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.byID {
		if d.Domain == name {
			out := d
			return &out, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (r *IdentityRepo) ListByOwner(_ context.Context, owner domain.Owner) ([]domain.DomainIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.DomainIdentity
	for _, d := range r.byID {
		if d.Owner.Equal(owner) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *IdentityRepo) ListUnverified(_ context.Context, limit int) ([]domain.DomainIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.DomainIdentity
	for _, d := range r.byID {
		if d.Status != domain.DomainVerified {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return lastChecked(out[i]).Before(lastChecked(out[j]))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func lastChecked(d domain.DomainIdentity) time.Time {
	if d.LastCheckedAt == nil {
		return time.Time{}
	}
	return *d.LastCheckedAt
}

func (r *IdentityRepo) Update(_ context.Context, d *domain.DomainIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[d.ID]
	if !ok {
		return identity.ErrNotFound
	}
	next := *d
	next.IsPrimary = cur.IsPrimary
	r.byID[d.ID] = next
	return nil
}

func (r *IdentityRepo) UpdateVerification(_ context.Context, d *domain.DomainIdentity) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[d.ID]
	if !ok || cur.DKIM.Selector != d.DKIM.Selector {
		return false, nil
	}
	cur.DKIMVerified, cur.DKIMError = d.DKIMVerified, d.DKIMError
	cur.SPFVerified, cur.SPFError = d.SPFVerified, d.SPFError
	cur.TrackingVerified, cur.TrackingError = d.TrackingVerified, d.TrackingError
	cur.MXObserved, cur.MXError = d.MXObserved, d.MXError
	cur.Status = d.Status
	if d.LastCheckedAt != nil {
		t := *d.LastCheckedAt
		cur.LastCheckedAt = &t
	}
	cur.UpdatedAt = d.UpdatedAt
	r.byID[d.ID] = cur
	return true, nil
}

func (r *IdentityRepo) SetPrimary(_ context.Context, owner domain.Owner, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.byID[id]
	if !ok || !target.Owner.Equal(owner) {
		return identity.ErrNotFound
	}
	if target.Status != domain.DomainVerified {
		return identity.ErrNotVerified
	}
	for k, d := range r.byID {
		if d.Owner.Equal(owner) {
			d.IsPrimary = k == id
			r.byID[k] = d
		}
	}
	return nil
}

func (r *IdentityRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return identity.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

// MarkHasVerifiedDomain implements identity.OwnerFlagger.
func (r *IdentityRepo) MarkHasVerifiedDomain(_ context.Context, owner domain.Owner) error {
	r.mu.Lock()
	r.verified[owner.Key()] = true
	r.mu.Unlock()
	return nil
}

// HasVerifiedDomain reports what MarkHasVerifiedDomain recorded.
func (r *IdentityRepo) HasVerifiedDomain(owner domain.Owner) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.verified[owner.Key()]
}
