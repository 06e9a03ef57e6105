package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository, campaign.SubscriberStore and
// campaign.TemplateStore.
type CampaignRepo struct {
	mu          sync.RWMutex
	campaigns   map[string]domain.Campaign
	subscribers map[string]domain.Subscriber
	groups      map[string][]string // group id -> subscriber ids
	segments    map[string][]string // segment id -> subscriber ids
	templates   map[string]campaign.Template
	progress    map[string][]domain.DispatchProgress
	now         func() time.Time
}

// NewCampaignRepo returns an empty store.
func NewCampaignRepo() *CampaignRepo {
	return &CampaignRepo{
		campaigns:   make(map[string]domain.Campaign),
		subscribers: make(map[string]domain.Subscriber),
		groups:      make(map[string][]string),
		segments:    make(map[string][]string),
		templates:   make(map[string]campaign.Template),
		progress:    make(map[string][]domain.DispatchProgress),
		now:         time.Now,
	}
}

// PutCampaign stores or replaces a campaign.
func (r *CampaignRepo) PutCampaign(c domain.Campaign) {
	r.mu.Lock()
	r.campaigns[c.ID] = c
	r.mu.Unlock()
}

// PutSubscriber stores a subscriber and adds it to the given groups.
func (r *CampaignRepo) PutSubscriber(s domain.Subscriber, groupIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers[s.ID] = s
	for _, g := range groupIDs {
		r.groups[g] = append(r.groups[g], s.ID)
	}
}

// PutSegment sets a segment's members.
func (r *CampaignRepo) PutSegment(id string, subscriberIDs ...string) {
	r.mu.Lock()
	r.segments[id] = subscriberIDs
	r.mu.Unlock()
}

// PutTemplate stores a template.
func (r *CampaignRepo) PutTemplate(t campaign.Template) {
	r.mu.Lock()
	r.templates[t.ID] = t
	r.mu.Unlock()
}

// Progress returns every progress update recorded for a campaign.
func (r *CampaignRepo) Progress(id string) []domain.DispatchProgress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.DispatchProgress(nil), r.progress[id]...)
}

func (r *CampaignRepo) Get(_ context.Context, id string) (*domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	return &c, nil
}

func (r *CampaignRepo) update(id string, fn func(c *domain.Campaign)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	fn(&c)
	r.campaigns[id] = c
	return nil
}

func (r *CampaignRepo) UpdateStatus(_ context.Context, id string, status domain.CampaignStatus, note string) error {
	now := r.now().UTC()
	return r.update(id, func(c *domain.Campaign) {
		c.Status = status
		c.Note = note
		if status == domain.CampaignSending && c.StartedAt == nil {
			c.StartedAt = &now
		}
	})
}

func (r *CampaignRepo) SaveProgress(_ context.Context, id string, p domain.DispatchProgress) error {
	err := r.update(id, func(c *domain.Campaign) { c.Processed = p.Processed })
	if err == nil {
		r.mu.Lock()
		r.progress[id] = append(r.progress[id], p)
		r.mu.Unlock()
	}
	return err
}

func (r *CampaignRepo) Finish(_ context.Context, id string, status domain.CampaignStatus, total int, note string) error {
	now := r.now().UTC()
	return r.update(id, func(c *domain.Campaign) {
		c.Status = status
		c.TotalRecipients = total
		c.Note = note
		c.CompletedAt = &now
	})
}

func (r *CampaignRepo) SetSchedule(_ context.Context, id string, at *time.Time, jobID string, status domain.CampaignStatus) error {
	return r.update(id, func(c *domain.Campaign) {
		c.ScheduledAt = at
		c.ScheduledJobID = jobID
		c.Status = status
	})
}

func (r *CampaignRepo) collect(orgID string, ids []string) []domain.Subscriber {
	var out []domain.Subscriber
	for _, id := range ids {
		s, ok := r.subscribers[id]
		if !ok {
			continue
		}
		if orgID != "" && s.OrganizationID != "" && s.OrganizationID != orgID {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (r *CampaignRepo) ByIDs(_ context.Context, orgID string, ids []string) ([]domain.Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(orgID, ids), nil
}

func (r *CampaignRepo) ByGroups(_ context.Context, orgID string, groupIDs []string) ([]domain.Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Subscriber
	for _, g := range groupIDs {
		out = append(out, r.collect(orgID, r.groups[g])...)
	}
	return out, nil
}

func (r *CampaignRepo) BySegments(_ context.Context, orgID string, segmentIDs []string) ([]domain.Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Subscriber
	for _, s := range segmentIDs {
		out = append(out, r.collect(orgID, r.segments[s])...)
	}
	return out, nil
}

func (r *CampaignRepo) GetTemplate(_ context.Context, id string) (*campaign.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, campaign.ErrTemplateNotFound
	}
	return &t, nil
}
