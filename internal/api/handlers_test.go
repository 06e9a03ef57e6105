package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailpipe/internal/config"
	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/queue"
	"github.com/ignite/mailpipe/internal/repository/memory"
	"github.com/ignite/mailpipe/internal/service/campaign"
	"github.com/ignite/mailpipe/internal/service/identity"
	"github.com/ignite/mailpipe/internal/service/suppression"
)

type fakeDomains struct {
	byID      map[string]*domain.DomainIdentity
	verified  []string
	lastOwner domain.Owner
}

func (f *fakeDomains) owned(id string, owner domain.Owner) (*domain.DomainIdentity, error) {
	f.lastOwner = owner
	d, ok := f.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	if !d.Owner.Equal(owner) {
		return nil, identity.ErrNotOwner
	}
	return d, nil
}

func (f *fakeDomains) CreateDomain(_ context.Context, name string, owner domain.Owner) (*domain.DomainIdentity, error) {
	if name == "bad" {
		return nil, identity.ErrInvalidDomain
	}
	d := &domain.DomainIdentity{ID: "new", Domain: name, Owner: owner, Status: domain.DomainPending}
	f.byID[d.ID] = d
	return d, nil
}
func (f *fakeDomains) RegenerateDKIM(_ context.Context, id string, o domain.Owner) (*domain.DomainIdentity, error) {
	return f.owned(id, o)
}
func (f *fakeDomains) VerifyDNS(_ context.Context, id string) (*domain.DomainIdentity, error) {
	f.verified = append(f.verified, id)
	return f.byID[id], nil
}
func (f *fakeDomains) SetPrimary(_ context.Context, id string, o domain.Owner) (*domain.DomainIdentity, error) {
	d, err := f.owned(id, o)
	if err != nil {
		return nil, err
	}
	if d.Status != domain.DomainVerified {
		return nil, identity.ErrNotVerified
	}
	d.IsPrimary = true
	return d, nil
}
func (f *fakeDomains) DeleteDomain(_ context.Context, id string, o domain.Owner) error {
	d, err := f.owned(id, o)
	if err != nil {
		return err
	}
	if d.IsPrimary {
		return identity.ErrPrimaryDelete
	}
	delete(f.byID, id)
	return nil
}
func (f *fakeDomains) Get(_ context.Context, id string, o domain.Owner) (*domain.DomainIdentity, error) {
	return f.owned(id, o)
}
func (f *fakeDomains) List(_ context.Context, o domain.Owner) ([]domain.DomainIdentity, error) {
	var out []domain.DomainIdentity
	for _, d := range f.byID {
		if d.Owner.Equal(o) {
			out = append(out, *d)
		}
	}
	return out, nil
}
func (f *fakeDomains) Records(d *domain.DomainIdentity) []domain.DNSRecord {
	return []domain.DNSRecord{{Name: "sel._domainkey." + d.Domain, Type: "TXT", Value: "v=DKIM1"}}
}

type fakeCampaigns struct {
	enqueue   queue.EnqueueResult
	err       error
	scheduled time.Time
	triggered campaign.TriggeredEmail
}

func (f *fakeCampaigns) Dispatch(_ context.Context, id string) (*campaign.DispatchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &campaign.DispatchResult{CampaignID: id, Queued: 2}, nil
}
func (f *fakeCampaigns) EnqueueDispatch(context.Context, string) (queue.EnqueueResult, error) {
	return f.enqueue, f.err
}
func (f *fakeCampaigns) Schedule(_ context.Context, id string, at time.Time) (*domain.Campaign, error) {
	f.scheduled = at
	return &domain.Campaign{ID: id, Status: domain.CampaignScheduled, ScheduledAt: &at}, f.err
}
func (f *fakeCampaigns) Cancel(_ context.Context, id string) (*domain.Campaign, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Campaign{ID: id, Status: domain.CampaignCancelled}, nil
}
func (f *fakeCampaigns) SendTriggered(_ context.Context, in campaign.TriggeredEmail) (*campaign.TriggeredResult, error) {
	f.triggered = in
	if in.To == "gone@x.com" {
		return &campaign.TriggeredResult{Suppressed: true}, nil
	}
	return &campaign.TriggeredResult{Enqueue: queue.EnqueueResult{Outcome: queue.OutcomeSentInline}}, nil
}

type fakeQueue struct {
	paused bool
	mode   queue.Mode
}

func (q *fakeQueue) Stats(context.Context) (domain.QueueStats, error) {
	return domain.QueueStats{Waiting: 4, Paused: q.paused}, nil
}
func (q *fakeQueue) Pause(context.Context) error  { q.paused = true; return nil }
func (q *fakeQueue) Resume(context.Context) error { q.paused = false; return nil }
func (q *fakeQueue) Job(_ context.Context, id string) (*domain.SendJob, error) {
	if id != "j1" {
		return nil, domain.ErrNotFound
	}
	return &domain.SendJob{ID: "j1", Kind: domain.JobSingleEmail, Payload: domain.EmailPayload{To: "a@x.com", HTML: "<p>body</p>"}}, nil
}
func (q *fakeQueue) Mode() queue.Mode { return q.mode }

type testEnv struct {
	handler   http.Handler
	domains   *fakeDomains
	campaigns *fakeCampaigns
	queue     *fakeQueue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		domains: &fakeDomains{byID: map[string]*domain.DomainIdentity{
			"d1": {ID: "d1", Domain: "acme.test", Owner: domain.Owner{OrganizationID: "org-1"}, Status: domain.DomainVerified},
			"d2": {ID: "d2", Domain: "other.test", Owner: domain.Owner{UserID: "u9"}, Status: domain.DomainPending},
		}},
		campaigns: &fakeCampaigns{enqueue: queue.EnqueueResult{Outcome: queue.OutcomeQueued, Handle: domain.JobHandle{ID: "j1", Backend: "durable"}}},
		queue:     &fakeQueue{mode: queue.ModeDurable},
	}
	env.handler = SetupRoutes(config.ServerConfig{}, Deps{
		Domains:      env.domains,
		Suppressions: suppression.NewService(memory.NewSuppressionRepo()),
		Campaigns:    env.campaigns,
		Queue:        env.queue,
		Health:       NewHealthChecker(nil, nil, env.queue),
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestDomainRoutesRequireOwner(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/domains", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/domains", nil, headerUserID, "u1", headerOrgID, "org-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateDomain(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/domains", map[string]string{"domain": "new.test"}, headerOrgID, "org-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "new.test", body["domain"])
	assert.Len(t, body["records"], 1)
	assert.Equal(t, domain.Owner{OrganizationID: "org-1"}, env.domains.lastOwner)

	rec = env.do(t, http.MethodPost, "/api/domains", map[string]string{"domain": "bad"}, headerOrgID, "org-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDomainOwnership(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/domains/d2", nil, headerOrgID, "org-1")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/domains/d2/verify", nil, headerOrgID, "org-1")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, env.domains.verified)

	rec = env.do(t, http.MethodPost, "/api/domains/d1/verify", nil, headerOrgID, "org-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"d1"}, env.domains.verified)

	rec = env.do(t, http.MethodGet, "/api/domains/nope", nil, headerOrgID, "org-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrimaryAndDelete(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/domains/d2/primary", nil, headerUserID, "u9")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unverified domain cannot become primary")

	rec = env.do(t, http.MethodPost, "/api/domains/d1/primary", nil, headerOrgID, "org-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["is_primary"])

	rec = env.do(t, http.MethodDelete, "/api/domains/d1", nil, headerOrgID, "org-1")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/domains/d2", nil, headerUserID, "u9")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDomainList(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/domains", nil, headerUserID, "nobody")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(0), body["total"])
	assert.NotNil(t, body["domains"])
}

func TestSuppressionFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/suppressions",
		map[string]string{"email": "B@X.com", "type": "unsubscribe"}, headerOrgID, "org-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "org-1", decode(t, rec)["organization_id"])

	rec = env.do(t, http.MethodGet, "/api/suppressions/check?email=b@x.com", nil, headerOrgID, "org-1")
	assert.Equal(t, true, decode(t, rec)["suppressed"])

	rec = env.do(t, http.MethodGet, "/api/suppressions/check?email=b@x.com", nil, headerOrgID, "org-2")
	assert.Equal(t, false, decode(t, rec)["suppressed"], "org-scoped suppression does not leak")

	rec = env.do(t, http.MethodGet, "/api/suppressions?type=unsubscribe", nil, headerOrgID, "org-1")
	assert.Equal(t, float64(1), decode(t, rec)["total"])

	rec = env.do(t, http.MethodDelete, "/api/suppressions?email=b@x.com&type=unsubscribe", nil, headerOrgID, "org-1")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/suppressions?email=b@x.com&type=unsubscribe", nil, headerOrgID, "org-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/suppressions", map[string]string{"email": "a@x.com", "type": "spam"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/suppressions/check", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCampaignDispatch(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/campaigns/c1/dispatch", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "queued", decode(t, rec)["outcome"])

	rec = env.do(t, http.MethodPost, "/api/campaigns/c1/dispatch?sync=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["queued"])

	env.campaigns.enqueue = queue.EnqueueResult{Outcome: queue.OutcomeFailed, Reason: "broker down"}
	rec = env.do(t, http.MethodPost, "/api/campaigns/c1/dispatch", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	env.campaigns.err = campaign.ErrMissingFooter
	rec = env.do(t, http.MethodPost, "/api/campaigns/c1/dispatch?sync=true", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	env.campaigns.err = campaign.ErrAlreadySent
	rec = env.do(t, http.MethodPost, "/api/campaigns/c1/dispatch", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCampaignSchedule(t *testing.T) {
	env := newTestEnv(t)
	at := time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)

	rec := env.do(t, http.MethodPost, "/api/campaigns/c1/schedule", map[string]time.Time{"scheduled_at": at})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.campaigns.scheduled.Equal(at))

	rec = env.do(t, http.MethodPost, "/api/campaigns/c1/schedule", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/campaigns/c1/schedule", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode(t, rec)["status"])
}

func TestTriggeredEmail(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/emails",
		map[string]string{"automation_id": "a1", "to": "x@y.com", "from": "hi@acme.test", "template_id": "t1"}, headerOrgID, "org-1")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "org-1", env.campaigns.triggered.OrganizationID)
	assert.False(t, env.campaigns.triggered.Override.AllowUnverified)

	rec = env.do(t, http.MethodPost, "/api/emails",
		map[string]string{"automation_id": "a1", "to": "gone@x.com", "from": "hi@acme.test"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["suppressed"])
}

func TestQueueRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/queue/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.queue.paused)

	rec = env.do(t, http.MethodGet, "/api/queue/stats", nil)
	body := decode(t, rec)
	assert.Equal(t, "durable", body["mode"])
	assert.Equal(t, true, body["stats"].(map[string]interface{})["paused"])

	rec = env.do(t, http.MethodPost, "/api/queue/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, env.queue.paused)

	rec = env.do(t, http.MethodGet, "/api/queue/jobs/j1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<p>body</p>")

	rec = env.do(t, http.MethodGet, "/api/queue/jobs/j2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	env.queue.mode = queue.ModeDegraded
	rec = env.do(t, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code, "degraded queue is still ready")
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])

	rec = env.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDetermineOverallStatus(t *testing.T) {
	assert.Equal(t, "unhealthy", determineOverallStatus(map[string]ComponentCheck{
		"database": {Status: "down", Message: "ping failed"},
	}))
	assert.Equal(t, "healthy", determineOverallStatus(map[string]ComponentCheck{
		"database": {Status: "down", Message: "not configured"},
		"queue":    {Status: "up"},
	}))
	assert.Equal(t, "degraded", determineOverallStatus(map[string]ComponentCheck{
		"redis": {Status: "down", Message: "ping failed"},
	}))
}
