package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailpipe/internal/config"
	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/distlock"
	"github.com/ignite/mailpipe/internal/queue"
)

func TestRouterDispatchesByKind(t *testing.T) {
	var single, batch int
	h := NewRouter().
		Handle(domain.JobSingleEmail, func(context.Context, *domain.SendJob) error { single++; return nil }).
		Handle(domain.JobCampaignBatch, func(context.Context, *domain.SendJob) error { batch++; return errors.New("boom") }).
		Handler()

	ctx := context.Background()
	require.NoError(t, h(ctx, &domain.SendJob{Kind: domain.JobSingleEmail}))
	assert.EqualError(t, h(ctx, &domain.SendJob{Kind: domain.JobCampaignBatch, MaxAttempts: 3}), "boom")
	assert.Equal(t, 1, single)
	assert.Equal(t, 1, batch)

	err := h(ctx, &domain.SendJob{Kind: domain.JobScheduledCampaign})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

type fakeQueue struct {
	calls  atomic.Int32
	report queue.MaintenanceReport
	err    error
}

func (f *fakeQueue) Maintain(context.Context) (queue.MaintenanceReport, error) {
	f.calls.Add(1)
	return f.report, f.err
}

type fakeDomains struct {
	limit int
	n     int
	err   error
}

func (f *fakeDomains) ReverifyPending(_ context.Context, limit int) (int, error) {
	f.limit = limit
	return f.n, f.err
}

func maintenanceConfig() config.MaintenanceConfig {
	return config.MaintenanceConfig{QueueSweepSpec: "* * * * * *", DNSRecheckSpec: "0 0 * * * *", LockTTLSeconds: 5}
}

func TestSweeps(t *testing.T) {
	q := &fakeQueue{report: queue.MaintenanceReport{Promoted: 2, Pruned: 1}}
	d := &fakeDomains{n: 3, err: errors.New("dns timeout")}
	m := NewMaintenance(maintenanceConfig(), distlock.NewLocal(), q, d)

	require.NoError(t, m.SweepQueue(context.Background()))
	assert.Equal(t, int32(1), q.calls.Load())

	err := m.RecheckDomains(context.Background())
	assert.ErrorContains(t, err, "dns timeout")
	assert.Equal(t, dnsRecheckBatch, d.limit)

	q.err = errors.New("redis down")
	assert.Error(t, m.SweepQueue(context.Background()))
}

func TestRunLockedSkipsWhenHeld(t *testing.T) {
	locks := distlock.NewLocal()
	m := NewMaintenance(maintenanceConfig(), locks, &fakeQueue{}, nil)

	held := locks.New(queueSweepLock, time.Minute)
	ok, err := held.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	ran := false
	err = m.RunLocked(context.Background(), queueSweepLock, func(context.Context) error { ran = true; return nil })
	assert.NoError(t, err)
	assert.False(t, ran)

	require.NoError(t, held.Release(context.Background()))
	err = m.RunLocked(context.Background(), queueSweepLock, func(context.Context) error { ran = true; return nil })
	assert.NoError(t, err)
	assert.True(t, ran)
}

func TestStartRunsQueueSweep(t *testing.T) {
	q := &fakeQueue{}
	m := NewMaintenance(maintenanceConfig(), distlock.NewLocal(), q, nil)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	assert.Eventually(t, func() bool { return q.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestStartRejectsBadSpec(t *testing.T) {
	cfg := maintenanceConfig()
	cfg.QueueSweepSpec = "every now and then"
	m := NewMaintenance(cfg, distlock.NewLocal(), &fakeQueue{}, nil)
	assert.Error(t, m.Start(context.Background()))
}
