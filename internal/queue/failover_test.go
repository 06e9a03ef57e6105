package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailpipe/internal/domain"
)

// brokenBackend fails or hangs on Enqueue.
type brokenBackend struct {
	err   error
	hang  time.Duration
	calls int32
}

func (b *brokenBackend) Enqueue(ctx context.Context, job *domain.SendJob, _ domain.JobOptions) (domain.JobHandle, error) {
	atomic.AddInt32(&b.calls, 1)
	if b.hang > 0 {
		select {
		case <-time.After(b.hang):
		case <-ctx.Done():
			return domain.JobHandle{}, ctx.Err()
		}
	}
	if b.err != nil {
		return domain.JobHandle{}, b.err
	}
	return domain.JobHandle{ID: "primary-1", Backend: string(ModeDurable)}, nil
}

func (b *brokenBackend) Stats(context.Context) (domain.QueueStats, error) {
	return domain.QueueStats{Waiting: 7}, nil
}
func (b *brokenBackend) Pause(context.Context) error                { return nil }
func (b *brokenBackend) Resume(context.Context) error               { return nil }
func (b *brokenBackend) Remove(context.Context, string) (bool, error) { return false, nil }
func (b *brokenBackend) Job(_ context.Context, id string) (*domain.SendJob, error) {
	return nil, domain.ErrNotFound
}
func (b *brokenBackend) Run(ctx context.Context, _ Handler) error {
	<-ctx.Done()
	return nil
}
func (b *brokenBackend) Maintain(context.Context) (MaintenanceReport, error) {
	return MaintenanceReport{}, nil
}
func (b *brokenBackend) Mode() Mode { return ModeDurable }

type inlineRecorder struct {
	calls int32
	err   error
	jobs  chan domain.SendJob
}

func newInlineRecorder() *inlineRecorder {
	return &inlineRecorder{jobs: make(chan domain.SendJob, 10)}
}

func (r *inlineRecorder) handle(ctx context.Context, job *domain.SendJob) error {
	atomic.AddInt32(&r.calls, 1)
	r.jobs <- *job
	return r.err
}

func TestFailoverQueuedOnHealthyPrimary(t *testing.T) {
	primary := &brokenBackend{}
	inline := newInlineRecorder()
	f := NewFailover(primary, nil, inline.handle, fastOptions())

	res, err := f.Submit(context.Background(), emailJob("a@x.com"), domain.JobOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.Equal(t, "primary-1", res.Handle.ID)
	assert.Equal(t, int32(0), atomic.LoadInt32(&inline.calls))
}

func TestFailoverSendsInlineOnBrokerError(t *testing.T) {
	primary := &brokenBackend{err: errors.New("connection refused")}
	inline := newInlineRecorder()
	f := NewFailover(primary, nil, inline.handle, fastOptions())

	res, err := f.Submit(context.Background(), emailJob("a@x.com"), domain.JobOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSentInline, res.Outcome)
	assert.True(t, strings.HasPrefix(res.Handle.ID, "inline-"))
	assert.Equal(t, "inline", res.Handle.Backend)
	assert.Contains(t, res.Reason, "connection refused")

	sent := <-inline.jobs
	assert.Equal(t, "a@x.com", sent.Payload.To)
	assert.Equal(t, res.Handle.ID, sent.ID)
}

func TestFailoverSendsInlineOnTimeout(t *testing.T) {
	primary := &brokenBackend{hang: time.Second}
	inline := newInlineRecorder()
	f := NewFailover(primary, nil, inline.handle, fastOptions())

	start := time.Now()
	res, err := f.Submit(context.Background(), emailJob("a@x.com"), domain.JobOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSentInline, res.Outcome)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Contains(t, res.Reason, "timed out")
}

func TestFailoverCampaignJobGoesToDegradedFallback(t *testing.T) {
	primary := &brokenBackend{err: errors.New("READONLY")}
	fallback := newTestDegraded(t, nil)
	inline := newInlineRecorder()
	f := NewFailover(primary, fallback, inline.handle, fastOptions())

	res, err := f.Submit(context.Background(), campaignJob("cmp-1"), domain.JobOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.Equal(t, "degraded", res.Handle.Backend)
	assert.Equal(t, int32(0), atomic.LoadInt32(&inline.calls))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var ran int32
	go f.DrainFallback(ctx, func(ctx context.Context, job *domain.SendJob) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&ran) == 1 }, time.Second, 5*time.Millisecond)
}

func TestFailoverInlineFailureFallsBackToDegraded(t *testing.T) {
	primary := &brokenBackend{err: errors.New("down")}
	fallback := newTestDegraded(t, nil)
	inline := newInlineRecorder()
	inline.err = errors.New("provider 500")
	f := NewFailover(primary, fallback, inline.handle, fastOptions())

	res, err := f.Submit(context.Background(), emailJob("a@x.com"), domain.JobOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.Equal(t, "degraded", res.Handle.Backend)
	assert.Contains(t, res.Reason, "provider 500")
}

func TestFailoverInlineAttemptCountsAgainstBudget(t *testing.T) {
	primary := &brokenBackend{err: errors.New("down")}
	fallback := newTestDegraded(t, nil)
	inline := newInlineRecorder()
	inline.err = errors.New("provider 500")
	f := NewFailover(primary, fallback, inline.handle, fastOptions())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := f.Submit(ctx, emailJob("a@x.com"), domain.JobOptions{Attempts: 3})
	require.NoError(t, err)
	require.Equal(t, OutcomeQueued, res.Outcome)
	queued, err := fallback.Job(ctx, res.Handle.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, queued.MaxAttempts, "one of three attempts was spent inline")

	var sent int32
	go fallback.Run(ctx, func(context.Context, *domain.SendJob) error {
		atomic.AddInt32(&sent, 1)
		return errors.New("provider 500")
	})
	assert.Eventually(t, func() bool {
		j, err := fallback.Job(ctx, res.Handle.ID)
		return err == nil && j.Status == domain.JobFailed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&sent)+atomic.LoadInt32(&inline.calls))
}

func TestFailoverInlineFailureWithNoAttemptsLeft(t *testing.T) {
	primary := &brokenBackend{err: errors.New("down")}
	fallback := newTestDegraded(t, nil)
	inline := newInlineRecorder()
	inline.err = errors.New("provider 500")
	f := NewFailover(primary, fallback, inline.handle, fastOptions())

	res, err := f.Submit(context.Background(), emailJob("a@x.com"), domain.JobOptions{Attempts: 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	inline.err = fmt.Errorf("%w: rejected recipient", domain.ErrValidation)
	res, err = f.Submit(context.Background(), emailJob("b@x.com"), domain.JobOptions{Attempts: 3})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome, "permanent inline failure is not retried")

	stats, err := fallback.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Waiting)
}

func TestFailoverDelayedEmailIsNotSentInline(t *testing.T) {
	primary := &brokenBackend{err: errors.New("down")}
	fallback := newTestDegraded(t, nil)
	inline := newInlineRecorder()
	f := NewFailover(primary, fallback, inline.handle, fastOptions())

	res, err := f.Submit(context.Background(), emailJob("a@x.com"), domain.JobOptions{Delay: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.Equal(t, int32(0), atomic.LoadInt32(&inline.calls))
}

func TestFailoverReportsFailureWithoutError(t *testing.T) {
	primary := &brokenBackend{err: errors.New("down")}
	f := NewFailover(primary, nil, nil, fastOptions())

	res, err := f.Submit(context.Background(), campaignJob("cmp-1"), domain.JobOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Error(t, res.Err)

	_, err = f.Enqueue(context.Background(), campaignJob("cmp-1"), domain.JobOptions{})
	assert.Error(t, err)
}

func TestFailoverValidationErrorReturned(t *testing.T) {
	primary := &brokenBackend{}
	f := NewFailover(primary, nil, nil, fastOptions())

	_, err := f.Submit(context.Background(), &domain.SendJob{Kind: "fax"}, domain.JobOptions{})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, int32(0), atomic.LoadInt32(&primary.calls))
}

func TestFailoverStatsIncludeFallback(t *testing.T) {
	primary := &brokenBackend{err: errors.New("down")}
	fallback := newTestDegraded(t, nil)
	f := NewFailover(primary, fallback, nil, fastOptions())

	_, err := f.Submit(context.Background(), campaignJob("cmp-1"), domain.JobOptions{})
	require.NoError(t, err)
	stats, err := f.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(8), stats.Waiting)
}
