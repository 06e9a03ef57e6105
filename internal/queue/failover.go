package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/logger"
)

// Outcome says what happened to a submitted job.
type Outcome string

const (
	OutcomeQueued     Outcome = "queued"
	OutcomeSentInline Outcome = "sent_inline"
	OutcomeFailed     Outcome = "failed"
)

// EnqueueResult is returned by Submit. Err is set only when Outcome is
// OutcomeFailed.
type EnqueueResult struct {
	Outcome Outcome          `json:"outcome"`
	Handle  domain.JobHandle `json:"handle"`
	Reason  string           `json:"reason,omitempty"`
	Err     error            `json:"-"`
}

// Submitter is what producers depend on.
type Submitter interface {
	Submit(ctx context.Context, job *domain.SendJob, opts domain.JobOptions) (EnqueueResult, error)
}

// Failover races every add against a timeout. When the primary backend is
// slow or failing, single emails are delivered inline through the inline
// handler and everything else goes to an in-process Degraded queue.
//
// An add that times out may still land in the broker later. The delivery
// log's idempotency key absorbs the resulting duplicate.
type Failover struct {
	primary  Backend
	fallback *Degraded
	inline   Handler
	opts     Options
	log      *logger.Logger
}

// NewFailover wraps primary. fallback and inline are optional; when primary
// is itself a Degraded queue, fallback should be nil.
func NewFailover(primary Backend, fallback *Degraded, inline Handler, opts Options) *Failover {
	return &Failover{
		primary:  primary,
		fallback: fallback,
		inline:   inline,
		opts:     opts.withDefaults(),
		log:      logger.With("component", "queue_failover"),
	}
}

// Mode reports the primary backend's mode.
func (f *Failover) Mode() Mode { return f.primary.Mode() }

// Submit never returns a broker error. The only error it returns is a
// validation failure of the job itself.
func (f *Failover) Submit(ctx context.Context, job *domain.SendJob, opts domain.JobOptions) (EnqueueResult, error) {
	if err := job.Validate(); err != nil {
		return EnqueueResult{Outcome: OutcomeFailed, Reason: err.Error(), Err: err}, err
	}

	attempt := *job
	type addResult struct {
		handle domain.JobHandle
		err    error
	}
	ch := make(chan addResult, 1)
	addCtx, cancel := context.WithTimeout(ctx, f.opts.AddTimeout)
	defer cancel()
	go func() {
		h, err := f.primary.Enqueue(addCtx, &attempt, opts)
		ch <- addResult{h, err}
	}()

	timer := time.NewTimer(f.opts.AddTimeout)
	defer timer.Stop()

	var cause error
	select {
	case r := <-ch:
		if r.err == nil {
			job.ID = r.handle.ID
			return EnqueueResult{Outcome: OutcomeQueued, Handle: r.handle}, nil
		}
		if errors.Is(r.err, domain.ErrValidation) {
			return EnqueueResult{Outcome: OutcomeFailed, Reason: r.err.Error(), Err: r.err}, r.err
		}
		cause = r.err
	case <-timer.C:
		cause = fmt.Errorf("queue add timed out after %s", f.opts.AddTimeout)
	}

	f.log.Warn("queue add failed, using fallback", "kind", job.Kind, "mode", f.primary.Mode(), "error", cause)
	return f.fallbackFor(ctx, job, opts, cause), nil
}

func (f *Failover) fallbackFor(ctx context.Context, job *domain.SendJob, opts domain.JobOptions, cause error) EnqueueResult {
	if job.Kind == domain.JobSingleEmail && f.inline != nil && opts.Delay <= 0 {
		inline := *job
		inline.ID = "inline-" + uuid.NewString()
		inline.Status = domain.JobActive
		inline.Attempts = 0
		inline.MaxAttempts = opts.Attempts
		if inline.MaxAttempts <= 0 {
			inline.MaxAttempts = f.opts.DefaultAttempts
		}
		inline.CreatedAt = time.Now()
		err := safeCall(ctx, f.inline, &inline)
		if err == nil {
			job.ID = inline.ID
			return EnqueueResult{
				Outcome: OutcomeSentInline,
				Handle:  domain.JobHandle{ID: inline.ID, Backend: string(ModeInline)},
				Reason:  cause.Error(),
			}
		}
		f.log.Warn("inline send failed", "error", err)
		cause = fmt.Errorf("%v; inline send: %w", cause, err)

		// The inline call used one attempt of the job's budget.
		remaining := inline.MaxAttempts - 1
		if remaining <= 0 || noRetry(err) {
			f.log.Error("job could not be queued or sent", "kind", job.Kind, "error", cause)
			return EnqueueResult{Outcome: OutcomeFailed, Reason: cause.Error(), Err: cause}
		}
		opts.Attempts = remaining
	}

	if f.fallback != nil {
		copied := *job
		h, err := f.fallback.Enqueue(ctx, &copied, opts)
		if err == nil {
			job.ID = h.ID
			return EnqueueResult{Outcome: OutcomeQueued, Handle: h, Reason: cause.Error()}
		}
		cause = fmt.Errorf("%v; degraded enqueue: %w", cause, err)
	}

	f.log.Error("job could not be queued or sent", "kind", job.Kind, "error", cause)
	return EnqueueResult{Outcome: OutcomeFailed, Reason: cause.Error(), Err: cause}
}

// Enqueue satisfies Backend. OutcomeFailed surfaces as an error.
func (f *Failover) Enqueue(ctx context.Context, job *domain.SendJob, opts domain.JobOptions) (domain.JobHandle, error) {
	res, err := f.Submit(ctx, job, opts)
	if err != nil {
		return domain.JobHandle{}, err
	}
	if res.Outcome == OutcomeFailed {
		return res.Handle, res.Err
	}
	return res.Handle, nil
}

// Stats adds the fallback queue's counts to the primary's.
func (f *Failover) Stats(ctx context.Context) (domain.QueueStats, error) {
	stats, err := f.primary.Stats(ctx)
	if err != nil {
		return stats, err
	}
	if f.fallback != nil {
		fs, err := f.fallback.Stats(ctx)
		if err == nil {
			stats.Waiting += fs.Waiting
			stats.Active += fs.Active
			stats.Completed += fs.Completed
			stats.Failed += fs.Failed
			stats.Delayed += fs.Delayed
		}
	}
	return stats, nil
}

// Pause implements Backend.
func (f *Failover) Pause(ctx context.Context) error {
	if f.fallback != nil {
		if err := f.fallback.Pause(ctx); err != nil {
			return err
		}
	}
	return f.primary.Pause(ctx)
}

// Resume implements Backend.
func (f *Failover) Resume(ctx context.Context) error {
	if f.fallback != nil {
		if err := f.fallback.Resume(ctx); err != nil {
			return err
		}
	}
	return f.primary.Resume(ctx)
}

// Remove tries the primary first, then the fallback queue.
func (f *Failover) Remove(ctx context.Context, id string) (bool, error) {
	ok, err := f.primary.Remove(ctx, id)
	if ok || errors.Is(err, ErrJobActive) || f.fallback == nil {
		return ok, err
	}
	fok, ferr := f.fallback.Remove(ctx, id)
	if fok || ferr != nil {
		return fok, ferr
	}
	return false, err
}

// Job looks in the primary, then the fallback queue.
func (f *Failover) Job(ctx context.Context, id string) (*domain.SendJob, error) {
	job, err := f.primary.Job(ctx, id)
	if err == nil || f.fallback == nil {
		return job, err
	}
	return f.fallback.Job(ctx, id)
}

// Run consumes the primary and the fallback queue together.
func (f *Failover) Run(ctx context.Context, h Handler) error {
	if f.fallback == nil {
		return f.primary.Run(ctx, h)
	}
	var wg sync.WaitGroup
	var primaryErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		primaryErr = f.primary.Run(ctx, h)
	}()
	go func() {
		defer wg.Done()
		_ = f.fallback.Run(ctx, h)
	}()
	wg.Wait()
	return primaryErr
}

// DrainFallback consumes only the in-process fallback queue. Producer-only
// processes run it so nothing handed to the fallback is stranded.
func (f *Failover) DrainFallback(ctx context.Context, h Handler) error {
	if f.fallback != nil {
		return f.fallback.Run(ctx, h)
	}
	if f.primary.Mode() == ModeDegraded {
		return f.primary.Run(ctx, h)
	}
	<-ctx.Done()
	return nil
}

// Maintain implements Backend.
func (f *Failover) Maintain(ctx context.Context) (MaintenanceReport, error) {
	report, err := f.primary.Maintain(ctx)
	if err != nil {
		return report, err
	}
	if f.fallback != nil {
		fr, err := f.fallback.Maintain(ctx)
		if err == nil {
			report.Pruned += fr.Pruned
		}
	}
	return report, nil
}
