package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/logger"
)

// Degraded is the in-process Backend. One owner goroutine holds the job list;
// every other goroutine talks to it through commands, so the list is never
// touched from outside that loop. Jobs run one at a time.
type Degraded struct {
	opts Options
	now  func() time.Time
	log  *logger.Logger

	cmds      chan func(*degradedState)
	done      chan struct{}
	closeOnce sync.Once
}

type degradedEntry struct {
	job domain.SendJob
	seq uint64
}

type degradedState struct {
	entries []*degradedEntry
	seq     uint64
	paused  bool

	handler Handler
	runCtx  context.Context
	running *degradedEntry
	drained chan struct{}
}

type jobResult struct {
	entry *degradedEntry
	err   error
}

// NewDegraded starts the owner goroutine. Call Close to stop it.
func NewDegraded(opts Options) *Degraded {
	return newDegraded(opts, time.Now)
}

func newDegraded(opts Options, now func() time.Time) *Degraded {
	d := &Degraded{
		opts: opts.withDefaults(),
		now:  now,
		log:  logger.With("component", "queue", "mode", string(ModeDegraded)),
		cmds: make(chan func(*degradedState)),
		done: make(chan struct{}),
	}
	go d.loop()
	return d
}

// Close stops the owner goroutine. Jobs still queued are lost.
func (d *Degraded) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}

// Mode implements Backend.
func (d *Degraded) Mode() Mode { return ModeDegraded }

func (d *Degraded) loop() {
	st := &degradedState{}
	results := make(chan jobResult, 1)
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case cmd := <-d.cmds:
			cmd(st)
		case r := <-results:
			d.finish(st, r)
		case <-ticker.C:
			d.prune(st)
		}
		if st.running == nil && st.handler != nil && !st.paused {
			if e := d.next(st); e != nil {
				d.start(st, e, results)
			}
		}
	}
}

// do runs fn on the owner goroutine and waits for it.
func (d *Degraded) do(ctx context.Context, fn func(*degradedState)) error {
	finished := make(chan struct{})
	cmd := func(st *degradedState) {
		fn(st)
		close(finished)
	}
	select {
	case d.cmds <- cmd:
	case <-d.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-d.done:
		return ErrClosed
	}
}

func (d *Degraded) next(st *degradedState) *degradedEntry {
	now := d.now()
	var best *degradedEntry
	for _, e := range st.entries {
		if e.job.Status != domain.JobWaiting && e.job.Status != domain.JobDelayed {
			continue
		}
		if e.job.NotBefore.After(now) {
			continue
		}
		if best == nil ||
			e.job.Priority < best.job.Priority ||
			(e.job.Priority == best.job.Priority && e.seq < best.seq) {
			best = e
		}
	}
	return best
}

func (d *Degraded) start(st *degradedState, e *degradedEntry, results chan<- jobResult) {
	e.job.Status = domain.JobActive
	st.running = e
	job := e.job
	h, ctx := st.handler, st.runCtx
	go func() {
		results <- jobResult{entry: e, err: safeCall(ctx, h, &job)}
	}()
}

func (d *Degraded) finish(st *degradedState, r jobResult) {
	e := r.entry
	now := d.now()
	e.job.Attempts++
	st.running = nil

	switch {
	case r.err == nil:
		e.job.Status = domain.JobCompleted
		e.job.FinishedAt = &now
	case noRetry(r.err) || e.job.Attempts >= e.job.MaxAttempts:
		e.job.Status = domain.JobFailed
		e.job.LastError = r.err.Error()
		e.job.FinishedAt = &now
		d.log.Error("job failed permanently", "job_id", e.job.ID, "kind", e.job.Kind,
			"attempts", e.job.Attempts, "error", r.err)
	default:
		e.job.Status = domain.JobDelayed
		e.job.LastError = r.err.Error()
		e.job.NotBefore = now.Add(e.job.Backoff.Delay(e.job.Attempts))
		d.log.Warn("job failed, retry scheduled", "job_id", e.job.ID, "kind", e.job.Kind,
			"attempt", e.job.Attempts, "max_attempts", e.job.MaxAttempts, "error", r.err)
	}

	if st.drained != nil && st.handler == nil {
		close(st.drained)
		st.drained = nil
	}
}

// prune drops finished jobs past their retention window.
func (d *Degraded) prune(st *degradedState) int {
	now := d.now()
	kept := st.entries[:0]
	pruned := 0
	for _, e := range st.entries {
		if e.job.FinishedAt != nil {
			keep := d.opts.CompletedRetention
			if e.job.Status == domain.JobFailed {
				keep = d.opts.FailedRetention
			}
			if now.Sub(*e.job.FinishedAt) > keep {
				pruned++
				continue
			}
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(st.entries); i++ {
		st.entries[i] = nil
	}
	st.entries = kept
	return pruned
}

// Enqueue implements Backend.
func (d *Degraded) Enqueue(ctx context.Context, job *domain.SendJob, opts domain.JobOptions) (domain.JobHandle, error) {
	if err := prepare(job, opts, d.opts, d.now()); err != nil {
		return domain.JobHandle{}, err
	}
	copied := *job
	err := d.do(ctx, func(st *degradedState) {
		st.seq++
		st.entries = append(st.entries, &degradedEntry{job: copied, seq: st.seq})
	})
	if err != nil {
		return domain.JobHandle{}, fmt.Errorf("degraded enqueue: %w", err)
	}
	return domain.JobHandle{ID: job.ID, Backend: string(ModeDegraded)}, nil
}

// Stats implements Backend.
func (d *Degraded) Stats(ctx context.Context) (domain.QueueStats, error) {
	var stats domain.QueueStats
	err := d.do(ctx, func(st *degradedState) {
		stats.Paused = st.paused
		now := d.now()
		for _, e := range st.entries {
			switch e.job.Status {
			case domain.JobWaiting:
				stats.Waiting++
			case domain.JobDelayed:
				if e.job.NotBefore.After(now) {
					stats.Delayed++
				} else {
					stats.Waiting++
				}
			case domain.JobActive:
				stats.Active++
			case domain.JobCompleted:
				stats.Completed++
			case domain.JobFailed:
				stats.Failed++
			}
		}
	})
	return stats, err
}

// Pause implements Backend. The running job, if any, is not interrupted.
func (d *Degraded) Pause(ctx context.Context) error {
	return d.do(ctx, func(st *degradedState) { st.paused = true })
}

// Resume implements Backend.
func (d *Degraded) Resume(ctx context.Context) error {
	return d.do(ctx, func(st *degradedState) { st.paused = false })
}

// Remove implements Backend.
func (d *Degraded) Remove(ctx context.Context, id string) (bool, error) {
	var removed bool
	var active bool
	err := d.do(ctx, func(st *degradedState) {
		for i, e := range st.entries {
			if e.job.ID != id {
				continue
			}
			switch e.job.Status {
			case domain.JobActive:
				active = true
			case domain.JobWaiting, domain.JobDelayed:
				st.entries = append(st.entries[:i], st.entries[i+1:]...)
				removed = true
			}
			return
		}
	})
	if err != nil {
		return false, err
	}
	if active {
		return false, ErrJobActive
	}
	return removed, nil
}

// Job implements Backend.
func (d *Degraded) Job(ctx context.Context, id string) (*domain.SendJob, error) {
	var found *domain.SendJob
	err := d.do(ctx, func(st *degradedState) {
		for _, e := range st.entries {
			if e.job.ID == id {
				j := e.job
				found = &j
				return
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return found, nil
}

// Run attaches h as the drain handler and blocks until ctx ends and the
// running job, if any, has finished.
func (d *Degraded) Run(ctx context.Context, h Handler) error {
	var attachErr error
	err := d.do(ctx, func(st *degradedState) {
		if st.handler != nil {
			attachErr = ErrAlreadyRunning
			return
		}
		st.handler = h
		st.runCtx = context.WithoutCancel(ctx)
	})
	if err != nil {
		return err
	}
	if attachErr != nil {
		return attachErr
	}
	d.log.Info("in-process drain loop started")

	<-ctx.Done()
	wait := make(chan struct{})
	err = d.do(context.Background(), func(st *degradedState) {
		st.handler = nil
		if st.running == nil {
			close(wait)
			return
		}
		st.drained = wait
	})
	if err != nil {
		return nil
	}
	select {
	case <-wait:
	case <-d.done:
	}
	d.log.Info("in-process drain loop stopped")
	return nil
}

// Maintain implements Backend. Nothing stalls in process, so it only prunes.
func (d *Degraded) Maintain(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport
	err := d.do(ctx, func(st *degradedState) { report.Pruned = d.prune(st) })
	return report, err
}
