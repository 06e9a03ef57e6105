package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/logger"
)

const sweepLimit = 500

// keyspace lays out every key under one hash tag so the scripts stay on a
// single slot in cluster mode.
type keyspace struct {
	root string
}

func newKeyspace(prefix string) keyspace { return keyspace{root: "{" + prefix + "}"} }

func (k keyspace) jobPrefix() string               { return k.root + ":job:" }
func (k keyspace) job(id string) string             { return k.jobPrefix() + id }
func (k keyspace) waitPrefix() string              { return k.root + ":wait:" }
func (k keyspace) wait(kind domain.JobKind) string { return k.waitPrefix() + string(kind) }
func (k keyspace) delayed() string                 { return k.root + ":delayed" }
func (k keyspace) active() string                  { return k.root + ":active" }
func (k keyspace) completed() string               { return k.root + ":completed" }
func (k keyspace) failed() string                  { return k.root + ":failed" }
func (k keyspace) paused() string                  { return k.root + ":paused" }
func (k keyspace) seq() string                     { return k.root + ":seq" }

// Durable is the Redis-backed Backend.
type Durable struct {
	client *redis.Client
	opts   Options
	keys   keyspace
	now    func() time.Time
	log    *logger.Logger

	enqueueScript  *redis.Script
	fetchScript    *redis.Script
	promoteScript  *redis.Script
	extendScript   *redis.Script
	completeScript *redis.Script
	failScript     *redis.Script
	stalledScript  *redis.Script
	removeScript   *redis.Script
	pruneScript    *redis.Script
}

// NewDurable builds a Durable backend on an already reachable client.
func NewDurable(client *redis.Client, opts Options) *Durable {
	opts = opts.withDefaults()
	return &Durable{
		client:         client,
		opts:           opts,
		keys:           newKeyspace(opts.Prefix),
		now:            time.Now,
		log:            logger.With("component", "queue", "mode", string(ModeDurable)),
		enqueueScript:  redis.NewScript(enqueueLuaScript),
		fetchScript:    redis.NewScript(fetchLuaScript),
		promoteScript:  redis.NewScript(promoteLuaScript),
		extendScript:   redis.NewScript(extendLuaScript),
		completeScript: redis.NewScript(completeLuaScript),
		failScript:     redis.NewScript(failLuaScript),
		stalledScript:  redis.NewScript(stalledLuaScript),
		removeScript:   redis.NewScript(removeLuaScript),
		pruneScript:    redis.NewScript(pruneLuaScript),
	}
}

// Mode implements Backend.
func (d *Durable) Mode() Mode { return ModeDurable }

// Enqueue implements Backend.
func (d *Durable) Enqueue(ctx context.Context, job *domain.SendJob, opts domain.JobOptions) (domain.JobHandle, error) {
	if err := prepare(job, opts, d.opts, d.now()); err != nil {
		return domain.JobHandle{}, err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return domain.JobHandle{}, fmt.Errorf("encode job: %w", err)
	}
	delayed := "0"
	if job.Status == domain.JobDelayed {
		delayed = "1"
	}
	err = d.enqueueScript.Run(ctx, d.client,
		[]string{d.keys.job(job.ID), d.keys.wait(job.Kind), d.keys.delayed(), d.keys.seq()},
		data, string(job.Kind), job.Priority, job.NotBefore.UnixMilli(), delayed, job.ID, job.MaxAttempts,
	).Err()
	if err != nil {
		return domain.JobHandle{}, fmt.Errorf("enqueue %s: %v: %w", job.Kind, err, domain.ErrTransient)
	}
	return domain.JobHandle{ID: job.ID, Backend: string(ModeDurable)}, nil
}

// Stats implements Backend.
func (d *Durable) Stats(ctx context.Context) (domain.QueueStats, error) {
	pipe := d.client.Pipeline()
	waits := make([]*redis.IntCmd, 0, len(domain.JobKinds))
	for _, kind := range domain.JobKinds {
		waits = append(waits, pipe.ZCard(ctx, d.keys.wait(kind)))
	}
	active := pipe.ZCard(ctx, d.keys.active())
	completed := pipe.ZCard(ctx, d.keys.completed())
	failed := pipe.ZCard(ctx, d.keys.failed())
	delayed := pipe.ZCard(ctx, d.keys.delayed())
	paused := pipe.Exists(ctx, d.keys.paused())
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.QueueStats{}, fmt.Errorf("queue stats: %v: %w", err, domain.ErrTransient)
	}

	var stats domain.QueueStats
	for _, w := range waits {
		stats.Waiting += w.Val()
	}
	stats.Active = active.Val()
	stats.Completed = completed.Val()
	stats.Failed = failed.Val()
	stats.Delayed = delayed.Val()
	stats.Paused = paused.Val() == 1
	return stats, nil
}

// Pause stops every worker process from picking up new jobs.
func (d *Durable) Pause(ctx context.Context) error {
	return d.client.Set(ctx, d.keys.paused(), "1", 0).Err()
}

// Resume clears the pause flag.
func (d *Durable) Resume(ctx context.Context) error {
	return d.client.Del(ctx, d.keys.paused()).Err()
}

// Remove implements Backend.
func (d *Durable) Remove(ctx context.Context, id string) (bool, error) {
	n, err := d.removeScript.Run(ctx, d.client,
		[]string{d.keys.job(id), d.keys.active(), d.keys.delayed()},
		id, d.keys.waitPrefix(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("remove job %s: %v: %w", id, err, domain.ErrTransient)
	}
	if n < 0 {
		return false, ErrJobActive
	}
	return n == 1, nil
}

// Job loads a job with its current attempt count and status.
func (d *Durable) Job(ctx context.Context, id string) (*domain.SendJob, error) {
	vals, err := d.client.HMGet(ctx, d.keys.job(id), "data", "attempts", "status", "error", "finished").Result()
	if err != nil {
		return nil, fmt.Errorf("load job %s: %v: %w", id, err, domain.ErrTransient)
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	var job domain.SendJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	if s, ok := vals[1].(string); ok {
		job.Attempts, _ = strconv.Atoi(s)
	}
	if s, ok := vals[2].(string); ok {
		job.Status = domain.JobStatus(s)
	}
	if s, ok := vals[3].(string); ok {
		job.LastError = s
	}
	if s, ok := vals[4].(string); ok {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			t := time.UnixMilli(ms).UTC()
			job.FinishedAt = &t
		}
	}
	return &job, nil
}

// Run starts Concurrency[kind] workers per kind plus a promoter that moves
// due delayed jobs and requeues stalled ones. It blocks until ctx ends and
// every in-flight job has finished.
func (d *Durable) Run(ctx context.Context, h Handler) error {
	var wg sync.WaitGroup
	for _, kind := range domain.JobKinds {
		n := d.opts.Concurrency[kind]
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(kind domain.JobKind) {
				defer wg.Done()
				d.workLoop(ctx, kind, h)
			}(kind)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.promoteLoop(ctx)
	}()

	d.log.Info("queue consumer started", "concurrency", fmt.Sprint(d.opts.Concurrency))
	<-ctx.Done()
	wg.Wait()
	d.log.Info("queue consumer stopped")
	return nil
}

func (d *Durable) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()
	stalledEvery := d.opts.Lease / 2
	lastStalled := d.now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.promote(ctx); err != nil && ctx.Err() == nil {
				d.log.Warn("promote delayed jobs failed", "error", err)
			}
			if d.now().Sub(lastStalled) >= stalledEvery {
				lastStalled = d.now()
				if _, _, err := d.RecoverStalled(ctx); err != nil && ctx.Err() == nil {
					d.log.Warn("stalled check failed", "error", err)
				}
			}
		}
	}
}

func (d *Durable) workLoop(ctx context.Context, kind domain.JobKind, h Handler) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := d.fetch(ctx, kind)
		if err != nil && ctx.Err() == nil {
			d.log.Warn("fetch failed", "kind", kind, "error", err)
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.opts.PollInterval):
			}
			continue
		}
		d.process(ctx, job, h)
	}
}

// fetch moves the head of kind's waiting set into active and loads it.
func (d *Durable) fetch(ctx context.Context, kind domain.JobKind) (*domain.SendJob, error) {
	deadline := d.now().Add(d.opts.Lease).UnixMilli()
	id, err := d.fetchScript.Run(ctx, d.client,
		[]string{d.keys.wait(kind), d.keys.active(), d.keys.paused()},
		deadline, d.keys.jobPrefix(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	job, err := d.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobActive
	return job, nil
}

// process runs h with a lease keeper. The handler context survives shutdown
// so an active job is never interrupted mid-flight.
func (d *Durable) process(ctx context.Context, job *domain.SendJob, h Handler) {
	runCtx := context.WithoutCancel(ctx)
	stop := make(chan struct{})
	go d.keepLease(runCtx, job.ID, stop)

	err := safeCall(runCtx, h, job)
	close(stop)

	if err == nil {
		if _, cerr := d.complete(runCtx, job.ID); cerr != nil {
			d.log.Error("complete job failed", "job_id", job.ID, "error", cerr)
		}
		return
	}
	outcome, ferr := d.fail(runCtx, job, err)
	if ferr != nil {
		d.log.Error("fail job failed", "job_id", job.ID, "error", ferr)
		return
	}
	switch outcome {
	case 1:
		d.log.Warn("job failed, retry scheduled", "job_id", job.ID, "kind", job.Kind,
			"attempt", job.Attempts+1, "max_attempts", job.MaxAttempts, "error", err)
	case 2:
		d.log.Error("job failed permanently", "job_id", job.ID, "kind", job.Kind,
			"attempts", job.Attempts+1, "error", err)
	}
}

func (d *Durable) keepLease(ctx context.Context, id string, stop <-chan struct{}) {
	ticker := time.NewTicker(d.opts.Lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := d.now().Add(d.opts.Lease).UnixMilli()
			ok, err := d.extendScript.Run(ctx, d.client, []string{d.keys.active()}, id, deadline).Int()
			if err != nil {
				d.log.Warn("lease extend failed", "job_id", id, "error", err)
			} else if ok == 0 {
				d.log.Warn("lease lost, job was requeued by the watchdog", "job_id", id)
				return
			}
		}
	}
}

func (d *Durable) complete(ctx context.Context, id string) (bool, error) {
	n, err := d.completeScript.Run(ctx, d.client,
		[]string{d.keys.active(), d.keys.completed(), d.keys.job(id)},
		id, d.now().UnixMilli(),
	).Int()
	return n == 1, err
}

// fail records a failed attempt. Returns 0 lease lost, 1 retry, 2 exhausted.
func (d *Durable) fail(ctx context.Context, job *domain.SendJob, cause error) (int, error) {
	now := d.now()
	retryAt := now.Add(job.Backoff.Delay(job.Attempts + 1)).UnixMilli()
	if noRetry(cause) {
		retryAt = 0
	}
	return d.failScript.Run(ctx, d.client,
		[]string{d.keys.active(), d.keys.failed(), d.keys.delayed(), d.keys.job(job.ID)},
		job.ID, now.UnixMilli(), cause.Error(), retryAt,
	).Int()
}

func (d *Durable) promote(ctx context.Context) (int, error) {
	return d.promoteScript.Run(ctx, d.client,
		[]string{d.keys.delayed(), d.keys.seq()},
		d.now().UnixMilli(), d.keys.jobPrefix(), d.keys.waitPrefix(), sweepLimit,
	).Int()
}

// RecoverStalled requeues jobs whose lease expired. A job that stalls more
// than MaxStalls times is failed instead.
func (d *Durable) RecoverStalled(ctx context.Context) (requeued, failed int, err error) {
	res, err := d.stalledScript.Run(ctx, d.client,
		[]string{d.keys.active(), d.keys.failed(), d.keys.seq()},
		d.now().UnixMilli(), d.keys.jobPrefix(), d.keys.waitPrefix(), d.opts.MaxStalls, sweepLimit,
	).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("stalled check: %w", err)
	}
	if len(res) == 2 {
		requeued, failed = int(res[0]), int(res[1])
	}
	if requeued > 0 || failed > 0 {
		d.log.Warn("stalled jobs recovered", "requeued", requeued, "failed", failed)
	}
	return requeued, failed, nil
}

// Maintain promotes due jobs, recovers stalled ones and prunes finished
// jobs past their retention window.
func (d *Durable) Maintain(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport
	var err error
	if report.Promoted, err = d.promote(ctx); err != nil {
		return report, fmt.Errorf("promote: %w", err)
	}
	if report.Requeued, report.Stalled, err = d.RecoverStalled(ctx); err != nil {
		return report, err
	}
	now := d.now()
	for set, keep := range map[string]time.Duration{
		d.keys.completed(): d.opts.CompletedRetention,
		d.keys.failed():    d.opts.FailedRetention,
	} {
		n, err := d.pruneScript.Run(ctx, d.client, []string{set},
			now.Add(-keep).UnixMilli(), d.keys.jobPrefix(), sweepLimit,
		).Int()
		if err != nil {
			return report, fmt.Errorf("prune %s: %w", set, err)
		}
		report.Pruned += n
	}
	return report, nil
}
