package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailpipe/internal/config"
	"github.com/ignite/mailpipe/internal/domain"
)

// Mode names the implementation behind a Backend or a JobHandle.
type Mode string

const (
	ModeDurable  Mode = "durable"
	ModeDegraded Mode = "degraded"
	ModeInline   Mode = "inline"
)

var (
	// ErrJobActive is returned by Remove when a worker already holds the job.
	ErrJobActive = fmt.Errorf("job is already active: %w", domain.ErrConflict)
	// ErrClosed is returned by a Degraded queue after Close.
	ErrClosed = errors.New("queue closed")
	// ErrAlreadyRunning is returned when a second consumer attaches to a Degraded queue.
	ErrAlreadyRunning = errors.New("queue consumer already running")
)

// Handler processes one job. A nil return completes the job; an error
// schedules a retry until MaxAttempts is reached.
type Handler func(ctx context.Context, job *domain.SendJob) error

// MaintenanceReport summarizes one watchdog + retention pass.
type MaintenanceReport struct {
	Promoted int `json:"promoted"`
	Requeued int `json:"requeued"`
	Stalled  int `json:"stalled"`
	Pruned   int `json:"pruned"`
}

// Backend is implemented by Durable, Degraded and Failover.
type Backend interface {
	Enqueue(ctx context.Context, job *domain.SendJob, opts domain.JobOptions) (domain.JobHandle, error)
	Stats(ctx context.Context) (domain.QueueStats, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	// Remove deletes a waiting or delayed job. It reports false for unknown
	// ids and returns ErrJobActive when the job is running.
	Remove(ctx context.Context, id string) (bool, error)
	Job(ctx context.Context, id string) (*domain.SendJob, error)
	// Run consumes jobs until ctx is cancelled. In-flight jobs finish first.
	Run(ctx context.Context, h Handler) error
	Maintain(ctx context.Context) (MaintenanceReport, error)
	Mode() Mode
}

// Options configures both backends.
type Options struct {
	Prefix             string
	DefaultAttempts    int
	BackoffBase        time.Duration
	CompletedRetention time.Duration
	FailedRetention    time.Duration
	Lease              time.Duration
	MaxStalls          int
	PollInterval       time.Duration
	Concurrency        map[domain.JobKind]int
	AddTimeout         time.Duration
	ProbeTimeout       time.Duration
}

// OptionsFromConfig translates the queue config section.
func OptionsFromConfig(c config.QueueConfig) Options {
	conc := make(map[domain.JobKind]int, len(c.Concurrency))
	for k, n := range c.Concurrency {
		conc[domain.JobKind(k)] = n
	}
	return Options{
		Prefix:             c.Prefix,
		DefaultAttempts:    c.DefaultAttempts,
		BackoffBase:        c.BackoffBase(),
		CompletedRetention: c.CompletedRetention(),
		FailedRetention:    c.FailedRetention(),
		Lease:              c.Lease(),
		MaxStalls:          c.MaxStalls,
		PollInterval:       c.PollInterval(),
		Concurrency:        conc,
		AddTimeout:         c.AddTimeout(),
		ProbeTimeout:       c.ProbeTimeout(),
	}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = "mailpipe"
	}
	if o.DefaultAttempts <= 0 {
		o.DefaultAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.CompletedRetention <= 0 {
		o.CompletedRetention = 24 * time.Hour
	}
	if o.FailedRetention <= 0 {
		o.FailedRetention = 7 * 24 * time.Hour
	}
	if o.Lease <= 0 {
		o.Lease = 30 * time.Second
	}
	if o.MaxStalls <= 0 {
		o.MaxStalls = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.AddTimeout <= 0 {
		o.AddTimeout = 5 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 2 * time.Second
	}
	conc := map[domain.JobKind]int{
		domain.JobSingleEmail:       10,
		domain.JobCampaignBatch:     1,
		domain.JobScheduledCampaign: 1,
	}
	for k, n := range o.Concurrency {
		if n > 0 {
			conc[k] = n
		}
	}
	o.Concurrency = conc
	return o
}

const maxPriority = 99

// prepare validates job and stamps the fields every backend fills the same way.
// Lower Priority values run first.
func prepare(job *domain.SendJob, opts domain.JobOptions, o Options, now time.Time) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.MaxAttempts = opts.Attempts
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = o.DefaultAttempts
	}
	job.Backoff = opts.Backoff
	if job.Backoff.Base <= 0 {
		job.Backoff.Base = o.BackoffBase
	}
	job.Priority = opts.Priority
	if job.Priority < 0 {
		job.Priority = 0
	}
	if job.Priority > maxPriority {
		job.Priority = maxPriority
	}
	job.Attempts = 0
	job.LastError = ""
	job.FinishedAt = nil
	job.CreatedAt = now
	job.NotBefore = now
	job.Status = domain.JobWaiting
	if opts.Delay > 0 {
		job.NotBefore = now.Add(opts.Delay)
		job.Status = domain.JobDelayed
	}
	return nil
}

// noRetry reports errors that will fail the same way on every attempt.
func noRetry(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrCompliance) ||
		errors.Is(err, domain.ErrUnauthorized) ||
		errors.Is(err, domain.ErrNotFound)
}

// safeCall runs h and converts a panic into an error.
func safeCall(ctx context.Context, h Handler, job *domain.SendJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}
