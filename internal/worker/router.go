package worker

import (
	"context"
	"fmt"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/logger"
	"github.com/ignite/mailpipe/internal/queue"
)

// Router fans queue jobs out to a handler per job kind.
type Router struct {
	handlers map[domain.JobKind]queue.Handler
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[domain.JobKind]queue.Handler)}
}

// Handle registers h for kind, replacing any previous handler.
func (r *Router) Handle(kind domain.JobKind, h queue.Handler) *Router {
	r.handlers[kind] = h
	return r
}

// Handler returns the queue.Handler that dispatches by kind. Unknown kinds
// fail with a validation error so the queue does not retry them.
func (r *Router) Handler() queue.Handler {
	return func(ctx context.Context, job *domain.SendJob) error {
		h, ok := r.handlers[job.Kind]
		if !ok {
			return fmt.Errorf("%w: no handler for job kind %q", domain.ErrValidation, job.Kind)
		}
		log := logger.With("job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts+1)
		log.Debug("job started")
		if err := h(ctx, job); err != nil {
			log.Warn("job failed", "error", err, "final", job.FinalAttempt())
			return err
		}
		log.Debug("job done")
		return nil
	}
}
