package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/httputil"
	"github.com/ignite/mailpipe/internal/queue"
)

// QueueControl is the operator surface of the queue.
type QueueControl interface {
	Stats(ctx context.Context) (domain.QueueStats, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Job(ctx context.Context, id string) (*domain.SendJob, error)
	Mode() queue.Mode
}

type queueHandlers struct {
	q QueueControl
}

func (h *queueHandlers) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.q.Stats(r.Context())
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"mode": h.q.Mode(), "stats": stats})
}

func (h *queueHandlers) pause(w http.ResponseWriter, r *http.Request) {
	if err := h.q.Pause(r.Context()); err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"paused": true})
}

func (h *queueHandlers) resume(w http.ResponseWriter, r *http.Request) {
	if err := h.q.Resume(r.Context()); err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"paused": false})
}

// job returns one job without its rendered body.
func (h *queueHandlers) job(w http.ResponseWriter, r *http.Request) {
	job, err := h.q.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	out := *job
	out.Payload.HTML, out.Payload.Text = "", ""
	httputil.OK(w, out)
}
