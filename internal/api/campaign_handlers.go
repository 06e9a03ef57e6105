package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/httputil"
	"github.com/ignite/mailpipe/internal/queue"
	"github.com/ignite/mailpipe/internal/service/campaign"
)

// CampaignService is the dispatcher as the API sees it.
type CampaignService interface {
	Dispatch(ctx context.Context, id string) (*campaign.DispatchResult, error)
	EnqueueDispatch(ctx context.Context, id string) (queue.EnqueueResult, error)
	Schedule(ctx context.Context, id string, at time.Time) (*domain.Campaign, error)
	Cancel(ctx context.Context, id string) (*domain.Campaign, error)
	SendTriggered(ctx context.Context, in campaign.TriggeredEmail) (*campaign.TriggeredResult, error)
}

type campaignHandlers struct {
	svc CampaignService
}

// dispatch hands the campaign to a worker. ?sync=true runs it in the request
// and returns the per-recipient summary.
func (h *campaignHandlers) dispatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if r.URL.Query().Get("sync") == "true" {
		res, err := h.svc.Dispatch(r.Context(), id)
		if err != nil {
			httputil.FromError(w, err)
			return
		}
		httputil.OK(w, res)
		return
	}
	res, err := h.svc.EnqueueDispatch(r.Context(), id)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	writeEnqueue(w, res)
}

func (h *campaignHandlers) schedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		At time.Time `json:"scheduled_at"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.At.IsZero() {
		httputil.BadRequest(w, "scheduled_at is required")
		return
	}
	c, err := h.svc.Schedule(r.Context(), chi.URLParam(r, "id"), req.At)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *campaignHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, c)
}

// triggered is the automation "send templated email" action.
func (h *campaignHandlers) triggered(w http.ResponseWriter, r *http.Request) {
	var in campaign.TriggeredEmail
	if !httputil.Decode(w, r, &in) {
		return
	}
	if in.OrganizationID == "" {
		in.OrganizationID = orgFrom(r)
	}
	res, err := h.svc.SendTriggered(r.Context(), in)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	if res.Suppressed {
		httputil.OK(w, res)
		return
	}
	httputil.Accepted(w, res)
}

// writeEnqueue reports a failed enqueue as 503 with the reason.
func writeEnqueue(w http.ResponseWriter, res queue.EnqueueResult) {
	if res.Outcome == queue.OutcomeFailed {
		httputil.JSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"outcome": res.Outcome, "error": res.Reason,
		})
		return
	}
	httputil.Accepted(w, res)
}
