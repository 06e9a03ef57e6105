package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/httputil"
	"github.com/ignite/mailpipe/internal/service/suppression"
)

// SuppressionService is the suppression filter as the API sees it.
type SuppressionService interface {
	Add(ctx context.Context, ev domain.SuppressionEvent) (*domain.SuppressionRecord, error)
	Remove(ctx context.Context, orgID, email string, typ domain.SuppressionType) error
	IsSuppressed(ctx context.Context, orgID, email string) (bool, error)
	List(ctx context.Context, orgID string, filter suppression.ListFilter) ([]domain.SuppressionRecord, int, error)
	GetStats(ctx context.Context, orgID string) (*suppression.Stats, error)
}

type suppressionHandlers struct {
	svc SuppressionService
}

// add records a suppression event. An organization in the body wins over the
// header; neither means a global suppression.
func (h *suppressionHandlers) add(w http.ResponseWriter, r *http.Request) {
	var ev domain.SuppressionEvent
	if !httputil.Decode(w, r, &ev) {
		return
	}
	if ev.OrganizationID == "" {
		ev.OrganizationID = orgFrom(r)
	}
	rec, err := h.svc.Add(r.Context(), ev)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.Created(w, rec)
}

func (h *suppressionHandlers) remove(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	err := h.svc.Remove(r.Context(), orgFrom(r), q.Get("email"), domain.SuppressionType(q.Get("type")))
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.NoContent(w)
}

func (h *suppressionHandlers) check(w http.ResponseWriter, r *http.Request) {
	email := domain.NormalizeEmail(r.URL.Query().Get("email"))
	if email == "" {
		httputil.BadRequest(w, "email is required")
		return
	}
	suppressed, err := h.svc.IsSuppressed(r.Context(), orgFrom(r), email)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"email": email, "suppressed": suppressed})
}

func (h *suppressionHandlers) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := suppression.ListFilter{
		Type:   q.Get("type"),
		Source: q.Get("source"),
		Search: q.Get("search"),
		Limit:  50,
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= 1000 {
		f.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v >= 0 {
		f.Offset = v
	}
	records, total, err := h.svc.List(r.Context(), orgFrom(r), f)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	if records == nil {
		records = []domain.SuppressionRecord{}
	}
	httputil.OK(w, map[string]interface{}{"suppressions": records, "total": total, "limit": f.Limit, "offset": f.Offset})
}

func (h *suppressionHandlers) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetStats(r.Context(), orgFrom(r))
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, stats)
}
