package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/httputil"
)

// DomainService is the domain authority as the API sees it.
type DomainService interface {
	CreateDomain(ctx context.Context, name string, owner domain.Owner) (*domain.DomainIdentity, error)
	RegenerateDKIM(ctx context.Context, id string, owner domain.Owner) (*domain.DomainIdentity, error)
	VerifyDNS(ctx context.Context, id string) (*domain.DomainIdentity, error)
	SetPrimary(ctx context.Context, id string, owner domain.Owner) (*domain.DomainIdentity, error)
	DeleteDomain(ctx context.Context, id string, owner domain.Owner) error
	Get(ctx context.Context, id string, owner domain.Owner) (*domain.DomainIdentity, error)
	List(ctx context.Context, owner domain.Owner) ([]domain.DomainIdentity, error)
	Records(d *domain.DomainIdentity) []domain.DNSRecord
}

type domainHandlers struct {
	svc DomainService
}

// domainResponse carries the identity and the records to publish.
type domainResponse struct {
	*domain.DomainIdentity
	Records []domain.DNSRecord `json:"records"`
}

func (h *domainHandlers) respond(w http.ResponseWriter, status int, d *domain.DomainIdentity) {
	httputil.JSON(w, status, domainResponse{DomainIdentity: d, Records: h.svc.Records(d)})
}

func (h *domainHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Domain string `json:"domain"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	d, err := h.svc.CreateDomain(r.Context(), req.Domain, ownerFrom(r.Context()))
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	h.respond(w, http.StatusCreated, d)
}

func (h *domainHandlers) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	if list == nil {
		list = []domain.DomainIdentity{}
	}
	httputil.OK(w, map[string]interface{}{"domains": list, "total": len(list)})
}

func (h *domainHandlers) get(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"), ownerFrom(r.Context()))
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	h.respond(w, http.StatusOK, d)
}

func (h *domainHandlers) records(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"), ownerFrom(r.Context()))
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"records": h.svc.Records(d)})
}

func (h *domainHandlers) regenerate(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.RegenerateDKIM(r.Context(), chi.URLParam(r, "id"), ownerFrom(r.Context()))
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	h.respond(w, http.StatusOK, d)
}

// verify checks ownership first; VerifyDNS itself is owner-agnostic so the
// maintenance sweep can call it.
func (h *domainHandlers) verify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.svc.Get(r.Context(), id, ownerFrom(r.Context())); err != nil {
		httputil.FromError(w, err)
		return
	}
	d, err := h.svc.VerifyDNS(r.Context(), id)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	h.respond(w, http.StatusOK, d)
}

func (h *domainHandlers) setPrimary(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.SetPrimary(r.Context(), chi.URLParam(r, "id"), ownerFrom(r.Context()))
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	h.respond(w, http.StatusOK, d)
}

func (h *domainHandlers) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteDomain(r.Context(), chi.URLParam(r, "id"), ownerFrom(r.Context())); err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.NoContent(w)
}
