package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/httputil"
	"github.com/ignite/mailpipe/internal/pkg/logger"
)

const (
	headerUserID = "X-User-ID"
	headerOrgID  = "X-Organization-ID"
)

type ownerKey struct{}

// requireOwner resolves the calling principal from the identity headers set
// by the upstream auth proxy. Exactly one header must be present.
func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := domain.Owner{
			UserID:         r.Header.Get(headerUserID),
			OrganizationID: r.Header.Get(headerOrgID),
		}
		if owner.UserID == "" && owner.OrganizationID == "" {
			httputil.Error(w, http.StatusUnauthorized, "missing "+headerUserID+" or "+headerOrgID)
			return
		}
		if err := owner.Validate(); err != nil {
			httputil.FromError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

func ownerFrom(ctx context.Context) domain.Owner {
	o, _ := ctx.Value(ownerKey{}).(domain.Owner)
	return o
}

// orgFrom returns the organization scope of a request, "" when unscoped.
func orgFrom(r *http.Request) string {
	return r.Header.Get(headerOrgID)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("http request",
			"method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"took", time.Since(start), "request_id", middleware.GetReqID(r.Context()))
	})
}
