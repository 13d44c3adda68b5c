package server

import (
	"net/http"
	"time"

	"github.com/jacksonlee411/opsdesk/internal/routing"
	"go.uber.org/zap"
)

func withTenancy(classifier *routing.Classifier, tenants TenancyResolver, trustProxy bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		rc := classifier.Classify(path)
		if rc == routing.RouteClassOps {
			next.ServeHTTP(w, r)
			return
		}

		t, ok, err := tenants.ResolveTenant(r.Context(), effectiveHost(r, trustProxy))
		if err != nil {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "tenant_resolve_error", "tenant resolve error")
			return
		}
		if !ok {
			routing.WriteError(w, r, rc, http.StatusNotFound, "tenant_not_found", "tenant not found")
			return
		}
		reportTenant(r.Context(), t.ID)
		next.ServeHTTP(w, r.WithContext(withTenant(r.Context(), t)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// withRequestLog logs one line per request once the inner handler returns,
// so the tenant recorded is whatever withTenancy resolved.
func withRequestLog(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		var tenantID string
		next.ServeHTTP(rec, r.WithContext(withTenantSink(r.Context(), &tenantID)))

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.String("tenant", tenantID),
			zap.Duration("duration", time.Since(start)),
		}
		if traceID := routing.TraceIDFromRequest(r); traceID != "" {
			fields = append(fields, zap.String("trace_id", traceID))
		}
		if status >= http.StatusInternalServerError {
			log.Error("request", fields...)
			return
		}
		log.Info("request", fields...)
	})
}
