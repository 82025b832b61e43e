package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/faceguard/internal/guard/service"
	"github.com/aussiebroadwan/faceguard/internal/guard/store"
	"github.com/aussiebroadwan/faceguard/pkg/guardsdk"
	"github.com/aussiebroadwan/faceguard/pkg/httpx"
)

// LivezHandler always answers 200 while the process is serving.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, guardsdk.HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler answers 503 when the database is unreachable or nobody is
// enrolled, since authentication cannot succeed in either case.
func ReadyzHandler(startTime time.Time, version string, st store.Store, profiles *service.ProfileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &guardsdk.HealthChecks{
			Database:   "ok",
			Enrollment: "ok",
		}
		status := "ok"
		code := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Database = "error: " + err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		enrolled, err := profiles.HasEnrollment(r.Context())
		switch {
		case err != nil:
			checks.Enrollment = "error: " + err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		case !enrolled:
			checks.Enrollment = "error: no enrolled profile"
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, code, guardsdk.HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
