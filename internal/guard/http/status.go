package http

import (
	"net/http"
	"strconv"

	"github.com/aussiebroadwan/faceguard/internal/guard/calibrate"
	"github.com/aussiebroadwan/faceguard/internal/guard/service"
	"github.com/aussiebroadwan/faceguard/internal/guard/store"
	"github.com/aussiebroadwan/faceguard/pkg/guardsdk"
	"github.com/aussiebroadwan/faceguard/pkg/httpx"
	"github.com/aussiebroadwan/faceguard/pkg/slogx"
)

const (
	defaultAttemptLimit = 50
	maxAttemptLimit     = 500
)

type StatusHandler struct {
	Coordinator *service.Coordinator
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := h.Coordinator.Status()
	httpx.WriteJSON(w, http.StatusOK, guardsdk.StatusResponse{
		State:           st.State,
		Message:         st.Message,
		Failures:        st.Failures,
		MaxAttempts:     st.MaxAttempts,
		LockRemainingMs: st.LockRemainingMs,
		LastSimilarity:  st.LastSimilarity,
		LastProfileID:   st.LastProfileID,
		LastAttemptAt:   st.LastAttemptAt,
		LastError:       st.LastError,
	})
}

// AttemptsHandler lists recent attempt records, newest first.
type AttemptsHandler struct {
	Attempts store.Attempts
}

func (h *AttemptsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultAttemptLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxAttemptLimit)
	}

	recs, err := h.Attempts.ListRecentAttempts(ctx, limit)
	if err != nil {
		slogx.FromContext(ctx).Error("failed to list attempts", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Failed to retrieve attempts")
		return
	}

	resp := guardsdk.ListAttemptsResponse{Attempts: make([]guardsdk.AttemptInfo, len(recs))}
	for i, rec := range recs {
		resp.Attempts[i] = guardsdk.AttemptInfo{
			ID:           rec.ID,
			Kind:         string(rec.Kind),
			ProfileID:    rec.ProfileID,
			Similarity:   rec.Similarity,
			FailureCount: rec.FailureCount,
			Details:      rec.Details,
			Artifacts:    rec.Artifacts,
			At:           rec.At.UTC(),
		}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type ProfilesHandler struct {
	Profiles *service.ProfileService
}

func (h *ProfilesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	profiles, err := h.Profiles.List(ctx)
	if err != nil {
		slogx.FromContext(ctx).Error("failed to list profiles", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Failed to retrieve profiles")
		return
	}

	resp := guardsdk.ListProfilesResponse{Profiles: make([]guardsdk.ProfileInfo, len(profiles))}
	for i, p := range profiles {
		resp.Profiles[i] = guardsdk.ProfileInfo{
			ID:            p.ID,
			DisplayName:   p.DisplayName,
			Role:          string(p.Role),
			Successes:     p.Successes,
			Failures:      p.Failures,
			AvgConfidence: p.AvgConfidence,
			Threshold:     calibrate.Threshold(p.AvgConfidence),
			References:    len(p.References),
			Enrolled:      h.Profiles.Credentials.Exists(p.ID),
			CreatedAt:     p.CreatedAt.UTC(),
		}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
