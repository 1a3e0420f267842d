package enroll

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/civicmesh/enroll/internal/admin"
	"github.com/civicmesh/enroll/internal/conversation"

	apperrors "github.com/civicmesh/enroll/internal/platform/errors"
)

// newHandler builds the runtime's HTTP surface: the event ingress the chat
// transport calls, the admin operations, and the metrics and health
// endpoints.
func newHandler(engine *conversation.Engine, adminSvc *admin.Service, registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("POST /v1/events", func(w http.ResponseWriter, r *http.Request) {
		var event conversation.Event
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			http.Error(w, "malformed event", http.StatusBadRequest)
			return
		}
		if event.UserID == 0 {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}

		prompt, err := engine.HandleEvent(r.Context(), event)
		if errors.Is(err, conversation.ErrDuplicateEvent) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err != nil {
			log.Printf("handle event user_id=%d err=%v", event.UserID, err)
			writeError(w, err)
			return
		}
		writeJSON(w, prompt)
	})

	mux.HandleFunc("POST /v1/admin/experts/{userID}/approve", func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.PathValue("userID"), 10, 64)
		if err != nil {
			http.Error(w, "malformed user id", http.StatusBadRequest)
			return
		}
		var body struct {
			GroupLink string `json:"group_link"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}
		if err := adminSvc.ApproveExpert(r.Context(), userID, body.GroupLink); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /v1/admin/experts/{userID}/reject", func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.PathValue("userID"), 10, 64)
		if err != nil {
			http.Error(w, "malformed user id", http.StatusBadRequest)
			return
		}
		if err := adminSvc.RejectExpert(r.Context(), userID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /v1/admin/positions/{positionID}/reset", func(w http.ResponseWriter, r *http.Request) {
		positionID, err := strconv.Atoi(r.PathValue("positionID"))
		if err != nil {
			http.Error(w, "malformed position id", http.StatusBadRequest)
			return
		}
		if err := adminSvc.ResetPosition(r.Context(), positionID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /v1/admin/positions/reset-all", func(w http.ResponseWriter, r *http.Request) {
		if err := adminSvc.ResetAllPositions(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /v1/admin/positions/provision", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Count int `json:"count"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}
		if body.Count <= 0 {
			http.Error(w, "count must be positive", http.StatusBadRequest)
			return
		}
		if err := adminSvc.Reprovision(r.Context(), body.Count); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// writeError maps domain error codes onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.CodeOf(err) {
	case apperrors.CodeValidation:
		status = http.StatusBadRequest
	case apperrors.CodeNotFound, apperrors.CodePositionNotFound:
		status = http.StatusNotFound
	case apperrors.CodePositionConflict, apperrors.CodeFlowStateInvalid:
		status = http.StatusConflict
	case apperrors.CodeRemoteUnavailable:
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}
