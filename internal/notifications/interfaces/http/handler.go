package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"incident-cloud/internal/auth"
	notifyapp "incident-cloud/internal/notifications/application"
	notifications "incident-cloud/internal/notifications/domain"
)

const prefix = "/api/v1/notifications/"

// Handler provides notification read-state endpoints.
type Handler struct {
	service *notifyapp.Service
}

// NewHandler constructs a handler.
func NewHandler(service *notifyapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("notifications handler: nil service")
	}
	return &Handler{service: service}, nil
}

// ServeHTTP handles /api/v1/notifications/ subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, prefix) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleInbox(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "read":
		if r.Method != http.MethodPatch {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleMarkRead(w, r, parts[0])
	case len(parts) == 3 && parts[0] == "employee" && parts[2] == "mark-all-read":
		if r.Method != http.MethodPatch {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleMarkAll(w, r, parts[1])
	case len(parts) == 3 && parts[0] == "incident" && parts[2] == "mark-read":
		if r.Method != http.MethodPatch {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleMarkIncident(w, r, parts[1])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleInbox(w http.ResponseWriter, r *http.Request, employeeID string) {
	if err := auth.EnsureSelf(r.Context(), employeeID); err != nil {
		writeError(w, err)
		return
	}
	unread := strings.EqualFold(r.URL.Query().Get("unread"), "true")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}
	inbox, err := h.service.Inbox(r.Context(), employeeID, unread, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inbox)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request, notificationID string) {
	if err := h.service.MarkRead(r.Context(), notificationID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notification_id": notificationID, "is_read": true})
}

func (h *Handler) handleMarkAll(w http.ResponseWriter, r *http.Request, employeeID string) {
	if err := auth.EnsureSelf(r.Context(), employeeID); err != nil {
		writeError(w, err)
		return
	}
	updated, err := h.service.MarkAllRead(r.Context(), employeeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"employee_id": employeeID, "updated": updated})
}

type markIncidentRequest struct {
	EmployeeID string `json:"employee_id"`
}

func (h *Handler) handleMarkIncident(w http.ResponseWriter, r *http.Request, incidentID string) {
	var req markIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	employeeID, _, err := auth.ResolveActor(r.Context(), req.EmployeeID, "")
	if err != nil {
		writeError(w, err)
		return
	}
	updated, err := h.service.MarkIncidentRead(r.Context(), incidentID, employeeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incident_id": incidentID, "employee_id": employeeID, "updated": updated})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, notifications.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, notifications.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrIdentityMismatch):
		status = http.StatusForbidden
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
