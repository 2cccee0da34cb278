package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"incident-cloud/internal/audit"
	"incident-cloud/internal/auth"
	incidentapp "incident-cloud/internal/incidents/application"
	incidents "incident-cloud/internal/incidents/domain"
)

const (
	incidentsPath = "/api/v1/incidents"
	maxBodyBytes  = 64 << 10
)

// Handler provides incident HTTP endpoints.
type Handler struct {
	service *incidentapp.Service
	audit   audit.Logger
	reports *ExportHandler
	logger  *log.Logger
}

// HandlerOption configures the handler.
type HandlerOption func(*Handler)

// WithAuditLogger records every accepted mutation.
func WithAuditLogger(logger audit.Logger) HandlerOption {
	return func(h *Handler) {
		h.audit = logger
	}
}

// WithReports serves GET /api/v1/incidents/{id}/report.pdf.
func WithReports(reports *ExportHandler) HandlerOption {
	return func(h *Handler) {
		h.reports = reports
	}
}

// WithHandlerLogger sets the logger.
func WithHandlerLogger(logger *log.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler constructs a handler.
func NewHandler(service *incidentapp.Service, opts ...HandlerOption) (*Handler, error) {
	if service == nil {
		return nil, errors.New("incidents handler: nil service")
	}
	h := &Handler{service: service}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ServeHTTP handles /api/v1/incidents and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == incidentsPath:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
	case path == incidentsPath+"/metrics":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleSummary(w, r)
	case strings.HasPrefix(path, incidentsPath+"/"):
		parts := strings.Split(strings.TrimPrefix(path, incidentsPath+"/"), "/")
		switch len(parts) {
		case 1:
			if r.Method != http.MethodGet {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			h.handleGet(w, r, parts[0])
		case 2:
			h.handleSubresource(w, r, parts[0], parts[1])
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var filter incidents.ListFilter
	if raw := query.Get("status"); raw != "" {
		status, ok := incidents.ParseStatus(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid status"))
			return
		}
		filter.Status = status
	}
	if raw := query.Get("severity"); raw != "" {
		severity, ok := incidents.ParseSeverity(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid severity"))
			return
		}
		filter.Severity = severity
	}
	filter.AssigneeID = query.Get("assigned_employee_id")
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []incidents.Incident{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type incidentDetail struct {
	Incident *incidents.Incident     `json:"incident"`
	History  []incidents.HistoryEntry `json:"history"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	incident, history, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if history == nil {
		history = []incidents.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, incidentDetail{Incident: incident, History: history})
}

type actionRequest struct {
	EmployeeID      string `json:"employee_id"`
	EmployeeName    string `json:"employee_name"`
	Note            string `json:"note"`
	ResolutionNotes string `json:"resolution_notes"`
	Version         *int64 `json:"version,omitempty"`
}

func (h *Handler) handleSubresource(w http.ResponseWriter, r *http.Request, id, action string) {
	switch action {
	case "report.pdf":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if h.reports == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.reports.ServeReport(w, r, id)
		return
	case "auto-assign", "notes":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
	case "assign", "acknowledge", "start", "claim", "resolve":
		if r.Method != http.MethodPatch {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("read body error"))
		return
	}
	var req actionRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid json"))
			return
		}
	}

	if action == "auto-assign" {
		incident, err := h.service.AutoAssign(r.Context(), id)
		if err != nil {
			if errors.Is(err, incidentapp.ErrNoCandidate) {
				writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "incident": incident})
				return
			}
			writeError(w, err)
			return
		}
		h.recordAudit(r, action, id, "", body)
		writeJSON(w, http.StatusOK, incident)
		return
	}

	cmd := incidentapp.Command{IncidentID: id, Note: req.Note, ExpectedVersion: req.Version}
	if action != "assign" {
		employeeID, employeeName, err := auth.ResolveActor(r.Context(), req.EmployeeID, req.EmployeeName)
		if err != nil {
			writeError(w, err)
			return
		}
		req.EmployeeID, req.EmployeeName = employeeID, employeeName
	}
	cmd.Actor = incidents.Actor{EmployeeID: req.EmployeeID, EmployeeName: req.EmployeeName}

	var incident *incidents.Incident
	switch action {
	case "assign":
		incident, err = h.service.Assign(r.Context(), cmd)
	case "acknowledge":
		incident, err = h.service.Acknowledge(r.Context(), cmd)
	case "start":
		incident, err = h.service.Start(r.Context(), cmd)
	case "notes":
		incident, err = h.service.AddNote(r.Context(), cmd)
	case "resolve":
		if req.ResolutionNotes != "" {
			cmd.Note = req.ResolutionNotes
		}
		incident, err = h.service.Resolve(r.Context(), cmd)
	case "claim":
		incident, err = h.service.Claim(r.Context(), cmd)
		if errors.Is(err, incidents.ErrAlreadyAssigned) && incident != nil {
			writeJSON(w, http.StatusOK, incident)
			return
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	h.recordAudit(r, action, id, req.EmployeeName, body)
	writeJSON(w, http.StatusOK, incident)
}

func (h *Handler) recordAudit(r *http.Request, action, incidentID, actorName string, body []byte) {
	if h.audit == nil {
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	if actorName == "" {
		actorName = identity.Name
	}
	var metadata json.RawMessage
	if json.Valid(body) {
		metadata = body
	}
	entry := audit.FromRequest(r, audit.Entry{
		ID:            audit.NewID(),
		Actor:         identity.EmployeeID,
		ActorName:     actorName,
		Role:          string(identity.Role),
		Action:        "incident." + action,
		ResourceType:  "incident",
		ResourceID:    incidentID,
		Metadata:      metadata,
		PayloadDigest: audit.DigestJSON(body),
	})
	audit.Record(r.Context(), h.audit, entry, func(err error) {
		if h.logger != nil {
			h.logger.Printf("incidents: audit %s %s: %v", action, incidentID, err)
		}
	})
}

// StatusFor maps domain and auth errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, incidents.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, incidents.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, incidents.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, incidents.ErrNotAssigned):
		return http.StatusForbidden
	case errors.Is(err, incidents.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, auth.ErrIdentityMismatch):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, errorBody(message))
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
