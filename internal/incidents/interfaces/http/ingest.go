package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	incidentapp "incident-cloud/internal/incidents/application"
	"incident-cloud/internal/observability/metrics"
)

const ingestSourceHTTP = "http"

// IngestHandler opens incidents from signed alert posts.
type IngestHandler struct {
	service *incidentapp.Service
	logger  *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(service *incidentapp.Service, logger *log.Logger) (*IngestHandler, error) {
	if service == nil {
		return nil, errors.New("alert ingest: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{service: service, logger: logger}, nil
}

// ServeHTTP handles POST /ingest/alerts.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveIngest(ingestSourceHTTP, result, time.Since(start))
	}()

	if r.Method != http.MethodPost {
		result = metrics.ResultError
		metrics.IncIngestError("method_not_allowed")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Printf("alert ingest: read body error: %v", err)
		result = metrics.ResultError
		metrics.IncIngestError("read_body")
		writeJSON(w, http.StatusBadRequest, errorBody("read body error"))
		return
	}
	defer r.Body.Close()

	var alert incidentapp.Alert
	if err := json.Unmarshal(body, &alert); err != nil {
		h.logger.Printf("alert ingest: decode error: %v", err)
		result = metrics.ResultError
		metrics.IncIngestError("invalid_json")
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json"))
		return
	}

	incident, err := h.service.CreateFromAlert(r.Context(), alert)
	if err != nil {
		result = metrics.ResultError
		if StatusFor(err) == http.StatusBadRequest {
			metrics.IncIngestError("invalid_payload")
		} else {
			h.logger.Printf("alert ingest: create error: %v", err)
			metrics.IncIngestError("create_error")
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, incident)
}
