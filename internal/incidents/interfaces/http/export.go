package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	incidentapp "incident-cloud/internal/incidents/application"
	incidents "incident-cloud/internal/incidents/domain"
	"incident-cloud/internal/observability/metrics"
)

const (
	exportsPath   = "/api/v1/exports/incidents.xlsx"
	exportLimit   = 5000
	reportTimeFmt = "2006-01-02 15:04:05"
)

// ExportHandler renders incident reports and spreadsheets.
type ExportHandler struct {
	service *incidentapp.Service
}

// NewExportHandler constructs an export handler.
func NewExportHandler(service *incidentapp.Service) (*ExportHandler, error) {
	if service == nil {
		return nil, errors.New("export handler: nil service")
	}
	return &ExportHandler{service: service}, nil
}

// ServeHTTP handles GET /api/v1/exports/incidents.xlsx.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != exportsPath {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	filter := incidents.ListFilter{Limit: exportLimit}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := incidents.ParseStatus(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid status"))
			return
		}
		filter.Status = status
	}
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		metrics.ObserveExport("xlsx", "error", time.Since(start))
		writeError(w, err)
		return
	}
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		metrics.ObserveExport("xlsx", "error", time.Since(start))
		writeError(w, err)
		return
	}
	data, err := BuildIncidentsXLSX(list, summary)
	if err != nil {
		metrics.ObserveExport("xlsx", "error", time.Since(start))
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport("xlsx", "success", time.Since(start))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="incidents.xlsx"`)
	_, _ = w.Write(data)
}

// ServeReport writes the PDF report of one incident.
func (h *ExportHandler) ServeReport(w http.ResponseWriter, r *http.Request, id string) {
	start := time.Now()
	incident, history, err := h.service.Get(r.Context(), id)
	if err != nil {
		metrics.ObserveExport("pdf", "error", time.Since(start))
		writeError(w, err)
		return
	}
	data, err := BuildIncidentPDF(incident, history)
	if err != nil {
		metrics.ObserveExport("pdf", "error", time.Since(start))
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport("pdf", "success", time.Since(start))
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.pdf"`, incident.ID))
	_, _ = w.Write(data)
}

// BuildIncidentPDF renders an incident with its history.
func BuildIncidentPDF(incident *incidents.Incident, history []incidents.HistoryEntry) ([]byte, error) {
	if incident == nil {
		return nil, errors.New("export: nil incident")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, fmt.Sprintf("Incident Report %s", incident.ID))
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	lines := []string{
		fmt.Sprintf("Alert: %s (%s)", incident.AlertType, incident.AlertID),
		fmt.Sprintf("Severity: %s", incident.Severity),
		fmt.Sprintf("Status: %s", incident.Status),
		fmt.Sprintf("Patient: %s", incident.PatientID),
		fmt.Sprintf("Room: %s", incident.Room),
		fmt.Sprintf("Assigned To: %s", orDash(incident.AssignedTo)),
		fmt.Sprintf("Created: %s", formatTime(incident.CreatedAt)),
		fmt.Sprintf("Acknowledged: %s", formatTime(incident.AcknowledgedAt)),
		fmt.Sprintf("Resolved: %s", formatTime(incident.ResolvedAt)),
		fmt.Sprintf("Response Time: %s", formatSeconds(incident.ResponseTime())),
		fmt.Sprintf("Total Time: %s", formatSeconds(incident.TotalTime())),
	}
	for _, line := range lines {
		pdf.Cell(0, 6, line)
		pdf.Ln(5)
	}
	if incident.ResolutionNotes != "" {
		pdf.Ln(2)
		pdf.MultiCell(0, 5, "Resolution: "+incident.ResolutionNotes, "", "L", false)
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Action", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Employee", "1", 0, "C", false, 0, "")
	pdf.CellFormat(80, 6, "Note", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, entry := range history {
		pdf.CellFormat(40, 6, formatTime(entry.Timestamp), "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, string(entry.Action), "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, truncate(entry.EmployeeName, 22), "1", 0, "L", false, 0, "")
		pdf.CellFormat(80, 6, truncate(entry.Note, 48), "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildIncidentsXLSX renders the incident list and the performance summary.
func BuildIncidentsXLSX(list []incidents.Incident, summary incidentapp.Summary) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	listSheet := "incidents"
	summarySheet := "summary"
	if err := f.SetSheetName("Sheet1", listSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}

	headers := []string{
		"Incident", "Alert Type", "Severity", "Status", "Patient", "Room",
		"Assigned To", "Created", "Resolved", "Response (s)", "Resolution (s)", "Total (s)",
	}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(listSheet, cell, header)
	}
	for i, incident := range list {
		row := i + 2
		values := []any{
			incident.ID, incident.AlertType, string(incident.Severity), string(incident.Status),
			incident.PatientID, incident.Room, incident.AssignedTo,
			formatTime(incident.CreatedAt), formatTime(incident.ResolvedAt),
			secondsCell(incident.ResponseTime()), secondsCell(incident.ResolutionTime()), secondsCell(incident.TotalTime()),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(listSheet, cell, value)
		}
	}

	_ = f.SetCellValue(summarySheet, "A1", "Incident Performance")
	_ = f.SetCellValue(summarySheet, "A3", "Avg Response (min)")
	_ = f.SetCellValue(summarySheet, "B3", summary.AverageTimes.ResponseTimeMinutes)
	_ = f.SetCellValue(summarySheet, "A4", "Avg Resolution (min)")
	_ = f.SetCellValue(summarySheet, "B4", summary.AverageTimes.ResolutionTimeMinutes)
	_ = f.SetCellValue(summarySheet, "A5", "Avg Total (min)")
	_ = f.SetCellValue(summarySheet, "B5", summary.AverageTimes.TotalTimeMinutes)

	row := 7
	for _, key := range sortedKeys(summary.StatusCounts) {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), "Status "+key)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), summary.StatusCounts[key])
		row++
	}
	for _, key := range sortedKeys(summary.SeverityCounts) {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), "Severity "+key)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), summary.SeverityCounts[key])
		row++
	}

	row++
	_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), "Employee")
	_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), "Handled")
	_ = f.SetCellValue(summarySheet, fmt.Sprintf("C%d", row), "Avg Response (s)")
	_ = f.SetCellValue(summarySheet, fmt.Sprintf("D%d", row), "Avg Resolution (s)")
	for _, perf := range summary.EmployeePerformance {
		row++
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), perf.Name)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), perf.IncidentsHandled)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("C%d", row), perf.AvgResponseSeconds)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("D%d", row), perf.AvgResolutionSeconds)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(reportTimeFmt)
}

func formatSeconds(seconds int64, ok bool) string {
	if !ok {
		return "-"
	}
	return (time.Duration(seconds) * time.Second).String()
}

func secondsCell(seconds int64, ok bool) any {
	if !ok {
		return ""
	}
	return seconds
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max-1]) + "~"
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
