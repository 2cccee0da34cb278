package application

import (
	"context"
	"errors"
	"sort"

	incidents "incident-cloud/internal/incidents/domain"
)

// Summary aggregates response performance across incidents.
type Summary struct {
	AverageTimes        AverageTimes          `json:"average_times"`
	SeverityCounts      map[string]int        `json:"severity_counts"`
	StatusCounts        map[string]int        `json:"status_counts"`
	EmployeePerformance []EmployeePerformance `json:"employee_performance"`
}

// AverageTimes are means over resolved incidents.
type AverageTimes struct {
	ResponseTimeSeconds   float64 `json:"response_time_seconds"`
	ResponseTimeMinutes   float64 `json:"response_time_minutes"`
	ResolutionTimeSeconds float64 `json:"resolution_time_seconds"`
	ResolutionTimeMinutes float64 `json:"resolution_time_minutes"`
	TotalTimeSeconds      float64 `json:"total_time_seconds"`
	TotalTimeMinutes      float64 `json:"total_time_minutes"`
}

// EmployeePerformance summarises incidents resolved by one employee.
type EmployeePerformance struct {
	EmployeeID           string  `json:"employee_id"`
	Name                 string  `json:"name"`
	Role                 string  `json:"role,omitempty"`
	IncidentsHandled     int     `json:"incidents_handled"`
	AvgResponseSeconds   float64 `json:"avg_response_seconds"`
	AvgResolutionSeconds float64 `json:"avg_resolution_seconds"`
}

type accumulator struct {
	sum   int64
	count int
}

func (a *accumulator) add(value int64, ok bool) {
	if !ok {
		return
	}
	a.sum += value
	a.count++
}

func (a accumulator) mean() float64 {
	if a.count == 0 {
		return 0
	}
	return float64(a.sum) / float64(a.count)
}

// Summary computes the performance report.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	if s == nil {
		return Summary{}, errors.New("incidents: nil service")
	}
	list, err := s.repo.List(ctx, incidents.ListFilter{})
	if err != nil {
		return Summary{}, err
	}
	return s.summarize(ctx, list), nil
}

func (s *Service) summarize(ctx context.Context, list []incidents.Incident) Summary {
	summary := Summary{
		SeverityCounts: make(map[string]int),
		StatusCounts:   make(map[string]int),
	}
	var response, resolution, total accumulator
	type perEmployee struct {
		name       string
		handled    int
		response   accumulator
		resolution accumulator
	}
	byEmployee := make(map[string]*perEmployee)

	for i := range list {
		incident := &list[i]
		summary.SeverityCounts[string(incident.Severity)]++
		summary.StatusCounts[string(incident.Status)]++
		if incident.Status != incidents.StatusResolved {
			continue
		}
		r, rok := incident.ResponseTime()
		res, resok := incident.ResolutionTime()
		response.add(r, rok)
		resolution.add(res, resok)
		total.add(incident.TotalTime())

		if incident.ResolvedByEmployeeID == "" {
			continue
		}
		entry := byEmployee[incident.ResolvedByEmployeeID]
		if entry == nil {
			entry = &perEmployee{name: incident.AssignedTo}
			byEmployee[incident.ResolvedByEmployeeID] = entry
		}
		entry.handled++
		entry.response.add(r, rok)
		entry.resolution.add(res, resok)
	}

	summary.AverageTimes = AverageTimes{
		ResponseTimeSeconds:   response.mean(),
		ResponseTimeMinutes:   response.mean() / 60,
		ResolutionTimeSeconds: resolution.mean(),
		ResolutionTimeMinutes: resolution.mean() / 60,
		TotalTimeSeconds:      total.mean(),
		TotalTimeMinutes:      total.mean() / 60,
	}

	for id, entry := range byEmployee {
		perf := EmployeePerformance{
			EmployeeID:           id,
			Name:                 entry.name,
			IncidentsHandled:     entry.handled,
			AvgResponseSeconds:   entry.response.mean(),
			AvgResolutionSeconds: entry.resolution.mean(),
		}
		if s.directory != nil {
			if employee, err := s.directory.GetEmployee(ctx, id); err == nil && employee != nil {
				perf.Name = employee.Name
				perf.Role = employee.Role
			}
		}
		summary.EmployeePerformance = append(summary.EmployeePerformance, perf)
	}
	sort.Slice(summary.EmployeePerformance, func(i, j int) bool {
		a, b := summary.EmployeePerformance[i], summary.EmployeePerformance[j]
		if a.AvgResponseSeconds != b.AvgResponseSeconds {
			return a.AvgResponseSeconds < b.AvgResponseSeconds
		}
		return a.EmployeeID < b.EmployeeID
	})
	return summary
}
