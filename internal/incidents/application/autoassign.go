package application

import (
	"context"
	"errors"
	"fmt"
	"sort"

	incidents "incident-cloud/internal/incidents/domain"
	"incident-cloud/internal/observability/metrics"
)

// ErrNoCandidate is returned when nobody on call can take an incident.
var ErrNoCandidate = errors.New("incidents: no on-call employee available")

// Roster lists employees currently able to take incidents.
type Roster interface {
	OnCall(ctx context.Context, role string) ([]incidents.Employee, error)
	LoggedIn(ctx context.Context) ([]incidents.Employee, error)
}

type candidate struct {
	employee incidents.Employee
	workload incidents.Workload
}

// busyWorkload ranks employees whose workload cannot be read last.
var busyWorkload = incidents.Workload{InProgress: 999, Total: 999}

// AutoAssign assigns an OPEN incident to the least busy on-call employee for
// its alert type, falling back to any logged-in employee when enabled.
func (s *Service) AutoAssign(ctx context.Context, id string) (*incidents.Incident, error) {
	if s == nil {
		return nil, errors.New("incidents: nil service")
	}
	incident, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.Status != incidents.StatusOpen {
		return nil, fmt.Errorf("%w: cannot auto-assign incident with status %s", incidents.ErrInvalidTransition, incident.Status)
	}
	if s.roster == nil {
		metrics.IncAutoAssign("no_roster")
		return incident, ErrNoCandidate
	}

	roles := s.routing.RolesFor(incident.AlertType)
	for _, role := range roles {
		staff, err := s.roster.OnCall(ctx, role)
		if err != nil {
			s.logger.Printf("incidents: on-call lookup role=%s: %v", role, err)
			continue
		}
		if len(staff) == 0 {
			continue
		}
		picked := s.pickLeastBusy(ctx, staff)
		return s.autoAssignTo(ctx, incident, picked, role)
	}

	if s.routing.FallbackAnyLoggedIn {
		staff, err := s.roster.LoggedIn(ctx)
		if err != nil {
			s.logger.Printf("incidents: logged-in lookup: %v", err)
		} else if len(staff) > 0 {
			picked := s.pickLeastBusy(ctx, staff)
			role := picked.employee.Role
			if role == "" {
				role = AnyRole
			}
			return s.autoAssignTo(ctx, incident, picked, role)
		}
	}

	metrics.IncAutoAssign("no_candidate")
	s.logger.Printf("incidents: no available staff for %s (alert=%s roles=%v)", incident.ID, incident.AlertType, roles)
	return incident, ErrNoCandidate
}

func (s *Service) autoAssignTo(ctx context.Context, incident *incidents.Incident, picked candidate, role string) (*incidents.Incident, error) {
	expected := incident.Version
	updated, err := s.assign(ctx, Command{
		IncidentID: incident.ID,
		Actor: incidents.Actor{
			EmployeeID:   picked.employee.ID,
			EmployeeName: picked.employee.Name,
		},
		Note:            fmt.Sprintf("Auto-assigned to %s (least busy: %d active incidents)", role, picked.workload.Total),
		ExpectedVersion: &expected,
	})
	if err != nil {
		metrics.IncAutoAssign(metrics.ResultError)
		return nil, err
	}
	metrics.IncAutoAssign(metrics.ResultSuccess)
	return updated, nil
}

// pickLeastBusy orders by in-progress count, then total active count.
func (s *Service) pickLeastBusy(ctx context.Context, staff []incidents.Employee) candidate {
	candidates := make([]candidate, 0, len(staff))
	for _, employee := range staff {
		if employee.ID == "" {
			continue
		}
		workload, err := s.repo.Workload(ctx, employee.ID)
		if err != nil {
			s.logger.Printf("incidents: workload %s: %v", employee.ID, err)
			workload = busyWorkload
		}
		candidates = append(candidates, candidate{employee: employee, workload: workload})
	}
	if len(candidates) == 0 {
		return candidate{employee: staff[0], workload: busyWorkload}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].workload.InProgress != candidates[j].workload.InProgress {
			return candidates[i].workload.InProgress < candidates[j].workload.InProgress
		}
		return candidates[i].workload.Total < candidates[j].workload.Total
	})
	return candidates[0]
}
