package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	incidentapp "incident-cloud/internal/incidents/application"
	incidents "incident-cloud/internal/incidents/domain"
	notifyapp "incident-cloud/internal/notifications/application"
	notifications "incident-cloud/internal/notifications/domain"
	notificationmemory "incident-cloud/internal/notifications/infrastructure/memory"
)

type recordingSender struct {
	mu     sync.Mutex
	drafts []notifications.Draft
	reads  []string
	fail   error
}

func (s *recordingSender) Notify(_ context.Context, draft notifications.Draft) (notifications.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return notifications.Notification{}, s.fail
	}
	s.drafts = append(s.drafts, draft)
	return notifications.Notification{ID: "n", EmployeeID: draft.EmployeeID}, nil
}

func (s *recordingSender) MarkIncidentRead(_ context.Context, incidentID, employeeID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, incidentID+"|"+employeeID)
	return 1, nil
}

func (s *recordingSender) snapshot() []notifications.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notifications.Draft(nil), s.drafts...)
}

type stubIncidentRepo struct {
	mu       sync.Mutex
	incident *incidents.Incident
}

func (s *stubIncidentRepo) GetByID(_ context.Context, _ string) (*incidents.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.incident == nil {
		return nil, nil
	}
	copied := *s.incident
	return &copied, nil
}

func (s *stubIncidentRepo) setStatus(status incidents.Status) {
	s.mu.Lock()
	s.incident.Status = status
	s.mu.Unlock()
}

type recordingChannel struct {
	mu       sync.Mutex
	contents []string
}

func (r *recordingChannel) Send(_ context.Context, content string) error {
	r.mu.Lock()
	r.contents = append(r.contents, content)
	r.mu.Unlock()
	return nil
}

func (r *recordingChannel) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contents)
}

func (r *recordingChannel) Latest() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.contents) == 0 {
		return ""
	}
	return r.contents[len(r.contents)-1]
}

func assignedIncident(severity incidents.Severity) incidents.Incident {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return incidents.Incident{
		ID:                 "INC-1",
		AlertID:            "A-1",
		PatientID:          "P-7",
		Room:               "204",
		AlertType:          "FALL_DETECTED",
		Severity:           severity,
		Status:             incidents.StatusAssigned,
		AssignedEmployeeID: "E1",
		AssignedTo:         "Ana Silva",
		CreatedAt:          at,
		AssignedAt:         at,
		Version:            1,
	}
}

func newTestRouter(t *testing.T, sender *recordingSender, repo *stubIncidentRepo, opts ...Option) *Router {
	t.Helper()
	router, err := NewRouter(sender, repo, opts...)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(router.Close)
	return router
}

func TestAssignNotifiesNewAssignee(t *testing.T) {
	sender := &recordingSender{}
	inc := assignedIncident(incidents.SeverityMedium)
	router := newTestRouter(t, sender, &stubIncidentRepo{incident: &inc})

	err := router.Handle(context.Background(), incidentapp.IncidentEvent{
		Type:       incidentapp.EventAssigned,
		IncidentID: inc.ID,
		Incident:   inc,
		Actor:      incidents.Actor{EmployeeID: "E1", EmployeeName: "Ana Silva"},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	drafts := sender.snapshot()
	if len(drafts) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(drafts))
	}
	got := drafts[0]
	if got.EmployeeID != "E1" || got.Type != notifications.TypeIncidentAssigned || got.Severity != "MEDIUM" {
		t.Fatalf("unexpected draft %+v", got)
	}
	if !strings.Contains(got.Message, "FALL_DETECTED") || got.Data["room"] != "204" {
		t.Fatalf("expected incident details, got %+v", got)
	}
}

func TestClaimNotifiesClaimantAndPreviousAssignee(t *testing.T) {
	sender := &recordingSender{}
	inc := assignedIncident(incidents.SeverityHigh)
	inc.Status = incidents.StatusAcknowledged
	inc.AssignedEmployeeID = "E2"
	inc.AssignedTo = "Ben Okafor"
	router := newTestRouter(t, sender, &stubIncidentRepo{incident: &inc})

	err := router.Route(context.Background(), incidentapp.IncidentEvent{
		Type:                 incidentapp.EventClaimed,
		IncidentID:           inc.ID,
		Incident:             inc,
		Actor:                incidents.Actor{EmployeeID: "E2", EmployeeName: "Ben Okafor"},
		PreviousAssigneeID:   "E1",
		PreviousAssigneeName: "Ana Silva",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	drafts := sender.snapshot()
	if len(drafts) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(drafts))
	}
	if drafts[0].EmployeeID != "E2" || drafts[0].Type != notifications.TypeIncidentClaimed {
		t.Fatalf("unexpected claimant draft %+v", drafts[0])
	}
	if drafts[1].EmployeeID != "E1" || drafts[1].Type != notifications.TypeIncidentReassigned {
		t.Fatalf("unexpected previous assignee draft %+v", drafts[1])
	}
	if drafts[1].Message != "Ben Okafor has claimed incident INC-1" {
		t.Fatalf("unexpected message %q", drafts[1].Message)
	}
	if len(sender.reads) != 1 || sender.reads[0] != "INC-1|E2" {
		t.Fatalf("expected claimant notifications marked read, got %v", sender.reads)
	}
}

func TestAcknowledgeMarksIncidentNotificationsRead(t *testing.T) {
	sender := &recordingSender{}
	inc := assignedIncident(incidents.SeverityLow)
	inc.Status = incidents.StatusAcknowledged
	router := newTestRouter(t, sender, &stubIncidentRepo{incident: &inc})

	err := router.Route(context.Background(), incidentapp.IncidentEvent{
		Type:       incidentapp.EventAcknowledged,
		IncidentID: inc.ID,
		Incident:   inc,
		Actor:      incidents.Actor{EmployeeID: "E1", EmployeeName: "Ana Silva"},
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(sender.reads) != 1 || sender.reads[0] != "INC-1|E1" {
		t.Fatalf("expected mark read, got %v", sender.reads)
	}
}

func TestCreatedEventHasNoRecipients(t *testing.T) {
	sender := &recordingSender{}
	inc := assignedIncident(incidents.SeverityCritical)
	inc.Status = incidents.StatusOpen
	inc.AssignedEmployeeID = ""
	router := newTestRouter(t, sender, &stubIncidentRepo{incident: &inc})

	if err := router.Route(context.Background(), incidentapp.IncidentEvent{Type: incidentapp.EventCreated, IncidentID: inc.ID, Incident: inc}); err != nil {
		t.Fatalf("route: %v", err)
	}
	if got := len(sender.snapshot()); got != 0 {
		t.Fatalf("expected no notifications, got %d", got)
	}
}

func TestRouteReportsSenderFailure(t *testing.T) {
	sender := &recordingSender{fail: errors.New("db down")}
	inc := assignedIncident(incidents.SeverityMedium)
	router := newTestRouter(t, sender, &stubIncidentRepo{incident: &inc})

	err := router.Route(context.Background(), incidentapp.IncidentEvent{Type: incidentapp.EventAssigned, IncidentID: inc.ID, Incident: inc})
	if err == nil {
		t.Fatal("expected error so the event is redelivered")
	}
	if err := router.Handle(context.Background(), "not an event"); err == nil {
		t.Fatal("expected error for unexpected payload")
	}
}

// flakyRepository fails the first Save for one employee.
type flakyRepository struct {
	*notificationmemory.NotificationRepository
	mu       sync.Mutex
	failFor  string
	failures int
}

func (r *flakyRepository) Save(ctx context.Context, notification *notifications.Notification) error {
	r.mu.Lock()
	if notification.EmployeeID == r.failFor && r.failures == 0 {
		r.failures++
		r.mu.Unlock()
		return errors.New("connection reset")
	}
	r.mu.Unlock()
	return r.NotificationRepository.Save(ctx, notification)
}

func TestRedeliveredClaimStoresEachNotificationOnce(t *testing.T) {
	repo := &flakyRepository{NotificationRepository: notificationmemory.NewNotificationRepository(), failFor: "E1"}
	service, err := notifyapp.NewService(repo)
	if err != nil {
		t.Fatalf("new notification service: %v", err)
	}
	inc := assignedIncident(incidents.SeverityHigh)
	inc.Status = incidents.StatusAcknowledged
	inc.AssignedEmployeeID = "E2"
	inc.AssignedTo = "Ben Okafor"
	inc.Version = 2
	router, err := NewRouter(service, &stubIncidentRepo{incident: &inc})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	defer router.Close()

	event := incidentapp.IncidentEvent{
		Type:                 incidentapp.EventClaimed,
		IncidentID:           inc.ID,
		Incident:             inc,
		Actor:                incidents.Actor{EmployeeID: "E2", EmployeeName: "Ben Okafor"},
		PreviousAssigneeID:   "E1",
		PreviousAssigneeName: "Ana Silva",
	}
	ctx := context.Background()
	if err := router.Route(ctx, event); err == nil {
		t.Fatal("expected first delivery to fail for the previous assignee")
	}
	if err := router.Route(ctx, event); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	for _, employeeID := range []string{"E1", "E2"} {
		inbox, err := service.Inbox(ctx, employeeID, false, 10)
		if err != nil {
			t.Fatalf("inbox %s: %v", employeeID, err)
		}
		if len(inbox.Notifications) != 1 {
			t.Fatalf("expected exactly one notification for %s, got %d", employeeID, len(inbox.Notifications))
		}
	}
}

func TestNotificationIDsAreStablePerChange(t *testing.T) {
	inc := assignedIncident(incidents.SeverityHigh)
	event := incidentapp.IncidentEvent{Type: incidentapp.EventAssigned, IncidentID: inc.ID, Incident: inc}
	first := notificationID(event, "E1", notifications.TypeIncidentAssigned)
	if again := notificationID(event, "E1", notifications.TypeIncidentAssigned); again != first {
		t.Fatalf("expected stable id, got %s and %s", first, again)
	}
	if other := notificationID(event, "E2", notifications.TypeIncidentAssigned); other == first {
		t.Fatal("expected recipients to get distinct ids")
	}
	event.Incident.Version++
	if next := notificationID(event, "E1", notifications.TypeIncidentAssigned); next == first {
		t.Fatal("expected a later change to get a new id")
	}
}

func TestEscalationFiresWhileStillAssigned(t *testing.T) {
	sender := &recordingSender{}
	channel := &recordingChannel{}
	inc := assignedIncident(incidents.SeverityCritical)
	repo := &stubIncidentRepo{incident: &inc}
	router := newTestRouter(t, sender, repo,
		WithEscalation(20*time.Millisecond),
		WithRequestTimeout(200*time.Millisecond),
		WithPageChannel(channel),
	)

	if err := router.Route(context.Background(), incidentapp.IncidentEvent{Type: incidentapp.EventAssigned, IncidentID: inc.ID, Incident: inc}); err != nil {
		t.Fatalf("route: %v", err)
	}

	deadline := time.After(500 * time.Millisecond)
	for channel.Count() < 1 {
		select {
		case <-deadline:
			t.Fatalf("expected escalation page, got %d", channel.Count())
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	if !strings.Contains(channel.Latest(), "Escalated") || !strings.Contains(channel.Latest(), "Room: 204") {
		t.Fatalf("unexpected page content %s", channel.Latest())
	}
	drafts := sender.snapshot()
	last := drafts[len(drafts)-1]
	if last.Type != notifications.TypeIncidentEscalated || last.EmployeeID != "E1" {
		t.Fatalf("expected escalation notification, got %+v", last)
	}
}

func TestEscalationCancelledByAcknowledge(t *testing.T) {
	sender := &recordingSender{}
	channel := &recordingChannel{}
	inc := assignedIncident(incidents.SeverityHigh)
	repo := &stubIncidentRepo{incident: &inc}
	router := newTestRouter(t, sender, repo, WithEscalation(30*time.Millisecond), WithPageChannel(channel))

	ctx := context.Background()
	if err := router.Route(ctx, incidentapp.IncidentEvent{Type: incidentapp.EventAssigned, IncidentID: inc.ID, Incident: inc}); err != nil {
		t.Fatalf("route: %v", err)
	}
	if router.Pending() != 1 {
		t.Fatalf("expected armed timer, got %d", router.Pending())
	}
	repo.setStatus(incidents.StatusAcknowledged)
	acked := inc
	acked.Status = incidents.StatusAcknowledged
	if err := router.Route(ctx, incidentapp.IncidentEvent{Type: incidentapp.EventAcknowledged, IncidentID: inc.ID, Incident: acked, Actor: incidents.Actor{EmployeeID: "E1", EmployeeName: "Ana Silva"}}); err != nil {
		t.Fatalf("route: %v", err)
	}
	if router.Pending() != 0 {
		t.Fatalf("expected timer cancelled, got %d", router.Pending())
	}
	time.Sleep(80 * time.Millisecond)
	if channel.Count() != 0 {
		t.Fatalf("expected no page after acknowledge, got %d", channel.Count())
	}
}

func TestNoEscalationForMediumSeverity(t *testing.T) {
	sender := &recordingSender{}
	inc := assignedIncident(incidents.SeverityMedium)
	router := newTestRouter(t, sender, &stubIncidentRepo{incident: &inc}, WithEscalation(10*time.Millisecond))

	if err := router.Route(context.Background(), incidentapp.IncidentEvent{Type: incidentapp.EventAssigned, IncidentID: inc.ID, Incident: inc}); err != nil {
		t.Fatalf("route: %v", err)
	}
	if router.Pending() != 0 {
		t.Fatalf("expected no timer for medium severity, got %d", router.Pending())
	}
}

func TestWebhookChannelPagesGateway(t *testing.T) {
	type received struct {
		payload pagePayload
		auth    string
	}
	payloadCh := make(chan received, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload pagePayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- received{payload: payload, auth: r.Header.Get("Authorization")}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL, WithWebhookToken("pager-token"))
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	tpl, err := NewTemplate("")
	if err != nil {
		t.Fatalf("new template: %v", err)
	}
	content, err := tpl.Render(TemplateData{
		IncidentID: "INC-1",
		AlertType:  "CARDIAC_ARREST",
		Severity:   "CRITICAL",
		Room:       "ICU-2",
		Assignee:   "Ana Silva",
		EventLabel: "Escalated",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if err := channel.Send(context.Background(), content); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case got := <-payloadCh:
		if got.auth != "Bearer pager-token" {
			t.Fatalf("expected bearer token, got %q", got.auth)
		}
		if got.payload.Source != "incident-cloud" || got.payload.Priority != "urgent" {
			t.Fatalf("unexpected page envelope %+v", got.payload)
		}
		for _, expected := range []string{"[Incident Escalated]", "Incident: INC-1", "Severity: CRITICAL", "Assigned To: Ana Silva"} {
			if !strings.Contains(got.payload.Text, expected) {
				t.Fatalf("expected content to include %q, got %s", expected, got.payload.Text)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook payload")
	}
}

func TestWebhookChannelRetriesOnceWhenThrottled(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL, WithRetryDelay(0))
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	if err := channel.Send(context.Background(), "page"); err != nil {
		t.Fatalf("send: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected one retry, got %d calls", calls)
	}
}

func TestWebhookChannelDoesNotRetryRejection(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL, WithRetryDelay(0))
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	if err := channel.Send(context.Background(), "page"); err == nil {
		t.Fatal("expected rejection error")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}
