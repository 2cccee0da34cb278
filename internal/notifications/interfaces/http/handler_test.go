package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incident-cloud/internal/auth"
	notifyapp "incident-cloud/internal/notifications/application"
	notifications "incident-cloud/internal/notifications/domain"
	"incident-cloud/internal/notifications/infrastructure/memory"
	notifyhttp "incident-cloud/internal/notifications/interfaces/http"
)

func setup(t *testing.T) (*notifyapp.Service, http.Handler) {
	t.Helper()
	svc, err := notifyapp.NewService(memory.NewNotificationRepository())
	require.NoError(t, err)
	handler, err := notifyhttp.NewHandler(svc)
	require.NoError(t, err)
	return svc, handler
}

func seed(t *testing.T, svc *notifyapp.Service, employeeID, incidentID string) notifications.Notification {
	t.Helper()
	n, err := svc.Notify(context.Background(), notifications.Draft{
		EmployeeID: employeeID,
		IncidentID: incidentID,
		Type:       notifications.TypeIncidentAssigned,
		Title:      "New Incident Assigned",
	})
	require.NoError(t, err)
	return n
}

func do(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestInboxAndReadState(t *testing.T) {
	svc, handler := setup(t)
	first := seed(t, svc, "E1", "INC-1")
	seed(t, svc, "E1", "INC-2")

	resp := do(handler, httptest.NewRequest(http.MethodGet, "/api/v1/notifications/E1?unread=true&limit=10", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	var inbox notifyapp.Inbox
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&inbox))
	assert.Len(t, inbox.Notifications, 2)
	assert.Equal(t, 2, inbox.UnreadCount)

	resp = do(handler, httptest.NewRequest(http.MethodPatch, "/api/v1/notifications/"+first.ID+"/read", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = do(handler, httptest.NewRequest(http.MethodPatch, "/api/v1/notifications/unknown/read", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	body := strings.NewReader(`{"employee_id":"E1"}`)
	resp = do(handler, httptest.NewRequest(http.MethodPatch, "/api/v1/notifications/incident/INC-2/mark-read", body))
	require.Equal(t, http.StatusOK, resp.Code)
	var marked map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&marked))
	assert.EqualValues(t, 1, marked["updated"])

	seed(t, svc, "E1", "INC-3")
	resp = do(handler, httptest.NewRequest(http.MethodPatch, "/api/v1/notifications/employee/E1/mark-all-read", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&marked))
	assert.EqualValues(t, 1, marked["updated"])
}

func TestInboxRejectsOtherEmployee(t *testing.T) {
	_, handler := setup(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/E2", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{EmployeeID: "E1", Role: auth.RoleOperator}))
	resp := do(handler, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestMarkIncidentReadUsesTokenIdentity(t *testing.T) {
	svc, handler := setup(t)
	seed(t, svc, "E1", "INC-1")
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/notifications/incident/INC-1/mark-read", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{EmployeeID: "E1", Role: auth.RoleOperator}))
	resp := do(handler, req)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = do(handler, httptest.NewRequest(http.MethodPatch, "/api/v1/notifications/incident/INC-1/mark-read", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestMethodAndRouteChecks(t *testing.T) {
	_, handler := setup(t)
	assert.Equal(t, http.StatusMethodNotAllowed, do(handler, httptest.NewRequest(http.MethodPost, "/api/v1/notifications/E1", nil)).Code)
	assert.Equal(t, http.StatusNotFound, do(handler, httptest.NewRequest(http.MethodGet, "/api/v1/notifications/a/b/c/d", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, do(handler, httptest.NewRequest(http.MethodGet, "/api/v1/notifications/E1?limit=x", nil)).Code)
}
