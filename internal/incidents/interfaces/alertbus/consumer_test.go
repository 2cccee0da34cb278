package alertbus_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	incidentapp "incident-cloud/internal/incidents/application"
	incidents "incident-cloud/internal/incidents/domain"
	"incident-cloud/internal/incidents/infrastructure/memory"
	"incident-cloud/internal/incidents/interfaces/alertbus"
)

type failingCreator struct {
	mu    sync.Mutex
	calls int
}

func (c *failingCreator) CreateFromAlert(ctx context.Context, alert incidentapp.Alert) (*incidents.Incident, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return nil, errors.New("database unavailable")
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestHandleCreatesIncident(t *testing.T) {
	service, err := incidentapp.NewService(memory.NewIncidentRepository())
	require.NoError(t, err)
	consumer, err := alertbus.NewConsumer(service, alertbus.WithLogger(quietLogger()))
	require.NoError(t, err)

	incident, err := consumer.Handle(context.Background(), []byte(`{"alert_id":"A-9","patient_id":"P-7","room":"ER-2","alert_type":"fall_detected","severity":"high"}`))
	require.NoError(t, err)
	assert.Equal(t, incidents.StatusOpen, incident.Status)
	assert.Equal(t, incidents.SeverityHigh, incident.Severity)
	assert.Equal(t, "FALL_DETECTED", incident.AlertType)

	list, err := service.List(context.Background(), incidents.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestHandleRejectsMalformedAlerts(t *testing.T) {
	service, err := incidentapp.NewService(memory.NewIncidentRepository())
	require.NoError(t, err)
	consumer, err := alertbus.NewConsumer(service, alertbus.WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = consumer.Handle(context.Background(), []byte(`{`))
	assert.ErrorIs(t, err, incidents.ErrValidation)

	_, err = consumer.Handle(context.Background(), []byte(`{"alert_id":"A-1","patient_id":"P-1","severity":"URGENT"}`))
	assert.ErrorIs(t, err, incidents.ErrValidation)
}

func TestHandleSurfacesCreatorFailure(t *testing.T) {
	creator := &failingCreator{}
	consumer, err := alertbus.NewConsumer(creator, alertbus.WithLogger(quietLogger()), alertbus.WithTimeout(time.Second))
	require.NoError(t, err)

	_, err = consumer.Handle(context.Background(), []byte(`{"alert_id":"A-1","patient_id":"P-1","severity":"LOW"}`))
	require.Error(t, err)
	assert.Equal(t, 1, creator.calls)
}

func TestNewConsumerRequiresCreator(t *testing.T) {
	_, err := alertbus.NewConsumer(nil)
	assert.Error(t, err)
}

func TestConnectFailsWithoutServer(t *testing.T) {
	_, err := alertbus.Connect(alertbus.Config{URL: "nats://127.0.0.1:1", ConnectTimeout: 200 * time.Millisecond}, quietLogger())
	assert.Error(t, err)

	_, err = alertbus.Connect(alertbus.Config{}, quietLogger())
	assert.Error(t, err)
}

func TestRunRequiresConnection(t *testing.T) {
	consumer, err := alertbus.NewConsumer(&failingCreator{})
	require.NoError(t, err)
	assert.Error(t, consumer.Run(context.Background(), nil))
}
