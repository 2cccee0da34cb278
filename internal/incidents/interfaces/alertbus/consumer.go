package alertbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	incidentapp "incident-cloud/internal/incidents/application"
	incidents "incident-cloud/internal/incidents/domain"
	"incident-cloud/internal/observability/metrics"
)

const (
	DefaultSubject = "alerts"
	DefaultQueue   = "incident-core"

	ingestSourceNATS = "nats"
	defaultTimeout   = 10 * time.Second
)

// Config holds NATS connection settings.
type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// Connect dials NATS with reconnect handling logged to logger.
func Connect(cfg Config, logger *log.Logger) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, errors.New("alertbus: nats url required")
	}
	if cfg.Name == "" {
		cfg.Name = "incident-core"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Printf("alertbus: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Printf("alertbus: reconnected to %s", nc.ConnectedUrl())
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("alertbus: connect: %w", err)
	}
	return conn, nil
}

// AlertCreator opens incidents from alerts.
type AlertCreator interface {
	CreateFromAlert(ctx context.Context, alert incidentapp.Alert) (*incidents.Incident, error)
}

// Consumer turns alert messages into incidents.
type Consumer struct {
	creator AlertCreator
	subject string
	queue   string
	timeout time.Duration
	logger  *log.Logger
}

// Option configures the consumer.
type Option func(*Consumer)

// WithSubject overrides the alert subject.
func WithSubject(subject string) Option {
	return func(c *Consumer) {
		if subject != "" {
			c.subject = subject
		}
	}
}

// WithQueue overrides the queue group shared by all instances.
func WithQueue(queue string) Option {
	return func(c *Consumer) {
		if queue != "" {
			c.queue = queue
		}
	}
}

// WithTimeout bounds the handling of one message.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Consumer) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConsumer constructs a consumer.
func NewConsumer(creator AlertCreator, opts ...Option) (*Consumer, error) {
	if creator == nil {
		return nil, errors.New("alertbus: nil creator")
	}
	c := &Consumer{
		creator: creator,
		subject: DefaultSubject,
		queue:   DefaultQueue,
		timeout: defaultTimeout,
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run queue-subscribes on conn until ctx is done, then drains the subscription.
func (c *Consumer) Run(ctx context.Context, conn *nats.Conn) error {
	if conn == nil {
		return errors.New("alertbus: nil connection")
	}
	sub, err := conn.QueueSubscribe(c.subject, c.queue, func(msg *nats.Msg) {
		c.handleMsg(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("alertbus: subscribe %s: %w", c.subject, err)
	}
	c.logger.Printf("alertbus: consuming subject=%s queue=%s", c.subject, c.queue)
	<-ctx.Done()
	if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("alertbus: drain: %w", err)
	}
	return nil
}

type reply struct {
	IncidentID string `json:"incident_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (c *Consumer) handleMsg(ctx context.Context, msg *nats.Msg) {
	incident, err := c.Handle(ctx, msg.Data)
	if msg.Reply == "" {
		return
	}
	var body reply
	if err != nil {
		body.Error = err.Error()
	} else {
		body.IncidentID = incident.ID
		body.Status = string(incident.Status)
	}
	payload, _ := json.Marshal(body)
	if err := msg.Respond(payload); err != nil {
		c.logger.Printf("alertbus: reply: %v", err)
	}
}

// Handle decodes one alert payload and opens its incident. Invalid payloads
// are logged and dropped; core NATS has no redelivery to retry them.
func (c *Consumer) Handle(ctx context.Context, data []byte) (*incidents.Incident, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveIngest(ingestSourceNATS, result, time.Since(start))
	}()

	var alert incidentapp.Alert
	if err := json.Unmarshal(data, &alert); err != nil {
		result = metrics.ResultError
		metrics.IncIngestError("invalid_json")
		c.logger.Printf("alertbus: decode error: %v", err)
		return nil, fmt.Errorf("%w: invalid json", incidents.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	incident, err := c.creator.CreateFromAlert(ctx, alert)
	if err != nil {
		result = metrics.ResultError
		if errors.Is(err, incidents.ErrValidation) {
			metrics.IncIngestError("invalid_payload")
		} else {
			metrics.IncIngestError("create_error")
		}
		c.logger.Printf("alertbus: alert %s: %v", alert.AlertID, err)
		return nil, err
	}
	return incident, nil
}
