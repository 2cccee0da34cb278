package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	apihttp "incident-cloud/internal/api/http"
	"incident-cloud/internal/audit"
	"incident-cloud/internal/auth"
	"incident-cloud/internal/eventing"
	"incident-cloud/internal/eventing/eventbus"
	eventingrepo "incident-cloud/internal/eventing/infrastructure/postgres"
	incidentapp "incident-cloud/internal/incidents/application"
	incidentrepo "incident-cloud/internal/incidents/infrastructure/postgres"
	"incident-cloud/internal/incidents/interfaces/alertbus"
	incidenthttp "incident-cloud/internal/incidents/interfaces/http"
	incidentnotify "incident-cloud/internal/incidents/notify"
	notifyapp "incident-cloud/internal/notifications/application"
	"incident-cloud/internal/notifications/hub"
	notificationrepo "incident-cloud/internal/notifications/infrastructure/postgres"
	notificationredis "incident-cloud/internal/notifications/infrastructure/redis"
	notifyhttp "incident-cloud/internal/notifications/interfaces/http"
	"incident-cloud/internal/observability/metrics"
	"incident-cloud/internal/oncall"
	"incident-cloud/migrations"

	goredis "github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const routerConsumer = "notifications.router"

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}
	if cfg.MigrateOnStart {
		if err := migrations.Apply(ctx, db); err != nil {
			logger.Fatalf("migrations error: %v", err)
		}
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	bus := eventbus.NewInMemoryBus()
	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	registry := eventing.NewRegistry(incidentapp.IncidentEvent{})
	dispatcher := eventing.NewDispatcher(bus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, bus, logger)

	notificationHub := hub.New(hub.WithSendTimeout(cfg.HubSendTimeout), hub.WithLogger(logger))
	var pusher notifyapp.Pusher = notificationHub
	var relay *notificationredis.Relay
	if cfg.RedisAddr != "" {
		redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		relay, err = notificationredis.NewRelay(redisClient, cfg.RedisChannel, notificationHub, logger)
		if err != nil {
			logger.Fatalf("notification relay init error: %v", err)
		}
		pusher = relay
	}

	notificationService, err := notifyapp.NewService(
		notificationrepo.NewNotificationRepository(db),
		notifyapp.WithPusher(pusher),
	)
	if err != nil {
		logger.Fatalf("notification service init error: %v", err)
	}

	incidentRepo := incidentrepo.NewIncidentRepository(db, incidentrepo.WithEventRecorder(publisher))
	routerOpts := []incidentnotify.Option{
		incidentnotify.WithEscalation(cfg.EscalationAfter),
		incidentnotify.WithLogger(logger),
	}
	if cfg.EscalationWebhookURL != "" {
		channel, err := incidentnotify.NewWebhookChannel(cfg.EscalationWebhookURL,
			incidentnotify.WithWebhookToken(cfg.EscalationWebhookToken),
		)
		if err != nil {
			logger.Fatalf("escalation webhook init error: %v", err)
		}
		routerOpts = append(routerOpts, incidentnotify.WithPageChannel(channel))
	}
	if cfg.EscalationTemplate != "" {
		tpl, err := incidentnotify.NewTemplate(cfg.EscalationTemplate)
		if err != nil {
			logger.Fatalf("escalation template error: %v", err)
		}
		routerOpts = append(routerOpts, incidentnotify.WithTemplate(tpl))
	}
	router, err := incidentnotify.NewRouter(notificationService, incidentRepo, routerOpts...)
	if err != nil {
		logger.Fatalf("notification router init error: %v", err)
	}
	defer router.Close()
	eventing.Subscribe(bus, eventbus.EventTypeOf[incidentapp.IncidentEvent](), routerConsumer, router.Handle, processedStore)

	broker := incidenthttp.NewSSEBroker()
	serviceOpts := []incidentapp.ServiceOption{
		incidentapp.WithDirectory(incidentrepo.NewEmployeeRepository(db)),
		incidentapp.WithNotifier(incidentnotify.NewMultiNotifier(
			broker,
			incidentnotify.NewLogNotifier(logger),
			incidentnotify.NewOutboxNotifier(publisher),
		)),
		incidentapp.WithAutoAssign(cfg.AutoAssign),
		incidentapp.WithLogger(logger),
	}
	if cfg.OncallServiceURL != "" {
		routing := incidentapp.DefaultRoutingConfig()
		if cfg.RoutingConfig != "" {
			routing, err = incidentapp.LoadRoutingConfig(cfg.RoutingConfig)
			if err != nil {
				logger.Fatalf("routing config error: %v", err)
			}
		}
		roster, err := oncall.NewClient(cfg.OncallServiceURL, oncall.WithToken(cfg.OncallServiceToken))
		if err != nil {
			logger.Fatalf("oncall client init error: %v", err)
		}
		serviceOpts = append(serviceOpts, incidentapp.WithRoster(roster, routing))
	}
	incidentService, err := incidentapp.NewService(incidentRepo, serviceOpts...)
	if err != nil {
		logger.Fatalf("incident service init error: %v", err)
	}

	exportHandler, err := incidenthttp.NewExportHandler(incidentService)
	if err != nil {
		logger.Fatalf("export handler init error: %v", err)
	}
	incidentHandler, err := incidenthttp.NewHandler(
		incidentService,
		incidenthttp.WithAuditLogger(auditRepo),
		incidenthttp.WithReports(exportHandler),
		incidenthttp.WithHandlerLogger(logger),
	)
	if err != nil {
		logger.Fatalf("incident handler init error: %v", err)
	}
	ingestHandler, err := incidenthttp.NewIngestHandler(incidentService, logger)
	if err != nil {
		logger.Fatalf("ingest handler init error: %v", err)
	}
	notificationHandler, err := notifyhttp.NewHandler(notificationService)
	if err != nil {
		logger.Fatalf("notification handler init error: %v", err)
	}
	wsHandler, err := hub.NewHandler(notificationHub, notificationService, cfg.HubAllowedOrigins, logger)
	if err != nil {
		logger.Fatalf("ws handler init error: %v", err)
	}

	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), cfg.IngestMaxSkew)
	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/ingest/alerts", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/incidents", incidentHandler)
	mux.Handle("/api/v1/incidents/", incidentHandler)
	mux.Handle("/api/v1/incidents/stream", incidenthttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/exports/incidents.xlsx", exportHandler)
	mux.Handle("/api/v1/exports/incidents.csv", apihttp.NewExportIncidentsCSVHandler(db))
	mux.Handle("/api/v1/notifications/", notificationHandler)
	mux.Handle("/ws/notifications", wsHandler)
	mux.Handle("/api/v1/ops/dead-letters", apihttp.NewDeadLettersHandler(dlqStore))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var consumer *alertbus.Consumer
	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = alertbus.Connect(alertbus.Config{URL: cfg.NATSURL, Name: "incident-cloud"}, logger)
		if err != nil {
			logger.Fatalf("nats connect error: %v", err)
		}
		defer natsConn.Close()
		consumer, err = alertbus.NewConsumer(
			incidentService,
			alertbus.WithSubject(cfg.NATSAlertSubject),
			alertbus.WithLogger(logger),
		)
		if err != nil {
			logger.Fatalf("alert consumer init error: %v", err)
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Printf("incident-cloud listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		return dispatcher.Run(ctx, cfg.OutboxDispatchInterval, 100, logger)
	})
	group.Go(func() error {
		pruneProcessed(ctx, processedStore, cfg.ProcessedRetention, logger)
		return nil
	})
	if relay != nil {
		group.Go(func() error {
			// Local delivery keeps working without the relay.
			if err := relay.Run(ctx); err != nil {
				logger.Printf("notification relay stopped: %v", err)
			}
			return nil
		})
	}
	if consumer != nil {
		group.Go(func() error {
			return consumer.Run(ctx, natsConn)
		})
	}

	if err := group.Wait(); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}

func pruneProcessed(ctx context.Context, store *eventingrepo.ProcessedStore, retention time.Duration, logger *log.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Prune(ctx, retention)
			if err != nil {
				logger.Printf("processed events prune: %v", err)
				continue
			}
			if removed > 0 {
				logger.Printf("processed events pruned=%d", removed)
			}
		}
	}
}

type config struct {
	DatabaseURL            string
	HTTPAddr               string
	JWTSecret              string
	IngestSecret           string
	IngestMaxSkew          time.Duration
	OncallServiceURL       string
	OncallServiceToken     string
	RoutingConfig          string
	AutoAssign             bool
	HubSendTimeout         time.Duration
	HubAllowedOrigins      []string
	RedisAddr              string
	RedisChannel           string
	NATSURL                string
	NATSAlertSubject       string
	EscalationAfter        time.Duration
	EscalationWebhookURL   string
	EscalationWebhookToken string
	EscalationTemplate     string
	OutboxDispatchInterval time.Duration
	ProcessedRetention     time.Duration
	MigrateOnStart         bool
}

func loadConfig() config {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv("PG_DSN")
	}
	if dsn == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	jwtSecret := os.Getenv("AUTH_JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	ingestSecret := os.Getenv("INGEST_HMAC_SECRET")
	if ingestSecret == "" {
		log.Fatal("INGEST_HMAC_SECRET is required")
	}

	return config{
		DatabaseURL:            dsn,
		HTTPAddr:               getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:              jwtSecret,
		IngestSecret:           ingestSecret,
		IngestMaxSkew:          time.Duration(getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300)) * time.Second,
		OncallServiceURL:       os.Getenv("ONCALL_SERVICE_URL"),
		OncallServiceToken:     os.Getenv("ONCALL_SERVICE_TOKEN"),
		RoutingConfig:          os.Getenv("ROUTING_CONFIG"),
		AutoAssign:             getenvBool("AUTO_ASSIGN", true),
		HubSendTimeout:         getenvDuration("HUB_SEND_TIMEOUT", 2*time.Second),
		HubAllowedOrigins:      splitList(os.Getenv("HUB_ALLOWED_ORIGINS")),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisChannel:           getenvDefault("REDIS_CHANNEL", notificationredis.DefaultChannel),
		NATSURL:                os.Getenv("NATS_URL"),
		NATSAlertSubject:       getenvDefault("NATS_ALERT_SUBJECT", alertbus.DefaultSubject),
		EscalationAfter:        getenvDuration("ESCALATION_AFTER", 5*time.Minute),
		EscalationWebhookURL:   os.Getenv("ESCALATION_WEBHOOK_URL"),
		EscalationWebhookToken: os.Getenv("ESCALATION_WEBHOOK_TOKEN"),
		EscalationTemplate:     os.Getenv("ESCALATION_TEMPLATE"),
		OutboxDispatchInterval: getenvDuration("OUTBOX_DISPATCH_INTERVAL", 2*time.Second),
		ProcessedRetention:     getenvDuration("PROCESSED_RETENTION", 72*time.Hour),
		MigrateOnStart:         getenvBool("MIGRATE_ON_START", false),
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the incident stream working behind the middleware.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack is required for websocket upgrades.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}
