package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"incident-cloud/internal/auth"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

type config struct {
	baseURL  string
	secret   string
	natsURL  string
	subject  string
	count    int
	interval time.Duration
	rooms    int
}

type alert struct {
	AlertID   string `json:"alert_id"`
	PatientID string `json:"patient_id"`
	Room      string `json:"room"`
	AlertType string `json:"alert_type"`
	Severity  string `json:"severity"`
}

var (
	alertTypes = []string{"CARDIAC_ARREST", "FALL_DETECTED", "LOW_SPO2", "HIGH_HEART_RATE", "CALL_BUTTON"}
	severities = []string{"CRITICAL", "HIGH", "MEDIUM", "LOW"}
)

func main() {
	cfg := parseConfig()
	if cfg.count <= 0 {
		log.Fatal("count must be > 0")
	}
	if cfg.natsURL == "" && cfg.secret == "" {
		log.Fatal("INGEST_HMAC_SECRET is required for http delivery")
	}

	var conn *nats.Conn
	if cfg.natsURL != "" {
		var err error
		conn, err = nats.Connect(cfg.natsURL, nats.Name("alert-sim"), nats.Timeout(5*time.Second))
		if err != nil {
			log.Fatalf("nats connect: %v", err)
		}
		defer conn.Close()
	}

	client := &http.Client{Timeout: 10 * time.Second}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ctx := context.Background()

	var sent, failed int
	for i := 0; i < cfg.count; i++ {
		payload := randomAlert(rng, cfg.rooms)
		var err error
		if conn != nil {
			err = publishNATS(conn, cfg.subject, payload)
		} else {
			err = postHTTP(ctx, client, cfg, payload)
		}
		if err != nil {
			failed++
			log.Printf("alert %s failed: %v", payload.AlertID, err)
		} else {
			sent++
			log.Printf("alert %s sent room=%s type=%s severity=%s", payload.AlertID, payload.Room, payload.AlertType, payload.Severity)
		}
		if cfg.interval > 0 && i < cfg.count-1 {
			time.Sleep(cfg.interval)
		}
	}
	log.Printf("alert sim completed sent=%d failed=%d", sent, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.baseURL, "base-url", envOrDefault("BASE_URL", "http://localhost:8080"), "incident API base URL")
	flag.StringVar(&cfg.secret, "secret", envOrDefault("INGEST_HMAC_SECRET", ""), "ingest HMAC secret")
	flag.StringVar(&cfg.natsURL, "nats-url", envOrDefault("NATS_URL", ""), "publish over NATS instead of HTTP")
	flag.StringVar(&cfg.subject, "subject", envOrDefault("NATS_ALERT_SUBJECT", "alerts"), "NATS alert subject")
	flag.IntVar(&cfg.count, "count", envOrInt("COUNT", 10), "number of alerts to send")
	flag.DurationVar(&cfg.interval, "interval", 500*time.Millisecond, "delay between alerts")
	flag.IntVar(&cfg.rooms, "rooms", envOrInt("ROOMS", 20), "number of distinct rooms")
	flag.Parse()
	return cfg
}

func randomAlert(rng *rand.Rand, rooms int) alert {
	if rooms <= 0 {
		rooms = 1
	}
	return alert{
		AlertID:   uuid.NewString(),
		PatientID: fmt.Sprintf("P-%05d", rng.Intn(100000)),
		Room:      fmt.Sprintf("%d%02d", 1+rng.Intn(4), 1+rng.Intn(rooms)),
		AlertType: alertTypes[rng.Intn(len(alertTypes))],
		Severity:  severities[rng.Intn(len(severities))],
	}
}

func postHTTP(ctx context.Context, client *http.Client, cfg config, payload alert) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := strings.TrimRight(cfg.baseURL, "/") + "/ingest/alerts"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderIngestTimestamp, ts)
	req.Header.Set(auth.HeaderIngestSignature, auth.SignIngest([]byte(cfg.secret), ts, body))

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func publishNATS(conn *nats.Conn, subject string, payload alert) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := conn.Request(subject, body, 5*time.Second)
	if err != nil {
		return err
	}
	var reply struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(msg.Data, &reply); err == nil && reply.Error != "" {
		return fmt.Errorf("consumer: %s", reply.Error)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
