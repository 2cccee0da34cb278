package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestIngestAuth(t *testing.T) {
	secret := []byte("ingest-secret")
	body := `{"alert_id":"A-1","patient_id":"P-1","room":"101","alert_type":"FALL_DETECTED","severity":"HIGH"}`
	var seen string
	handler := NewIngestAuthMiddleware(secret, time.Minute).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seen = string(raw)
		w.WriteHeader(http.StatusAccepted)
	}))

	now := strconv.FormatInt(time.Now().Unix(), 10)
	stale := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	cases := []struct {
		name      string
		timestamp string
		signature string
		want      int
	}{
		{"valid", now, SignIngest(secret, now, []byte(body)), http.StatusAccepted},
		{"missing", "", "", http.StatusUnauthorized},
		{"bad signature", now, SignIngest([]byte("other"), now, []byte(body)), http.StatusUnauthorized},
		{"expired", stale, SignIngest(secret, stale, []byte(body)), http.StatusUnauthorized},
		{"bad timestamp", "yesterday", "abc", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodPost, "/ingest/alerts", strings.NewReader(body))
			if tc.timestamp != "" {
				req.Header.Set(HeaderIngestTimestamp, tc.timestamp)
			}
			if tc.signature != "" {
				req.Header.Set(HeaderIngestSignature, tc.signature)
			}
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.Code)
			}
			if tc.want == http.StatusAccepted && seen != body {
				t.Fatalf("body not restored: %q", seen)
			}
		})
	}
}
