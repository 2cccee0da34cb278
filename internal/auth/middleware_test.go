package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	secret := []byte("test-secret")
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestAuthMiddleware_ViewerForbiddenClaim(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "E1", "viewer")
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/incidents/INC-1/claim", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestAuthMiddleware_OperatorForbiddenAutoAssign(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "E1", "operator")
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/incidents/INC-1/auto-assign", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestAuthMiddleware_InjectsIdentity(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "E7", "operator")
	var got Identity
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/incidents/INC-1/acknowledge", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if got.EmployeeID != "E7" || got.Role != RoleOperator || got.Name != "Test User" {
		t.Fatalf("unexpected identity %+v", got)
	}
}

func TestAuthMiddleware_QueryTokenForWebSocket(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueJWT(secret, "E3", "Cara", RoleViewer, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/ws/notifications?access_token="+token, nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestAuthMiddleware_ExemptPaths(t *testing.T) {
	handler := NewMiddleware([]byte("s"), NewDefaultPolicy([]string{"/healthz"}, []string{"/ingest/"})).Wrap(okHandler())
	for _, path := range []string{"/healthz", "/ingest/alerts"} {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.Code)
		}
	}
}

func TestResolveActor(t *testing.T) {
	id, name, err := ResolveActor(context.Background(), "E1", "Ana")
	if err != nil || id != "E1" || name != "Ana" {
		t.Fatalf("unauthenticated passthrough: %s %s %v", id, name, err)
	}

	ctx := WithIdentity(context.Background(), Identity{EmployeeID: "E1", Name: "Ana Silva", Role: RoleOperator})
	id, name, err = ResolveActor(ctx, "", "")
	if err != nil || id != "E1" || name != "Ana Silva" {
		t.Fatalf("fill from token: %s %s %v", id, name, err)
	}
	if _, _, err := ResolveActor(ctx, "E2", ""); !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestEnsureSelf(t *testing.T) {
	operator := WithIdentity(context.Background(), Identity{EmployeeID: "E1", Role: RoleOperator})
	if err := EnsureSelf(operator, "E1"); err != nil {
		t.Fatalf("own inbox: %v", err)
	}
	if err := EnsureSelf(operator, "E2"); !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	admin := WithIdentity(context.Background(), Identity{EmployeeID: "A1", Role: RoleAdmin})
	if err := EnsureSelf(admin, "E2"); err != nil {
		t.Fatalf("admin access: %v", err)
	}
}

func mustToken(t *testing.T, secret []byte, subject, role string) string {
	t.Helper()
	claims := Claims{
		Name: "Test User",
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
