package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

var testKey = []byte("test-secret")

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func captureClaims(got **Claims) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got, _ = GetUserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareSkipAuth(t *testing.T) {
	a := NewAuthenticator(Config{SkipAuth: true}, zerolog.Nop())

	var claims *Claims
	rec := httptest.NewRecorder()
	a.Middleware(captureClaims(&claims)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/agent", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if claims == nil || claims.Role != "admin" {
		t.Fatalf("expected dev admin claims, got %+v", claims)
	}
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	a := NewAuthenticator(Config{Env: "development"}, zerolog.Nop())

	var claims *Claims
	rec := httptest.NewRecorder()
	a.Middleware(captureClaims(&claims)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestMiddlewareHealthBypass(t *testing.T) {
	a := NewAuthenticator(Config{Env: "production"}, zerolog.Nop())

	var claims *Claims
	rec := httptest.NewRecorder()
	a.Middleware(captureClaims(&claims)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestValidateTokenExtractsAgentIdentity(t *testing.T) {
	tests := []struct {
		name       string
		claims     jwt.MapClaims
		wantHandle string
		wantRole   string
	}{
		{
			name: "explicit agent handle",
			claims: jwt.MapClaims{
				"sub":          "u1",
				"company_id":   "acme",
				"agent_handle": "alice",
				"realm_access": map[string]interface{}{"roles": []interface{}{"viewer", "agent"}},
			},
			wantHandle: "alice",
			wantRole:   "agent",
		},
		{
			name: "preferred username fallback",
			claims: jwt.MapClaims{
				"sub":                "u2",
				"company_id":         "acme",
				"preferred_username": "bob",
				"cognito:groups":     []interface{}{"acme-admin"},
			},
			wantHandle: "bob",
			wantRole:   "admin",
		},
		{
			name:       "no roles defaults to viewer",
			claims:     jwt.MapClaims{"sub": "u3", "company_id": "acme", "agent_handle": "carol"},
			wantHandle: "carol",
			wantRole:   "viewer",
		},
	}

	a := NewAuthenticator(Config{Env: "development"}, zerolog.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := a.ValidateToken(signed(t, tt.claims))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if claims.CompanyID != "acme" {
				t.Errorf("expected company acme, got %q", claims.CompanyID)
			}
			if claims.AgentHandle != tt.wantHandle {
				t.Errorf("expected handle %q, got %q", tt.wantHandle, claims.AgentHandle)
			}
			if claims.Role != tt.wantRole {
				t.Errorf("expected role %q, got %q", tt.wantRole, claims.Role)
			}
		})
	}
}

func TestValidateTokenExpiredInDevelopment(t *testing.T) {
	a := NewAuthenticator(Config{Env: "development"}, zerolog.Nop())
	token := signed(t, jwt.MapClaims{"sub": "u1", "exp": float64(time.Now().Add(-time.Hour).Unix())})

	if _, err := a.ValidateToken(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestValidateTokenVerifiesSignature(t *testing.T) {
	a := NewAuthenticator(Config{Env: "production"}, zerolog.Nop()).
		WithKeyfunc(func(*jwt.Token) (interface{}, error) { return testKey, nil })

	good := signed(t, jwt.MapClaims{"sub": "u1", "company_id": "acme", "exp": float64(time.Now().Add(time.Hour).Unix())})
	claims, err := a.ValidateToken(good)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.Subject != "u1" {
		t.Errorf("expected subject u1, got %q", claims.Subject)
	}

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"}).SignedString([]byte("other"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.ValidateToken(forged); err == nil {
		t.Error("expected forged token to be rejected")
	}
}

func TestExtractTokenFromQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws/agent?token=abc", nil)
	if got := extractToken(req); got != "abc" {
		t.Errorf("expected token from query, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/ws/agent?token=abc", nil)
	req.Header.Set("Authorization", "Bearer xyz")
	if got := extractToken(req); got != "xyz" {
		t.Errorf("expected header to win, got %q", got)
	}
}
