package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/audit"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/config"
)

const testSecret = "forklift-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func viewerClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":    "viewer-1",
		"roles":  []string{RoleViewer},
		"scopes": []string{ScopeRead, ScopeTelemetry},
		"exp":    time.Now().Add(time.Hour).Unix(),
	}
}

func operatorClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":    "operator-1",
		"roles":  []string{RoleOperator},
		"scopes": []string{ScopeRead, ScopeControl, ScopeTelemetry},
		"exp":    time.Now().Add(time.Hour).Unix(),
	}
}

func TestVerifyHS256(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{Algorithm: AlgorithmHS256, SecretKey: testSecret})
	if err != nil {
		t.Fatalf("NewVerifier() failed: %v", err)
	}

	expired := operatorClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	badScope := viewerClaims()
	badScope["scopes"] = []string{"lift:admin"}
	noRoles := viewerClaims()
	delete(noRoles, "roles")

	tests := []struct {
		name    string
		token   string
		wantSub string
	}{
		{"viewer", signHS256(t, testSecret, viewerClaims()), "viewer-1"},
		{"operator", signHS256(t, testSecret, operatorClaims()), "operator-1"},
		{"wrong secret", signHS256(t, "other", viewerClaims()), ""},
		{"expired", signHS256(t, testSecret, expired), ""},
		{"unknown scope", signHS256(t, testSecret, badScope), ""},
		{"missing roles", signHS256(t, testSecret, noRoles), ""},
		{"garbage", "not.a.jwt", ""},
		{"empty", " ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.VerifyToken(tt.token)
			if tt.wantSub == "" {
				if err == nil {
					t.Fatalf("VerifyToken() accepted %+v", claims)
				}
				return
			}
			if err != nil {
				t.Fatalf("VerifyToken() failed: %v", err)
			}
			if claims.Subject != tt.wantSub {
				t.Errorf("Subject = %q, want %q", claims.Subject, tt.wantSub)
			}
		})
	}
}

func TestVerifyRS256FromConfig(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "jwt.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	v, err := NewVerifierFromConfig(config.AuthConfig{Enabled: true, PublicKeyFile: path})
	if err != nil {
		t.Fatalf("NewVerifierFromConfig() failed: %v", err)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, operatorClaims()).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	claims, err := v.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken() failed: %v", err)
	}
	if claims.Subject != "operator-1" {
		t.Errorf("Subject = %q", claims.Subject)
	}

	// An HS256 token must not pass an RS256 verifier.
	if _, err := v.VerifyToken(signHS256(t, testSecret, operatorClaims())); err == nil {
		t.Error("RS256 verifier accepted an HS256 token")
	}
}

func TestNewVerifierErrors(t *testing.T) {
	tests := []VerifierConfig{
		{Algorithm: AlgorithmHS256},
		{Algorithm: AlgorithmRS256, PublicKeyPEM: "not pem"},
		{Algorithm: "none"},
	}
	for _, cfg := range tests {
		if _, err := NewVerifier(cfg); err == nil {
			t.Errorf("NewVerifier(%+v) succeeded", cfg)
		}
	}
	if _, err := NewVerifierFromConfig(config.AuthConfig{PublicKeyFile: "/nonexistent/key.pem"}); err == nil {
		t.Error("NewVerifierFromConfig() succeeded with a missing key file")
	}
}

func newRouter(m *Middleware) *gin.Engine {
	r := gin.New()
	api := r.Group("/api/v1", m.RequireAuth())
	api.GET("/robot", m.RequireScope(ScopeRead), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": audit.UserFromContext(c.Request.Context())})
	})
	api.POST("/robot/stop", m.RequireScope(ScopeControl), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"result": "ok"})
	})
	return r
}

func TestMiddleware(t *testing.T) {
	logger, _ := test.NewNullLogger()
	v, err := NewVerifier(VerifierConfig{Algorithm: AlgorithmHS256, SecretKey: testSecret})
	if err != nil {
		t.Fatalf("NewVerifier() failed: %v", err)
	}
	router := newRouter(NewMiddleware(v, logger))

	viewer := "Bearer " + signHS256(t, testSecret, viewerClaims())
	operator := "Bearer " + signHS256(t, testSecret, operatorClaims())

	tests := []struct {
		name     string
		method   string
		path     string
		header   string
		status   int
		wantCode string
	}{
		{"no header", http.MethodGet, "/api/v1/robot", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"basic auth", http.MethodGet, "/api/v1/robot", "Basic abc", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"bad token", http.MethodGet, "/api/v1/robot", "Bearer nope", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"viewer reads", http.MethodGet, "/api/v1/robot", viewer, http.StatusOK, ""},
		{"viewer cannot stop", http.MethodPost, "/api/v1/robot/stop", viewer, http.StatusForbidden, "FORBIDDEN"},
		{"operator stops", http.MethodPost, "/api/v1/robot/stop", operator, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			if tt.wantCode == "" {
				return
			}
			var body map[string]interface{}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["code"] != tt.wantCode || body["result"] != "error" {
				t.Errorf("body = %v", body)
			}
			if _, ok := body["correlationId"]; !ok {
				t.Error("error response lacks correlationId")
			}
		})
	}
}

func TestMiddlewareSetsAuditUser(t *testing.T) {
	logger, _ := test.NewNullLogger()
	v, _ := NewVerifier(VerifierConfig{Algorithm: AlgorithmHS256, SecretKey: testSecret})
	router := newRouter(NewMiddleware(v, logger))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/robot", nil)
	req.Header.Set("Authorization", "Bearer "+signHS256(t, testSecret, viewerClaims()))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["user"] != "viewer-1" {
		t.Errorf("audit user = %q, want viewer-1", body["user"])
	}
}

func TestDisabledMiddlewareAllowsAll(t *testing.T) {
	logger, _ := test.NewNullLogger()
	m := NewMiddleware(nil, logger)
	if m.Enabled() {
		t.Fatal("Enabled() = true without a verifier")
	}
	router := newRouter(m)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/robot/stop", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
