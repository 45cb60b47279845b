package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/audit"
)

// Claims represents the parsed token claims.
type Claims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
	Scopes  []string `json:"scopes"`
}

// ClaimsKey is the gin context key holding *Claims.
const ClaimsKey = "claims"

// Roles.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// Scopes.
const (
	ScopeRead      = "read"
	ScopeControl   = "control"
	ScopeTelemetry = "telemetry"
)

// anonymous is granted every scope when auth is disabled.
var anonymous = &Claims{
	Subject: "anonymous",
	Roles:   []string{RoleOperator},
	Scopes:  []string{ScopeRead, ScopeControl, ScopeTelemetry},
}

// Middleware handles authentication and authorization.
type Middleware struct {
	verifier *Verifier
	logger   *logrus.Entry
}

// NewMiddleware creates a middleware. A nil verifier disables
// authentication and every request acts as an anonymous operator.
func NewMiddleware(verifier *Verifier, logger *logrus.Logger) *Middleware {
	return &Middleware{
		verifier: verifier,
		logger:   logger.WithField("component", "auth"),
	}
}

// Enabled reports whether tokens are checked.
func (m *Middleware) Enabled() bool {
	return m.verifier != nil
}

// RequireAuth verifies the bearer token and stores the claims on the
// context. The token subject becomes the audit user.
func (m *Middleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := anonymous
		if m.verifier != nil {
			token, err := extractBearerToken(c.GetHeader("Authorization"))
			if err != nil {
				abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}
			claims, err = m.verifier.VerifyToken(token)
			if err != nil {
				m.logger.WithError(err).WithField("path", c.Request.URL.Path).Debug("Token rejected")
				abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
				return
			}
		}

		c.Set(ClaimsKey, claims)
		c.Request = c.Request.WithContext(audit.WithUser(c.Request.Context(), claims.Subject))
		c.Next()
	}
}

// RequireScope rejects requests whose claims lack any of scopes.
func (m *Middleware) RequireScope(scopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}
		for _, required := range scopes {
			if !contains(claims.Scopes, required) {
				abort(c, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions")
				return
			}
		}
		c.Next()
	}
}

// GetClaims returns the claims stored by RequireAuth, or nil.
func GetClaims(c *gin.Context) *Claims {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return "", fmt.Errorf("empty token")
	}
	return token, nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

// abort writes an error in the API envelope.
func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"result":        "error",
		"code":          code,
		"message":       message,
		"correlationId": fmt.Sprintf("%d", time.Now().UnixNano()),
	})
}
