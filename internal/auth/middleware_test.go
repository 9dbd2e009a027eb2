package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims(subject string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{"attendance"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

func newRouter(audience string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWTMiddleware(testSecret, audience), func(c *gin.Context) {
		id, _ := GetOperatorID(c.Request.Context())
		c.String(http.StatusOK, id)
	})
	return r
}

func TestJWTMiddleware(t *testing.T) {
	expired := validClaims("op-1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	tests := []struct {
		name     string
		audience string
		header   string
		cookie   string
		status   int
		body     string
	}{
		{"bearer token", "attendance", "Bearer " + signToken(t, testSecret, validClaims("op-1")), "", http.StatusOK, "op-1"},
		{"session cookie", "", "", signToken(t, testSecret, validClaims("op-2")), http.StatusOK, "op-2"},
		{"missing token", "", "", "", http.StatusUnauthorized, ""},
		{"malformed header", "", "Token abc", "", http.StatusUnauthorized, ""},
		{"wrong secret", "", "Bearer " + signToken(t, "other", validClaims("op-1")), "", http.StatusUnauthorized, ""},
		{"expired", "", "Bearer " + signToken(t, testSecret, expired), "", http.StatusUnauthorized, ""},
		{"wrong audience", "kiosk", "Bearer " + signToken(t, testSecret, validClaims("op-1")), "", http.StatusUnauthorized, ""},
		{"missing subject", "", "Bearer " + signToken(t, testSecret, validClaims("")), "", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tt.cookie})
			}
			resp := httptest.NewRecorder()
			newRouter(tt.audience).ServeHTTP(resp, req)

			if resp.Code != tt.status {
				t.Fatalf("expected status %d, got %d (%s)", tt.status, resp.Code, resp.Body.String())
			}
			if tt.body != "" && resp.Body.String() != tt.body {
				t.Fatalf("expected body %q, got %q", tt.body, resp.Body.String())
			}
		})
	}
}

func TestJWTMiddlewareRequiresSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWTMiddleware(" ", ""), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, validClaims("op")))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
}

func TestGetOperatorIDWithoutValue(t *testing.T) {
	if _, ok := GetOperatorID(nil); ok { //nolint:staticcheck
		t.Fatal("expected no operator for nil context")
	}
}
