package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"judgeflow/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func TestTraceContextMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(TraceContextMiddleware())
	router.GET("/trace", func(c *gin.Context) {
		ctx := c.Request.Context()
		c.JSON(http.StatusOK, gin.H{
			"trace_id":       c.GetString("trace_id"),
			"ctx_trace_id":   fmt.Sprint(ctx.Value(contextkey.TraceID)),
			"ctx_request_id": fmt.Sprint(ctx.Value(contextkey.RequestID)),
		})
	})

	cases := []struct {
		name          string
		headers       map[string]string
		expectedTrace string
	}{
		{name: "generate ids"},
		{name: "preserve ids", headers: map[string]string{"X-Trace-Id": "trace-123", "X-Request-Id": "req-1"}, expectedTrace: "trace-123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/trace", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			router.ServeHTTP(rec, req)

			var resp map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response failed: %v", err)
			}
			if resp["trace_id"] == "" || resp["trace_id"] != resp["ctx_trace_id"] {
				t.Fatalf("trace id mismatch: %v", resp)
			}
			if resp["ctx_request_id"] == "" || resp["ctx_request_id"] == "<nil>" {
				t.Fatalf("expected request id in request context")
			}
			if tc.expectedTrace != "" && rec.Header().Get("X-Trace-Id") != tc.expectedTrace {
				t.Fatalf("expected trace id header %s, got %s", tc.expectedTrace, rec.Header().Get("X-Trace-Id"))
			}
		})
	}
}

func signToken(t *testing.T, secret string, claims accessClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier, err := NewTokenVerifier(JWTConfig{Secret: "s3cret", Issuer: "judgeflow"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	router := gin.New()
	router.Use(JWTAuth(verifier))
	router.GET("/me", func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "admin": id.IsAdmin()})
	})

	valid := signToken(t, "s3cret", accessClaims{
		Role:      "admin",
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			Issuer:    "judgeflow",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	expired := signToken(t, "s3cret", accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			Issuer:    "judgeflow",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	wrongKey := signToken(t, "other", accessClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "42", Issuer: "judgeflow"}})

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			router.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d, body=%s", rec.Code, tc.status, rec.Body.String())
			}
		})
	}

	upgrade := httptest.NewRequest(http.MethodGet, "/me?"+WebSocketTokenParam+"="+valid, nil)
	upgrade.Header.Set("Upgrade", "websocket")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, upgrade)
	if rec.Code != http.StatusOK {
		t.Fatalf("websocket query token rejected: %d %s", rec.Code, rec.Body.String())
	}
	plain := httptest.NewRequest(http.MethodGet, "/me?"+WebSocketTokenParam+"="+valid, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, plain)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("query token outside websocket upgrade accepted: %d", rec.Code)
	}
}
