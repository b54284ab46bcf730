package middleware

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/contextkey"
	"judgeflow/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	userIDContextKey   = "user_id"
	userRoleContextKey = "user_role"

	RoleAdmin = "admin"
)

// Identity is the authenticated caller extracted from an access token.
type Identity struct {
	UserID int64
	Role   string
}

// IsAdmin reports whether the caller carries the admin role.
func (i Identity) IsAdmin() bool {
	return strings.EqualFold(i.Role, RoleAdmin)
}

// JWTConfig configures access token verification. Tokens are issued elsewhere.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

type accessClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 access tokens.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(cfg JWTConfig) (*TokenVerifier, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &TokenVerifier{secret: []byte(cfg.Secret), issuer: cfg.Issuer}, nil
}

// Verify parses raw and returns the caller identity.
func (v *TokenVerifier) Verify(raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, appErr.New(appErr.Unauthorized)
	}
	parsed, err := jwt.ParseWithClaims(raw, &accessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, appErr.New(appErr.TokenExpired)
		}
		return Identity{}, appErr.New(appErr.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid {
		return Identity{}, appErr.New(appErr.TokenInvalid)
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return Identity{}, appErr.New(appErr.TokenInvalid)
	}
	if claims.TokenType != "" && claims.TokenType != "access" {
		return Identity{}, appErr.New(appErr.TokenInvalid)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Identity{}, appErr.New(appErr.TokenInvalid)
	}
	return Identity{UserID: userID, Role: claims.Role}, nil
}

// JWTAuth rejects requests without a valid bearer token and stores the
// identity on the gin and request contexts.
func JWTAuth(verifier *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			response.AbortWithErrorCode(c, appErr.ServiceUnavailable, "auth unavailable")
			return
		}
		identity, err := verifier.Verify(requestToken(c))
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		c.Set(userIDContextKey, identity.UserID)
		c.Set(userRoleContextKey, identity.Role)
		ctx := context.WithValue(c.Request.Context(), contextkey.UserID, identity.UserID)
		ctx = context.WithValue(ctx, contextkey.UserRole, identity.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// IdentityFrom returns the identity set by JWTAuth.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	raw, ok := c.Get(userIDContextKey)
	if !ok {
		return Identity{}, false
	}
	userID, ok := raw.(int64)
	if !ok {
		return Identity{}, false
	}
	role, _ := c.Get(userRoleContextKey)
	roleStr, _ := role.(string)
	return Identity{UserID: userID, Role: roleStr}, true
}

// WebSocketTokenParam carries the access token on websocket upgrades, where
// browsers cannot set an Authorization header.
const WebSocketTokenParam = "access_token"

func requestToken(c *gin.Context) string {
	if raw := extractBearerToken(c.GetHeader("Authorization")); raw != "" {
		return raw
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return c.Query(WebSocketTokenParam)
	}
	return ""
}

func extractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
