package api

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"quantbt/internal/config"
	"quantbt/internal/monitor"
)

// Claims is the JWT payload of an operator session.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies operator tokens.
type TokenManager struct {
	secret   []byte
	duration time.Duration
}

// NewTokenManager creates a token manager from the JWT configuration.
func NewTokenManager(cfg config.JWTConfig) *TokenManager {
	duration := cfg.Duration
	if duration <= 0 {
		duration = 24 * time.Hour
	}
	return &TokenManager{
		secret:   []byte(cfg.SecretKey),
		duration: duration,
	}
}

// GenerateToken signs a token for the named operator.
func (tm *TokenManager) GenerateToken(username string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(tm.duration)

	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyToken parses and validates a signed token.
func (tm *TokenManager) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// AuthMiddleware rejects requests without a valid Bearer token. It is a
// pass-through when operator authentication is disabled.
func (tm *TokenManager) AuthMiddleware(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			c.JSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "Authorization header required",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "Invalid authorization header format",
			})
			c.Abort()
			return
		}

		claims, err := tm.VerifyToken(parts[1])
		if err != nil {
			msg := "Invalid token"
			if stderrors.Is(err, jwt.ErrTokenExpired) {
				msg = "Token expired"
			}
			c.JSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   msg,
			})
			c.Abort()
			return
		}

		c.Set("username", claims.Username)
		c.Next()
	}
}

// @Summary Operator login
// @Description Authenticate the configured operator and return a JWT
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} Response{data=AuthResponse}
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Router /auth/login [post]
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	auth := s.config.Auth
	if !auth.Enabled {
		c.JSON(http.StatusNotFound, Response{
			Success: false,
			Error:   "Authentication is disabled",
		})
		return
	}

	// 用户名和口令哈希都来自配置, 不查库
	if req.Username != auth.Username ||
		bcrypt.CompareHashAndPassword([]byte(auth.PasswordHash), []byte(req.Password)) != nil {
		s.audit.Log(monitor.AuditLog{
			UserID:   req.Username,
			Action:   "login",
			Resource: "auth",
			Result:   monitor.AuditResultFailure,
		})
		c.JSON(http.StatusUnauthorized, Response{
			Success: false,
			Error:   "Invalid credentials",
		})
		return
	}

	token, expiresAt, err := s.tokens.GenerateToken(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "Failed to generate access token",
		})
		return
	}

	s.audit.Log(monitor.AuditLog{
		UserID:   req.Username,
		Action:   "login",
		Resource: "auth",
		Result:   monitor.AuditResultSuccess,
	})

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: AuthResponse{
			AccessToken: token,
			ExpiresAt:   expiresAt,
			Username:    req.Username,
		},
	})
}
