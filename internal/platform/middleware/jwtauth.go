// Package middleware provides HTTP middleware for the analytical core's
// HTTP boundary.
package middleware

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jackdawsentry/sentry-core/internal/platform/errors"
	"github.com/jackdawsentry/sentry-core/internal/platform/httputil"
	"github.com/jackdawsentry/sentry-core/internal/platform/logging"
	"github.com/jackdawsentry/sentry-core/internal/platform/security"
)

// =============================================================================
// Auth Constants
// =============================================================================

const (
	// BearerPrefix is the expected prefix on the Authorization header.
	BearerPrefix = "Bearer "

	// UserIDHeader is the header name the upstream auth boundary uses to
	// propagate an already-authenticated user ID.
	UserIDHeader = httputil.UserIDHeader

	// DefaultTokenExpiry is the default expiration time for minted tokens.
	DefaultTokenExpiry = 15 * time.Minute
)

// =============================================================================
// Claims
// =============================================================================

// UserClaims represents the JWT claims issued to analysts and operators
// accessing the analytical core's HTTP API.
type UserClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// cachedToken stores validated token info with expiry.
type cachedToken struct {
	claims    *UserClaims
	expiresAt time.Time
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware validates bearer JWTs issued to human operators (case
// analysts, compliance reviewers, administrators) calling the HTTP API.
type AuthMiddleware struct {
	publicKey       *rsa.PublicKey
	logger          *logging.Logger
	skipPaths       map[string]bool
	mu              sync.RWMutex
	validatedTokens map[string]*cachedToken
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
}

// AuthConfig configures the auth middleware.
type AuthConfig struct {
	PublicKey *rsa.PublicKey
	Logger    *logging.Logger
	SkipPaths []string
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(cfg AuthConfig) *AuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range cfg.SkipPaths {
		skip[path] = true
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("auth", "info", "json")
	}

	m := &AuthMiddleware{
		publicKey:       cfg.PublicKey,
		logger:          logger,
		skipPaths:       skip,
		validatedTokens: make(map[string]*cachedToken),
		stopCleanup:     make(chan struct{}),
	}

	m.startBackgroundCleanup()

	return m
}

// Handler returns the middleware handler function.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			m.respondError(w, r, errors.Unauthorized("missing bearer token"))
			return
		}

		claims, err := m.validateToken(token)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("token validation failed")
			m.respondError(w, r, err)
			return
		}

		ctx := logging.WithUserID(r.Context(), claims.UserID)
		ctx = logging.WithRole(ctx, claims.Role)

		m.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"user_id": claims.UserID,
			"role":    claims.Role,
		}).Debug("authentication successful")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, BearerPrefix) {
		return ""
	}
	return strings.TrimPrefix(header, BearerPrefix)
}

// validateToken validates a bearer JWT and returns its claims.
func (m *AuthMiddleware) validateToken(tokenString string) (*UserClaims, error) {
	if m.publicKey == nil {
		return nil, errors.Internal("auth is not configured", nil)
	}

	if cached := m.getCachedToken(tokenString); cached != nil {
		return cached, nil
	}

	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
		}
		return m.publicKey, nil
	})
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	if !token.Valid {
		return nil, errors.InvalidToken(nil)
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "invalid claims type")
	}
	if claims.UserID == "" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "missing user_id claim")
	}

	m.cacheToken(tokenString, claims)

	return claims, nil
}

func (m *AuthMiddleware) getCachedToken(tokenString string) *UserClaims {
	m.mu.RLock()
	cached, ok := m.validatedTokens[tokenString]
	if !ok {
		m.mu.RUnlock()
		return nil
	}

	if time.Now().After(cached.expiresAt) {
		m.mu.RUnlock()
		m.mu.Lock()
		if current, ok := m.validatedTokens[tokenString]; ok && time.Now().After(current.expiresAt) {
			delete(m.validatedTokens, tokenString)
		}
		m.mu.Unlock()
		return nil
	}

	m.mu.RUnlock()
	return cached.claims
}

func (m *AuthMiddleware) cacheToken(tokenString string, claims *UserClaims) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cacheExpiry := time.Now().Add(5 * time.Minute)
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(cacheExpiry) {
		cacheExpiry = claims.ExpiresAt.Time
	}

	m.validatedTokens[tokenString] = &cachedToken{
		claims:    claims,
		expiresAt: cacheExpiry,
	}

	if len(m.validatedTokens) > 1000 {
		m.cleanupCache()
	}
}

func (m *AuthMiddleware) cleanupCache() {
	now := time.Now()
	for key, cached := range m.validatedTokens {
		if now.After(cached.expiresAt) {
			delete(m.validatedTokens, key)
		}
	}
}

func (m *AuthMiddleware) startBackgroundCleanup() {
	m.cleanupOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(2 * time.Minute)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					m.mu.Lock()
					m.cleanupCache()
					cacheSize := len(m.validatedTokens)
					m.mu.Unlock()

					m.logger.WithFields(map[string]interface{}{
						"cache_size": cacheSize,
					}).Debug("token cache cleanup completed")

				case <-m.stopCleanup:
					m.logger.WithFields(nil).Info("token cache cleanup goroutine stopped")
					return
				}
			}
		}()
	})
}

// StopCleanup stops the background cleanup goroutine.
func (m *AuthMiddleware) StopCleanup() {
	select {
	case <-m.stopCleanup:
	default:
		close(m.stopCleanup)
	}
}

// InvalidateCache clears all cached tokens (e.g. after key rotation).
func (m *AuthMiddleware) InvalidateCache() {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldSize := len(m.validatedTokens)
	m.validatedTokens = make(map[string]*cachedToken)

	m.logger.WithFields(map[string]interface{}{
		"invalidated_count": oldSize,
	}).Info("token cache invalidated")
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("authentication failed", err)
	}

	sanitizedMessage := security.SanitizeString(serviceErr.Message)
	sanitizedDetails := security.SanitizeMap(serviceErr.Details)

	httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), sanitizedMessage, sanitizedDetails)

	sanitizedErrMsg := security.SanitizeError(err)
	m.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
	}).Warnf("authentication failed: %s", sanitizedErrMsg)
}

// =============================================================================
// Helper Functions
// =============================================================================

// GetUserID extracts user ID from context.
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// GetUserRole extracts the user role from context when present.
func GetUserRole(ctx context.Context) string {
	return logging.GetRole(ctx)
}

// RequireUserIDHeader is a middleware that requires the X-User-ID header,
// for internal surfaces fronted by a trusted gateway that has already
// authenticated the caller.
func RequireUserIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserIDHeader)
		if userID == "" {
			httputil.WriteErrorResponse(w, r, http.StatusUnauthorized, "USER_ID_REQUIRED", "X-User-ID header required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// PEM Key Parsing
// =============================================================================

// ParseRSAPublicKeyFromPEM parses an RSA public key from PEM bytes.
// Supported PEM types: PUBLIC KEY (PKIX), RSA PUBLIC KEY (PKCS#1), CERTIFICATE.
func ParseRSAPublicKeyFromPEM(pemBytes []byte) (*rsa.PublicKey, error) {
	rest := pemBytes
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, fmt.Errorf("no PEM public key found")
		}

		switch block.Type {
		case "PUBLIC KEY":
			pubAny, err := x509.ParsePKIXPublicKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse PKIX public key: %w", err)
			}
			pub, ok := pubAny.(*rsa.PublicKey)
			if !ok {
				return nil, fmt.Errorf("public key is not RSA")
			}
			return pub, nil
		case "RSA PUBLIC KEY":
			pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse PKCS#1 public key: %w", err)
			}
			return pub, nil
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse certificate: %w", err)
			}
			pub, ok := cert.PublicKey.(*rsa.PublicKey)
			if !ok {
				return nil, fmt.Errorf("certificate public key is not RSA")
			}
			return pub, nil
		}

		if len(rest) == 0 {
			return nil, fmt.Errorf("no supported PEM public key found")
		}
	}
}

// ParseRSAPrivateKeyFromPEM parses an RSA private key from PEM bytes.
// Supported PEM types: RSA PRIVATE KEY (PKCS#1), PRIVATE KEY (PKCS#8).
func ParseRSAPrivateKeyFromPEM(pemBytes []byte) (*rsa.PrivateKey, error) {
	rest := pemBytes
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, fmt.Errorf("no PEM private key found")
		}

		switch block.Type {
		case "RSA PRIVATE KEY":
			priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse PKCS#1 private key: %w", err)
			}
			return priv, nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse PKCS#8 private key: %w", err)
			}
			priv, ok := key.(*rsa.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("private key is not RSA")
			}
			return priv, nil
		}

		if len(rest) == 0 {
			return nil, fmt.Errorf("no supported PEM private key found")
		}
	}
}
