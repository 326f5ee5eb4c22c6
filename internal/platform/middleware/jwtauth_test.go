package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jackdawsentry/sentry-core/internal/platform/logging"
)

// =============================================================================
// Test Helpers
// =============================================================================

func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key pair: %v", err)
	}
	return privateKey, &privateKey.PublicKey
}

func generateUserToken(t *testing.T, privateKey *rsa.PrivateKey, userID, role string, expiry time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := &UserClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			Issuer:    "jackdaw-sentry",
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tokenString, err := token.SignedString(privateKey)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return tokenString
}

func generateExpiredUserToken(t *testing.T, privateKey *rsa.PrivateKey, userID string) string {
	t.Helper()
	now := time.Now()
	claims := &UserClaims{
		UserID: userID,
		Role:   "analyst",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-1 * time.Hour)),
			Issuer:    "jackdaw-sentry",
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tokenString, err := token.SignedString(privateKey)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return tokenString
}

func newTestAuthMiddleware(t *testing.T, publicKey *rsa.PublicKey) *AuthMiddleware {
	t.Helper()
	logger := logging.New("test", "error", "text")
	m := NewAuthMiddleware(AuthConfig{
		PublicKey: publicKey,
		Logger:    logger,
		SkipPaths: []string{"/health"},
	})
	t.Cleanup(m.StopCleanup)
	return m
}

func bearer(token string) string {
	return BearerPrefix + token
}

// =============================================================================
// AuthMiddleware Tests
// =============================================================================

func TestAuthMiddleware_ValidToken(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)
	m := newTestAuthMiddleware(t, publicKey)

	token := generateUserToken(t, privateKey, "analyst-1", "analyst", 2*time.Hour)

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", bearer(token))

	rr := httptest.NewRecorder()
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := GetUserID(r.Context()); got != "analyst-1" {
			t.Errorf("Expected user_id 'analyst-1', got '%s'", got)
		}
		if got := GetUserRole(r.Context()); got != "analyst" {
			t.Errorf("Expected role 'analyst', got '%s'", got)
		}
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)
	m := newTestAuthMiddleware(t, publicKey)

	req := httptest.NewRequest("GET", "/api/test", nil)
	rr := httptest.NewRecorder()

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)
	m := newTestAuthMiddleware(t, publicKey)

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", bearer("invalid-token"))

	rr := httptest.NewRecorder()
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)
	m := newTestAuthMiddleware(t, publicKey)

	token := generateExpiredUserToken(t, privateKey, "analyst-1")

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", bearer(token))

	rr := httptest.NewRecorder()
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
}

func TestAuthMiddleware_SkipPath(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)
	m := newTestAuthMiddleware(t, publicKey)

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()

	called := false
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(rr, req)

	if !called {
		t.Error("Handler should be called for skip path")
	}
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
}

func TestAuthMiddleware_MissingUserIDClaim(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)
	m := newTestAuthMiddleware(t, publicKey)

	now := time.Now()
	claims := &UserClaims{
		UserID: "",
		Role:   "analyst",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tokenString, _ := token.SignedString(privateKey)

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", bearer(tokenString))

	rr := httptest.NewRecorder()
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
}

func TestAuthMiddleware_WrongSigningMethod(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)
	m := newTestAuthMiddleware(t, publicKey)

	now := time.Now()
	claims := &UserClaims{
		UserID: "analyst-1",
		Role:   "analyst",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte("secret"))

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", bearer(tokenString))

	rr := httptest.NewRecorder()
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
}

func TestAuthMiddleware_WrongSigningKey(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)
	wrongPrivateKey, _ := generateTestKeyPair(t)
	m := newTestAuthMiddleware(t, publicKey)

	token := generateUserToken(t, wrongPrivateKey, "analyst-1", "analyst", time.Hour)

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", bearer(token))

	rr := httptest.NewRecorder()
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
}

// =============================================================================
// Helper Function Tests
// =============================================================================

func TestGetUserID(t *testing.T) {
	ctx := context.Background()

	if id := GetUserID(ctx); id != "" {
		t.Errorf("Expected empty string, got '%s'", id)
	}

	ctx = logging.WithUserID(ctx, "user-123")
	if id := GetUserID(ctx); id != "user-123" {
		t.Errorf("Expected 'user-123', got '%s'", id)
	}
}

func TestGetUserRole(t *testing.T) {
	ctx := context.Background()

	if role := GetUserRole(ctx); role != "" {
		t.Errorf("Expected empty string, got '%s'", role)
	}

	ctx = logging.WithRole(ctx, "admin")
	if role := GetUserRole(ctx); role != "admin" {
		t.Errorf("Expected 'admin', got '%s'", role)
	}
}

// =============================================================================
// RequireUserIDHeader Middleware Tests
// =============================================================================

func TestRequireUserIDHeader_Valid(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set(UserIDHeader, "analyst-1")

	rr := httptest.NewRecorder()
	called := false
	handler := RequireUserIDHeader(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(rr, req)

	if !called {
		t.Error("Handler should be called")
	}
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
}

func TestRequireUserIDHeader_Missing(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/test", nil)
	rr := httptest.NewRecorder()

	handler := RequireUserIDHeader(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
}

// =============================================================================
// Token Cache Tests
// =============================================================================

func TestAuthMiddleware_TokenCaching(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)
	m := newTestAuthMiddleware(t, publicKey)

	token := generateUserToken(t, privateKey, "analyst-1", "analyst", time.Hour)

	req1 := httptest.NewRequest("GET", "/api/test", nil)
	req1.Header.Set("Authorization", bearer(token))
	rr1 := httptest.NewRecorder()

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(rr1, req1)
	if rr1.Code != http.StatusOK {
		t.Errorf("First request: expected status 200, got %d", rr1.Code)
	}

	req2 := httptest.NewRequest("GET", "/api/test", nil)
	req2.Header.Set("Authorization", bearer(token))
	rr2 := httptest.NewRecorder()

	handler.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusOK {
		t.Errorf("Second request: expected status 200, got %d", rr2.Code)
	}

	m.mu.RLock()
	_, cached := m.validatedTokens[token]
	m.mu.RUnlock()

	if !cached {
		t.Error("Token should be cached")
	}
}

func TestAuthMiddleware_CacheCleanup(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)
	m := newTestAuthMiddleware(t, publicKey)

	for i := 0; i < 1010; i++ {
		token := generateUserToken(t, privateKey, fmt.Sprintf("user-%d", i), "analyst", time.Hour)
		req := httptest.NewRequest("GET", "/api/test", nil)
		req.Header.Set("Authorization", bearer(token))
		rr := httptest.NewRecorder()

		handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		handler.ServeHTTP(rr, req)
	}

	m.mu.RLock()
	cacheSize := len(m.validatedTokens)
	m.mu.RUnlock()

	if cacheSize == 0 {
		t.Error("Cache should not be empty after cleanup")
	}
}

func TestAuthMiddleware_CacheExpiry(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)
	m := newTestAuthMiddleware(t, publicKey)

	now := time.Now()
	claims := &UserClaims{
		UserID: "analyst-1",
		Role:   "analyst",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(1 * time.Millisecond)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tokenString, _ := token.SignedString(privateKey)

	req1 := httptest.NewRequest("GET", "/api/test", nil)
	req1.Header.Set("Authorization", bearer(tokenString))
	rr1 := httptest.NewRecorder()

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(rr1, req1)

	time.Sleep(10 * time.Millisecond)

	req2 := httptest.NewRequest("GET", "/api/test", nil)
	req2.Header.Set("Authorization", bearer(tokenString))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req2)

	if rr2.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for expired token, got %d", rr2.Code)
	}
}

func TestAuthMiddleware_InvalidateCache(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)
	m := newTestAuthMiddleware(t, publicKey)

	token := generateUserToken(t, privateKey, "analyst-1", "analyst", time.Hour)

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", bearer(token))
	rr := httptest.NewRecorder()

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(rr, req)

	m.InvalidateCache()

	m.mu.RLock()
	size := len(m.validatedTokens)
	m.mu.RUnlock()

	if size != 0 {
		t.Errorf("Expected empty cache after invalidation, got %d entries", size)
	}
}

// =============================================================================
// PEM Parsing Tests
// =============================================================================

func TestParseRSAPublicKeyFromPEM_PKIX(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)

	der, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey() error = %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	parsed, err := ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		t.Fatalf("ParseRSAPublicKeyFromPEM() error = %v", err)
	}
	if parsed.E != publicKey.E || parsed.N.Cmp(publicKey.N) != 0 {
		t.Error("parsed public key does not match original")
	}
}

func TestParseRSAPublicKeyFromPEM_PKCS1(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)

	der := x509.MarshalPKCS1PublicKey(publicKey)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: der})

	parsed, err := ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		t.Fatalf("ParseRSAPublicKeyFromPEM() error = %v", err)
	}
	if parsed.E != publicKey.E || parsed.N.Cmp(publicKey.N) != 0 {
		t.Error("parsed public key does not match original")
	}
}

func TestParseRSAPublicKeyFromPEM_Invalid(t *testing.T) {
	if _, err := ParseRSAPublicKeyFromPEM([]byte("not a pem")); err == nil {
		t.Error("expected error for invalid PEM input")
	}
}

func TestParseRSAPrivateKeyFromPEM_PKCS1(t *testing.T) {
	privateKey, _ := generateTestKeyPair(t)

	der := x509.MarshalPKCS1PrivateKey(privateKey)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})

	parsed, err := ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		t.Fatalf("ParseRSAPrivateKeyFromPEM() error = %v", err)
	}
	if parsed.D.Cmp(privateKey.D) != 0 {
		t.Error("parsed private key does not match original")
	}
}

func TestParseRSAPrivateKeyFromPEM_PKCS8(t *testing.T) {
	privateKey, _ := generateTestKeyPair(t)

	der, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey() error = %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	parsed, err := ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		t.Fatalf("ParseRSAPrivateKeyFromPEM() error = %v", err)
	}
	if parsed.D.Cmp(privateKey.D) != 0 {
		t.Error("parsed private key does not match original")
	}
}

// =============================================================================
// Constants Tests
// =============================================================================

func TestConstants(t *testing.T) {
	if UserIDHeader != "X-User-ID" {
		t.Errorf("UserIDHeader = %s, want X-User-ID", UserIDHeader)
	}
	if DefaultTokenExpiry != 15*time.Minute {
		t.Errorf("DefaultTokenExpiry = %v, want 15m", DefaultTokenExpiry)
	}
}
