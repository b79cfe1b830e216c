package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/passport-ledger/internal/logger"
)

func TestMain(m *testing.M) {
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}
	gin.SetMode(gin.TestMode)

	os.Exit(m.Run())
}

const callerAddress = "0x1111111111111111111111111111111111111111"

func generateKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestAuthenticate(t *testing.T) {
	key, publicPEM := generateKeyPair(t)
	otherKey, _ := generateKeyPair(t)
	cfg := AuthConfig{
		JWTPublicKey: publicPEM,
		JWTIssuer:    "passport-ledger",
		APIKeys:      []string{"", "service-key"},
	}

	now := time.Now()
	validClaims := jwt.RegisteredClaims{
		Issuer:    "passport-ledger",
		Subject:   strings.ToLower(callerAddress),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	expired := validClaims
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))

	wrongIssuer := validClaims
	wrongIssuer.Issuer = "someone-else"

	noExpiry := validClaims
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name     string
		header   string
		caller   string
		success  bool
		authType string
		subject  string
	}{
		{name: "valid jwt", header: "Bearer " + signToken(t, key, validClaims), success: true, authType: AUTH_TYPE_JWT, subject: callerAddress},
		{name: "jwt ignores caller header", header: "Bearer " + signToken(t, key, validClaims), caller: "0x2222222222222222222222222222222222222222", success: true, authType: AUTH_TYPE_JWT, subject: callerAddress},
		{name: "expired jwt", header: "Bearer " + signToken(t, key, expired)},
		{name: "jwt from another issuer", header: "Bearer " + signToken(t, key, wrongIssuer)},
		{name: "jwt without expiry", header: "Bearer " + signToken(t, key, noExpiry)},
		{name: "jwt signed by another key", header: "Bearer " + signToken(t, otherKey, validClaims)},
		{name: "api key with caller", header: "ApiKey service-key", caller: callerAddress, success: true, authType: AUTH_TYPE_APIKEY, subject: callerAddress},
		{name: "api key without caller", header: "ApiKey service-key", success: true, authType: AUTH_TYPE_APIKEY},
		{name: "invalid api key", header: "ApiKey nope", caller: callerAddress},
		{name: "missing header"},
		{name: "malformed header", header: "Bearer"},
		{name: "unsupported scheme", header: "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Authenticate(tt.header, tt.caller, cfg)
			assert.Equal(t, tt.success, result.Success)
			if !tt.success {
				assert.Error(t, result.Error)
				return
			}
			assert.NoError(t, result.Error)
			assert.Equal(t, tt.authType, result.AuthType)
			assert.Equal(t, tt.subject, result.AuthSubject)
		})
	}
}

func TestAuthenticate_NoAPIKeysConfigured(t *testing.T) {
	result := Authenticate("ApiKey anything", callerAddress, AuthConfig{})
	assert.False(t, result.Success)
	assert.EqualError(t, result.Error, "no API keys configured")
}

func newTestRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/protected", append(handlers, func(c *gin.Context) {
		caller, ok := CallerFromContext(c)
		c.JSON(http.StatusOK, gin.H{"caller": caller, "ok": ok})
	})...)
	return router
}

func TestAuthMiddleware(t *testing.T) {
	router := newTestRouter(Auth(AuthConfig{APIKeys: []string{"service-key"}}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "ApiKey service-key")
	req.Header.Set(CALLER_ADDRESS_HEADER, strings.ToLower(callerAddress))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"caller":"`+callerAddress+`","ok":true}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(REQUEST_ID_HEADER))

	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "unauthorized")
}

func TestAPIKeyAuthRejectsJWT(t *testing.T) {
	key, publicPEM := generateKeyPair(t)
	router := newTestRouter(APIKeyAuth(AuthConfig{JWTPublicKey: publicPEM, APIKeys: []string{"service-key"}}))

	token := signToken(t, key, jwt.RegisteredClaims{
		Subject:   callerAddress,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "API key required")
}

func TestRequestID_KeepsIncomingID(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set(REQUEST_ID_HEADER, "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(REQUEST_ID_HEADER))
	assert.JSONEq(t, `{"caller":"","ok":false}`, w.Body.String())
}

func TestRecovery(t *testing.T) {
	router := gin.New()
	router.Use(Recovery())
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}
