package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"iot-telemetry-gateway/internal/config"
)

func testManager(t *testing.T) *AuthManager {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewAuthManager(config.AuthConfig{
		JWTSecret:     "test-secret",
		JWTExpiration: 5,
		APIKeys:       []string{"key-1", "key-2"},
		Users:         []config.User{{Username: "ops", PasswordHash: string(hash), Role: "admin"}},
	}, zerolog.Nop())
}

func TestJWTRoundTrip(t *testing.T) {
	am := testManager(t)
	token, err := am.GenerateJWT("ops", "admin")
	require.NoError(t, err)

	claims, err := am.ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Username)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, issuer, claims.Issuer)
}

func TestValidateJWT_Rejects(t *testing.T) {
	am := testManager(t)

	other := NewAuthManager(config.AuthConfig{JWTSecret: "other", JWTExpiration: 5}, zerolog.Nop())
	foreign, err := other.GenerateJWT("ops", "admin")
	require.NoError(t, err)
	_, err = am.ValidateJWT(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Username:       "ops",
		StandardClaims: jwt.StandardClaims{ExpiresAt: time.Now().Add(-time.Minute).Unix()},
	})
	signed, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = am.ValidateJWT(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAPIKey(t *testing.T) {
	am := testManager(t)
	assert.True(t, am.ValidateAPIKey("key-2"))
	assert.False(t, am.ValidateAPIKey("key-3"))
	assert.False(t, am.ValidateAPIKey(""))
}

func TestAuthenticateUser(t *testing.T) {
	am := testManager(t)

	role, err := am.AuthenticateUser("ops", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "admin", role)

	_, err = am.AuthenticateUser("ops", "wrong")
	assert.ErrorIs(t, err, ErrInvalidPassword)
	_, err = am.AuthenticateUser("nobody", "s3cret")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("pw")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("pw")))
}

func TestMiddleware(t *testing.T) {
	am := testManager(t)
	token, err := am.GenerateJWT("ops", "admin")
	require.NoError(t, err)

	var gotUser string
	handler := am.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header map[string]string
		status int
		user   string
	}{
		{"no credentials", nil, http.StatusUnauthorized, ""},
		{"valid api key", map[string]string{APIKeyHeader: "key-1"}, http.StatusNoContent, ""},
		{"invalid api key", map[string]string{APIKeyHeader: "nope"}, http.StatusUnauthorized, ""},
		{"valid bearer", map[string]string{"Authorization": "Bearer " + token}, http.StatusNoContent, "ops"},
		{"malformed header", map[string]string{"Authorization": token}, http.StatusUnauthorized, ""},
		{"bad bearer", map[string]string{"Authorization": "Bearer junk"}, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUser = ""
			req := httptest.NewRequest(http.MethodPost, "/data", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.user, gotUser)
		})
	}
}

func TestMiddleware_DisabledPassesThrough(t *testing.T) {
	am := NewAuthManager(config.AuthConfig{}, zerolog.Nop())
	assert.False(t, am.Enabled())

	handler := am.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/data", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
