package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"iot-telemetry-gateway/internal/config"
)

const (
	APIKeyHeader = "X-API-Key"
	issuer       = "telemetry-gateway"
	// PasswordCost is the bcrypt cost used by HashPassword.
	PasswordCost = 12
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidToken    = errors.New("invalid token")
)

type contextKey string

const (
	usernameKey contextKey = "username"
	roleKey     contextKey = "role"
)

// AuthManager handles authentication for producers and dashboard users.
type AuthManager struct {
	config config.AuthConfig
	logger zerolog.Logger
}

// Claims represents JWT claims
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.StandardClaims
}

func NewAuthManager(cfg config.AuthConfig, logger zerolog.Logger) *AuthManager {
	return &AuthManager{
		config: cfg,
		logger: logger.With().Str("component", "auth").Logger(),
	}
}

// Enabled reports whether any credential is configured. Without API keys
// and a JWT secret the gateway accepts unauthenticated producers.
func (am *AuthManager) Enabled() bool {
	return len(am.config.APIKeys) > 0 || am.config.JWTSecret != ""
}

// GenerateJWT creates a new JWT token for a user
func (am *AuthManager) GenerateJWT(username, role string) (string, error) {
	if am.config.JWTSecret == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := &Claims{
		Username: username,
		Role:     role,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: now.Add(time.Duration(am.config.JWTExpiration) * time.Minute).Unix(),
			IssuedAt:  now.Unix(),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(am.config.JWTSecret))
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// ValidateJWT validates the JWT token
func (am *AuthManager) ValidateJWT(tokenString string) (*Claims, error) {
	if am.config.JWTSecret == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(am.config.JWTSecret), nil
	})
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateAPIKey checks if the provided API key is valid
func (am *AuthManager) ValidateAPIKey(apiKey string) bool {
	valid := false
	for _, key := range am.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			valid = true
		}
	}
	return valid
}

// AuthenticateUser validates username and password and returns the user's role.
func (am *AuthManager) AuthenticateUser(username, password string) (string, error) {
	for _, user := range am.config.Users {
		if user.Username != username {
			continue
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
			return "", ErrInvalidPassword
		}
		return user.Role, nil
	}
	return "", ErrUserNotFound
}

// HashPassword creates a bcrypt hash from a password
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(b), nil
}

// Middleware accepts either a valid X-API-Key header or a bearer JWT. When no
// credentials are configured at all, requests pass through.
func (am *AuthManager) Middleware(next http.Handler) http.Handler {
	if !am.Enabled() {
		am.logger.Warn().Msg("No API keys or JWT secret configured, ingestion endpoint is unauthenticated")
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get(APIKeyHeader); key != "" {
			if !am.ValidateAPIKey(key) {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "API key or bearer token required", http.StatusUnauthorized)
			return
		}
		bearer := strings.SplitN(authHeader, " ", 2)
		if len(bearer) != 2 || !strings.EqualFold(bearer[0], "Bearer") {
			http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
			return
		}
		claims, err := am.ValidateJWT(bearer[1])
		if err != nil {
			am.logger.Debug().Err(err).Msg("Rejected bearer token")
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), usernameKey, claims.Username)
		ctx = context.WithValue(ctx, roleKey, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromContext returns the authenticated JWT subject, if any.
func UserFromContext(ctx context.Context) (username, role string, ok bool) {
	username, ok = ctx.Value(usernameKey).(string)
	role, _ = ctx.Value(roleKey).(string)
	return username, role, ok
}
