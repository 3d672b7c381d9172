package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/spotguard/spotguard/pkg/types"
)

const (
	// bcrypt cost factor (12 = ~250ms per hash on modern hardware)
	bcryptCost = 12
)

// Claims represents JWT claims with custom fields
type Claims struct {
	AgentID  string `json:"agent_id"`
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// Auth issues and validates agent session tokens
type Auth struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

// NewAuth creates a new Auth instance
func NewAuth(jwtSecret string, tokenTTL time.Duration) *Auth {
	return &Auth{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

// GenerateAPIKey generates a random agent API key. The key is returned
// once at registration; only its hash is stored.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return "sgk_" + base64.URLEncoding.EncodeToString(b), nil
}

// HashAPIKey hashes an API key using bcrypt
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

// CheckAPIKey compares an API key with its stored hash
func CheckAPIKey(key, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		return fmt.Errorf("invalid api key")
	}
	return nil
}

// GenerateToken issues a short-lived session token for an agent
func (a *Auth) GenerateToken(agent *types.Agent) (string, error) {
	now := time.Now()
	claims := &Claims{
		AgentID:  agent.ID,
		ClientID: agent.ClientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "spotguard",
			Subject:   agent.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(a.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken validates and parses a session token
func (a *Auth) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// TokenTTL returns the session token lifetime
func (a *Auth) TokenTTL() time.Duration {
	return a.tokenTTL
}
