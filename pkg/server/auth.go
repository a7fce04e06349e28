package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jastadj/sfmlmud2/pkg/account"
)

// Claims holds the JWT claims for an authenticated web client.
type Claims struct {
	AccountID   int64  `json:"account_id"`
	AccountName string `json:"account_name"`
	jwt.RegisteredClaims
}

// AuthService issues and validates JWTs bound to accounts.
type AuthService struct {
	accounts *account.Manager
	jwtKey   []byte
	expiry   time.Duration
}

// NewAuthService creates an auth service. If jwtSecret is empty, a random
// 32-byte key is generated.
func NewAuthService(accounts *account.Manager, jwtSecret string, expiryHours int) *AuthService {
	var key []byte
	if jwtSecret != "" {
		key = []byte(jwtSecret)
	} else {
		key = make([]byte, 32)
		rand.Read(key)
	}
	expiry := 24 * time.Hour
	if expiryHours > 0 {
		expiry = time.Duration(expiryHours) * time.Hour
	}
	return &AuthService{
		accounts: accounts,
		jwtKey:   key,
		expiry:   expiry,
	}
}

// Login checks credentials and returns a signed token.
func (a *AuthService) Login(ctx context.Context, name, password string) (string, error) {
	acct, err := a.accounts.Login(ctx, name, password)
	if err != nil {
		return "", fmt.Errorf("invalid credentials")
	}
	return a.issue(acct.ID, acct.Name)
}

func (a *AuthService) issue(id int64, name string) (string, error) {
	now := time.Now()
	claims := Claims{
		AccountID:   id,
		AccountName: name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
			Issuer:    "sfmlmud",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtKey)
}

// ValidateToken parses and validates a JWT token string.
func (a *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// RefreshToken issues a new token with a fresh expiry for a valid token.
func (a *AuthService) RefreshToken(tokenStr string) (string, error) {
	claims, err := a.ValidateToken(tokenStr)
	if err != nil {
		return "", err
	}
	return a.issue(claims.AccountID, claims.AccountName)
}

// GenerateJWTSecret generates a random hex-encoded secret suitable for jwt_secret config.
func GenerateJWTSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
