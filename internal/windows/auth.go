// Package windows is the daemon's window-facing surface: a local HTTP server
// with a WebSocket attach endpoint, token auth for windows, and the broadcast
// hub the router emits through.
package windows

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// WindowClaims is the JWT payload carried by window attach tokens.
type WindowClaims struct {
	WindowID string `json:"window"`
	jwt.RegisteredClaims
}

// JWTManager mints and verifies window attach tokens. Keys are derived from
// the daemon secret, so tokens survive daemon restarts but not key rotation.
type JWTManager struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewJWTManager derives the signing keypair from the daemon secret key.
func NewJWTManager(secret *[32]byte) *JWTManager {
	seed := sha256.Sum256(secret[:])
	privateKey := ed25519.NewKeyFromSeed(seed[:])
	return &JWTManager{
		privateKey: privateKey,
		publicKey:  privateKey.Public().(ed25519.PublicKey),
	}
}

// CreateToken mints an attach token for a window. A zero ttl means no expiry.
func (m *JWTManager) CreateToken(windowID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := WindowClaims{
		WindowID: windowID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "banter-daemon",
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(m.privateKey)
}

// VerifyToken validates an attach token and returns the window id.
func (m *JWTManager) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &WindowClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.publicKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*WindowClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	return claims.WindowID, nil
}
