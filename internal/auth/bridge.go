// Package auth mints and verifies the service tokens that authenticate a
// chat-platform bridge process to the gateway. Member authentication is
// delegated to the chat platform and is not handled here.
package auth

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Bridge signs and verifies bridge tokens with an ed25519 key pair.
type Bridge struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	expiry     time.Duration
}

// NewBridge generates a fresh key pair at startup. A zero expiry means
// tokens never expire.
func NewBridge(expiry time.Duration) (*Bridge, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Bridge{privateKey: privateKey, publicKey: publicKey, expiry: expiry}, nil
}

// NewBridgeFromPath reads the ed25519 private/public keys from files, for
// deployments where the bridge token issuer runs in another process.
func NewBridgeFromPath(privatePath, publicPath string, expiry time.Duration) (*Bridge, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	return &Bridge{
		privateKey: ed25519.PrivateKey(privateKeyData),
		publicKey:  ed25519.PublicKey(publicKeyData),
		expiry:     expiry,
	}, nil
}

// CreateToken signs a token whose subject is the guild the bridge serves.
func (b *Bridge) CreateToken(guild string) (string, error) {
	claims := jwt.MapClaims{
		"sub": guild,
	}
	if b.expiry != 0 {
		claims["exp"] = time.Now().Add(b.expiry).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(b.privateKey)
}

// VerifyToken checks the signature and returns the guild the token was
// issued for.
func (b *Bridge) VerifyToken(tokenString string) (string, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return b.publicKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid jwt claims")
	}
	guild, ok := claims["sub"].(string)
	if !ok {
		return "", fmt.Errorf("missing sub in jwt")
	}
	return guild, nil
}
