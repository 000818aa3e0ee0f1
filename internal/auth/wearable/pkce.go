// Package wearable implements the wearable provider's OAuth2 authorization-code flow with
// PKCE. It owns the short-lived authorization sessions, the used-code ledger that makes a
// code single-use locally, and the coordinator that ties both to the token exchange.
package wearable

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// PKCECodes holds a PKCE verifier and its S256 challenge.
type PKCECodes struct {
	CodeVerifier  string `json:"code_verifier"`
	CodeChallenge string `json:"code_challenge"`
}

const (
	verifierBytes = 48
	stateBytes    = 16
)

// GeneratePKCECodes generates a PKCE code verifier and challenge pair
// following RFC 7636.
func GeneratePKCECodes() (*PKCECodes, error) {
	codeVerifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return &PKCECodes{
		CodeVerifier:  codeVerifier,
		CodeChallenge: CodeChallenge(codeVerifier),
	}, nil
}

// generateCodeVerifier returns 48 random bytes as 64 URL-safe base64 characters.
func generateCodeVerifier() (string, error) {
	bytes := make([]byte, verifierBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// CodeChallenge derives base64url(SHA256(verifier)) without padding.
func CodeChallenge(codeVerifier string) string {
	hash := sha256.Sum256([]byte(codeVerifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// GenerateState returns a random hex state for CSRF protection.
func GenerateState() (string, error) {
	bytes := make([]byte, stateBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
