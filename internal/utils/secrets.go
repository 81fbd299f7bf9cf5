package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateSecret generates a cryptographically secure random secret
func GenerateSecret(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ServiceSecrets are the locally generated secrets this service needs.
// Gateway merchant keys are issued by the gateways and are not generated.
type ServiceSecrets struct {
	JWTSecret        string
	KhaltiSigningKey string
}

// GenerateServiceSecrets generates distinct 256-bit secrets
func GenerateServiceSecrets() (*ServiceSecrets, error) {
	jwtSecret, err := GenerateSecret(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate jwt secret: %w", err)
	}
	signingKey, err := GenerateSecret(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate khalti signing key: %w", err)
	}
	return &ServiceSecrets{JWTSecret: jwtSecret, KhaltiSigningKey: signingKey}, nil
}
