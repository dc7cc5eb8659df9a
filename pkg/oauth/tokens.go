// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oauth provides shared OAuth 2.0 primitives for the authorization
// server: credential generation, token hashing, PKCE validation per RFC 7636,
// scope handling, and the wire-level error shape from RFC 6749 Section 5.2.
package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Byte lengths for generated credentials. Authorization codes, access tokens,
// refresh tokens, and client secrets are 32 bytes of entropy (64 hex chars);
// client IDs are 16 bytes (32 hex chars).
const (
	AuthorizationCodeBytes = 32
	TokenBytes             = 32
	ClientIDBytes          = 16
	ClientSecretBytes      = 32
)

// GenerateRandomHex draws byteLength cryptographically secure random bytes
// and returns them as a lowercase hex string of length 2*byteLength.
func GenerateRandomHex(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("byte length must be positive, got %d", byteLength)
	}

	b := make([]byte, byteLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateAuthorizationCode generates an opaque authorization code.
func GenerateAuthorizationCode() (string, error) {
	return GenerateRandomHex(AuthorizationCodeBytes)
}

// GenerateToken generates an opaque bearer token.
func GenerateToken() (string, error) {
	return GenerateRandomHex(TokenBytes)
}

// GenerateClientID generates a public client identifier.
func GenerateClientID() (string, error) {
	return GenerateRandomHex(ClientIDBytes)
}

// GenerateClientSecret generates a confidential client secret.
func GenerateClientSecret() (string, error) {
	return GenerateRandomHex(ClientSecretBytes)
}

// SHA256Hex computes the SHA-256 digest of the UTF-8 encoded input and
// returns it as a lowercase hex string.
func SHA256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
