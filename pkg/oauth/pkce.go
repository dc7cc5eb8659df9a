// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// PKCE challenge methods per RFC 7636 Section 4.3.
const (
	// PKCEMethodPlain is the "plain" transform: challenge == verifier.
	PKCEMethodPlain = "plain"

	// PKCEMethodS256 is the SHA-256 transform and the default when the
	// authorization request omits code_challenge_method.
	PKCEMethodS256 = "S256"
)

// ComputeS256Challenge computes the code_challenge for a code_verifier using
// the S256 method per RFC 7636 Section 4.2:
//
//	code_challenge = BASE64URL-ENCODE(SHA256(ASCII(code_verifier)))
//
// The encoding is base64url without padding. This must match the RFC byte for
// byte; any deviation silently breaks PKCE for legitimate clients.
func ComputeS256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ValidatePKCE checks a code_verifier against a stored code_challenge using
// the given method. An empty method defaults to S256. Unknown methods and
// malformed input never match; this function does not return errors.
//
// Comparisons are constant-time to avoid leaking verifier prefixes through
// timing.
func ValidatePKCE(verifier, challenge, method string) bool {
	if verifier == "" || challenge == "" {
		return false
	}

	switch method {
	case PKCEMethodPlain:
		return constantTimeEquals(verifier, challenge)
	case PKCEMethodS256, "":
		return constantTimeEquals(ComputeS256Challenge(verifier), challenge)
	default:
		return false
	}
}

func constantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
