// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"slices"
	"strings"
)

// DefaultScope is granted when an authorization request carries no scope
// parameter.
const DefaultScope = "read"

// ParseScopes splits a space-delimited scope string per RFC 6749 Section 3.3.
// An empty or absent scope yields the default scope set.
func ParseScopes(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return []string{DefaultScope}
	}
	return fields
}

// FormatScopes joins a scope set into the space-delimited wire form.
func FormatScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// IntersectScopes returns the requested scopes that appear in the allowed
// set, preserving request order and dropping duplicates. Unknown scopes are
// silently dropped, never granted.
func IntersectScopes(requested, allowed []string) []string {
	var granted []string
	for _, s := range requested {
		if slices.Contains(allowed, s) && !slices.Contains(granted, s) {
			granted = append(granted, s)
		}
	}
	return granted
}
