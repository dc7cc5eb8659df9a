// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

// Error codes per RFC 6749 Sections 4.1.2.1 and 5.2. These are the only
// values the server writes into the "error" field of an error response.
const (
	ErrorInvalidRequest          = "invalid_request"
	ErrorUnsupportedResponseType = "unsupported_response_type"
	ErrorUnsupportedGrantType    = "unsupported_grant_type"
	ErrorInvalidClient           = "invalid_client"
	ErrorInvalidGrant            = "invalid_grant"
	ErrorInvalidScope            = "invalid_scope"
	ErrorAccessDenied            = "access_denied"
	ErrorServerError             = "server_error"
)

// Error is the OAuth 2.0 error response body. All endpoint-level failures
// are converted to this shape at the HTTP boundary; no internal error detail
// crosses it.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// NewError creates an OAuth error with the given code and description.
func NewError(code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}
