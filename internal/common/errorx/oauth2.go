package errorx

import (
	"encoding/json"
	"errors"
)

// OAuth2Error is the single typed failure surfaced by the authorization core.
// Kind decides the status class, ErrorType is the machine readable code.
type OAuth2Error struct {
	ErrorType        string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
	ErrorCode        string `json:"error_code,omitempty"`
	Kind             Kind   `json:"-"`
}

func (e *OAuth2Error) Error() string {
	out, _ := json.Marshal(e)
	return string(out)
}

// Is matches on ErrorType and, when the target carries one, ErrorCode.
// A described copy of a sentinel therefore still matches the sentinel, and
// every invalid_grant variant matches ErrInvalidGrant.
func (e *OAuth2Error) Is(target error) bool {
	t, ok := target.(*OAuth2Error)
	if !ok {
		return false
	}
	if t.ErrorType != e.ErrorType {
		return false
	}
	return t.ErrorCode == "" || t.ErrorCode == e.ErrorCode
}

// HTTPStatus returns the status equivalent for the error.
func (e *OAuth2Error) HTTPStatus() int {
	return StatusFor(e.Kind, e.ErrorType)
}

// WithDescription returns a copy of e carrying the given description.
func (e *OAuth2Error) WithDescription(desc string) *OAuth2Error {
	cp := *e
	cp.ErrorDescription = desc
	return &cp
}

var (
	ErrInvalidRequest = &OAuth2Error{
		ErrorType: "invalid_request",
		Kind:      KindProtocol,
	}

	ErrInvalidClient = &OAuth2Error{
		ErrorType: "invalid_client",
		Kind:      KindProtocol,
	}

	ErrBadCredentials = &OAuth2Error{
		ErrorType:        "invalid_client",
		ErrorCode:        "bad_credentials",
		ErrorDescription: "Bad client credentials",
		Kind:             KindCredential,
	}

	ErrInvalidGrant = &OAuth2Error{
		ErrorType: "invalid_grant",
		Kind:      KindProtocol,
	}

	ErrUnauthorizedClient = &OAuth2Error{
		ErrorType: "unauthorized_client",
		Kind:      KindProtocol,
	}

	ErrUnsupportedGrantType = &OAuth2Error{
		ErrorType: "unsupported_grant_type",
		Kind:      KindProtocol,
	}

	ErrInvalidScope = &OAuth2Error{
		ErrorType: "invalid_scope",
		Kind:      KindProtocol,
	}

	ErrAccessDenied = &OAuth2Error{
		ErrorType: "access_denied",
		Kind:      KindProtocol,
	}

	ErrRedirectMismatch = &OAuth2Error{
		ErrorType:        "redirect_mismatch",
		ErrorDescription: "Redirect URI mismatch.",
		Kind:             KindProtocol,
	}

	ErrInvalidRedirectURI = &OAuth2Error{
		ErrorType: "invalid_request",
		ErrorCode: "invalid_redirect_uri",
		Kind:      KindProtocol,
	}

	ErrAuthorizationCodeExpired = &OAuth2Error{
		ErrorType:        "invalid_grant",
		ErrorCode:        "code_expired",
		ErrorDescription: "Authorization code expired",
		Kind:             KindProtocol,
	}

	ErrAuthorizationCodeNotFound = &OAuth2Error{
		ErrorType:        "invalid_grant",
		ErrorCode:        "invalid_code",
		ErrorDescription: "Invalid authorization code",
		Kind:             KindProtocol,
	}

	ErrPKCEMismatch = &OAuth2Error{
		ErrorType:        "invalid_grant",
		ErrorCode:        "pkce_mismatch",
		ErrorDescription: "Code verifier does not match the code challenge",
		Kind:             KindProtocol,
	}

	ErrRefreshTokenNotFound = &OAuth2Error{
		ErrorType:        "invalid_grant",
		ErrorCode:        "invalid_refresh_token",
		ErrorDescription: "Invalid refresh token",
		Kind:             KindProtocol,
	}

	ErrRefreshTokenExpired = &OAuth2Error{
		ErrorType:        "invalid_grant",
		ErrorCode:        "refresh_token_expired",
		ErrorDescription: "Refresh token expired",
		Kind:             KindProtocol,
	}

	ErrInvalidToken = &OAuth2Error{
		ErrorType: "invalid_token",
		Kind:      KindProtocol,
	}

	ErrAccessTokenNotFound = &OAuth2Error{
		ErrorType:        "invalid_token",
		ErrorCode:        "token_not_found",
		ErrorDescription: "Access token not found",
		Kind:             KindNotFound,
	}

	ErrAccessTokenExpired = &OAuth2Error{
		ErrorType:        "invalid_token",
		ErrorCode:        "token_expired",
		ErrorDescription: "Access token expired",
		Kind:             KindProtocol,
	}

	ErrTokenNotActive = &OAuth2Error{
		ErrorType: "invalid_token",
		ErrorCode: "not_active",
		Kind:      KindProtocol,
	}

	ErrIntrospectionBadCredentials = &OAuth2Error{
		ErrorType:        "invalid_token",
		ErrorCode:        "bad_client_credentials",
		ErrorDescription: "bad client credentials",
		Kind:             KindProtocol,
	}

	ErrIntrospectionClientMismatch = &OAuth2Error{
		ErrorType:        "invalid_token",
		ErrorCode:        "client_is_different",
		ErrorDescription: "client is different",
		Kind:             KindProtocol,
	}

	ErrInternalAuthentication = &OAuth2Error{
		ErrorType: "server_error",
		ErrorCode: "internal_authentication",
		Kind:      KindInternal,
	}

	ErrServerError = &OAuth2Error{
		ErrorType: "server_error",
		Kind:      KindInternal,
	}
)

// ConvertToOAuth2Error converts any error to OAuth2Error
// If the error is already OAuth2Error, return it directly
// Otherwise it becomes a server_error that carries no internal detail
func ConvertToOAuth2Error(err error) *OAuth2Error {
	var oauthErr *OAuth2Error
	if errors.As(err, &oauthErr) {
		return oauthErr
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return &OAuth2Error{
			ErrorType:        "invalid_request",
			ErrorCode:        "validation_failed",
			ErrorDescription: vErr.Error(),
			Kind:             KindValidation,
		}
	}

	return ErrServerError
}
