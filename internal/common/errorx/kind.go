package errorx

import "net/http"

// Kind classifies a failure for the response boundary.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindCredential Kind = "credential"
	KindConflict   Kind = "conflict"
	KindProtocol   Kind = "protocol"
	KindInternal   Kind = "internal"
)

// StatusFor maps an error kind (and, for protocol errors, the OAuth2 error
// code) to an HTTP status class. Unknown kinds fall through to 500.
func StatusFor(kind Kind, errorType string) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindCredential:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindProtocol:
		switch errorType {
		case "invalid_client", "invalid_token":
			return http.StatusUnauthorized
		case "access_denied":
			return http.StatusForbidden
		case "server_error":
			return http.StatusInternalServerError
		default:
			return http.StatusBadRequest
		}
	case KindInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}
