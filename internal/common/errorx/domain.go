package errorx

// Not-found errors.
var (
	ErrClientNotFound = &OAuth2Error{
		ErrorType:        "not_found",
		ErrorCode:        "client_not_found",
		ErrorDescription: "Client not found",
		Kind:             KindNotFound,
	}

	ErrScopeNotFound = &OAuth2Error{
		ErrorType:        "not_found",
		ErrorCode:        "scope_not_found",
		ErrorDescription: "Scope not found",
		Kind:             KindNotFound,
	}

	ErrResourceNotFound = &OAuth2Error{
		ErrorType:        "not_found",
		ErrorCode:        "resource_not_found",
		ErrorDescription: "Secured resource not found",
		Kind:             KindNotFound,
	}

	ErrRememberMeNotFound = &OAuth2Error{
		ErrorType:        "not_found",
		ErrorCode:        "remember_me_not_found",
		ErrorDescription: "Remember-me token not found",
		Kind:             KindNotFound,
	}

	ErrApprovalNotFound = &OAuth2Error{
		ErrorType:        "not_found",
		ErrorCode:        "approval_not_found",
		ErrorDescription: "User approval not found",
		Kind:             KindNotFound,
	}
)

// Conflict errors.
var (
	ErrClientAlreadyExists = &OAuth2Error{
		ErrorType:        "conflict",
		ErrorCode:        "client_already_exists",
		ErrorDescription: "Client id already registered",
		Kind:             KindConflict,
	}

	ErrScopeAlreadyExists = &OAuth2Error{
		ErrorType:        "conflict",
		ErrorCode:        "scope_already_exists",
		ErrorDescription: "Scope code already registered",
		Kind:             KindConflict,
	}

	ErrResourceAlreadyExists = &OAuth2Error{
		ErrorType:        "conflict",
		ErrorCode:        "resource_already_exists",
		ErrorDescription: "Secured resource already registered",
		Kind:             KindConflict,
	}
)

// Credential errors.
var (
	ErrSecretMismatch = &OAuth2Error{
		ErrorType:        "unauthorized",
		ErrorCode:        "secret_mismatch",
		ErrorDescription: "Current secret does not match",
		Kind:             KindCredential,
	}

	ErrRememberMeExpired = &OAuth2Error{
		ErrorType:        "unauthorized",
		ErrorCode:        "remember_me_expired",
		ErrorDescription: "Remember-me token expired",
		Kind:             KindCredential,
	}

	ErrRememberMeTheft = &OAuth2Error{
		ErrorType:        "unauthorized",
		ErrorCode:        "remember_me_theft",
		ErrorDescription: "Invalid remember-me token, an earlier theft attack is implied",
		Kind:             KindCredential,
	}
)
