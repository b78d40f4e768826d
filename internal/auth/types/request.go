package types

// Grant types understood by the core.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
	GrantPassword          = "password"
	GrantImplicit          = "implicit"
)

// KnownGrantTypes lists every grant a client may be registered for.
var KnownGrantTypes = []string{
	GrantAuthorizationCode,
	GrantRefreshToken,
	GrantClientCredentials,
	GrantPassword,
	GrantImplicit,
}

// PKCE challenge methods (RFC 7636).
const (
	ChallengePlain = "plain"
	ChallengeS256  = "S256"
)

// AuthorizationRequest is the normalized form of an authorization endpoint
// call, after the user has approved it.
type AuthorizationRequest struct {
	ClientID            ClientID
	Username            Username
	RedirectURI         string
	Scopes              Scopes
	CodeChallenge       string
	CodeChallengeMethod string
}

// TokenRequest is the normalized form of a token endpoint call.
type TokenRequest struct {
	GrantType    string
	ClientID     ClientID
	Username     Username
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken TokenID
	Scopes       Scopes
}
