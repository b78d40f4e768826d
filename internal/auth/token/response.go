package token

import (
	"encoding/json"
	"time"

	"github.com/amoylab/authcore/internal/auth/storage"
)

// Response is the wire projection of an access token. Additional claims
// are flattened next to the standard fields and never override them.
type Response struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	Scope        string
	Extra        map[string]any
}

// NewResponse projects token as seen at now.
func NewResponse(token *storage.AccessToken, now time.Time) *Response {
	return &Response{
		AccessToken:  string(token.Value),
		TokenType:    token.TokenType,
		ExpiresIn:    int64(token.ExpiresIn(now) / time.Second),
		RefreshToken: string(token.RefreshToken),
		Scope:        token.Scopes.Join(),
		Extra:        token.AdditionalInfo,
	}
}

func (r *Response) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+5)
	for k, v := range r.Extra {
		out[k] = v
	}
	out["access_token"] = r.AccessToken
	out["token_type"] = r.TokenType
	out["expires_in"] = r.ExpiresIn
	if r.RefreshToken != "" {
		out["refresh_token"] = r.RefreshToken
	}
	if r.Scope != "" {
		out["scope"] = r.Scope
	}
	return json.Marshal(out)
}
