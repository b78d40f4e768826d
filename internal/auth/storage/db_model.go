package storage

import (
	"encoding/json"
	"time"

	"github.com/amoylab/authcore/internal/auth/types"
)

// ClientModel is the database row of a Client. Collections are kept as
// JSON text so a client always loads with them in one row read.
type ClientModel struct {
	ClientID             string    `gorm:"column:client_id; type:varchar(64); primaryKey"`
	Secret               string    `gorm:"column:client_secret; type:varchar(255)"`
	Name                 string    `gorm:"column:name; type:varchar(255)"`
	Owner                string    `gorm:"column:owner; type:varchar(255); index"`
	RedirectURIs         string    `gorm:"column:redirect_uris; type:text"`
	GrantTypes           string    `gorm:"column:grant_types; type:text"`
	Scopes               string    `gorm:"column:scopes; type:text"`
	AccessTokenValidity  int64     `gorm:"column:access_token_validity"`
	RefreshTokenValidity int64     `gorm:"column:refresh_token_validity"`
	CreatedAt            time.Time `gorm:"column:created_at; autoCreateTime:false"`
	UpdatedAt            time.Time `gorm:"column:updated_at; autoUpdateTime:false"`
}

func (ClientModel) TableName() string { return "oauth_clients" }

type ScopeModel struct {
	Code        string `gorm:"column:code; type:varchar(128); primaryKey"`
	Description string `gorm:"column:description; type:varchar(1024)"`
	Initialize  bool   `gorm:"column:initialize"`
}

func (ScopeModel) TableName() string { return "oauth_scopes" }

type AuthorizationCodeModel struct {
	Code                string    `gorm:"column:code; type:varchar(64); primaryKey"`
	ClientID            string    `gorm:"column:client_id; type:varchar(64)"`
	Username            string    `gorm:"column:username; type:varchar(255)"`
	RedirectURI         string    `gorm:"column:redirect_uri; type:varchar(2048)"`
	Scopes              string    `gorm:"column:scopes; type:text"`
	CodeChallenge       string    `gorm:"column:code_challenge; type:varchar(255)"`
	CodeChallengeMethod string    `gorm:"column:code_challenge_method; type:varchar(16)"`
	ExpiresAt           time.Time `gorm:"column:expires_at"`
	CreatedAt           time.Time `gorm:"column:created_at; autoCreateTime:false"`
}

func (AuthorizationCodeModel) TableName() string { return "oauth_codes" }

type AccessTokenModel struct {
	Value          string    `gorm:"column:token_value; type:varchar(128); primaryKey"`
	TokenType      string    `gorm:"column:token_type; type:varchar(32)"`
	ClientID       string    `gorm:"column:client_id; type:varchar(64); index"`
	Username       string    `gorm:"column:username; type:varchar(255)"`
	Scopes         string    `gorm:"column:scopes; type:text"`
	UniqueKey      string    `gorm:"column:unique_key; type:varchar(64); index"`
	RefreshToken   string    `gorm:"column:refresh_token; type:varchar(128); index"`
	AdditionalInfo string    `gorm:"column:additional_info; type:text"`
	IssuedAt       time.Time `gorm:"column:issued_at"`
	ExpiresAt      time.Time `gorm:"column:expires_at"`
}

func (AccessTokenModel) TableName() string { return "oauth_access_tokens" }

type RefreshTokenModel struct {
	Value       string    `gorm:"column:token_value; type:varchar(128); primaryKey"`
	ClientID    string    `gorm:"column:client_id; type:varchar(64); index"`
	Username    string    `gorm:"column:username; type:varchar(255)"`
	Scopes      string    `gorm:"column:scopes; type:text"`
	AccessToken string    `gorm:"column:access_token; type:varchar(128)"`
	IssuedAt    time.Time `gorm:"column:issued_at"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
}

func (RefreshTokenModel) TableName() string { return "oauth_refresh_tokens" }

type SecuredResourceModel struct {
	ID          string `gorm:"column:id; type:varchar(64); primaryKey"`
	Pattern     string `gorm:"column:pattern; type:varchar(1024)"`
	Method      string `gorm:"column:method; type:varchar(16)"`
	Authorities string `gorm:"column:authorities; type:text"`
}

func (SecuredResourceModel) TableName() string { return "oauth_secured_resources" }

type RememberMeModel struct {
	Series       string    `gorm:"column:series; type:varchar(64); primaryKey"`
	Value        string    `gorm:"column:token_value; type:varchar(64)"`
	Username     string    `gorm:"column:username; type:varchar(255); index"`
	RegisteredAt time.Time `gorm:"column:registered_at"`
	LastUsedAt   time.Time `gorm:"column:last_used_at"`
}

func (RememberMeModel) TableName() string { return "oauth_remember_me" }

type UserApprovalModel struct {
	Username  string    `gorm:"column:username; type:varchar(255); primaryKey"`
	ClientID  string    `gorm:"column:client_id; type:varchar(64); primaryKey"`
	Scopes    string    `gorm:"column:scopes; type:text"`
	UpdatedAt time.Time `gorm:"column:updated_at; autoUpdateTime:false"`
}

func (UserApprovalModel) TableName() string { return "oauth_approvals" }

func allModels() []any {
	return []any{
		&ClientModel{},
		&ScopeModel{},
		&AuthorizationCodeModel{},
		&AccessTokenModel{},
		&RefreshTokenModel{},
		&SecuredResourceModel{},
		&RememberMeModel{},
		&UserApprovalModel{},
	}
}

func marshalText(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalText(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

// FromClient converts a Client to its database model
func FromClient(c *Client) (*ClientModel, error) {
	redirects, err := marshalText(copyStrings(c.RedirectURIs))
	if err != nil {
		return nil, err
	}
	grants, err := marshalText(copyStrings(c.GrantTypes))
	if err != nil {
		return nil, err
	}
	scopes, err := marshalText(copyScopes(c.Scopes))
	if err != nil {
		return nil, err
	}
	return &ClientModel{
		ClientID:             string(c.ID),
		Secret:               c.Secret,
		Name:                 c.Name,
		Owner:                string(c.Owner),
		RedirectURIs:         redirects,
		GrantTypes:           grants,
		Scopes:               scopes,
		AccessTokenValidity:  int64(c.AccessTokenValidity),
		RefreshTokenValidity: int64(c.RefreshTokenValidity),
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}, nil
}

// ToClient converts the database model to a Client
func (m *ClientModel) ToClient() (*Client, error) {
	c := &Client{
		ID:                   types.ClientID(m.ClientID),
		Secret:               m.Secret,
		Name:                 m.Name,
		Owner:                types.Username(m.Owner),
		RedirectURIs:         []string{},
		GrantTypes:           []string{},
		Scopes:               types.Scopes{},
		AccessTokenValidity:  time.Duration(m.AccessTokenValidity),
		RefreshTokenValidity: time.Duration(m.RefreshTokenValidity),
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
	if err := unmarshalText(m.RedirectURIs, &c.RedirectURIs); err != nil {
		return nil, err
	}
	if err := unmarshalText(m.GrantTypes, &c.GrantTypes); err != nil {
		return nil, err
	}
	if err := unmarshalText(m.Scopes, &c.Scopes); err != nil {
		return nil, err
	}
	return c, nil
}

func fromScope(s *Scope) *ScopeModel {
	return &ScopeModel{Code: string(s.Code), Description: s.Description, Initialize: s.Initialize}
}

func (m *ScopeModel) toScope() *Scope {
	return &Scope{Code: types.ScopeCode(m.Code), Description: m.Description, Initialize: m.Initialize}
}

func fromCode(c *AuthorizationCode) (*AuthorizationCodeModel, error) {
	scopes, err := marshalText(copyScopes(c.Scopes))
	if err != nil {
		return nil, err
	}
	return &AuthorizationCodeModel{
		Code:                c.Code,
		ClientID:            string(c.ClientID),
		Username:            string(c.Username),
		RedirectURI:         c.RedirectURI,
		Scopes:              scopes,
		CodeChallenge:       c.CodeChallenge,
		CodeChallengeMethod: c.CodeChallengeMethod,
		ExpiresAt:           c.ExpiresAt,
		CreatedAt:           c.CreatedAt,
	}, nil
}

func (m *AuthorizationCodeModel) toCode() (*AuthorizationCode, error) {
	c := &AuthorizationCode{
		Code:                m.Code,
		ClientID:            types.ClientID(m.ClientID),
		Username:            types.Username(m.Username),
		RedirectURI:         m.RedirectURI,
		Scopes:              types.Scopes{},
		CodeChallenge:       m.CodeChallenge,
		CodeChallengeMethod: m.CodeChallengeMethod,
		ExpiresAt:           m.ExpiresAt,
		CreatedAt:           m.CreatedAt,
	}
	if err := unmarshalText(m.Scopes, &c.Scopes); err != nil {
		return nil, err
	}
	return c, nil
}

func fromAccessToken(t *AccessToken) (*AccessTokenModel, error) {
	scopes, err := marshalText(copyScopes(t.Scopes))
	if err != nil {
		return nil, err
	}
	var info string
	if len(t.AdditionalInfo) > 0 {
		if info, err = marshalText(t.AdditionalInfo); err != nil {
			return nil, err
		}
	}
	return &AccessTokenModel{
		Value:          string(t.Value),
		TokenType:      t.TokenType,
		ClientID:       string(t.ClientID),
		Username:       string(t.Username),
		Scopes:         scopes,
		UniqueKey:      t.UniqueKey,
		RefreshToken:   string(t.RefreshToken),
		AdditionalInfo: info,
		IssuedAt:       t.IssuedAt,
		ExpiresAt:      t.ExpiresAt,
	}, nil
}

func (m *AccessTokenModel) toAccessToken() (*AccessToken, error) {
	t := &AccessToken{
		Value:        types.TokenID(m.Value),
		TokenType:    m.TokenType,
		ClientID:     types.ClientID(m.ClientID),
		Username:     types.Username(m.Username),
		Scopes:       types.Scopes{},
		UniqueKey:    m.UniqueKey,
		RefreshToken: types.TokenID(m.RefreshToken),
		IssuedAt:     m.IssuedAt,
		ExpiresAt:    m.ExpiresAt,
	}
	if err := unmarshalText(m.Scopes, &t.Scopes); err != nil {
		return nil, err
	}
	if err := unmarshalText(m.AdditionalInfo, &t.AdditionalInfo); err != nil {
		return nil, err
	}
	return t, nil
}

func fromRefreshToken(t *RefreshToken) (*RefreshTokenModel, error) {
	scopes, err := marshalText(copyScopes(t.Scopes))
	if err != nil {
		return nil, err
	}
	return &RefreshTokenModel{
		Value:       string(t.Value),
		ClientID:    string(t.ClientID),
		Username:    string(t.Username),
		Scopes:      scopes,
		AccessToken: string(t.AccessToken),
		IssuedAt:    t.IssuedAt,
		ExpiresAt:   t.ExpiresAt,
	}, nil
}

func (m *RefreshTokenModel) toRefreshToken() (*RefreshToken, error) {
	t := &RefreshToken{
		Value:       types.TokenID(m.Value),
		ClientID:    types.ClientID(m.ClientID),
		Username:    types.Username(m.Username),
		Scopes:      types.Scopes{},
		AccessToken: types.TokenID(m.AccessToken),
		IssuedAt:    m.IssuedAt,
		ExpiresAt:   m.ExpiresAt,
	}
	if err := unmarshalText(m.Scopes, &t.Scopes); err != nil {
		return nil, err
	}
	return t, nil
}

func fromResource(r *SecuredResource) (*SecuredResourceModel, error) {
	authorities, err := marshalText(copyStrings(r.Authorities))
	if err != nil {
		return nil, err
	}
	return &SecuredResourceModel{
		ID:          r.ID,
		Pattern:     r.Pattern,
		Method:      r.Method,
		Authorities: authorities,
	}, nil
}

func (m *SecuredResourceModel) toResource() (*SecuredResource, error) {
	r := &SecuredResource{
		ID:          m.ID,
		Pattern:     m.Pattern,
		Method:      m.Method,
		Authorities: []string{},
	}
	if err := unmarshalText(m.Authorities, &r.Authorities); err != nil {
		return nil, err
	}
	return r, nil
}

func fromRememberMe(t *RememberMeToken) *RememberMeModel {
	return &RememberMeModel{
		Series:       t.Series,
		Value:        t.Value,
		Username:     string(t.Username),
		RegisteredAt: t.RegisteredAt,
		LastUsedAt:   t.LastUsedAt,
	}
}

func (m *RememberMeModel) toRememberMe() *RememberMeToken {
	return &RememberMeToken{
		Series:       m.Series,
		Value:        m.Value,
		Username:     types.Username(m.Username),
		RegisteredAt: m.RegisteredAt,
		LastUsedAt:   m.LastUsedAt,
	}
}

func fromApproval(a *UserApproval) (*UserApprovalModel, error) {
	scopes, err := marshalText(copyScopes(a.Scopes))
	if err != nil {
		return nil, err
	}
	return &UserApprovalModel{
		Username:  string(a.Username),
		ClientID:  string(a.ClientID),
		Scopes:    scopes,
		UpdatedAt: a.UpdatedAt,
	}, nil
}

func (m *UserApprovalModel) toApproval() (*UserApproval, error) {
	a := &UserApproval{
		Username:  types.Username(m.Username),
		ClientID:  types.ClientID(m.ClientID),
		Scopes:    types.Scopes{},
		UpdatedAt: m.UpdatedAt,
	}
	if err := unmarshalText(m.Scopes, &a.Scopes); err != nil {
		return nil, err
	}
	return a, nil
}
