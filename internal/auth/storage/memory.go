package storage

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/amoylab/authcore/internal/auth/types"
	"github.com/amoylab/authcore/internal/common/errorx"
)

type memoryData struct {
	clients    map[types.ClientID]*Client
	scopes     map[types.ScopeCode]*Scope
	codes      map[string]*AuthorizationCode
	access     map[types.TokenID]*AccessToken
	uniqueKeys map[string]types.TokenID
	refresh    map[types.TokenID]*RefreshToken
	resources  map[string]*SecuredResource
	rememberMe map[string]*RememberMeToken
	approvals  map[approvalKey]*UserApproval
}

type approvalKey struct {
	username types.Username
	clientID types.ClientID
}

func newMemoryData() *memoryData {
	return &memoryData{
		clients:    make(map[types.ClientID]*Client),
		scopes:     make(map[types.ScopeCode]*Scope),
		codes:      make(map[string]*AuthorizationCode),
		access:     make(map[types.TokenID]*AccessToken),
		uniqueKeys: make(map[string]types.TokenID),
		refresh:    make(map[types.TokenID]*RefreshToken),
		resources:  make(map[string]*SecuredResource),
		rememberMe: make(map[string]*RememberMeToken),
		approvals:  make(map[approvalKey]*UserApproval),
	}
}

// clone is shallow per entry. Entries are never mutated in place, every
// write stores a fresh copy.
func (d *memoryData) clone() *memoryData {
	return &memoryData{
		clients:    maps.Clone(d.clients),
		scopes:     maps.Clone(d.scopes),
		codes:      maps.Clone(d.codes),
		access:     maps.Clone(d.access),
		uniqueKeys: maps.Clone(d.uniqueKeys),
		refresh:    maps.Clone(d.refresh),
		resources:  maps.Clone(d.resources),
		rememberMe: maps.Clone(d.rememberMe),
		approvals:  maps.Clone(d.approvals),
	}
}

// MemoryStorage implements the Store interface using in-memory storage.
// Transactions work on a copy of the data that replaces the live data on
// success.
type MemoryStorage struct {
	// txMu serializes writers, transactional or not
	txMu sync.Mutex
	mu   sync.RWMutex
	data *memoryData
}

type memoryTxKey struct{ owner *MemoryStorage }

// NewMemoryStorage creates a new memory storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: newMemoryData()}
}

// Transaction runs fn against a private copy of the data. A call nested in
// a running transaction joins it.
func (s *MemoryStorage) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memoryTxKey{s}).(*memoryData); ok {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memoryTxKey{s}, work)); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) read(ctx context.Context, fn func(d *memoryData) error) error {
	if d, ok := ctx.Value(memoryTxKey{s}).(*memoryData); ok {
		return fn(d)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.data)
}

func (s *MemoryStorage) write(ctx context.Context, fn func(d *memoryData) error) error {
	if d, ok := ctx.Value(memoryTxKey{s}).(*memoryData); ok {
		return fn(d)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

// GetClient retrieves a client by ID
func (s *MemoryStorage) GetClient(ctx context.Context, clientID types.ClientID) (*Client, error) {
	var out *Client
	err := s.read(ctx, func(d *memoryData) error {
		c, ok := d.clients[clientID]
		if !ok {
			return errorx.ErrClientNotFound
		}
		out = copyClient(c)
		return nil
	})
	return out, err
}

// CountClients returns 1 when the id is registered and 0 otherwise
func (s *MemoryStorage) CountClients(ctx context.Context, clientID types.ClientID) (int64, error) {
	var n int64
	err := s.read(ctx, func(d *memoryData) error {
		if _, ok := d.clients[clientID]; ok {
			n = 1
		}
		return nil
	})
	return n, err
}

// CreateClient creates a new client
func (s *MemoryStorage) CreateClient(ctx context.Context, client *Client) error {
	return s.write(ctx, func(d *memoryData) error {
		if _, exists := d.clients[client.ID]; exists {
			return errorx.ErrClientAlreadyExists
		}
		d.clients[client.ID] = copyClient(client)
		return nil
	})
}

// UpdateClient updates an existing client
func (s *MemoryStorage) UpdateClient(ctx context.Context, client *Client) error {
	return s.write(ctx, func(d *memoryData) error {
		if _, exists := d.clients[client.ID]; !exists {
			return errorx.ErrClientNotFound
		}
		d.clients[client.ID] = copyClient(client)
		return nil
	})
}

// DeleteClient deletes a client
func (s *MemoryStorage) DeleteClient(ctx context.Context, clientID types.ClientID) error {
	return s.write(ctx, func(d *memoryData) error {
		if _, exists := d.clients[clientID]; !exists {
			return errorx.ErrClientNotFound
		}
		delete(d.clients, clientID)
		return nil
	})
}

func (s *MemoryStorage) GetScope(ctx context.Context, code types.ScopeCode) (*Scope, error) {
	var out *Scope
	err := s.read(ctx, func(d *memoryData) error {
		sc, ok := d.scopes[code]
		if !ok {
			return errorx.ErrScopeNotFound
		}
		out = copyScope(sc)
		return nil
	})
	return out, err
}

func (s *MemoryStorage) ListScopes(ctx context.Context) ([]*Scope, error) {
	var out []*Scope
	err := s.read(ctx, func(d *memoryData) error {
		out = make([]*Scope, 0, len(d.scopes))
		for _, sc := range d.scopes {
			out = append(out, copyScope(sc))
		}
		return nil
	})
	sortScopes(out)
	return out, err
}

func (s *MemoryStorage) CountScopes(ctx context.Context, codes types.Scopes) (int64, error) {
	var n int64
	err := s.read(ctx, func(d *memoryData) error {
		for _, c := range codes.Unique() {
			if _, ok := d.scopes[c]; ok {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *MemoryStorage) CreateScope(ctx context.Context, scope *Scope) error {
	return s.write(ctx, func(d *memoryData) error {
		if _, exists := d.scopes[scope.Code]; exists {
			return errorx.ErrScopeAlreadyExists
		}
		d.scopes[scope.Code] = copyScope(scope)
		return nil
	})
}

func (s *MemoryStorage) UpdateScope(ctx context.Context, scope *Scope) error {
	return s.write(ctx, func(d *memoryData) error {
		if _, exists := d.scopes[scope.Code]; !exists {
			return errorx.ErrScopeNotFound
		}
		d.scopes[scope.Code] = copyScope(scope)
		return nil
	})
}

func (s *MemoryStorage) DeleteScope(ctx context.Context, code types.ScopeCode) error {
	return s.write(ctx, func(d *memoryData) error {
		if _, exists := d.scopes[code]; !exists {
			return errorx.ErrScopeNotFound
		}
		delete(d.scopes, code)
		return nil
	})
}

// SaveAuthorizationCode saves an authorization code
func (s *MemoryStorage) SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	return s.write(ctx, func(d *memoryData) error {
		d.codes[code.Code] = copyCode(code)
		return nil
	})
}

// GetAuthorizationCode retrieves an authorization code
func (s *MemoryStorage) GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	var out *AuthorizationCode
	err := s.read(ctx, func(d *memoryData) error {
		c, ok := d.codes[code]
		if !ok {
			return errorx.ErrAuthorizationCodeNotFound
		}
		out = copyCode(c)
		return nil
	})
	return out, err
}

// DeleteAuthorizationCode deletes an authorization code
func (s *MemoryStorage) DeleteAuthorizationCode(ctx context.Context, code string) error {
	return s.write(ctx, func(d *memoryData) error {
		if _, ok := d.codes[code]; !ok {
			return errorx.ErrAuthorizationCodeNotFound
		}
		delete(d.codes, code)
		return nil
	})
}

func (s *MemoryStorage) SaveAccessToken(ctx context.Context, token *AccessToken) error {
	return s.write(ctx, func(d *memoryData) error {
		d.putAccess(token)
		return nil
	})
}

func (d *memoryData) putAccess(token *AccessToken) {
	d.access[token.Value] = copyAccessToken(token)
	if token.UniqueKey != "" {
		d.uniqueKeys[token.UniqueKey] = token.Value
	}
}

func (d *memoryData) dropAccess(value types.TokenID) bool {
	t, ok := d.access[value]
	if !ok {
		return false
	}
	delete(d.access, value)
	if d.uniqueKeys[t.UniqueKey] == value {
		delete(d.uniqueKeys, t.UniqueKey)
	}
	if r, ok := d.refresh[t.RefreshToken]; ok && r.AccessToken == value {
		cp := copyRefreshToken(r)
		cp.AccessToken = ""
		d.refresh[cp.Value] = cp
	}
	return true
}

func (s *MemoryStorage) GetAccessToken(ctx context.Context, value types.TokenID) (*AccessToken, error) {
	var out *AccessToken
	err := s.read(ctx, func(d *memoryData) error {
		t, ok := d.access[value]
		if !ok {
			return errorx.ErrAccessTokenNotFound
		}
		out = copyAccessToken(t)
		return nil
	})
	return out, err
}

func (s *MemoryStorage) FindAccessTokenByUniqueKey(ctx context.Context, key string) (*AccessToken, error) {
	var out *AccessToken
	err := s.read(ctx, func(d *memoryData) error {
		value, ok := d.uniqueKeys[key]
		if !ok {
			return errorx.ErrAccessTokenNotFound
		}
		t, ok := d.access[value]
		if !ok {
			return errorx.ErrAccessTokenNotFound
		}
		out = copyAccessToken(t)
		return nil
	})
	return out, err
}

func (s *MemoryStorage) DeleteAccessToken(ctx context.Context, value types.TokenID) error {
	return s.write(ctx, func(d *memoryData) error {
		if !d.dropAccess(value) {
			return errorx.ErrAccessTokenNotFound
		}
		return nil
	})
}

func (s *MemoryStorage) SaveRefreshToken(ctx context.Context, token *RefreshToken) error {
	return s.write(ctx, func(d *memoryData) error {
		d.refresh[token.Value] = copyRefreshToken(token)
		return nil
	})
}

func (s *MemoryStorage) GetRefreshToken(ctx context.Context, value types.TokenID) (*RefreshToken, error) {
	var out *RefreshToken
	err := s.read(ctx, func(d *memoryData) error {
		t, ok := d.refresh[value]
		if !ok {
			return errorx.ErrRefreshTokenNotFound
		}
		out = copyRefreshToken(t)
		return nil
	})
	return out, err
}

func (s *MemoryStorage) DeleteRefreshToken(ctx context.Context, value types.TokenID) error {
	return s.write(ctx, func(d *memoryData) error {
		t, ok := d.refresh[value]
		if !ok {
			return errorx.ErrRefreshTokenNotFound
		}
		delete(d.refresh, value)
		if t.AccessToken != "" {
			d.dropAccess(t.AccessToken)
		}
		return nil
	})
}

func (s *MemoryStorage) ReplaceAccessToken(ctx context.Context, refresh types.TokenID, next *AccessToken) error {
	return s.write(ctx, func(d *memoryData) error {
		r, ok := d.refresh[refresh]
		if !ok {
			return errorx.ErrRefreshTokenNotFound
		}
		previous := r.AccessToken

		d.putAccess(next)
		cp := copyRefreshToken(r)
		cp.AccessToken = next.Value
		d.refresh[refresh] = cp

		if previous != "" && previous != next.Value {
			d.dropAccess(previous)
		}
		return nil
	})
}

func (s *MemoryStorage) SaveGrant(ctx context.Context, access *AccessToken, refresh *RefreshToken, previous *AccessToken) error {
	return s.write(ctx, func(d *memoryData) error {
		if previous != nil {
			if previous.RefreshToken != "" {
				delete(d.refresh, previous.RefreshToken)
			}
			d.dropAccess(previous.Value)
		}
		d.putAccess(access)
		if refresh != nil {
			d.refresh[refresh.Value] = copyRefreshToken(refresh)
		}
		return nil
	})
}

func (s *MemoryStorage) DeleteTokensByClientID(ctx context.Context, clientID types.ClientID) error {
	return s.write(ctx, func(d *memoryData) error {
		for value, t := range d.access {
			if t.ClientID == clientID {
				d.dropAccess(value)
			}
		}
		for value, t := range d.refresh {
			if t.ClientID == clientID {
				delete(d.refresh, value)
			}
		}
		return nil
	})
}

func (s *MemoryStorage) GetResource(ctx context.Context, id string) (*SecuredResource, error) {
	var out *SecuredResource
	err := s.read(ctx, func(d *memoryData) error {
		r, ok := d.resources[id]
		if !ok {
			return errorx.ErrResourceNotFound
		}
		out = copyResource(r)
		return nil
	})
	return out, err
}

func (s *MemoryStorage) ListResources(ctx context.Context) ([]*SecuredResource, error) {
	var out []*SecuredResource
	err := s.read(ctx, func(d *memoryData) error {
		out = make([]*SecuredResource, 0, len(d.resources))
		for _, r := range d.resources {
			out = append(out, copyResource(r))
		}
		return nil
	})
	sortResources(out)
	return out, err
}

func (s *MemoryStorage) CreateResource(ctx context.Context, resource *SecuredResource) error {
	return s.write(ctx, func(d *memoryData) error {
		if _, exists := d.resources[resource.ID]; exists {
			return errorx.ErrResourceAlreadyExists
		}
		d.resources[resource.ID] = copyResource(resource)
		return nil
	})
}

func (s *MemoryStorage) UpdateResource(ctx context.Context, resource *SecuredResource) error {
	return s.write(ctx, func(d *memoryData) error {
		if _, exists := d.resources[resource.ID]; !exists {
			return errorx.ErrResourceNotFound
		}
		d.resources[resource.ID] = copyResource(resource)
		return nil
	})
}

func (s *MemoryStorage) DeleteResource(ctx context.Context, id string) error {
	return s.write(ctx, func(d *memoryData) error {
		if _, exists := d.resources[id]; !exists {
			return errorx.ErrResourceNotFound
		}
		delete(d.resources, id)
		return nil
	})
}

func (s *MemoryStorage) CreateRememberMe(ctx context.Context, token *RememberMeToken) error {
	return s.write(ctx, func(d *memoryData) error {
		d.rememberMe[token.Series] = copyRememberMe(token)
		return nil
	})
}

func (s *MemoryStorage) GetRememberMe(ctx context.Context, series string) (*RememberMeToken, error) {
	var out *RememberMeToken
	err := s.read(ctx, func(d *memoryData) error {
		t, ok := d.rememberMe[series]
		if !ok {
			return errorx.ErrRememberMeNotFound
		}
		out = copyRememberMe(t)
		return nil
	})
	return out, err
}

func (s *MemoryStorage) UpdateRememberMe(ctx context.Context, series, value string, lastUsed time.Time) error {
	return s.write(ctx, func(d *memoryData) error {
		t, ok := d.rememberMe[series]
		if !ok {
			return errorx.ErrRememberMeNotFound
		}
		cp := copyRememberMe(t)
		cp.Value = value
		cp.LastUsedAt = lastUsed
		d.rememberMe[series] = cp
		return nil
	})
}

func (s *MemoryStorage) DeleteRememberMe(ctx context.Context, series string) error {
	return s.write(ctx, func(d *memoryData) error {
		delete(d.rememberMe, series)
		return nil
	})
}

func (s *MemoryStorage) DeleteRememberMeByUsername(ctx context.Context, username types.Username) error {
	return s.write(ctx, func(d *memoryData) error {
		for series, t := range d.rememberMe {
			if t.Username == username {
				delete(d.rememberMe, series)
			}
		}
		return nil
	})
}

func (s *MemoryStorage) SaveApproval(ctx context.Context, approval *UserApproval) error {
	return s.write(ctx, func(d *memoryData) error {
		d.approvals[approvalKey{approval.Username, approval.ClientID}] = copyApproval(approval)
		return nil
	})
}

func (s *MemoryStorage) GetApproval(ctx context.Context, username types.Username, clientID types.ClientID) (*UserApproval, error) {
	var out *UserApproval
	err := s.read(ctx, func(d *memoryData) error {
		a, ok := d.approvals[approvalKey{username, clientID}]
		if !ok {
			return errorx.ErrApprovalNotFound
		}
		out = copyApproval(a)
		return nil
	})
	return out, err
}

func (s *MemoryStorage) DeleteApproval(ctx context.Context, username types.Username, clientID types.ClientID) error {
	return s.write(ctx, func(d *memoryData) error {
		delete(d.approvals, approvalKey{username, clientID})
		return nil
	})
}

// Close is a no-op for memory storage
func (s *MemoryStorage) Close() error {
	return nil
}
