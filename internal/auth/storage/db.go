package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/amoylab/authcore/internal/auth/types"
	"github.com/amoylab/authcore/internal/common/config"
	"github.com/amoylab/authcore/internal/common/errorx"
)

// DBStore implements the Store interface using a database
type DBStore struct {
	logger *zap.Logger
	db     *gorm.DB
}

var _ Store = (*DBStore)(nil)

// DatabaseType represents the supported database types
type DatabaseType string

const (
	PostgreSQL DatabaseType = "postgres"
	MySQL      DatabaseType = "mysql"
	SQLite     DatabaseType = "sqlite"
)

// ErrInvalidDatabaseType is returned when an invalid database type is provided
var ErrInvalidDatabaseType = gorm.ErrInvalidDB

// NewDBStore creates a new database-based store
func NewDBStore(logger *zap.Logger, cfg *config.DatabaseConfig) (*DBStore, error) {
	logger = logger.Named("auth.store.db")

	dsn := cfg.GetDSN()
	var dialector gorm.Dialector
	switch DatabaseType(cfg.Type) {
	case PostgreSQL:
		dialector = postgres.Open(dsn)
	case MySQL:
		dialector = mysql.Open(dsn)
	case SQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, ErrInvalidDatabaseType
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if DatabaseType(cfg.Type) == SQLite {
		// every sqlite connection sees its own :memory: database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("auth database ready", zap.String("type", cfg.Type))
	return &DBStore{
		logger: logger,
		db:     db,
	}, nil
}

// Transaction runs fn in a database transaction; nested calls join it
func (s *DBStore) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if TransactionFromContext(ctx) != nil {
		return fn(ctx)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ContextWithTransaction(ctx, tx))
	})
}

func notFound(err error, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

// GetClient implements ClientStore.GetClient
func (s *DBStore) GetClient(ctx context.Context, clientID types.ClientID) (*Client, error) {
	var model ClientModel
	if err := getDBFromContext(ctx, s.db).Where("client_id = ?", string(clientID)).First(&model).Error; err != nil {
		return nil, notFound(err, errorx.ErrClientNotFound)
	}
	return model.ToClient()
}

// CountClients implements ClientStore.CountClients
func (s *DBStore) CountClients(ctx context.Context, clientID types.ClientID) (int64, error) {
	var n int64
	err := getDBFromContext(ctx, s.db).Model(&ClientModel{}).Where("client_id = ?", string(clientID)).Count(&n).Error
	return n, err
}

// CreateClient implements ClientStore.CreateClient
func (s *DBStore) CreateClient(ctx context.Context, client *Client) error {
	model, err := FromClient(client)
	if err != nil {
		return err
	}
	return s.Transaction(ctx, func(ctx context.Context) error {
		n, err := s.CountClients(ctx, client.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return errorx.ErrClientAlreadyExists
		}
		return getDBFromContext(ctx, s.db).Create(model).Error
	})
}

// UpdateClient implements ClientStore.UpdateClient
func (s *DBStore) UpdateClient(ctx context.Context, client *Client) error {
	model, err := FromClient(client)
	if err != nil {
		return err
	}
	return s.Transaction(ctx, func(ctx context.Context) error {
		n, err := s.CountClients(ctx, client.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			return errorx.ErrClientNotFound
		}
		return getDBFromContext(ctx, s.db).Save(model).Error
	})
}

// DeleteClient implements ClientStore.DeleteClient
func (s *DBStore) DeleteClient(ctx context.Context, clientID types.ClientID) error {
	result := getDBFromContext(ctx, s.db).Where("client_id = ?", string(clientID)).Delete(&ClientModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errorx.ErrClientNotFound
	}
	return nil
}

func (s *DBStore) GetScope(ctx context.Context, code types.ScopeCode) (*Scope, error) {
	var model ScopeModel
	if err := getDBFromContext(ctx, s.db).Where("code = ?", string(code)).First(&model).Error; err != nil {
		return nil, notFound(err, errorx.ErrScopeNotFound)
	}
	return model.toScope(), nil
}

func (s *DBStore) ListScopes(ctx context.Context) ([]*Scope, error) {
	var models []ScopeModel
	if err := getDBFromContext(ctx, s.db).Order("code asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*Scope, len(models))
	for i := range models {
		out[i] = models[i].toScope()
	}
	return out, nil
}

func (s *DBStore) CountScopes(ctx context.Context, codes types.Scopes) (int64, error) {
	codes = codes.Unique()
	if len(codes) == 0 {
		return 0, nil
	}
	var n int64
	err := getDBFromContext(ctx, s.db).Model(&ScopeModel{}).Where("code IN ?", codes.Strings()).Count(&n).Error
	return n, err
}

func (s *DBStore) CreateScope(ctx context.Context, scope *Scope) error {
	return s.Transaction(ctx, func(ctx context.Context) error {
		n, err := s.CountScopes(ctx, types.Scopes{scope.Code})
		if err != nil {
			return err
		}
		if n > 0 {
			return errorx.ErrScopeAlreadyExists
		}
		return getDBFromContext(ctx, s.db).Create(fromScope(scope)).Error
	})
}

func (s *DBStore) UpdateScope(ctx context.Context, scope *Scope) error {
	return s.Transaction(ctx, func(ctx context.Context) error {
		n, err := s.CountScopes(ctx, types.Scopes{scope.Code})
		if err != nil {
			return err
		}
		if n == 0 {
			return errorx.ErrScopeNotFound
		}
		return getDBFromContext(ctx, s.db).Save(fromScope(scope)).Error
	})
}

func (s *DBStore) DeleteScope(ctx context.Context, code types.ScopeCode) error {
	result := getDBFromContext(ctx, s.db).Where("code = ?", string(code)).Delete(&ScopeModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errorx.ErrScopeNotFound
	}
	return nil
}

// SaveAuthorizationCode implements AuthorizationCodeStore.SaveAuthorizationCode
func (s *DBStore) SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	model, err := fromCode(code)
	if err != nil {
		return err
	}
	return getDBFromContext(ctx, s.db).Save(model).Error
}

// GetAuthorizationCode implements AuthorizationCodeStore.GetAuthorizationCode
func (s *DBStore) GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	var model AuthorizationCodeModel
	if err := getDBFromContext(ctx, s.db).Where("code = ?", code).First(&model).Error; err != nil {
		return nil, notFound(err, errorx.ErrAuthorizationCodeNotFound)
	}
	return model.toCode()
}

// DeleteAuthorizationCode implements AuthorizationCodeStore.DeleteAuthorizationCode
func (s *DBStore) DeleteAuthorizationCode(ctx context.Context, code string) error {
	result := getDBFromContext(ctx, s.db).Where("code = ?", code).Delete(&AuthorizationCodeModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errorx.ErrAuthorizationCodeNotFound
	}
	return nil
}

func (s *DBStore) SaveAccessToken(ctx context.Context, token *AccessToken) error {
	model, err := fromAccessToken(token)
	if err != nil {
		return err
	}
	return getDBFromContext(ctx, s.db).Save(model).Error
}

func (s *DBStore) GetAccessToken(ctx context.Context, value types.TokenID) (*AccessToken, error) {
	var model AccessTokenModel
	if err := getDBFromContext(ctx, s.db).Where("token_value = ?", string(value)).First(&model).Error; err != nil {
		return nil, notFound(err, errorx.ErrAccessTokenNotFound)
	}
	return model.toAccessToken()
}

func (s *DBStore) FindAccessTokenByUniqueKey(ctx context.Context, key string) (*AccessToken, error) {
	var model AccessTokenModel
	err := getDBFromContext(ctx, s.db).
		Where("unique_key = ?", key).
		Order("issued_at desc").
		First(&model).Error
	if err != nil {
		return nil, notFound(err, errorx.ErrAccessTokenNotFound)
	}
	return model.toAccessToken()
}

func (s *DBStore) DeleteAccessToken(ctx context.Context, value types.TokenID) error {
	return s.Transaction(ctx, func(ctx context.Context) error {
		token, err := s.GetAccessToken(ctx, value)
		if err != nil {
			return err
		}
		db := getDBFromContext(ctx, s.db)
		if err := db.Where("token_value = ?", string(value)).Delete(&AccessTokenModel{}).Error; err != nil {
			return err
		}
		if token.RefreshToken == "" {
			return nil
		}
		return db.Model(&RefreshTokenModel{}).
			Where("token_value = ? AND access_token = ?", string(token.RefreshToken), string(value)).
			Update("access_token", "").Error
	})
}

func (s *DBStore) SaveRefreshToken(ctx context.Context, token *RefreshToken) error {
	model, err := fromRefreshToken(token)
	if err != nil {
		return err
	}
	return getDBFromContext(ctx, s.db).Save(model).Error
}

func (s *DBStore) GetRefreshToken(ctx context.Context, value types.TokenID) (*RefreshToken, error) {
	var model RefreshTokenModel
	if err := getDBFromContext(ctx, s.db).Where("token_value = ?", string(value)).First(&model).Error; err != nil {
		return nil, notFound(err, errorx.ErrRefreshTokenNotFound)
	}
	return model.toRefreshToken()
}

func (s *DBStore) DeleteRefreshToken(ctx context.Context, value types.TokenID) error {
	return s.Transaction(ctx, func(ctx context.Context) error {
		token, err := s.GetRefreshToken(ctx, value)
		if err != nil {
			return err
		}
		db := getDBFromContext(ctx, s.db)
		if token.AccessToken != "" {
			if err := db.Where("token_value = ?", string(token.AccessToken)).Delete(&AccessTokenModel{}).Error; err != nil {
				return err
			}
		}
		return db.Where("token_value = ?", string(value)).Delete(&RefreshTokenModel{}).Error
	})
}

func (s *DBStore) ReplaceAccessToken(ctx context.Context, refresh types.TokenID, next *AccessToken) error {
	model, err := fromAccessToken(next)
	if err != nil {
		return err
	}
	return s.Transaction(ctx, func(ctx context.Context) error {
		owner, err := s.GetRefreshToken(ctx, refresh)
		if err != nil {
			return err
		}
		db := getDBFromContext(ctx, s.db)
		if err := db.Save(model).Error; err != nil {
			return err
		}
		if err := db.Model(&RefreshTokenModel{}).
			Where("token_value = ?", string(refresh)).
			Update("access_token", string(next.Value)).Error; err != nil {
			return err
		}
		if owner.AccessToken != "" && owner.AccessToken != next.Value {
			return db.Where("token_value = ?", string(owner.AccessToken)).Delete(&AccessTokenModel{}).Error
		}
		return nil
	})
}

func (s *DBStore) SaveGrant(ctx context.Context, access *AccessToken, refresh *RefreshToken, previous *AccessToken) error {
	accessModel, err := fromAccessToken(access)
	if err != nil {
		return err
	}
	var refreshModel *RefreshTokenModel
	if refresh != nil {
		if refreshModel, err = fromRefreshToken(refresh); err != nil {
			return err
		}
	}
	return s.Transaction(ctx, func(ctx context.Context) error {
		db := getDBFromContext(ctx, s.db)
		if previous != nil {
			if previous.RefreshToken != "" {
				if err := db.Where("token_value = ?", string(previous.RefreshToken)).Delete(&RefreshTokenModel{}).Error; err != nil {
					return err
				}
			}
			if err := db.Where("token_value = ?", string(previous.Value)).Delete(&AccessTokenModel{}).Error; err != nil {
				return err
			}
		}
		if err := db.Save(accessModel).Error; err != nil {
			return err
		}
		if refreshModel != nil {
			return db.Save(refreshModel).Error
		}
		return nil
	})
}

func (s *DBStore) DeleteTokensByClientID(ctx context.Context, clientID types.ClientID) error {
	return s.Transaction(ctx, func(ctx context.Context) error {
		db := getDBFromContext(ctx, s.db)
		if err := db.Where("client_id = ?", string(clientID)).Delete(&AccessTokenModel{}).Error; err != nil {
			return err
		}
		return db.Where("client_id = ?", string(clientID)).Delete(&RefreshTokenModel{}).Error
	})
}

func (s *DBStore) GetResource(ctx context.Context, id string) (*SecuredResource, error) {
	var model SecuredResourceModel
	if err := getDBFromContext(ctx, s.db).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, notFound(err, errorx.ErrResourceNotFound)
	}
	return model.toResource()
}

func (s *DBStore) ListResources(ctx context.Context) ([]*SecuredResource, error) {
	var models []SecuredResourceModel
	if err := getDBFromContext(ctx, s.db).Order("id asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*SecuredResource, 0, len(models))
	for i := range models {
		r, err := models[i].toResource()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *DBStore) countResources(ctx context.Context, id string) (int64, error) {
	var n int64
	err := getDBFromContext(ctx, s.db).Model(&SecuredResourceModel{}).Where("id = ?", id).Count(&n).Error
	return n, err
}

func (s *DBStore) CreateResource(ctx context.Context, resource *SecuredResource) error {
	model, err := fromResource(resource)
	if err != nil {
		return err
	}
	return s.Transaction(ctx, func(ctx context.Context) error {
		n, err := s.countResources(ctx, resource.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return errorx.ErrResourceAlreadyExists
		}
		return getDBFromContext(ctx, s.db).Create(model).Error
	})
}

func (s *DBStore) UpdateResource(ctx context.Context, resource *SecuredResource) error {
	model, err := fromResource(resource)
	if err != nil {
		return err
	}
	return s.Transaction(ctx, func(ctx context.Context) error {
		n, err := s.countResources(ctx, resource.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			return errorx.ErrResourceNotFound
		}
		return getDBFromContext(ctx, s.db).Save(model).Error
	})
}

func (s *DBStore) DeleteResource(ctx context.Context, id string) error {
	result := getDBFromContext(ctx, s.db).Where("id = ?", id).Delete(&SecuredResourceModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errorx.ErrResourceNotFound
	}
	return nil
}

func (s *DBStore) CreateRememberMe(ctx context.Context, token *RememberMeToken) error {
	return getDBFromContext(ctx, s.db).Create(fromRememberMe(token)).Error
}

func (s *DBStore) GetRememberMe(ctx context.Context, series string) (*RememberMeToken, error) {
	var model RememberMeModel
	if err := getDBFromContext(ctx, s.db).Where("series = ?", series).First(&model).Error; err != nil {
		return nil, notFound(err, errorx.ErrRememberMeNotFound)
	}
	return model.toRememberMe(), nil
}

func (s *DBStore) UpdateRememberMe(ctx context.Context, series, value string, lastUsed time.Time) error {
	result := getDBFromContext(ctx, s.db).Model(&RememberMeModel{}).
		Where("series = ?", series).
		Updates(map[string]any{"token_value": value, "last_used_at": lastUsed})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errorx.ErrRememberMeNotFound
	}
	return nil
}

func (s *DBStore) DeleteRememberMe(ctx context.Context, series string) error {
	return getDBFromContext(ctx, s.db).Where("series = ?", series).Delete(&RememberMeModel{}).Error
}

func (s *DBStore) DeleteRememberMeByUsername(ctx context.Context, username types.Username) error {
	return getDBFromContext(ctx, s.db).Where("username = ?", string(username)).Delete(&RememberMeModel{}).Error
}

func (s *DBStore) SaveApproval(ctx context.Context, approval *UserApproval) error {
	model, err := fromApproval(approval)
	if err != nil {
		return err
	}
	return getDBFromContext(ctx, s.db).Save(model).Error
}

func (s *DBStore) GetApproval(ctx context.Context, username types.Username, clientID types.ClientID) (*UserApproval, error) {
	var model UserApprovalModel
	err := getDBFromContext(ctx, s.db).
		Where("username = ? AND client_id = ?", string(username), string(clientID)).
		First(&model).Error
	if err != nil {
		return nil, notFound(err, errorx.ErrApprovalNotFound)
	}
	return model.toApproval()
}

func (s *DBStore) DeleteApproval(ctx context.Context, username types.Username, clientID types.ClientID) error {
	return getDBFromContext(ctx, s.db).
		Where("username = ? AND client_id = ?", string(username), string(clientID)).
		Delete(&UserApprovalModel{}).Error
}

// Close closes the database connection
func (s *DBStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
