package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/hitoshi/oauthgate/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// GormLocalAccountRepo はgormを使用したローカルアカウントリポジトリ。
type GormLocalAccountRepo struct {
	db *gorm.DB
}

// NewGormLocalAccountRepo はGormLocalAccountRepoを生成する。
func NewGormLocalAccountRepo(db *gorm.DB) *GormLocalAccountRepo {
	return &GormLocalAccountRepo{db: db}
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *GormLocalAccountRepo) FindByID(ctx context.Context, id int64) (*model.LocalAccount, error) {
	var account model.LocalAccount
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find local account: %w", err)
	}
	return &account, nil
}

// FindByEmail はメールアドレスでアカウントを検索する。見つからない場合はnilを返す。
func (r *GormLocalAccountRepo) FindByEmail(ctx context.Context, email string) (*model.LocalAccount, error) {
	var account model.LocalAccount
	err := r.db.WithContext(ctx).Where("email = ?", email).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find local account by email: %w", err)
	}
	return &account, nil
}

// Create はアカウントを作成する。
func (r *GormLocalAccountRepo) Create(ctx context.Context, account *model.LocalAccount) error {
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create local account: %w", err)
	}
	return nil
}

// isUniqueViolation はlib/pqのエラーが一意制約違反かを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// compile-time interface check
var _ LocalAccountRepository = (*GormLocalAccountRepo)(nil)
