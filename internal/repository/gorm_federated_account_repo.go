package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hitoshi/oauthgate/internal/model"
)

// GormFederatedAccountRepo はgormを使用した外部IdPアカウントリポジトリ。
type GormFederatedAccountRepo struct {
	db *gorm.DB
}

// NewGormFederatedAccountRepo はGormFederatedAccountRepoを生成する。
func NewGormFederatedAccountRepo(db *gorm.DB) *GormFederatedAccountRepo {
	return &GormFederatedAccountRepo{db: db}
}

// FindByID はsubject識別子でアカウントを取得する。見つからない場合はnilを返す。
func (r *GormFederatedAccountRepo) FindByID(ctx context.Context, id string) (*model.FederatedAccount, error) {
	var account model.FederatedAccount
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find federated account: %w", err)
	}
	return &account, nil
}

// Create はアカウントを作成する。
// 同時ログインで同じsubjectの挿入が競合しても2行目は作られない。
func (r *GormFederatedAccountRepo) Create(ctx context.Context, account *model.FederatedAccount) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(account)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return false, ErrDuplicateEmail
		}
		return false, fmt.Errorf("failed to create federated account: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// compile-time interface check
var _ FederatedAccountRepository = (*GormFederatedAccountRepo)(nil)
