// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/oauthgate/internal/model"
)

// ErrDuplicateEmail はメールアドレスの一意制約違反を表す。
var ErrDuplicateEmail = errors.New("email already exists")

// LocalAccountRepository はローカルアカウントの永続化インターフェース。
type LocalAccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.LocalAccount, error)

	// FindByEmail はメールアドレスでアカウントを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.LocalAccount, error)

	// Create はアカウントを作成し、採番されたIDをaccountに設定する。
	// メールアドレスが登録済みの場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, account *model.LocalAccount) error
}

// FederatedAccountRepository は外部IdPアカウントの永続化インターフェース。
// 更新・削除の操作は持たない。
type FederatedAccountRepository interface {
	// FindByID はsubject識別子でアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.FederatedAccount, error)

	// Create はアカウントを作成する。
	// 同じIDの行が既に存在する場合は何もせずcreated=falseを返す。
	Create(ctx context.Context, account *model.FederatedAccount) (created bool, err error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
