// Package model はドメインモデルを定義する。
package model

import (
	"strconv"
	"time"
)

// AccountKind はアカウントの種別を表す。
// ローカルアカウントと外部IdPアカウントは独立したID空間として扱い、相互に統合しない。
type AccountKind string

const (
	// AccountKindLocal はメールアドレスとパスワードで登録されたローカルアカウント。
	AccountKindLocal AccountKind = "local"
	// AccountKindFederated は外部IdP（Google）から取得したアカウント。
	AccountKindFederated AccountKind = "federated"
)

// Principal は認証済み主体に共通する能力を表す。
type Principal interface {
	PrincipalID() string
	PrincipalEmail() string
	Kind() AccountKind
}

// LocalAccount はローカル登録されたアカウントを表す。
// PasswordHashは外部に返却しない。
type LocalAccount struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string    `gorm:"size:767;not null;uniqueIndex" json:"email"`
	PasswordHash *string   `gorm:"column:password_hash" json:"-"`
	Active       bool      `gorm:"not null" json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName はgormが使用するテーブル名を返す。
func (LocalAccount) TableName() string { return "local_accounts" }

// PrincipalID はPrincipalを実装する。
// federatedのsubject識別子と衝突しないよう "local:" プレフィックスを付ける。
func (a *LocalAccount) PrincipalID() string { return "local:" + strconv.FormatInt(a.ID, 10) }

// PrincipalEmail はPrincipalを実装する。
func (a *LocalAccount) PrincipalEmail() string { return a.Email }

// Kind はPrincipalを実装する。
func (a *LocalAccount) Kind() AccountKind { return AccountKindLocal }

// FederatedAccount は外部IdPで認証されたアカウントを表す。
// IDはIdPが発行するsubject識別子で、不透明かつ不変として扱う。
// 初回ログイン時に作成され、以降のログインでプロフィールは更新しない。
type FederatedAccount struct {
	ID                string    `gorm:"primaryKey;size:767" json:"id"`
	Email             string    `gorm:"size:767;not null;uniqueIndex" json:"email"`
	DisplayName       string    `gorm:"not null" json:"display_name"`
	ProfilePictureURL string    `gorm:"not null" json:"profile_picture_url"`
	CreatedAt         time.Time `json:"created_at"`
}

// TableName はgormが使用するテーブル名を返す。
func (FederatedAccount) TableName() string { return "federated_accounts" }

// PrincipalID はPrincipalを実装する。
func (a *FederatedAccount) PrincipalID() string { return a.ID }

// PrincipalEmail はPrincipalを実装する。
func (a *FederatedAccount) PrincipalEmail() string { return a.Email }

// Kind はPrincipalを実装する。
func (a *FederatedAccount) Kind() AccountKind { return AccountKindFederated }

// Session はFederatedAccountのログインセッションを表す。
type Session struct {
	ID        string
	AccountID string
	ExpiresAt time.Time
	CreatedAt time.Time
}

var (
	_ Principal = (*LocalAccount)(nil)
	_ Principal = (*FederatedAccount)(nil)
)
