// Package account はローカルアカウントの登録と認証を提供する。
// ローカルアカウントはFederatedAccountとは独立したID空間であり、メールアドレスによる統合は行わない。
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/oauthgate/internal/model"
	"github.com/hitoshi/oauthgate/internal/repository"
)

const (
	// MinPasswordLen はパスワードの最小バイト長。
	MinPasswordLen = 8
	// MaxPasswordLen はbcryptが扱える最大バイト長。
	MaxPasswordLen = 72
)

// dummyHash は存在しないメールアドレスでも照合コストを揃えるためのハッシュ。
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("oauthgate-dummy-password"), bcrypt.DefaultCost)

// Service はローカルアカウントのサービス層。
type Service struct {
	repo repository.LocalAccountRepository
	cost int
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.LocalAccountRepository) *Service {
	return &Service{repo: repo, cost: bcrypt.DefaultCost}
}

// Register はローカルアカウントを登録する。
// メールアドレスは前後の空白を除き小文字に正規化して保存する。
func (s *Service) Register(ctx context.Context, email, password string) (*model.LocalAccount, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return nil, model.NewInvalidEmailError(email)
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing account: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailTakenError()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	hashStr := string(hash)

	account := &model.LocalAccount{
		Email:        email,
		PasswordHash: &hashStr,
		Active:       true,
	}
	if err := s.repo.Create(ctx, account); err != nil {
		// FindByEmailとCreateの間に同じメールアドレスが登録された場合
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create local account: %w", err)
	}

	slog.InfoContext(ctx, "local account registered", slog.Int64("account_id", account.ID))
	return account, nil
}

// Authenticate はメールアドレスとパスワードでアカウントを認証する。
// 存在しないメールアドレスとパスワード不一致は区別せずINVALID_CREDENTIALSを返す。
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.LocalAccount, error) {
	account, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find local account: %w", err)
	}

	if account == nil || account.PasswordHash == nil {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*account.PasswordHash), []byte(password)); err != nil {
		return nil, model.NewInvalidCredentialsError()
	}
	if !account.Active {
		return nil, model.NewAccountInactiveError()
	}

	return account, nil
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (s *Service) FindByID(ctx context.Context, id int64) (*model.LocalAccount, error) {
	return s.repo.FindByID(ctx, id)
}

// FindByEmail はメールアドレスでアカウントを検索する。見つからない場合はnilを返す。
func (s *Service) FindByEmail(ctx context.Context, email string) (*model.LocalAccount, error) {
	return s.repo.FindByEmail(ctx, normalizeEmail(email))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validEmail はローカル部とドメイン部が空でないことだけを確認する。
func validEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLen {
		return model.NewInvalidPasswordError(fmt.Sprintf("password must be at least %d bytes", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		return model.NewInvalidPasswordError(fmt.Sprintf("password must be at most %d bytes", MaxPasswordLen))
	}
	return nil
}
