// Package auth はGoogle OAuthによる認可コードフローを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/oauthgate/internal/metrics"
	"github.com/hitoshi/oauthgate/internal/model"
	"github.com/hitoshi/oauthgate/internal/repository"
	"github.com/hitoshi/oauthgate/internal/telemetry"
)

// ErrEmailNotVerified はIdPがメールアドレスの確認済みを示さなかったことを表す。
var ErrEmailNotVerified = errors.New("email not available or not verified")

// LoginRedirect はログイン開始時の結果。
type LoginRedirect struct {
	// URL はIdPの認可エンドポイントへのリダイレクト先。
	URL string
	// Nonce はstateと対になる値で、呼び出し側がCookieに保存する。
	Nonce string
}

// CallbackParams はコールバック処理の入力。
type CallbackParams struct {
	Code        string
	State       string
	Nonce       string
	CallbackURL string
}

// LoginResult はコールバック処理の結果。
type LoginResult struct {
	Account *model.FederatedAccount
	Created bool
}

// Service は認可コードフローのビジネスロジックを提供する。
type Service struct {
	discovery Discoverer
	provider  Provider
	accounts  repository.FederatedAccountRepository
	states    *StateSigner
	metrics   metrics.MetricsCollector
	tracer    trace.Tracer
}

// NewService はServiceを生成する。
func NewService(
	discovery Discoverer,
	provider Provider,
	accounts repository.FederatedAccountRepository,
	states *StateSigner,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		discovery: discovery,
		provider:  provider,
		accounts:  accounts,
		states:    states,
		metrics:   collector,
		tracer:    telemetry.Tracer(),
	}
}

// StateTTL はstate Cookieの有効期間を返す。
func (s *Service) StateTTL() time.Duration {
	return s.states.TTL()
}

// BeginLogin はディスカバリを取得し、IdPの認可エンドポイントへのリダイレクトURLを生成する。
// callbackURLはredirect_uriとしてそのまま送られ、CompleteLoginでも同じ値を使う必要がある。
func (s *Service) BeginLogin(ctx context.Context, callbackURL string) (*LoginRedirect, error) {
	ctx, span := s.tracer.Start(ctx, "auth.BeginLogin")
	defer span.End()

	cfg, err := s.discovery.Fetch(ctx)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to fetch provider configuration: %w", err)
	}

	nonce, state, err := s.states.Issue()
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	s.metrics.RecordLoginStarted()
	slog.InfoContext(ctx, "login started", slog.String("redirect_uri", callbackURL))

	return &LoginRedirect{
		URL:   s.provider.AuthCodeURL(cfg, callbackURL, state),
		Nonce: nonce,
	}, nil
}

// CompleteLogin はコールバックを処理し、ログインしたアカウントを返す。
// stateの検証に失敗した場合はErrInvalidState、メールアドレスが未確認の場合は
// ErrEmailNotVerifiedを返す。どちらの場合もアカウントは作成しない。
// 既存アカウントのプロフィールは更新しない。
func (s *Service) CompleteLogin(ctx context.Context, params CallbackParams) (*LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.CompleteLogin")
	defer span.End()

	// 1. stateの検証（IdPへの通信より先に行う）
	if err := s.states.Verify(params.State, params.Nonce); err != nil {
		s.metrics.RecordLoginCompleted(metrics.LoginResultInvalidState)
		recordSpanError(span, err)
		return nil, err
	}

	// 2. ディスカバリの再取得
	cfg, err := s.discovery.Fetch(ctx)
	if err != nil {
		s.fail(span, err)
		return nil, fmt.Errorf("failed to fetch provider configuration: %w", err)
	}

	// 3. 認可コードをトークンに交換
	token, err := s.provider.Exchange(ctx, cfg, params.CallbackURL, params.Code)
	if err != nil {
		s.fail(span, err)
		return nil, err
	}

	// 4. ユーザー情報の取得
	info, err := s.provider.FetchUserInfo(ctx, cfg, token)
	if err != nil {
		s.fail(span, err)
		return nil, err
	}

	// 5. メールアドレス確認済みのチェック
	if !info.EmailVerified {
		s.metrics.RecordLoginCompleted(metrics.LoginResultEmailUnverified)
		span.SetAttributes(attribute.Bool("oauth.email_verified", false))
		return nil, ErrEmailNotVerified
	}
	if info.Subject == "" || info.Email == "" {
		err := fmt.Errorf("user info missing sub or email")
		s.fail(span, err)
		return nil, err
	}

	// 6. 未登録であればアカウントを作成
	result, err := s.findOrCreate(ctx, info)
	if err != nil {
		s.fail(span, err)
		return nil, err
	}

	if result.Created {
		s.metrics.RecordLoginCompleted(metrics.LoginResultNewAccount)
	} else {
		s.metrics.RecordLoginCompleted(metrics.LoginResultExistingAccount)
	}
	span.SetAttributes(attribute.Bool("oauth.account_created", result.Created))

	return result, nil
}

// findOrCreate はsubjectに対応するアカウントを返し、存在しなければ作成する。
// 同じsubjectの作成が競合した場合は先に作成された行を返す。
func (s *Service) findOrCreate(ctx context.Context, info *UserInfo) (*LoginResult, error) {
	existing, err := s.accounts.FindByID(ctx, info.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find federated account: %w", err)
	}
	if existing != nil {
		slog.InfoContext(ctx, "existing federated account logged in",
			slog.String("account_id", existing.ID),
		)
		return &LoginResult{Account: existing}, nil
	}

	account := &model.FederatedAccount{
		ID:                info.Subject,
		Email:             info.Email,
		DisplayName:       info.GivenName,
		ProfilePictureURL: info.Picture,
		CreatedAt:         time.Now(),
	}

	created, err := s.accounts.Create(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to create federated account: %w", err)
	}

	if !created {
		winner, err := s.accounts.FindByID(ctx, info.Subject)
		if err != nil {
			return nil, fmt.Errorf("failed to reload federated account: %w", err)
		}
		if winner == nil {
			return nil, fmt.Errorf("federated account %q vanished after conflicting insert", info.Subject)
		}
		return &LoginResult{Account: winner}, nil
	}

	slog.InfoContext(ctx, "federated account created",
		slog.String("account_id", account.ID),
		slog.String("email", account.Email),
	)
	return &LoginResult{Account: account, Created: true}, nil
}

// fail はIdPまたはストア起因の失敗を記録する。
func (s *Service) fail(span trace.Span, err error) {
	s.metrics.RecordLoginCompleted(metrics.LoginResultProviderError)
	recordSpanError(span, err)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
