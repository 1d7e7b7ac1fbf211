package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// stateIssuer はstateトークンのiss。他用途のJWTと取り違えないために検証する。
const stateIssuer = "oauthgate/login"

// ErrInvalidState はstateパラメータの検証失敗を表す。
var ErrInvalidState = errors.New("invalid oauth state")

// StateSigner はログイン開始ごとに一度だけ使えるstateパラメータを発行・検証する。
// stateはjtiにノンスを持つHS256署名付きJWTで、同じノンスをCookieにも保存して照合する。
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateSigner はStateSignerを生成する。
func NewStateSigner(secret string, ttl time.Duration) *StateSigner {
	return &StateSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL はstateの有効期間を返す。
func (s *StateSigner) TTL() time.Duration {
	return s.ttl
}

// Issue は新しいノンスと、それを埋め込んだ署名付きstateを返す。
func (s *StateSigner) Issue() (nonce, state string, err error) {
	nonce = uuid.NewString()
	now := s.now()

	claims := jwt.RegisteredClaims{
		ID:        nonce,
		Issuer:    stateIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	state, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign state: %w", err)
	}
	return nonce, state, nil
}

// Verify はstateの署名・有効期限・発行者を検証し、jtiがnonceと一致するかを確認する。
// 失敗時はErrInvalidStateをラップしたエラーを返す。
func (s *StateSigner) Verify(state, nonce string) error {
	if state == "" || nonce == "" {
		return fmt.Errorf("%w: missing state or nonce", ErrInvalidState)
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(state, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	if subtle.ConstantTimeCompare([]byte(claims.ID), []byte(nonce)) != 1 {
		return fmt.Errorf("%w: nonce mismatch", ErrInvalidState)
	}
	return nil
}
