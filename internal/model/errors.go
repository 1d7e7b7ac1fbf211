package model

import (
	"fmt"
	"net/http"
)

// APIError はステータスコードとメッセージを伴うドメインエラーを表す。
// ハンドラーはこのエラーをJSON {message, code, ...payload} としてそのまま返却する。
type APIError struct {
	StatusCode int            // HTTPステータスコード
	Code       string         // エラーコード
	Message    string         // エラーメッセージ
	Payload    map[string]any // レスポンスに追加する任意フィールド
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%d %s] %s", e.StatusCode, e.Code, e.Message)
}

// ToMap はレスポンスボディ用のマップを返す。
// Payloadのキーはmessage、codeを上書きしない。
func (e *APIError) ToMap() map[string]any {
	body := make(map[string]any, len(e.Payload)+2)
	for k, v := range e.Payload {
		body[k] = v
	}
	body["message"] = e.Message
	if e.Code != "" {
		body["code"] = e.Code
	}
	return body
}

// WithPayload はPayloadにフィールドを追加したAPIErrorを返す。
func (e *APIError) WithPayload(key string, value any) *APIError {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeMissingCode        = "MISSING_CODE"
	ErrCodeInvalidState       = "INVALID_STATE"
	ErrCodeInvalidEmail       = "INVALID_EMAIL"
	ErrCodeInvalidPassword    = "INVALID_PASSWORD"
	ErrCodeEmailTaken         = "EMAIL_TAKEN"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeAccountInactive    = "ACCOUNT_INACTIVE"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeCSRFTokenInvalid   = "CSRF_TOKEN_INVALID"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewAPIError は任意のステータスコードとメッセージでAPIErrorを生成する。
func NewAPIError(statusCode int, code, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return NewAPIError(http.StatusUnauthorized, ErrCodeUnauthorized, "login required")
}

// NewMissingCodeError は認可コードが含まれないコールバックに対するエラーを生成する。
func NewMissingCodeError() *APIError {
	return NewAPIError(http.StatusBadRequest, ErrCodeMissingCode, "missing authorization code")
}

// NewInvalidStateError はstateパラメータの検証失敗エラーを生成する。
func NewInvalidStateError() *APIError {
	return NewAPIError(http.StatusBadRequest, ErrCodeInvalidState, "invalid or expired state parameter")
}

// NewInvalidEmailError はメールアドレス形式エラーを生成する。
func NewInvalidEmailError(email string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrCodeInvalidEmail,
		fmt.Sprintf("invalid email address: %q", email))
}

// NewInvalidPasswordError はパスワード要件を満たさない場合のエラーを生成する。
func NewInvalidPasswordError(reason string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrCodeInvalidPassword, reason)
}

// NewEmailTakenError はメールアドレスが登録済みの場合のエラーを生成する。
func NewEmailTakenError() *APIError {
	return NewAPIError(http.StatusConflict, ErrCodeEmailTaken, "email already registered")
}

// NewInvalidCredentialsError は認証情報が一致しない場合のエラーを生成する。
// メールアドレスの存在有無は区別しない。
func NewInvalidCredentialsError() *APIError {
	return NewAPIError(http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid email or password")
}

// NewAccountInactiveError は無効化されたアカウントのエラーを生成する。
func NewAccountInactiveError() *APIError {
	return NewAPIError(http.StatusForbidden, ErrCodeAccountInactive, "account is not active")
}

// NewCSRFTokenInvalidError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return NewAPIError(http.StatusForbidden, ErrCodeCSRFTokenInvalid, "CSRF token validation failed")
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError(retryAfterSec int) *APIError {
	return NewAPIError(http.StatusTooManyRequests, ErrCodeRateLimited, "too many requests").
		WithPayload("retry_after", retryAfterSec)
}
