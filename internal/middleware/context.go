// Package middleware はHTTPミドルウェアを提供する。
package middleware

import "context"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// accountIDContextKey はリクエストコンテキストにログイン中のアカウントIDを格納するためのキー。
	accountIDContextKey = contextKey("account_id")
	// accountIDHolderKey はロギングミドルウェアがアカウントIDを受け取るためのキー。
	accountIDHolderKey = contextKey("account_id_holder")
)

// accountIDHolder は内側のミドルウェアで解決したアカウントIDを外側へ伝える。
// 1リクエスト内の同一ゴルーチンからのみ読み書きされる。
type accountIDHolder struct {
	id string
}

func contextWithAccountIDHolder(ctx context.Context, h *accountIDHolder) context.Context {
	return context.WithValue(ctx, accountIDHolderKey, h)
}

// ContextWithAccountID はコンテキストにアカウントIDを注入する。
// セッション解決後に呼ばれ、リクエストログにも反映される。
func ContextWithAccountID(ctx context.Context, accountID string) context.Context {
	if h, ok := ctx.Value(accountIDHolderKey).(*accountIDHolder); ok {
		h.id = accountID
	}
	return context.WithValue(ctx, accountIDContextKey, accountID)
}

// AccountIDFromContext はリクエストコンテキストからアカウントIDを取得する。
// 未ログインの場合は空文字を返す。
func AccountIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(accountIDContextKey).(string)
	return id
}
