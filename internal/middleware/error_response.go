package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"

	"github.com/hitoshi/oauthgate/internal/model"
)

// WriteErrorResponse はAPIErrorをJSON {message, code, ...payload} として書き込む。
// ステータスコードはAPIErrorが持つ値を使う。
func WriteErrorResponse(w http.ResponseWriter, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode)
	json.NewEncoder(w).Encode(apiErr.ToMap())
}

// WriteInternalServerError は内部サーバーエラーのレスポンスを書き込む。
// 詳細はログのみに記録し、クライアントには固定のメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// HandleError はハンドラーで発生したエラーをレスポンスに変換する。
// APIErrorはそのまま返却し、それ以外はログとSentryに記録して500を返す。
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, apiErr)
		return
	}

	slog.ErrorContext(r.Context(), "unhandled error",
		slog.String("error", err.Error()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
	captureException(r, err)
	WriteInternalServerError(w)
}

// captureException はリクエストに紐づくSentry Hubへエラーを送る。
// SENTRY_DSN未設定の場合は何もしない。
func captureException(r *http.Request, err error) {
	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}
