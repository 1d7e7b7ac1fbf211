package handler

import (
	"html/template"
	"log/slog"
	"net/http"
	"slices"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/munnerz/goautoneg"

	"github.com/hitoshi/oauthgate/internal/middleware"
)

// Route はサイトマップの1エントリ。
type Route struct {
	Path    string   `json:"path"`
	Methods []string `json:"methods"`
}

type sitemapResponse struct {
	Routes []Route `json:"routes"`
}

const (
	contentTypeJSON = "application/json"
	contentTypeHTML = "text/html"
)

var sitemapTemplate = template.Must(template.New("sitemap").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Sitemap</title></head>
<body>
<h1>Sitemap</h1>
<ul>
{{- range .}}
<li><a href="{{.Path}}">{{.Path}}</a>{{range .Methods}} <code>{{.}}</code>{{end}}</li>
{{- end}}
</ul>
</body>
</html>
`))

// CollectRoutes はルーターに登録された全ルートをパス順に列挙する。
// メソッドはパスごとにまとめてソートする。
func CollectRoutes(routes chi.Routes) ([]Route, error) {
	byPath := make(map[string][]string)
	err := chi.Walk(routes, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if !slices.Contains(byPath[route], method) {
			byPath[route] = append(byPath[route], method)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := make([]Route, 0, len(byPath))
	for path, methods := range byPath {
		sort.Strings(methods)
		result = append(result, Route{Path: path, Methods: methods})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}

// SitemapHandler はルーターに登録されたルートの一覧を返すハンドラー。
// ルートはリクエストごとに列挙するため、後から登録されたルートも含まれる。
type SitemapHandler struct {
	routes chi.Routes
}

// NewSitemapHandler はSitemapHandlerを生成する。
func NewSitemapHandler(routes chi.Routes) *SitemapHandler {
	return &SitemapHandler{routes: routes}
}

// ServeHTTP はサイトマップを返す。
// GET /
// AcceptヘッダーでHTMLが優先される場合はリンク一覧のHTMLを、それ以外はJSONを返す。
func (h *SitemapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	routes, err := CollectRoutes(h.routes)
	if err != nil {
		middleware.HandleError(w, r, err)
		return
	}

	if goautoneg.Negotiate(r.Header.Get("Accept"), []string{contentTypeJSON, contentTypeHTML}) == contentTypeHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := sitemapTemplate.Execute(w, routes); err != nil {
			slog.ErrorContext(r.Context(), "failed to render sitemap", slog.String("error", err.Error()))
		}
		return
	}

	writeJSON(w, http.StatusOK, sitemapResponse{Routes: routes})
}
