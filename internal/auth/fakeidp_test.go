package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeIdP はテスト用のOpenID Connectプロバイダー。
type fakeIdP struct {
	server        *httptest.Server
	userInfo      map[string]any
	discoveryHits atomic.Int32
	tokenHits     atomic.Int32
	userInfoHits  atomic.Int32

	// tokenStatus が0以外の場合、トークンエンドポイントはそのステータスを返す。
	tokenStatus atomic.Int32

	mu sync.Mutex
	// lastTokenForm は直近のトークンリクエストのフォーム値。
	lastTokenForm map[string]string
	lastBasicUser string
	lastBasicPass string
}

func newFakeIdP(t *testing.T, userInfo map[string]any) *fakeIdP {
	t.Helper()

	idp := &fakeIdP{userInfo: userInfo}
	mux := http.NewServeMux()

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		idp.discoveryHits.Add(1)
		base := idp.server.URL
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 base,
			"authorization_endpoint": base + "/authorize",
			"token_endpoint":         base + "/token",
			"userinfo_endpoint":      base + "/userinfo",
		})
	})

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		idp.tokenHits.Add(1)
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		user, pass, _ := r.BasicAuth()
		idp.mu.Lock()
		idp.lastTokenForm, idp.lastBasicUser, idp.lastBasicPass = form, user, pass
		idp.mu.Unlock()

		if status := int(idp.tokenStatus.Load()); status != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})

	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		idp.userInfoHits.Add(1)
		if r.Header.Get("Authorization") != "Bearer test-access-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(idp.userInfo)
	})

	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

// lastTokenRequest は直近のトークンリクエストのフォーム値とBasic認証情報を返す。
func (f *fakeIdP) lastTokenRequest() (form map[string]string, user, pass string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastTokenForm, f.lastBasicUser, f.lastBasicPass
}

func (f *fakeIdP) discoveryURL() string {
	return f.server.URL + "/.well-known/openid-configuration"
}

func (f *fakeIdP) providerConfig() *ProviderConfig {
	return &ProviderConfig{
		Issuer:                f.server.URL,
		AuthorizationEndpoint: f.server.URL + "/authorize",
		TokenEndpoint:         f.server.URL + "/token",
		UserInfoEndpoint:      f.server.URL + "/userinfo",
	}
}

func verifiedUserInfo() map[string]any {
	return map[string]any{
		"sub":            "google-sub-12345",
		"email":          "user@gmail.com",
		"email_verified": true,
		"picture":        "https://example.com/pic.png",
		"given_name":     "Taro",
	}
}
