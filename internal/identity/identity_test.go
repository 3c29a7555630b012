package identity_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/qr-attendance/internal/domain"
	"github.com/diagnosis/qr-attendance/internal/identity"
)

type finder map[string]*domain.User

func (f finder) FindByName(_ context.Context, name string) (*domain.User, error) {
	if name == "boom" {
		return nil, errors.New("db down")
	}
	return f[name], nil
}

func TestResolver(t *testing.T) {
	users := finder{"Kim Minji": {ID: 7, Name: "Kim Minji"}}
	r := identity.NewResolver(users)
	ctx := context.Background()

	u, err := r.Resolve(ctx, domain.Identity{DisplayName: "  Kim   Minji "})
	require.NoError(t, err)
	assert.Equal(t, int64(7), u.ID)

	_, err = r.Resolve(ctx, domain.Identity{DisplayName: "Park"})
	assert.ErrorIs(t, err, identity.ErrNotFound)

	_, err = r.Resolve(ctx, domain.Identity{})
	assert.ErrorIs(t, err, identity.ErrNotFound)

	_, err = r.Resolve(ctx, domain.Identity{DisplayName: "boom"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, identity.ErrNotFound)
}

func newKakaoServer(t *testing.T, profile string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "token-123",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/v2/user/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(profile))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newKakao(srv *httptest.Server) *identity.Kakao {
	return identity.NewKakao("client-id", "secret", "http://localhost/callback",
		identity.WithKakaoEndpoints(srv.URL+"/oauth/authorize", srv.URL+"/oauth/token", srv.URL+"/v2/user/me"))
}

func TestKakao_Exchange(t *testing.T) {
	srv := newKakaoServer(t, `{"id":1,"kakao_account":{"profile":{"nickname":"Kim Minji","profile_image_url":"http://img/k.png"}}}`)
	k := newKakao(srv)

	id, err := k.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "Kim Minji", id.DisplayName)
	assert.Equal(t, "http://img/k.png", id.ImageURL)

	_, err = k.Exchange(context.Background(), "bad-code")
	assert.Error(t, err)
}

func TestKakao_ExchangeFallsBackToProperties(t *testing.T) {
	srv := newKakaoServer(t, `{"properties":{"nickname":"Lee","profile_image":"http://img/l.png"}}`)
	id, err := newKakao(srv).Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, domain.Identity{DisplayName: "Lee", ImageURL: "http://img/l.png"}, id)
}

func TestKakao_ExchangeWithoutNickname(t *testing.T) {
	srv := newKakaoServer(t, `{"id":1}`)
	_, err := newKakao(srv).Exchange(context.Background(), "good-code")
	assert.ErrorIs(t, err, identity.ErrNoDisplayName)
}

func TestKakao_AuthCodeURL(t *testing.T) {
	k := identity.NewKakao("client-id", "secret", "http://localhost/callback")
	u, err := url.Parse(k.AuthCodeURL("state-1"))
	require.NoError(t, err)
	assert.Equal(t, "kauth.kakao.com", u.Host)
	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "http://localhost/callback", q.Get("redirect_uri"))
}
