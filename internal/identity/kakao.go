package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/diagnosis/qr-attendance/internal/domain"
)

const (
	kakaoAuthURL    = "https://kauth.kakao.com/oauth/authorize"
	kakaoTokenURL   = "https://kauth.kakao.com/oauth/token"
	kakaoProfileURL = "https://kapi.kakao.com/v2/user/me"
)

var ErrNoDisplayName = errors.New("identity: provider returned no display name")

// Kakao runs the authorization-code flow and reads the nickname and
// profile image of the signed-in account.
type Kakao struct {
	cfg        *oauth2.Config
	profileURL string
}

type KakaoOption func(*Kakao)

// WithKakaoEndpoints points the provider at other auth, token and profile
// URLs.
func WithKakaoEndpoints(authURL, tokenURL, profileURL string) KakaoOption {
	return func(k *Kakao) {
		k.cfg.Endpoint.AuthURL = authURL
		k.cfg.Endpoint.TokenURL = tokenURL
		k.profileURL = profileURL
	}
}

func NewKakao(clientID, clientSecret, redirectURL string, opts ...KakaoOption) *Kakao {
	k := &Kakao{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"profile_nickname", "profile_image"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   kakaoAuthURL,
				TokenURL:  kakaoTokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		profileURL: kakaoProfileURL,
	}
	for _, o := range opts {
		o(k)
	}
	return k
}

func (k *Kakao) AuthCodeURL(state string) string {
	return k.cfg.AuthCodeURL(state)
}

type kakaoProfile struct {
	Properties struct {
		Nickname     string `json:"nickname"`
		ProfileImage string `json:"profile_image"`
	} `json:"properties"`
	Account struct {
		Profile struct {
			Nickname        string `json:"nickname"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"profile"`
	} `json:"kakao_account"`
}

// Exchange trades an authorization code for a token and returns the
// account's identity.
func (k *Kakao) Exchange(ctx context.Context, code string) (domain.Identity, error) {
	tok, err := k.cfg.Exchange(ctx, code)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("kakao token exchange: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.profileURL, nil)
	if err != nil {
		return domain.Identity{}, err
	}
	resp, err := k.cfg.Client(ctx, tok).Do(req)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("kakao profile request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Identity{}, fmt.Errorf("kakao profile request: status %d", resp.StatusCode)
	}

	var p kakaoProfile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return domain.Identity{}, fmt.Errorf("decoding kakao profile: %w", err)
	}

	id := domain.Identity{DisplayName: p.Account.Profile.Nickname, ImageURL: p.Account.Profile.ProfileImageURL}
	if id.DisplayName == "" {
		id.DisplayName = p.Properties.Nickname
	}
	if id.ImageURL == "" {
		id.ImageURL = p.Properties.ProfileImage
	}
	if id.DisplayName == "" {
		return domain.Identity{}, ErrNoDisplayName
	}
	return id, nil
}
