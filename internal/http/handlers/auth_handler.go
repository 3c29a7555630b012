package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/diagnosis/qr-attendance/internal/domain"
	"github.com/diagnosis/qr-attendance/internal/http/response"
	"github.com/diagnosis/qr-attendance/pkg/auth"
	"github.com/diagnosis/qr-attendance/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const stateCookie = "kakao_oauth_state"

type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (domain.Identity, error)
}

type AuthConfig struct {
	JWTSecret         string
	SessionTTL        time.Duration
	AdminSessionTTL   time.Duration
	AdminPasswordHash string
}

type AuthHandler struct {
	Provider IdentityProvider
	Users    Registrar
	Config   AuthConfig
}

func NewAuthHandler(provider IdentityProvider, users Registrar, cfg AuthConfig) *AuthHandler {
	return &AuthHandler{Provider: provider, Users: users, Config: cfg}
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/kakao/login", h.kakaoLogin)
	r.Get("/kakao/callback", h.kakaoCallback) // ?code=...&state=...
	return r
}

func (h *AuthHandler) kakaoLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.Provider.AuthCodeURL(state), http.StatusFound)
}

func (h *AuthHandler) kakaoCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" || c.Value != q.Get("state") {
		response.BadRequest(w, "invalid oauth state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/", MaxAge: -1})

	code := q.Get("code")
	if code == "" {
		response.BadRequest(w, "missing authorization code")
		return
	}

	id, err := h.Provider.Exchange(r.Context(), code)
	if err != nil {
		logger.ErrorContext(r.Context(), "kakao sign-in failed", "error", err)
		response.Unauthorized(w, "sign-in failed")
		return
	}

	token, err := auth.NewSession(id.DisplayName, id.ImageURL, h.Config.JWTSecret, h.Config.SessionTTL)
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to sign session", "error", err)
		response.InternalError(w, "Failed to create session")
		return
	}

	registered, err := h.Users.IsRegistered(r.Context(), id.DisplayName)
	if err != nil {
		logger.ErrorContext(r.Context(), "registration lookup failed", "error", err)
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  token,
		"name":          id.DisplayName,
		"image":         id.ImageURL,
		"is_registered": registered,
	})
}

// AdminLogin exchanges the admin password for an admin session. Body:
// {password}.
func (h *AuthHandler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Password == "" {
		response.BadRequest(w, "password is required")
		return
	}

	ok, err := auth.CheckAdminPassword(in.Password, h.Config.AdminPasswordHash)
	if err != nil {
		logger.ErrorContext(r.Context(), "admin password check failed", "error", err)
	}
	if !ok {
		response.Unauthorized(w, "invalid credentials")
		return
	}

	token, err := auth.NewAdminSession(h.Config.JWTSecret, h.Config.AdminSessionTTL)
	if err != nil {
		response.InternalError(w, "Failed to create session")
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"access_token": token})
}
