package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/diagnosis/qr-attendance/internal/domain"
	"github.com/diagnosis/qr-attendance/internal/http/response"
	"github.com/diagnosis/qr-attendance/internal/registration"
	"github.com/diagnosis/qr-attendance/pkg/logger"
	"github.com/go-chi/chi/v5"
)

type Registrar interface {
	Register(ctx context.Context, req registration.Request) (*domain.User, bool, error)
	IsRegistered(ctx context.Context, name string) (bool, error)
}

type RegistrationHandler struct {
	Users Registrar
}

func NewRegistrationHandler(users Registrar) *RegistrationHandler {
	return &RegistrationHandler{Users: users}
}

func (h *RegistrationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/register", h.register)        // {name, contact, image}
	r.Post("/registration/check", h.check) // {name}
	return r
}

func (h *RegistrationHandler) register(w http.ResponseWriter, r *http.Request) {
	var in registration.Request
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	u, created, err := h.Users.Register(r.Context(), in)
	switch {
	case errors.Is(err, registration.ErrNameRequired), errors.Is(err, registration.ErrInvalidContact):
		response.BadRequest(w, err.Error())
		return
	case err != nil:
		logger.ErrorContext(r.Context(), "registration failed", "error", err)
		response.InternalError(w, "Failed to register")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.JSON(w, status, map[string]interface{}{"user": u, "created": created})
}

func (h *RegistrationHandler) check(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}
	ok, err := h.Users.IsRegistered(r.Context(), in.Name)
	if errors.Is(err, registration.ErrNameRequired) {
		response.BadRequest(w, err.Error())
		return
	}
	if err != nil {
		logger.ErrorContext(r.Context(), "registration check failed", "error", err)
		response.InternalError(w, "Failed to check registration")
		return
	}
	response.JSON(w, http.StatusOK, map[string]bool{"is_registered": ok})
}
