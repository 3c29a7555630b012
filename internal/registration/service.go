// Package registration creates users on first sign-up. A user is keyed by
// display name, matching how scans resolve identities.
package registration

import (
	"context"
	"errors"
	"time"

	"github.com/diagnosis/qr-attendance/internal/domain"
	"github.com/diagnosis/qr-attendance/internal/utils"
	"github.com/diagnosis/qr-attendance/pkg/events"
	"github.com/diagnosis/qr-attendance/pkg/logger"
)

var (
	ErrNameRequired   = errors.New("name is required")
	ErrInvalidContact = errors.New("contact is not a valid phone number")
)

type UserStore interface {
	Create(ctx context.Context, name, contact, image string) (*domain.User, bool, error)
	FindByName(ctx context.Context, name string) (*domain.User, error)
}

type Request struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
	Image   string `json:"image"`
}

type Service struct {
	users UserStore
	bus   events.Publisher
}

func NewService(users UserStore, bus events.Publisher) *Service {
	if bus == nil {
		bus = events.NoopBus{}
	}
	return &Service{users: users, bus: bus}
}

// Register returns the existing user for req.Name, or creates one. created
// is false when the name was already registered.
func (s *Service) Register(ctx context.Context, req Request) (u *domain.User, created bool, err error) {
	name := utils.NormalizeName(req.Name)
	if name == "" {
		return nil, false, ErrNameRequired
	}
	contact := utils.NormalizePhone(req.Contact)
	if contact != "" && !utils.IsValidPhone(contact) {
		return nil, false, ErrInvalidContact
	}

	existing, err := s.users.FindByName(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	// A concurrent registration may win between the lookup and the insert.
	u, created, err = s.users.Create(ctx, name, contact, req.Image)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return u, false, nil
	}

	if err := s.bus.Publish(ctx, events.UserRegistered, events.UserRegisteredEvent{
		UserID: u.ID, Name: u.Name, RegisteredAt: time.Now().UTC(),
	}); err != nil {
		logger.ErrorContext(ctx, "failed to publish registration", "user_id", u.ID, "error", err)
	}
	logger.InfoContext(ctx, "user registered", "user_id", u.ID, "name", u.Name)
	return u, true, nil
}

func (s *Service) IsRegistered(ctx context.Context, name string) (bool, error) {
	name = utils.NormalizeName(name)
	if name == "" {
		return false, ErrNameRequired
	}
	u, err := s.users.FindByName(ctx, name)
	if err != nil {
		return false, err
	}
	return u != nil, nil
}
