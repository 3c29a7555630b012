package registration_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/qr-attendance/internal/domain"
	"github.com/diagnosis/qr-attendance/internal/registration"
	"github.com/diagnosis/qr-attendance/pkg/events"
)

type memUsers struct {
	mu      sync.Mutex
	users   []domain.User
	findErr error
	// hideUntilCreate makes FindByName miss, as when two registrations race.
	hideUntilCreate bool
}

func (m *memUsers) Create(_ context.Context, name, contact, image string) (*domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.users {
		if m.users[i].Name == name {
			return &m.users[i], false, nil
		}
	}
	u := domain.User{ID: int64(len(m.users) + 1), Name: name, Contact: contact, Image: image, CreatedAt: time.Now()}
	m.users = append(m.users, u)
	return &u, true, nil
}

func (m *memUsers) FindByName(_ context.Context, name string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.hideUntilCreate {
		return nil, nil
	}
	for i := range m.users {
		if m.users[i].Name == name {
			return &m.users[i], nil
		}
	}
	return nil, nil
}

type recordingBus struct {
	events.NoopBus
	mu       sync.Mutex
	subjects []string
}

func (b *recordingBus) Publish(_ context.Context, subject string, _ interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subjects = append(b.subjects, subject)
	return nil
}

func TestRegister_CreatesOnce(t *testing.T) {
	users := &memUsers{}
	bus := &recordingBus{}
	svc := registration.NewService(users, bus)
	ctx := context.Background()

	u, created, err := svc.Register(ctx, registration.Request{Name: " Kim  Minji ", Contact: "010-1234-5678"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Kim Minji", u.Name)
	assert.Equal(t, "010-1234-5678", u.Contact)

	again, created, err := svc.Register(ctx, registration.Request{Name: "Kim Minji"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, again.ID)

	assert.Len(t, users.users, 1)
	assert.Equal(t, []string{events.UserRegistered}, bus.subjects)
}

func TestRegister_ConcurrentSameName(t *testing.T) {
	users := &memUsers{hideUntilCreate: true}
	bus := &recordingBus{}
	svc := registration.NewService(users, bus)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := map[int64]bool{}
	createdCount := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, created, err := svc.Register(context.Background(), registration.Request{Name: "Kim Minji"})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[u.ID] = true
			if created {
				createdCount++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, users.users, 1)
	assert.Len(t, ids, 1)
	assert.Equal(t, 1, createdCount)
	assert.Equal(t, []string{events.UserRegistered}, bus.subjects)
}

func TestRegister_Validation(t *testing.T) {
	svc := registration.NewService(&memUsers{}, nil)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, registration.Request{Name: "   "})
	assert.ErrorIs(t, err, registration.ErrNameRequired)

	_, _, err = svc.Register(ctx, registration.Request{Name: "Lee", Contact: "12-34"})
	assert.ErrorIs(t, err, registration.ErrInvalidContact)

	u, _, err := svc.Register(ctx, registration.Request{Name: "Lee"})
	require.NoError(t, err)
	assert.Empty(t, u.Contact)
}

func TestIsRegistered(t *testing.T) {
	users := &memUsers{users: []domain.User{{ID: 1, Name: "Kim Minji"}}}
	svc := registration.NewService(users, nil)
	ctx := context.Background()

	ok, err := svc.IsRegistered(ctx, "Kim Minji")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.IsRegistered(ctx, "Park")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.IsRegistered(ctx, "")
	assert.ErrorIs(t, err, registration.ErrNameRequired)

	users.findErr = errors.New("db down")
	_, err = svc.IsRegistered(ctx, "Kim Minji")
	assert.Error(t, err)
}
