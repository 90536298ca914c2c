package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/i474232898/weatherapp/internal/repo"
)

type signOutRecorder struct {
	mu       sync.Mutex
	loaded   []string
	signOuts []string
}

func (r *signOutRecorder) OnUserLoaded(u repo.User) {
	r.mu.Lock()
	r.loaded = append(r.loaded, u.ID)
	r.mu.Unlock()
}

func (r *signOutRecorder) OnUserSignOut(u repo.User) {
	r.mu.Lock()
	r.signOuts = append(r.signOuts, u.ID)
	r.mu.Unlock()
}

func (r *signOutRecorder) OnCityAdded(string, repo.City)   {}
func (r *signOutRecorder) OnCityUpdated(string, repo.City) {}
func (r *signOutRecorder) OnCityRemoved(string, repo.City) {}

func newTestService(t *testing.T) (*Service, *signOutRecorder) {
	t.Helper()
	r := repo.New(repo.NewMemoryBackend(), nil)
	rec := &signOutRecorder{}
	r.SetListener(rec)
	s := NewService(r, time.Hour, nil)
	s.bcryptCost = bcrypt.MinCost
	return s, rec
}

func validRegistration() Registration {
	return Registration{Name: "Ana", Email: "ana@example.com", Password: "secret1", ConfirmPassword: "secret1"}
}

func TestRegister_Validation(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	cases := map[string]func(r *Registration){
		"missing name":      func(r *Registration) { r.Name = "  " },
		"bad email":         func(r *Registration) { r.Email = "not-an-email" },
		"short password":    func(r *Registration) { r.Password, r.ConfirmPassword = "abc", "abc" },
		"mismatch":          func(r *Registration) { r.ConfirmPassword = "secret2" },
		"missing confirmed": func(r *Registration) { r.ConfirmPassword = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			reg := validRegistration()
			mutate(&reg)
			_, err := s.Register(ctx, reg)
			var ve *ValidationError
			assert.True(t, errors.As(err, &ve), "got %v", err)
		})
	}
}

func TestRegisterAndLogin(t *testing.T) {
	s, rec := newTestService(t)
	ctx := context.Background()

	u, err := s.Register(ctx, validRegistration())
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.NotEqual(t, "secret1", u.PasswordHash)

	_, err = s.Register(ctx, validRegistration())
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, _, err = s.Login(ctx, "ana@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = s.Login(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	sess, who, err := s.Login(ctx, "ANA@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, who.ID)
	assert.Equal(t, []string{u.ID}, rec.loaded)

	got, err := s.Authenticate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = s.Authenticate(ctx, "bogus")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestLogout_SignsOutOnLastSession(t *testing.T) {
	s, rec := newTestService(t)
	ctx := context.Background()
	u, err := s.Register(ctx, validRegistration())
	require.NoError(t, err)

	phone, _, err := s.Login(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)
	laptop, _, err := s.Login(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, s.Logout(ctx, phone.Token))
	assert.Empty(t, rec.signOuts, "another session is still live")

	_, err = s.Authenticate(ctx, phone.Token)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, s.Logout(ctx, laptop.Token))
	assert.Equal(t, []string{u.ID}, rec.signOuts)

	assert.ErrorIs(t, s.Logout(ctx, laptop.Token), ErrUnauthorized)
}

func TestAuthenticate_ExpiredSession(t *testing.T) {
	s, rec := newTestService(t)
	ctx := context.Background()
	_, err := s.Register(ctx, validRegistration())
	require.NoError(t, err)

	sess, _, err := s.Login(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)

	later := time.Now().Add(2 * time.Hour)
	s.now = func() time.Time { return later }

	_, err = s.Authenticate(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Len(t, rec.signOuts, 1)
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	r := repo.New(repo.NewMemoryBackend(), nil)
	rec := &signOutRecorder{}
	r.SetListener(rec)
	s := NewService(r, time.Hour, nil)

	require.NoError(t, r.CreateUser(ctx, repo.User{ID: "u9", Email: "x@example.com"}))
	require.NoError(t, r.CreateUser(ctx, repo.User{ID: "u10", Email: "y@example.com"}))

	past := time.Now().Add(-2 * time.Hour)
	for _, tok := range []string{"a", "b"} {
		require.NoError(t, r.CreateSession(ctx, repo.Session{Token: tok, UserID: "u9", CreatedAt: past, ExpiresAt: past.Add(time.Hour)}))
	}
	require.NoError(t, r.CreateSession(ctx, repo.Session{Token: "c", UserID: "u10", CreatedAt: past, ExpiresAt: past.Add(time.Hour)}))
	require.NoError(t, r.CreateSession(ctx, repo.Session{Token: "d", UserID: "u10", CreatedAt: past, ExpiresAt: time.Now().Add(time.Hour)}))

	n, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"u9"}, rec.signOuts, "one sign-out per user, none while a session is live")

	n, err = s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
