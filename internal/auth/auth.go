// Package auth handles account registration, password login and bearer sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/i474232898/weatherapp/internal/repo"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrEmailTaken         = repo.ErrEmailTaken
)

// ValidationError wraps a rejected registration request.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// Registration is the sign-up form.
type Registration struct {
	Name            string `json:"name" validate:"required,max=100"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6,max=72"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

// Service issues and checks sessions on top of the repository.
type Service struct {
	repo       *repo.Repository
	validate   *validator.Validate
	logger     *zap.Logger
	sessionTTL time.Duration
	bcryptCost int
	now        func() time.Time
}

func NewService(r *repo.Repository, sessionTTL time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:       r,
		validate:   validator.New(),
		logger:     logger,
		sessionTTL: sessionTTL,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
}

// Register creates an account after checking every field and the password confirmation.
func (s *Service) Register(ctx context.Context, reg Registration) (repo.User, error) {
	reg.Name = strings.TrimSpace(reg.Name)
	reg.Email = strings.TrimSpace(reg.Email)
	if err := s.validate.Struct(reg); err != nil {
		return repo.User{}, &ValidationError{Err: err}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.bcryptCost)
	if err != nil {
		return repo.User{}, fmt.Errorf("hash password: %w", err)
	}

	u := repo.User{
		ID:           uuid.NewString(),
		Name:         reg.Name,
		Email:        reg.Email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return repo.User{}, err
	}

	s.logger.Info("user registered", zap.String("user", u.ID))
	return s.repo.UserByID(ctx, u.ID)
}

// Login checks the password and opens a new session; the user is then announced as loaded.
func (s *Service) Login(ctx context.Context, email, password string) (repo.Session, repo.User, error) {
	u, err := s.repo.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return repo.Session{}, repo.User{}, ErrInvalidCredentials
		}
		return repo.Session{}, repo.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return repo.Session{}, repo.User{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	sess := repo.Session{
		Token:     uuid.NewString(),
		UserID:    u.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return repo.Session{}, repo.User{}, err
	}

	if _, err := s.repo.LoadUser(ctx, u.ID); err != nil {
		return repo.Session{}, repo.User{}, err
	}
	s.logger.Info("user logged in", zap.String("user", u.ID))
	return sess, u, nil
}

// Authenticate resolves a bearer token. Expired sessions are deleted.
func (s *Service) Authenticate(ctx context.Context, token string) (repo.User, error) {
	if token == "" {
		return repo.User{}, ErrUnauthorized
	}
	sess, err := s.repo.Session(ctx, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return repo.User{}, ErrUnauthorized
		}
		return repo.User{}, err
	}
	if sess.Expired(s.now()) {
		if err := s.end(ctx, sess); err != nil {
			s.logger.Warn("failed to end expired session", zap.String("user", sess.UserID), zap.Error(err))
		}
		return repo.User{}, ErrUnauthorized
	}

	u, err := s.repo.UserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return repo.User{}, ErrUnauthorized
		}
		return repo.User{}, err
	}
	return u, nil
}

// Logout ends the session behind token.
func (s *Service) Logout(ctx context.Context, token string) error {
	sess, err := s.repo.Session(ctx, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	return s.end(ctx, sess)
}

// end deletes a session and signs the user out when it was their last live one.
func (s *Service) end(ctx context.Context, sess repo.Session) error {
	if err := s.repo.DeleteSession(ctx, sess.Token); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	live, err := s.repo.LiveSessions(ctx, sess.UserID)
	if err != nil {
		return err
	}
	if live > 0 {
		return nil
	}
	s.logger.Info("user signed out", zap.String("user", sess.UserID))
	return s.repo.SignOut(ctx, sess.UserID)
}

// SweepExpired deletes every expired session and returns how many were removed.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.repo.ExpiredSessions(ctx)
	if err != nil {
		return 0, err
	}
	users := make(map[string]repo.Session)
	for _, sess := range expired {
		if err := s.repo.DeleteSession(ctx, sess.Token); err != nil && !errors.Is(err, repo.ErrNotFound) {
			return 0, err
		}
		users[sess.UserID] = sess
	}
	for _, sess := range users {
		if err := s.end(ctx, sess); err != nil {
			return 0, fmt.Errorf("end session of %s: %w", sess.UserID, err)
		}
	}
	return len(expired), nil
}
