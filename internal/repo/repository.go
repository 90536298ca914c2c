package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/weatherapp/internal/common"
)

// Listener is notified after user and city data changed in the backing store.
// Callbacks run synchronously on the goroutine that made the change.
type Listener interface {
	OnUserLoaded(user User)
	OnUserSignOut(user User)
	OnCityAdded(userID string, city City)
	OnCityUpdated(userID string, city City)
	OnCityRemoved(userID string, city City)
}

// Backend persists users, sessions and cities. City names are matched case-insensitively.
type Backend interface {
	CreateUser(ctx context.Context, u User) error
	UserByID(ctx context.Context, id string) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)

	CreateSession(ctx context.Context, s Session) error
	Session(ctx context.Context, token string) (Session, error)
	DeleteSession(ctx context.Context, token string) error
	LiveSessions(ctx context.Context, userID string, now time.Time) (int, error)
	ExpiredSessions(ctx context.Context, now time.Time) ([]Session, error)

	InsertCity(ctx context.Context, userID string, c City) error
	UpdateCity(ctx context.Context, userID string, c City) error
	DeleteCity(ctx context.Context, userID, name string) (City, error)
	City(ctx context.Context, userID, name string) (City, error)
	Cities(ctx context.Context, userID string) ([]City, error)
	// ActiveCities returns every city owned by a user holding a live session.
	ActiveCities(ctx context.Context, now time.Time) ([]UserCity, error)

	Close() error
}

// Repository wraps a Backend and reports successful changes to a Listener.
type Repository struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.RWMutex
	listener Listener
}

// New creates a Repository over backend.
func New(backend Backend, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{
		backend: backend,
		logger:  logger,
		now:     time.Now,
	}
}

// SetListener replaces the change listener; nil disables notifications.
func (r *Repository) SetListener(l Listener) {
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()
}

func (r *Repository) notify(fn func(Listener)) {
	r.mu.RLock()
	l := r.listener
	r.mu.RUnlock()
	if l != nil {
		fn(l)
	}
}

// Close releases the backend.
func (r *Repository) Close() error {
	return r.backend.Close()
}

// CreateUser stores a new account. Emails are compared case-insensitively.
func (r *Repository) CreateUser(ctx context.Context, u User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.CreatedAt.IsZero() {
		u.CreatedAt = r.now().UTC()
	}
	return r.backend.CreateUser(ctx, u)
}

func (r *Repository) UserByID(ctx context.Context, id string) (User, error) {
	return r.backend.UserByID(ctx, id)
}

func (r *Repository) UserByEmail(ctx context.Context, email string) (User, error) {
	return r.backend.UserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

func (r *Repository) CreateSession(ctx context.Context, s Session) error {
	return r.backend.CreateSession(ctx, s)
}

func (r *Repository) Session(ctx context.Context, token string) (Session, error) {
	return r.backend.Session(ctx, token)
}

func (r *Repository) DeleteSession(ctx context.Context, token string) error {
	return r.backend.DeleteSession(ctx, token)
}

// LiveSessions counts the unexpired sessions of a user.
func (r *Repository) LiveSessions(ctx context.Context, userID string) (int, error) {
	return r.backend.LiveSessions(ctx, userID, r.now())
}

func (r *Repository) ExpiredSessions(ctx context.Context) ([]Session, error) {
	return r.backend.ExpiredSessions(ctx, r.now())
}

// LoadUser reads a user and announces it to the listener.
func (r *Repository) LoadUser(ctx context.Context, userID string) (User, error) {
	u, err := r.backend.UserByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	r.logger.Debug("user loaded", zap.String("user", u.ID))
	r.notify(func(l Listener) { l.OnUserLoaded(u) })
	return u, nil
}

// SignOut announces that a user has no active login left.
func (r *Repository) SignOut(ctx context.Context, userID string) error {
	u, err := r.backend.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	r.logger.Debug("user signed out", zap.String("user", u.ID))
	r.notify(func(l Listener) { l.OnUserSignOut(u) })
	return nil
}

// Add stores a new favorite city for the user.
func (r *Repository) Add(ctx context.Context, userID string, c City) (City, error) {
	c.Name = common.NormalizeName(c.Name)
	if c.Name == "" {
		return City{}, fmt.Errorf("city name is required")
	}
	now := r.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	if err := r.backend.InsertCity(ctx, userID, c); err != nil {
		return City{}, err
	}
	r.logger.Info("city added", zap.String("user", userID), zap.String("city", c.Name))
	r.notify(func(l Listener) { l.OnCityAdded(userID, c) })
	return c, nil
}

// Update replaces the mutable fields of an existing city, keeping its stored name and creation time.
func (r *Repository) Update(ctx context.Context, userID string, c City) (City, error) {
	existing, err := r.backend.City(ctx, userID, c.Name)
	if err != nil {
		return City{}, err
	}
	c.Name = existing.Name
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = r.now().UTC()

	if err := r.backend.UpdateCity(ctx, userID, c); err != nil {
		return City{}, err
	}
	r.logger.Info("city updated",
		zap.String("user", userID),
		zap.String("city", c.Name),
		zap.Bool("monitored", c.Monitored))
	r.notify(func(l Listener) { l.OnCityUpdated(userID, c) })
	return c, nil
}

// Remove deletes a favorite city.
func (r *Repository) Remove(ctx context.Context, userID, name string) (City, error) {
	c, err := r.backend.DeleteCity(ctx, userID, common.NormalizeName(name))
	if err != nil {
		return City{}, err
	}
	r.logger.Info("city removed", zap.String("user", userID), zap.String("city", c.Name))
	r.notify(func(l Listener) { l.OnCityRemoved(userID, c) })
	return c, nil
}

func (r *Repository) City(ctx context.Context, userID, name string) (City, error) {
	return r.backend.City(ctx, userID, common.NormalizeName(name))
}

// Cities lists a user's favorites sorted by name.
func (r *Repository) Cities(ctx context.Context, userID string) ([]City, error) {
	cities, err := r.backend.Cities(ctx, userID)
	if err != nil {
		return nil, err
	}
	sortCities(cities)
	return cities, nil
}

// ActiveCities lists the cities of every user currently signed in.
func (r *Repository) ActiveCities(ctx context.Context) ([]UserCity, error) {
	return r.backend.ActiveCities(ctx, r.now())
}

// MonitoredCities lists the monitored cities of every user currently signed in.
func (r *Repository) MonitoredCities(ctx context.Context) ([]UserCity, error) {
	active, err := r.ActiveCities(ctx)
	if err != nil {
		return nil, err
	}
	out := active[:0]
	for _, uc := range active {
		if uc.City.Monitored {
			out = append(out, uc)
		}
	}
	return out, nil
}

func sortCities(cities []City) {
	sort.SliceStable(cities, func(i, j int) bool {
		return strings.ToLower(cities[i].Name) < strings.ToLower(cities[j].Name)
	})
}

func cityKey(name string) string {
	return strings.ToLower(common.NormalizeName(name))
}
