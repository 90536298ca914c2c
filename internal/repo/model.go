package repo

import (
	"errors"
	"time"

	"github.com/i474232898/weatherapp/internal/weather"
)

var (
	// ErrNotFound is returned when a user, session or city does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCityExists is returned when a user already tracks a city with the same name.
	ErrCityExists = errors.New("city already exists")
	// ErrEmailTaken is returned when registering an email that is already in use.
	ErrEmailTaken = errors.New("email already registered")
)

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// City is a favorite location of a user. Name is unique per user.
type City struct {
	Name      string    `json:"name"`
	Country   string    `json:"country,omitempty"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Monitored bool      `json:"monitored"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Location converts the city into a weather lookup location.
func (c City) Location() weather.Location {
	return weather.NewLocation(c.Name, c.Country, c.Lat, c.Lon)
}

// Session is an authenticated login.
type Session struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// UserCity pairs a city with its owner.
type UserCity struct {
	UserID string
	City   City
}

// EventType names a repository change.
type EventType string

const (
	EventUserLoaded  EventType = "user.loaded"
	EventUserSignOut EventType = "user.signout"
	EventCityAdded   EventType = "city.added"
	EventCityUpdated EventType = "city.updated"
	EventCityRemoved EventType = "city.removed"
)

// Event describes a repository change as published to clients.
type Event struct {
	Type   EventType `json:"type"`
	UserID string    `json:"userId"`
	User   *User     `json:"user,omitempty"`
	City   *City     `json:"city,omitempty"`
}
