// Package app wires repository changes to the forecast monitor and the notification hub,
// and offers the favorite-city operations used by the HTTP layer.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/i474232898/weatherapp/internal/common"
	"github.com/i474232898/weatherapp/internal/notify"
	"github.com/i474232898/weatherapp/internal/repo"
	"github.com/i474232898/weatherapp/internal/weather"
)

var (
	// ErrLocationNotFound is returned when a city name or coordinate cannot be resolved.
	ErrLocationNotFound = weather.ErrLocationNotFound
	// ErrInvalidInput is returned for malformed names or coordinates.
	ErrInvalidInput = errors.New("invalid input")
)

// WeatherService is the part of weather.Service the controller needs.
type WeatherService interface {
	Current(ctx context.Context, loc weather.Location) (weather.WeatherSnapshot, error)
	GetForecast(ctx context.Context, loc weather.Location, days int) (weather.Forecast, error)
	Locate(ctx context.Context, name string) (weather.Location, error)
	Reverse(ctx context.Context, lat, lon float64) (weather.Location, error)
	Icon(ctx context.Context, url string) ([]byte, string, error)
}

// Monitor schedules forecast checks per city.
type Monitor interface {
	UpdateCity(userID string, city repo.City) error
	CancelCity(userID string, city repo.City)
	CancelAll(userID string)
	Check(ctx context.Context, userID string, city repo.City) (notify.Notification, error)
}

// Publisher delivers events to connected clients.
type Publisher interface {
	Publish(msg notify.Message) notify.Message
	DisconnectUser(userID string)
	Forget(userID string)
}

// Controller reacts to repository changes and serves favorite-city requests.
type Controller struct {
	repo    *repo.Repository
	weather WeatherService
	monitor Monitor
	events  Publisher
	logger  *zap.Logger
}

var _ repo.Listener = (*Controller)(nil)

// New creates a controller and registers it as the repository listener.
func New(r *repo.Repository, ws WeatherService, mon Monitor, events Publisher, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		repo:    r,
		weather: ws,
		monitor: mon,
		events:  events,
		logger:  logger,
	}
	r.SetListener(c)
	return c
}

func (c *Controller) publish(evt repo.Event) {
	if c.events == nil {
		return
	}
	c.events.Publish(notify.Message{
		Type:   string(evt.Type),
		UserID: evt.UserID,
		Data:   evt,
	})
}

func (c *Controller) schedule(userID string, city repo.City) {
	if err := c.monitor.UpdateCity(userID, city); err != nil {
		c.logger.Warn("could not schedule forecast check",
			zap.String("user", userID),
			zap.String("city", city.Name),
			zap.Error(err))
	}
}

// OnUserLoaded restores the forecast checks of every city of the user. The session
// of the login that loaded the user already exists, so more than one live session
// means an earlier login scheduled the cities and the checks keep their cadence.
func (c *Controller) OnUserLoaded(u repo.User) {
	ctx := context.Background()
	if n, err := c.repo.LiveSessions(ctx, u.ID); err == nil && n > 1 {
		c.logger.Debug("user already signed in, keeping scheduled checks",
			zap.String("user", u.ID), zap.Int("sessions", n))
	} else {
		cities, err := c.repo.Cities(ctx, u.ID)
		if err != nil {
			c.logger.Error("failed to load cities", zap.String("user", u.ID), zap.Error(err))
		}
		for _, city := range cities {
			c.schedule(u.ID, city)
		}
	}
	c.publish(repo.Event{Type: repo.EventUserLoaded, UserID: u.ID, User: &u})
}

// OnUserSignOut cancels the user's checks, closes their event streams and drops
// the notifications kept for them.
func (c *Controller) OnUserSignOut(u repo.User) {
	c.monitor.CancelAll(u.ID)
	c.publish(repo.Event{Type: repo.EventUserSignOut, UserID: u.ID, User: &u})
	if c.events != nil {
		c.events.DisconnectUser(u.ID)
		c.events.Forget(u.ID)
	}
}

func (c *Controller) OnCityAdded(userID string, city repo.City) {
	c.schedule(userID, city)
	c.publish(repo.Event{Type: repo.EventCityAdded, UserID: userID, City: &city})
}

func (c *Controller) OnCityUpdated(userID string, city repo.City) {
	c.schedule(userID, city)
	c.publish(repo.Event{Type: repo.EventCityUpdated, UserID: userID, City: &city})
}

func (c *Controller) OnCityRemoved(userID string, city repo.City) {
	c.monitor.CancelCity(userID, city)
	c.publish(repo.Event{Type: repo.EventCityRemoved, UserID: userID, City: &city})
}

// AddCityByName geocodes name and stores it as a favorite under the name the user typed.
func (c *Controller) AddCityByName(ctx context.Context, userID, name string, monitored bool) (repo.City, error) {
	name = common.NormalizeName(name)
	if name == "" {
		return repo.City{}, fmt.Errorf("%w: city name is required", ErrInvalidInput)
	}

	// A duplicate is refused before spending a geocoding request on it.
	if _, err := c.repo.City(ctx, userID, name); err == nil {
		return repo.City{}, fmt.Errorf("%w: %s", repo.ErrCityExists, name)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return repo.City{}, err
	}

	loc, err := c.weather.Locate(ctx, name)
	if err != nil {
		return repo.City{}, err
	}
	if !loc.HasCoordinates() {
		return repo.City{}, fmt.Errorf("%w: %s", ErrLocationNotFound, name)
	}

	return c.repo.Add(ctx, userID, repo.City{
		Name:      name,
		Country:   loc.Country,
		Lat:       *loc.Lat,
		Lon:       *loc.Lon,
		Monitored: monitored,
	})
}

// AddCityByLocation reverse geocodes a map position and stores the resolved city.
func (c *Controller) AddCityByLocation(ctx context.Context, userID string, lat, lon float64, monitored bool) (repo.City, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return repo.City{}, fmt.Errorf("%w: coordinates out of range", ErrInvalidInput)
	}

	loc, err := c.weather.Reverse(ctx, lat, lon)
	if err != nil {
		return repo.City{}, err
	}
	name := common.NormalizeName(loc.City)
	if name == "" {
		return repo.City{}, fmt.Errorf("%w: %.4f,%.4f", ErrLocationNotFound, lat, lon)
	}

	return c.repo.Add(ctx, userID, repo.City{
		Name:      name,
		Country:   loc.Country,
		Lat:       lat,
		Lon:       lon,
		Monitored: monitored,
	})
}

// SetMonitored turns the periodic forecast check of a city on or off.
func (c *Controller) SetMonitored(ctx context.Context, userID, name string, monitored bool) (repo.City, error) {
	city, err := c.repo.City(ctx, userID, name)
	if err != nil {
		return repo.City{}, err
	}
	city.Monitored = monitored
	return c.repo.Update(ctx, userID, city)
}

func (c *Controller) Remove(ctx context.Context, userID, name string) (repo.City, error) {
	return c.repo.Remove(ctx, userID, name)
}

func (c *Controller) Cities(ctx context.Context, userID string) ([]repo.City, error) {
	return c.repo.Cities(ctx, userID)
}

// Weather returns the current conditions of a favorite city.
func (c *Controller) Weather(ctx context.Context, userID, name string) (weather.WeatherSnapshot, error) {
	city, err := c.repo.City(ctx, userID, name)
	if err != nil {
		return weather.WeatherSnapshot{}, err
	}
	return c.weather.Current(ctx, city.Location())
}

// Forecast returns a days-long forecast of a favorite city.
func (c *Controller) Forecast(ctx context.Context, userID, name string, days int) (weather.Forecast, error) {
	city, err := c.repo.City(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	return c.weather.GetForecast(ctx, city.Location(), days)
}

// Icon returns the image of the current condition of a favorite city.
func (c *Controller) Icon(ctx context.Context, userID, name string) ([]byte, string, error) {
	snap, err := c.Weather(ctx, userID, name)
	if err != nil {
		return nil, "", err
	}
	return c.weather.Icon(ctx, snap.IconURL)
}

// CheckNow runs a forecast check outside the schedule.
func (c *Controller) CheckNow(ctx context.Context, userID, name string) (notify.Notification, error) {
	city, err := c.repo.City(ctx, userID, name)
	if err != nil {
		return notify.Notification{}, err
	}
	return c.monitor.Check(ctx, userID, city)
}

// Restore schedules the monitored cities of every signed in user. It returns the number
// of cities scheduled.
func (c *Controller) Restore(ctx context.Context) (int, error) {
	cities, err := c.repo.MonitoredCities(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore forecast checks: %w", err)
	}
	for _, uc := range cities {
		c.schedule(uc.UserID, uc.City)
	}
	c.logger.Info("forecast checks restored", zap.Int("count", len(cities)))
	return len(cities), nil
}

// TrackedLocations returns the distinct locations of every signed in user's cities.
func (c *Controller) TrackedLocations(ctx context.Context) ([]weather.Location, error) {
	cities, err := c.repo.ActiveCities(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(cities))
	out := make([]weather.Location, 0, len(cities))
	for _, uc := range cities {
		loc := uc.City.Location()
		if _, ok := seen[loc.Key()]; ok {
			continue
		}
		seen[loc.Key()] = struct{}{}
		out = append(out, loc)
	}
	return out, nil
}
