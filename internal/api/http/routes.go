package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weatherapp/internal/auth"
	"github.com/i474232898/weatherapp/internal/notify"
	"github.com/i474232898/weatherapp/internal/repo"
	"github.com/i474232898/weatherapp/internal/weather"
)

var validate = validator.New()

// WeatherReader serves the location based weather endpoints.
type WeatherReader interface {
	GetLatest(loc weather.Location) (weather.WeatherSnapshot, error)
	GetRange(loc weather.Location, from, to time.Time) ([]weather.WeatherSnapshot, error)
	GetForecast(ctx context.Context, loc weather.Location, days int) (weather.Forecast, error)
}

// Authenticator manages accounts and sessions.
type Authenticator interface {
	Register(ctx context.Context, reg auth.Registration) (repo.User, error)
	Login(ctx context.Context, email, password string) (repo.Session, repo.User, error)
	Logout(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (repo.User, error)
}

// CityController manages the favorite cities of the signed in user.
type CityController interface {
	AddCityByName(ctx context.Context, userID, name string, monitored bool) (repo.City, error)
	AddCityByLocation(ctx context.Context, userID string, lat, lon float64, monitored bool) (repo.City, error)
	SetMonitored(ctx context.Context, userID, name string, monitored bool) (repo.City, error)
	Remove(ctx context.Context, userID, name string) (repo.City, error)
	Cities(ctx context.Context, userID string) ([]repo.City, error)
	Weather(ctx context.Context, userID, name string) (weather.WeatherSnapshot, error)
	Forecast(ctx context.Context, userID, name string, days int) (weather.Forecast, error)
	Icon(ctx context.Context, userID, name string) ([]byte, string, error)
	CheckNow(ctx context.Context, userID, name string) (notify.Notification, error)
}

// EventSource streams per-user messages.
type EventSource interface {
	Subscribe(userID string) (string, <-chan notify.Message)
	Unsubscribe(userID, id string)
	Recent(userID string) []notify.Message
}

// Deps are the services behind the API.
type Deps struct {
	Weather WeatherReader
	Auth    Authenticator
	Cities  CityController
	Events  EventSource

	// Done closes open event streams on shutdown.
	Done <-chan struct{}
	// Heartbeat is the keep-alive period of event streams.
	Heartbeat time.Duration
	// DefaultForecastDays is used when a city forecast request has no days parameter.
	DefaultForecastDays int
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	if deps.Heartbeat <= 0 {
		deps.Heartbeat = 15 * time.Second
	}
	if deps.DefaultForecastDays <= 0 {
		deps.DefaultForecastDays = 3
	}

	v1 := app.Group("/api/v1")

	registerWeatherRoutes(v1, deps.Weather)

	h := &handlers{deps: deps}
	authRequired := requireAuth(deps.Auth)

	v1.Post("/auth/register", h.register)
	v1.Post("/auth/login", h.login)
	v1.Post("/auth/logout", authRequired, h.logout)
	v1.Get("/me", authRequired, h.me)

	cities := v1.Group("/cities", authRequired)
	cities.Get("/", h.listCities)
	cities.Post("/", h.addCity)
	cities.Patch("/:name", h.updateCity)
	cities.Delete("/:name", h.removeCity)
	cities.Get("/:name/weather", h.cityWeather)
	cities.Get("/:name/forecast", h.cityForecast)
	cities.Get("/:name/icon", h.cityIcon)
	cities.Post("/:name/check", h.checkCity)

	v1.Get("/notifications", authRequired, h.notifications)
	v1.Get("/events", authRequired, h.events)
}

func registerWeatherRoutes(v1 fiber.Router, service WeatherReader) {
	v1.Get("/weather/current", func(c *fiber.Ctx) error {
		locReq, err := parseLocationQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		loc := locReq.toLocation()
		snapshot, err := service.GetLatest(loc)
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, "no weather data for requested location")
		}

		return c.JSON(snapshot)
	})

	v1.Get("/weather/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		loc := req.Location.toLocation()
		snapshots, err := service.GetRange(loc, req.From, req.To)
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, "no weather history for requested range")
		}

		return c.JSON(fiber.Map{
			"location":  loc,
			"from":      req.From,
			"to":        req.To,
			"snapshots": snapshots,
		})
	})

	v1.Get("/weather/forecast", func(c *fiber.Ctx) error {
		var req forecastQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		loc := req.Location.toLocation()
		forecast, err := service.GetForecast(c.UserContext(), loc, req.Days)
		if err != nil {
			return toHTTPError(err)
		}

		return c.JSON(fiber.Map{
			"location": loc,
			"days":     req.Days,
			"forecast": forecast,
		})
	})
}

// locationQuery holds query parameters for identifying a location.
type locationQuery struct {
	City    string   `validate:"required"`
	Country string   `validate:"required"`
	Lat     *float64 `validate:"omitempty,latitude"`
	Lon     *float64 `validate:"omitempty,longitude"`
}

func (l locationQuery) toLocation() weather.Location {
	return weather.Location{
		City:    l.City,
		Country: l.Country,
		Lat:     l.Lat,
		Lon:     l.Lon,
	}
}

func parseLocationQuery(c *fiber.Ctx) (locationQuery, error) {
	var q locationQuery

	q.City = c.Query("city")
	q.Country = c.Query("country")

	for _, p := range []struct {
		name string
		dst  **float64
	}{{"lat", &q.Lat}, {"lon", &q.Lon}} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return q, errors.New(p.name + " must be a number")
		}
		*p.dst = &f
	}

	if err := validate.Struct(q); err != nil {
		return q, err
	}

	return q, nil
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	Location locationQuery
	From     time.Time `validate:"required"`
	To       time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	loc, err := parseLocationQuery(c)
	if err != nil {
		return err
	}
	h.Location = loc

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// forecastQuery holds query parameters for the forecast endpoint.
type forecastQuery struct {
	Location locationQuery
	Days     int `validate:"required,min=1,max=7"`
}

func (f *forecastQuery) bind(c *fiber.Ctx) error {
	loc, err := parseLocationQuery(c)
	if err != nil {
		return err
	}
	f.Location = loc

	daysStr := c.Query("days")
	if daysStr == "" {
		return errors.New("days query parameter is required")
	}
	days, err := strconv.Atoi(daysStr)
	if err != nil {
		return errors.New("days must be an integer")
	}
	f.Days = days
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
