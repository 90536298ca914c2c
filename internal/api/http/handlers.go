package httpapi

import (
	"bufio"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/i474232898/weatherapp/internal/auth"
	"github.com/i474232898/weatherapp/internal/notify"
	"github.com/i474232898/weatherapp/internal/repo"
)

type handlers struct {
	deps Deps
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// addCityRequest adds a city either by name or by map position.
type addCityRequest struct {
	Name      string   `json:"name"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	Monitored bool     `json:"monitored"`
}

type updateCityRequest struct {
	Monitored *bool `json:"monitored" validate:"required"`
}

func bindJSON(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

// cityName returns the unescaped :name route parameter.
func cityName(c *fiber.Ctx) string {
	raw := c.Params("name")
	if name, err := url.PathUnescape(raw); err == nil {
		return name
	}
	return raw
}

func (h *handlers) register(c *fiber.Ctx) error {
	var reg auth.Registration
	if err := c.BodyParser(&reg); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	u, err := h.deps.Auth.Register(c.UserContext(), reg)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(u)
}

func (h *handlers) login(c *fiber.Ctx) error {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	sess, u, err := h.deps.Auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(fiber.Map{
		"token":     sess.Token,
		"expiresAt": sess.ExpiresAt,
		"user":      u,
	})
}

func (h *handlers) logout(c *fiber.Ctx) error {
	if err := h.deps.Auth.Logout(c.UserContext(), currentToken(c)); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) me(c *fiber.Ctx) error {
	return c.JSON(currentUser(c))
}

func (h *handlers) listCities(c *fiber.Ctx) error {
	cities, err := h.deps.Cities.Cities(c.UserContext(), currentUser(c).ID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(fiber.Map{"cities": cities})
}

func (h *handlers) addCity(c *fiber.Ctx) error {
	var req addCityRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	if req.Name == "" && (req.Lat == nil || req.Lon == nil) {
		return fiber.NewError(fiber.StatusBadRequest, "name or lat and lon are required")
	}

	userID := currentUser(c).ID
	var (
		city repo.City
		err  error
	)
	if req.Name != "" {
		city, err = h.deps.Cities.AddCityByName(c.UserContext(), userID, req.Name, req.Monitored)
	} else {
		city, err = h.deps.Cities.AddCityByLocation(c.UserContext(), userID, *req.Lat, *req.Lon, req.Monitored)
	}
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(city)
}

func (h *handlers) updateCity(c *fiber.Ctx) error {
	var req updateCityRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	city, err := h.deps.Cities.SetMonitored(c.UserContext(), currentUser(c).ID, cityName(c), *req.Monitored)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(city)
}

func (h *handlers) removeCity(c *fiber.Ctx) error {
	if _, err := h.deps.Cities.Remove(c.UserContext(), currentUser(c).ID, cityName(c)); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) cityWeather(c *fiber.Ctx) error {
	snap, err := h.deps.Cities.Weather(c.UserContext(), currentUser(c).ID, cityName(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(snap)
}

func (h *handlers) cityForecast(c *fiber.Ctx) error {
	days := h.deps.DefaultForecastDays
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 7 {
			return fiber.NewError(fiber.StatusBadRequest, "days must be an integer between 1 and 7")
		}
		days = n
	}

	name := cityName(c)
	forecast, err := h.deps.Cities.Forecast(c.UserContext(), currentUser(c).ID, name, days)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(fiber.Map{
		"city":     name,
		"days":     days,
		"forecast": forecast,
	})
}

func (h *handlers) cityIcon(c *fiber.Ctx) error {
	data, contentType, err := h.deps.Cities.Icon(c.UserContext(), currentUser(c).ID, cityName(c))
	if err != nil {
		return toHTTPError(err)
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderCacheControl, "public, max-age=86400")
	return c.Send(data)
}

func (h *handlers) checkCity(c *fiber.Ctx) error {
	n, err := h.deps.Cities.CheckNow(c.UserContext(), currentUser(c).ID, cityName(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(fiber.Map{
		"city":  n.City,
		"title": n.Title,
		"body":  n.Body,
		"data":  n.Data,
	})
}

func (h *handlers) notifications(c *fiber.Ctx) error {
	msgs := h.deps.Events.Recent(currentUser(c).ID)
	if msgs == nil {
		msgs = []notify.Message{}
	}
	return c.JSON(fiber.Map{"notifications": msgs})
}

// events streams the user's messages as Server-Sent Events until the client goes away,
// the user signs out or the server shuts down.
func (h *handlers) events(c *fiber.Ctx) error {
	userID := currentUser(c).ID
	id, ch := h.deps.Events.Subscribe(userID)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	done := h.deps.Done
	if done == nil {
		done = make(chan struct{})
	}
	heartbeat := h.deps.Heartbeat

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer h.deps.Events.Unsubscribe(userID, id)
		// Tell the client the stream is open.
		if err := notify.WriteHeartbeat(w, time.Now()); err != nil {
			return
		}
		_ = notify.Stream(w, ch, done, heartbeat)
	}))
	return nil
}
