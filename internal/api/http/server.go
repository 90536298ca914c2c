package httpapi

import (
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/i474232898/weatherapp/internal/app"
	"github.com/i474232898/weatherapp/internal/auth"
	"github.com/i474232898/weatherapp/internal/repo"
	"github.com/i474232898/weatherapp/internal/store"
	"github.com/i474232898/weatherapp/internal/weather"
)

// NewApp builds the fiber app with the shared middleware, error handler and health endpoint.
// accessLog enables fiber's request logger. There is no write timeout because event
// streams stay open.
func NewApp(name string, logger *zap.Logger, accessLog bool) *fiber.App {
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               name,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          errorHandler(logger),
	})

	if accessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": name,
		})
	})
	return app
}

// errorHandler renders every error as {"error": true, "message": ...}.
func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		if code >= fiber.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err))
		}
		return c.Status(code).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}
}

// toHTTPError maps domain errors onto HTTP status codes.
func toHTTPError(err error) error {
	var ve *auth.ValidationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ve), errors.Is(err, app.ErrInvalidInput):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUnauthorized):
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, repo.ErrEmailTaken), errors.Is(err, repo.ErrCityExists):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, store.ErrNotFound), errors.Is(err, weather.ErrLocationNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, weather.ErrNoData):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		return err
	}
}
