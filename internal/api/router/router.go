package router

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github/chapool/go-autoyield/internal/api"
	"github/chapool/go-autoyield/internal/api/handlers"
	"github/chapool/go-autoyield/internal/api/httperrors"
	"github/chapool/go-autoyield/internal/types"
	"github/chapool/go-autoyield/internal/util"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Init(s *api.Server) {
	s.Echo = echo.New()

	s.Echo.Debug = s.Config.Echo.Debug
	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.Logger.SetOutput(&echoLogger{level: s.Config.Logger.RequestLevel, log: log.With().Str("component", "echo").Logger()})

	s.Echo.HTTPErrorHandler = httpErrorHandler(s)

	// ---
	// General middleware
	if s.Config.Echo.EnableRecoverMiddleware {
		s.Echo.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
			LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
				util.LogFromEchoContext(c).Error().Err(err).Bytes("stack", stack).Msg("Recovered from panic")
				return err
			},
		}))
	} else {
		log.Warn().Msg("Disabling recover middleware due to environment config")
	}

	if s.Config.Echo.EnableRequestIDMiddleware {
		s.Echo.Use(middleware.RequestID())
	} else {
		log.Warn().Msg("Disabling request ID middleware due to environment config")
	}

	if s.Config.Echo.EnableLoggerMiddleware {
		s.Echo.Use(requestLogger(s))
	} else {
		log.Warn().Msg("Disabling logger middleware due to environment config")
	}

	s.Echo.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  "autoyield",
		Subsystem:  "http",
		Registerer: s.Metrics.Registry(),
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
	}))

	// ---
	// Initialize our general groups and set middleware to use above them
	s.Router = &api.Router{
		Routes: nil, // will be populated by handlers.AttachAllRoutes(s)

		// Unsecured base group available at /**
		Root: s.Echo.Group(""),

		// Management endpoints, unauthenticated /-/**
		Management: s.Echo.Group("/-"),

		// Task API, bearer token /api/v1/tasks/**
		APIV1Tasks: s.Echo.Group("/api/v1/tasks", middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			KeyLookup:  "header:" + echo.HeaderAuthorization,
			AuthScheme: "Bearer",
			Validator: func(key string, _ echo.Context) (bool, error) {
				token := s.Config.Echo.APIToken
				if token == "" {
					return false, nil
				}
				return subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1, nil
			},
			ErrorHandler: func(err error, _ echo.Context) error {
				return httperrors.ErrUnauthorized.Wrap(err)
			},
		})),
	}

	s.Echo.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: s.Metrics.Registry(),
	}))

	// ---
	// Finally attach our handlers
	handlers.AttachAllRoutes(s)
}

func requestLogger(s *api.Server) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		BeforeNextFunc: func(c echo.Context) {
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			l := log.With().Str("id", id).Logger()

			ctx := util.WithLogger(c.Request().Context(), l)
			ctx = context.WithValue(ctx, util.CTXKeyRequestID, id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			var e *zerolog.Event
			if v.Error != nil {
				e = util.LogFromEchoContext(c).Warn().Err(v.Error)
			} else {
				e = util.LogFromEchoContext(c).WithLevel(s.Config.Logger.RequestLevel)
			}

			e.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Str("remote_ip", v.RemoteIP).
				Dur("latency", v.Latency).
				Msg("Request")

			return nil
		},
	})
}

func httpErrorHandler(s *api.Server) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			code int
			body interface{}
		)

		var httpErr *httperrors.HTTPError
		var validationErr *httperrors.HTTPValidationError
		var echoErr *echo.HTTPError

		switch {
		case errors.As(err, &validationErr):
			code = int(*validationErr.Code)
			body = validationErr.PublicHTTPValidationError
		case errors.As(err, &httpErr):
			code = int(*httpErr.Code)
			body = httpErr.PublicHTTPError
		case errors.As(err, &echoErr):
			code = echoErr.Code
			title := http.StatusText(code)
			if msg, ok := echoErr.Message.(string); ok {
				title = msg
			}
			body = httperrors.NewHTTPError(code, types.PublicHTTPErrorTypeGeneric, title).PublicHTTPError
		default:
			code = http.StatusInternalServerError
			e := httperrors.NewHTTPError(code, types.PublicHTTPErrorTypeGeneric, http.StatusText(code))
			if !s.Config.Echo.HideInternalServerErrorDetails {
				e.Detail = err.Error()
			}
			body = e.PublicHTTPError
		}

		if code >= http.StatusInternalServerError {
			util.LogFromEchoContext(c).Error().Err(err).Int("status", code).Msg("Request failed")
		} else {
			util.LogFromEchoContext(c).Debug().Err(err).Int("status", code).Msg("Request rejected")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, body)
		}
		if err != nil {
			util.LogFromEchoContext(c).Error().Err(err).Msg("Failed to write error response")
		}
	}
}

// echoLogger routes echo's own log output through zerolog.
type echoLogger struct {
	level zerolog.Level
	log   zerolog.Logger
}

func (l *echoLogger) Write(p []byte) (int, error) {
	l.log.WithLevel(l.level).Msg(string(p))
	return len(p), nil
}
