package common

import (
	"context"
	"net/http"
	"time"

	"github/chapool/go-autoyield/internal/api"
	"github/chapool/go-autoyield/internal/util"

	"github.com/labstack/echo/v4"
)

const healthTimeout = 5 * time.Second

func GetHealthyRoute(s *api.Server) *echo.Route {
	return s.Router.Management.GET("/healthy", getHealthyHandler(s))
}

// Liveness check
// Unlike /-/ready this also reaches out to the chain RPC when one is connected.
func getHealthyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.Ready() {
			return c.String(statusNotReady, "Not ready.")
		}

		if s.Chain != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
			defer cancel()

			if _, err := s.Chain.ChainID(ctx); err != nil {
				util.LogFromEchoContext(c).Warn().Err(err).Msg("Chain RPC health probe failed")
				return c.String(statusNotReady, "Not healthy.")
			}
		}

		return c.String(http.StatusOK, "Healthy.")
	}
}
