package handlers

import (
	"github/chapool/go-autoyield/internal/api"
	"github/chapool/go-autoyield/internal/api/handlers/common"
	"github/chapool/go-autoyield/internal/api/handlers/tasks"

	"github.com/labstack/echo/v4"
)

func AttachAllRoutes(s *api.Server) {
	// attach our routes
	s.Router.Routes = []*echo.Route{
		common.GetHealthyRoute(s),
		common.GetReadyRoute(s),
		tasks.DeleteTaskRoute(s),
		tasks.GetTaskRoute(s),
		tasks.GetTasksRoute(s),
		tasks.PostTaskRoute(s),
	}
}
