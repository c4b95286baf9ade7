package tasks

import (
	"net/http"

	"github/chapool/go-autoyield/internal/api"
	"github/chapool/go-autoyield/internal/types"
	"github/chapool/go-autoyield/internal/util"

	"github.com/labstack/echo/v4"
)

func GetTasksRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Tasks.GET("", getTasksHandler(s))
}

func getTasksHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		tasks, err := s.Tasks.List(ctx)
		if err != nil {
			util.LogFromContext(ctx).Error().Err(err).Msg("Failed to list tasks")
			return err
		}

		res := &types.GetTasksResponse{Data: make([]*types.Task, 0, len(tasks))}
		for _, t := range tasks {
			res.Data = append(res.Data, taskToResponse(t))
		}

		return util.ValidateAndReturn(c, http.StatusOK, res)
	}
}
