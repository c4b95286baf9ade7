package tasks

import (
	"net/http"

	"github/chapool/go-autoyield/internal/api"
	"github/chapool/go-autoyield/internal/api/httperrors"
	"github/chapool/go-autoyield/internal/scheduler"
	"github/chapool/go-autoyield/internal/util"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

func DeleteTaskRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Tasks.DELETE("/:id", deleteTaskHandler(s))
}

func deleteTaskHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		id, err := bindTaskID(c)
		if err != nil {
			return err
		}

		if err := s.Tasks.Delete(ctx, id); err != nil {
			if errors.Is(err, scheduler.ErrTaskNotFound) {
				return httperrors.ErrNotFoundTask
			}
			util.LogFromContext(ctx).Error().Err(err).Msg("Failed to delete task")
			return err
		}

		util.LogFromContext(ctx).Info().Str("task_id", id.String()).Msg("Task deleted")

		return c.NoContent(http.StatusNoContent)
	}
}
