package tasks

import (
	"net/http"

	"github/chapool/go-autoyield/internal/api"
	"github/chapool/go-autoyield/internal/api/httperrors"
	"github/chapool/go-autoyield/internal/scheduler"
	"github/chapool/go-autoyield/internal/types"
	"github/chapool/go-autoyield/internal/util"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

func GetTaskRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Tasks.GET("/:id", getTaskHandler(s))
}

func getTaskHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		id, err := bindTaskID(c)
		if err != nil {
			return err
		}

		task, err := s.Tasks.Get(ctx, id)
		if err != nil {
			if errors.Is(err, scheduler.ErrTaskNotFound) {
				return httperrors.ErrNotFoundTask
			}
			util.LogFromContext(ctx).Error().Err(err).Msg("Failed to get task")
			return err
		}

		return util.ValidateAndReturn(c, http.StatusOK, taskToResponse(task))
	}
}

func bindTaskID(c echo.Context) (uuid.UUID, error) {
	var params types.TaskIDParam
	if err := util.BindAndValidatePathParams(c, &params); err != nil {
		return uuid.Nil, err
	}

	id, err := uuid.Parse(params.ID)
	if err != nil {
		return uuid.Nil, httperrors.ErrBadRequestMalformedBody.Wrap(err)
	}

	return id, nil
}
