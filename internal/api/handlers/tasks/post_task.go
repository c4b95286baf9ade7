package tasks

import (
	"net/http"
	"time"

	"github/chapool/go-autoyield/internal/api"
	"github/chapool/go-autoyield/internal/api/httperrors"
	"github/chapool/go-autoyield/internal/rebalance"
	"github/chapool/go-autoyield/internal/scheduler"
	"github/chapool/go-autoyield/internal/types"
	"github/chapool/go-autoyield/internal/util"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-openapi/swag"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

func PostTaskRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Tasks.POST("", postTaskHandler(s))
}

func postTaskHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		var body types.PostTaskPayload
		if err := util.BindAndValidateBody(c, &body); err != nil {
			return err
		}

		action, err := rebalance.ParseAction(swag.StringValue(body.Action))
		if err != nil {
			return httperrors.ErrBadRequestMalformedBody.Wrap(err)
		}

		account := common.HexToAddress(swag.StringValue(body.Account))
		if !s.ManagesAccount(account) {
			log.Debug().Str("account", account.Hex()).Msg("Rejecting task for unmanaged account")
			return httperrors.ErrBadRequestUnmanaged
		}

		task := scheduler.NewTask(
			account,
			common.HexToAddress(swag.StringValue(body.Token)),
			time.Duration(swag.Int64Value(body.IntervalSeconds))*time.Second,
			action,
			s.Clock.Now(),
		)
		task.Enabled = !util.FalseIfNil(body.Paused)

		if err := s.Tasks.Create(ctx, task); err != nil {
			if errors.Is(err, scheduler.ErrTaskExists) {
				return httperrors.ErrConflictTask
			}
			log.Error().Err(err).Msg("Failed to create task")
			return err
		}

		log.Info().Str("task_id", task.ID.String()).Str("account", account.Hex()).Str("action", string(action)).Msg("Task created")

		return util.ValidateAndReturn(c, http.StatusCreated, taskToResponse(task))
	}
}
