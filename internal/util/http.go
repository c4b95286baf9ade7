package util

import (
	"context"
	"net/http"

	"github/chapool/go-autoyield/internal/api/httperrors"
	"github/chapool/go-autoyield/internal/types"

	oaerrors "github.com/go-openapi/errors"
	"github.com/go-openapi/runtime"
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/swag"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// BindAndValidateBody binds the request body into v and validates it against
// its schema.
func BindAndValidateBody(c echo.Context, v runtime.Validatable) error {
	binder, ok := c.Echo().Binder.(*echo.DefaultBinder)
	if !ok {
		binder = &echo.DefaultBinder{}
	}

	if err := binder.BindBody(c, v); err != nil {
		LogFromEchoContext(c).Debug().Err(err).Msg("Failed to bind body")
		return httperrors.ErrBadRequestMalformedBody
	}

	return validatePayload(c, v)
}

// BindAndValidatePathParams binds path parameters into v and validates them.
func BindAndValidatePathParams(c echo.Context, v runtime.Validatable) error {
	binder, ok := c.Echo().Binder.(*echo.DefaultBinder)
	if !ok {
		binder = &echo.DefaultBinder{}
	}

	if err := binder.BindPathParams(c, v); err != nil {
		return httperrors.ErrBadRequestMalformedBody
	}

	return validatePayload(c, v)
}

// ValidateAndReturn validates a response against its schema before writing it.
func ValidateAndReturn(c echo.Context, code int, v runtime.Validatable) error {
	if err := v.Validate(strfmt.Default); err != nil {
		LogFromEchoContext(c).Error().Err(err).Msg("Response did not match schema")
		return errors.Wrap(err, "invalid response")
	}

	return c.JSON(code, v)
}

func validatePayload(c echo.Context, v runtime.Validatable) error {
	err := v.Validate(strfmt.Default)
	if err == nil {
		return nil
	}

	var composite *oaerrors.CompositeError
	if errors.As(err, &composite) {
		LogFromEchoContext(c).Debug().Errs("validation_errors", composite.Errors).Msg("Payload did not match schema, returning HTTP validation error")

		return httperrors.NewHTTPValidationError(http.StatusBadRequest, types.PublicHTTPErrorTypeGeneric,
			http.StatusText(http.StatusBadRequest), formatValidationErrors(c.Request().Context(), composite))
	}

	var single *oaerrors.Validation
	if errors.As(err, &single) {
		return httperrors.NewHTTPValidationError(http.StatusBadRequest, types.PublicHTTPErrorTypeGeneric,
			http.StatusText(http.StatusBadRequest), []*types.HTTPValidationErrorDetail{validationDetail(single)})
	}

	LogFromEchoContext(c).Error().Err(err).Msg("Failed to validate payload")
	return httperrors.ErrBadRequestMalformedBody
}

func formatValidationErrors(ctx context.Context, err *oaerrors.CompositeError) []*types.HTTPValidationErrorDetail {
	details := make([]*types.HTTPValidationErrorDetail, 0, len(err.Errors))
	for _, e := range err.Errors {
		var v *oaerrors.Validation
		if errors.As(e, &v) {
			details = append(details, validationDetail(v))
			continue
		}

		var nested *oaerrors.CompositeError
		if errors.As(e, &nested) {
			details = append(details, formatValidationErrors(ctx, nested)...)
			continue
		}

		LogFromContext(ctx).Warn().Err(e).Str("err_type", "unknown").Msg("Received unknown error type while formatting validation errors")
	}

	return details
}

func validationDetail(v *oaerrors.Validation) *types.HTTPValidationErrorDetail {
	return &types.HTTPValidationErrorDetail{
		Key:   swag.String(v.Name),
		In:    swag.String(v.In),
		Error: swag.String(v.Error()),
	}
}
