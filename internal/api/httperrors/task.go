package httperrors

import (
	"net/http"

	"github/chapool/go-autoyield/internal/types"
)

var (
	ErrNotFoundTask        = NewHTTPError(http.StatusNotFound, types.PublicHTTPErrorTypeTaskNotFound, "Task not found.")
	ErrConflictTask        = NewHTTPError(http.StatusConflict, types.PublicHTTPErrorTypeTaskExists, "A task for this account, token and action already exists.")
	ErrBadRequestUnmanaged = NewHTTPError(http.StatusBadRequest, types.PublicHTTPErrorTypeAccountUnmanaged, "The account has no automation key configured.")
)
