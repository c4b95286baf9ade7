package httperrors

import (
	"net/http"

	"github/chapool/go-autoyield/internal/types"
)

var (
	ErrBadRequestMalformedBody = NewHTTPError(http.StatusBadRequest, types.PublicHTTPErrorTypeMalformedBody, "The request body is malformed.")
	ErrUnauthorized            = NewHTTPError(http.StatusUnauthorized, types.PublicHTTPErrorTypeGeneric, "Missing or invalid bearer token.")
)
