package accounts

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/lungvision/go-accounts/middleware/jwtware"
)

const (
	detailValidation    = "Invalid input."
	detailNotProvided   = "Authentication credentials were not provided."
	detailInternalError = "A server error occurred."
)

// ErrorResponse is the JSON envelope for every failure
type ErrorResponse struct {
	Detail string      `json:"detail"`
	Code   string      `json:"code,omitempty"`
	Errors FieldErrors `json:"errors,omitempty"`
}

// ErrorStatus maps an error to its HTTP status and response body
func ErrorStatus(err error) (int, ErrorResponse) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		code := TextCodeValidation
		if validationErr.IsConflict() {
			code = TextCodeUniqueness
		}
		detail := validationErr.Message
		if detail == "" {
			detail = detailValidation
		}
		return http.StatusBadRequest, ErrorResponse{
			Detail: detail,
			Code:   code,
			Errors: validationErr.Fields,
		}
	}

	var rejected *AccountRejectedError
	if errors.As(err, &rejected) {
		return richErrorResponse(rejected.RichError())
	}

	if errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
		return http.StatusUnauthorized, ErrorResponse{
			Detail: detailNotProvided,
			Code:   TextCodeTokenMalformed,
		}
	}

	if errors.Is(err, jwtware.ErrAccessDenied) {
		return richErrorResponse(ErrForbidden)
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErrorResponse(richErr)
	}

	return http.StatusInternalServerError, ErrorResponse{Detail: detailInternalError}
}

func richErrorResponse(e *goerrors.Error) (int, ErrorResponse) {
	status := e.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}

	detail := e.Message
	if status == http.StatusInternalServerError {
		detail = detailInternalError
	}

	return status, ErrorResponse{
		Detail: detail,
		Code:   e.TextCode,
	}
}

// WriteError renders err as JSON
func WriteError(ctx router.Context, err error) error {
	status, body := ErrorStatus(err)
	return ctx.JSON(status, body)
}
