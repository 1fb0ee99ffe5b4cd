package accounts

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidation         = "VALIDATION_ERROR"
	TextCodeUniqueness         = "UNIQUENESS_CONFLICT"
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeAccountPending     = "ACCOUNT_PENDING"
	TextCodeAccountRejected    = "ACCOUNT_REJECTED"
	TextCodeAccountNotApproved = "ACCOUNT_NOT_APPROVED"
	TextCodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
	TextCodeInvalidTransition  = "INVALID_ACCOUNT_TRANSITION"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
	TextCodeTokenRevoked       = "TOKEN_REVOKED"
	TextCodeForbidden          = "FORBIDDEN"
)

const (
	msgPendingApproval = "Your account is pending approval. Please wait for an administrator to approve your account before logging in."
	msgRejectedFormat  = "Your account has been rejected. Reason: %s. Please contact support for assistance."
	msgNotApproved     = "Your account is not approved for login. Please contact support."
	msgNoActiveAccount = "No active account found with the given credentials"

	// DefaultRejectionReason is shown at login when a rejected account has no stored reason.
	DefaultRejectionReason = "No specific reason provided"
)

// ErrValidation is the parent of every registration or admin payload failure.
var ErrValidation = goerrors.New("validation failed", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailTaken is returned when the email is already registered.
var ErrEmailTaken = goerrors.New("an account with this email already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeUniqueness).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidCredentials is the opaque credential failure. It never says
// whether the email exists.
var ErrInvalidCredentials = goerrors.New(msgNoActiveAccount, goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountInactive is returned for deactivated accounts. It renders exactly
// like ErrInvalidCredentials.
var ErrAccountInactive = goerrors.New(msgNoActiveAccount, goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountPending blocks login until an administrator decides.
var ErrAccountPending = goerrors.New(msgPendingApproval, goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountPending).
	WithCode(goerrors.CodeBadRequest)

// ErrAccountNotApproved covers any other non approved status.
var ErrAccountNotApproved = goerrors.New(msgNotApproved, goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountNotApproved).
	WithCode(goerrors.CodeBadRequest)

// ErrAccountNotFound is returned by lookups referencing a missing account.
var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid account status transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenRevoked = goerrors.New("token has been revoked", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenRevoked).
	WithCode(goerrors.CodeUnauthorized)

// ErrForbidden is returned when a non staff account reaches the console.
var ErrForbidden = goerrors.New("you do not have permission to perform this action", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrAccountRejected matches every *AccountRejectedError through errors.Is.
var ErrAccountRejected = goerrors.New("account rejected", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountRejected).
	WithCode(goerrors.CodeBadRequest)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = errors.New("password can't be an empty string")

// AccountRejectedError carries the stored rejection reason.
type AccountRejectedError struct {
	Reason string
}

// NewAccountRejectedError builds the login failure for rejected accounts.
func NewAccountRejectedError(reason string) *AccountRejectedError {
	return &AccountRejectedError{Reason: strings.TrimSpace(reason)}
}

func (e *AccountRejectedError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = DefaultRejectionReason
	}
	return fmt.Sprintf(msgRejectedFormat, reason)
}

// Is lets errors.Is(err, ErrAccountRejected) match regardless of reason.
func (e *AccountRejectedError) Is(target error) bool {
	return target == ErrAccountRejected
}

// RichError converts the failure into the shared error envelope.
func (e *AccountRejectedError) RichError() *goerrors.Error {
	return goerrors.New(e.Error(), goerrors.CategoryAuth).
		WithTextCode(TextCodeAccountRejected).
		WithCode(goerrors.CodeBadRequest)
}

// FieldErrors maps a payload field to every message it failed with.
type FieldErrors map[string][]string

// Add appends a message for the field
func (f FieldErrors) Add(field, message string) {
	f[field] = append(f[field], message)
}

// Merge copies every message from other into f.
func (f FieldErrors) Merge(other FieldErrors) {
	for field, msgs := range other {
		for _, msg := range msgs {
			f.Add(field, msg)
		}
	}
}

// Fields returns the failing field names in stable order.
func (f FieldErrors) Fields() []string {
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Has reports whether the field failed.
func (f FieldErrors) Has(field string) bool {
	_, ok := f[field]
	return ok
}

// ValidationError is the explicit result of a failed payload validation.
type ValidationError struct {
	Message string
	Fields  FieldErrors
}

// NewValidationError wraps the collected field failures.
func NewValidationError(message string, fields FieldErrors) *ValidationError {
	if message == "" {
		message = ErrValidation.Message
	}
	return &ValidationError{Message: message, Fields: fields}
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields.Fields() {
		parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(e.Fields[field], "; ")))
	}
	if len(parts) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(parts, ", ")
}

// IsConflict reports whether the failure includes a duplicate email.
func (e *ValidationError) IsConflict() bool {
	for _, msg := range e.Fields["email"] {
		if msg == ErrEmailTaken.Message {
			return true
		}
	}
	return false
}

// Unwrap lets errors.Is match ErrEmailTaken or ErrValidation.
func (e *ValidationError) Unwrap() error {
	if e.IsConflict() {
		return ErrEmailTaken
	}
	return ErrValidation
}

// FieldErrorsFromValidation converts ozzo validation errors into FieldErrors.
// Non field errors are stored under "non_field_errors".
func FieldErrorsFromValidation(err error) FieldErrors {
	out := FieldErrors{}
	if err == nil {
		return out
	}

	var errs validation.Errors
	if errors.As(err, &errs) {
		for field, fieldErr := range errs {
			if fieldErr == nil {
				continue
			}
			var nested validation.Errors
			if errors.As(fieldErr, &nested) {
				for sub, msg := range FieldErrorsFromValidation(nested) {
					for _, m := range msg {
						out.Add(field+"."+sub, m)
					}
				}
				continue
			}
			out.Add(field, fieldErr.Error())
		}
		return out
	}

	out.Add("non_field_errors", err.Error())
	return out
}

// IsAuthFailure reports whether the error belongs to the login gate.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	var rejected *AccountRejectedError
	if errors.As(err, &rejected) {
		return true
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.Category == goerrors.CategoryAuth
	}
	return false
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	return errors.Is(err, ErrTokenExpired)
}

// IsMalformedError will check for malformed tokens
func IsMalformedError(err error) bool {
	return errors.Is(err, ErrTokenMalformed)
}
