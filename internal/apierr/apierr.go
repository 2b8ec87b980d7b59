// Package apierr defines the error kinds this server produces and their
// HTTP/JSON mapping, mirroring the five-kind error table every handler in
// this repository is built against.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Kind is one of the five error kinds this server distinguishes.
type Kind int

const (
	// Unauthorized: no/invalid credentials, GitHub API denial, expired JWT.
	Unauthorized Kind = iota
	// Forbidden: authenticated but the permission check failed.
	Forbidden
	// NotFound: object absent on download, or route not registered.
	NotFound
	// InvalidPayload: schema violation, adapter mismatch, size mismatch.
	InvalidPayload
	// StorageError: underlying storage SDK fault.
	StorageError
)

func (k Kind) httpStatus() int {
	switch k {
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case InvalidPayload:
		return http.StatusUnprocessableEntity
	case StorageError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is the typed error every component in this repository returns
// instead of a bare error string, so handlers can map it to the right HTTP
// status without string sniffing.
type Error struct {
	Kind    Kind
	Message string
	// Cause is the wrapped underlying error, if any. Not serialized.
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the status code this error should surface as.
func (e *Error) HTTPStatus() int { return e.Kind.httpStatus() }

// Code returns the status code used in a per-object batch error (404/422).
func (e *Error) Code() int { return e.Kind.httpStatus() }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NewUnauthorized(message string) *Error   { return New(Unauthorized, message) }
func NewForbidden(message string) *Error      { return New(Forbidden, message) }
func NewNotFound(message string) *Error       { return New(NotFound, message) }
func NewInvalidPayload(message string) *Error { return New(InvalidPayload, message) }
func NewStorageError(message string) *Error   { return New(StorageError, message) }

// As extracts an *Error from err, returning (nil, false) if err is not one
// (or wraps one) of ours.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// body is the {"message": "..."} shape every failure response serializes
// as, regardless of error kind.
type body struct {
	Message string `json:"message"`
}

// WriteJSON writes err as the standard {"message": "..."} JSON error body
// under the LFS media type, at the status its Kind maps to. Non-*Error
// values are treated as StorageError with a generic message.
func WriteJSON(w http.ResponseWriter, err error) {
	apiErr, ok := As(err)
	if !ok {
		apiErr = NewStorageError("internal error")
	}
	w.Header().Set("Content-Type", "application/vnd.git-lfs+json")
	w.WriteHeader(apiErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(body{Message: apiErr.Message})
}
