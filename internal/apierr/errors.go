// Package apierr holds the error taxonomy shared by the gateway, the
// permission engine and the sync controllers.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure by how the dashboard must react to it.
type Kind string

const (
	// KindPermissionDenied is raised locally before any remote call.
	KindPermissionDenied Kind = "permission_denied"
	KindValidation       Kind = "validation"
	KindConflict         Kind = "conflict"
	// KindNotFound is success for deletes and a failure everywhere else.
	KindNotFound  Kind = "not_found"
	KindTransient Kind = "transient"
)

// Error is the normalized failure every layer hands around.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	// Count is the number of blocking references for conflicts, -1 when unknown.
	Count int
	Err   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on kind, so sentinels below work against any
// *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Status == 0
}

// Sentinels for errors.Is checks.
var (
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrTransient        = &Error{Kind: KindTransient}
)

// ErrAdminImmutable is returned when a caller tries to change admin rights.
var ErrAdminImmutable = &Error{
	Kind:    KindPermissionDenied,
	Status:  http.StatusForbidden,
	Message: "admin permissions cannot be changed",
	Count:   -1,
}

func New(kind Kind, status int, message string) *Error {
	return &Error{Kind: kind, Status: status, Message: message, Count: -1}
}

func PermissionDenied(format string, args ...interface{}) *Error {
	return New(KindPermissionDenied, http.StatusForbidden, fmt.Sprintf(format, args...))
}

func Validation(message string) *Error {
	return New(KindValidation, http.StatusUnprocessableEntity, message)
}

func Conflict(message string, count int) *Error {
	e := New(KindConflict, http.StatusConflict, message)
	e.Count = count
	return e
}

func NotFound(message string) *Error {
	return New(KindNotFound, http.StatusNotFound, message)
}

// Transient wraps transport failures, timeouts and unclassified backend errors.
func Transient(err error) *Error {
	e := New(KindTransient, http.StatusBadGateway, "")
	e.Err = err
	return e
}

// KindForStatus maps a backend HTTP status onto the taxonomy.
func KindForStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindPermissionDenied
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	default:
		return KindTransient
	}
}

// KindOf returns the kind of err, treating anything unclassified as transient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage is the text a toast shows for err.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindTransient {
			if e.Message != "" {
				return e.Message + ". Please try again."
			}
			return "Something went wrong while contacting the server. Please try again."
		}
		return e.Error()
	}
	return "Something went wrong while contacting the server. Please try again."
}
