// Package errs defines the error taxonomy shared by the rental services.
package errs

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/lib/pq"
)

var (
	ErrAuthRequired     = errors.New("authentication required")
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("invalid state transition")
	ErrOutOfStock       = errors.New("out of stock")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidInput     = errors.New("invalid input")
)

// NotFound reports a missing entity of the given kind.
func NotFound(kind string, id fmt.Stringer) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// InvalidState reports a transition that the current status does not allow.
func InvalidState(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidState)
}

// InvalidInput reports a request that failed validation.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidInput)
}

// Unavailable marks err as a transient backend failure. A nil err stays nil.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// IsRetriable returns true if retrying the operation may succeed.
func IsRetriable(err error) bool {
	return err != nil && errors.Is(err, ErrStoreUnavailable)
}

// FromDB classifies a database error. Connection loss, serialization
// failures and deadline expiry become ErrStoreUnavailable; anything else is
// returned unchanged.
func FromDB(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return Unavailable(err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08",
			pqErr.Code == "40001",
			pqErr.Code == "40P01",
			pqErr.Code == "57P01",
			pqErr.Code == "53300":
			return Unavailable(err)
		}
		return err
	}
	if strings.Contains(err.Error(), "connection refused") {
		return Unavailable(err)
	}
	return err
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation, optionally restricted to the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// HTTPStatus maps the taxonomy onto response codes.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrOutOfStock):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a stable machine-readable name for the error's class.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthRequired):
		return "AUTH_REQUIRED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, ErrOutOfStock):
		return "OUT_OF_STOCK"
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, ErrStoreUnavailable):
		return "STORE_UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

var byCode = map[string]error{
	"AUTH_REQUIRED":     ErrAuthRequired,
	"FORBIDDEN":         ErrForbidden,
	"NOT_FOUND":         ErrNotFound,
	"INVALID_STATE":     ErrInvalidState,
	"OUT_OF_STOCK":      ErrOutOfStock,
	"INVALID_INPUT":     ErrInvalidInput,
	"STORE_UNAVAILABLE": ErrStoreUnavailable,
}

// FromCode rebuilds an error reported by another service from its Code and
// message. Unknown codes come back as plain errors.
func FromCode(code, msg string) error {
	if sentinel, ok := byCode[code]; ok {
		return fmt.Errorf("%s: %w", msg, sentinel)
	}
	return errors.New(msg)
}
