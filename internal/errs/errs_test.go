package errs

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
		code string
	}{
		{ErrAuthRequired, http.StatusUnauthorized, "AUTH_REQUIRED"},
		{NotFound("order", uuid.New()), http.StatusNotFound, "NOT_FOUND"},
		{InvalidState("order is %s", "Returned"), http.StatusConflict, "INVALID_STATE"},
		{fmt.Errorf("checkout: %w", ErrOutOfStock), http.StatusConflict, "OUT_OF_STOCK"},
		{Unavailable(errors.New("dial tcp")), http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
		{ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{InvalidInput("amount must be positive"), http.StatusBadRequest, "INVALID_INPUT"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), tc.err.Error())
		assert.Equal(t, tc.code, Code(tc.err), tc.err.Error())
	}
}

func TestUnavailableIsIdempotent(t *testing.T) {
	assert.Nil(t, Unavailable(nil))

	err := Unavailable(errors.New("timeout"))
	assert.True(t, IsRetriable(err))
	assert.Equal(t, err, Unavailable(err))
}

func TestFromDB(t *testing.T) {
	assert.Nil(t, FromDB(nil))
	assert.True(t, IsRetriable(FromDB(driver.ErrBadConn)))
	assert.True(t, IsRetriable(FromDB(context.DeadlineExceeded)))
	assert.True(t, IsRetriable(FromDB(&pq.Error{Code: "08006"})))
	assert.True(t, IsRetriable(FromDB(&pq.Error{Code: "40001"})))

	unique := &pq.Error{Code: "23505", Constraint: "orders_active_idempotency"}
	assert.False(t, IsRetriable(FromDB(unique)))
	assert.True(t, IsUniqueViolation(unique, ""))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", unique), "orders_active_idempotency"))
	assert.False(t, IsUniqueViolation(unique, "other"))
	assert.False(t, IsUniqueViolation(errors.New("x"), ""))
}

func TestFromCodeRoundTrip(t *testing.T) {
	for _, err := range []error{ErrAuthRequired, ErrForbidden, ErrNotFound, ErrInvalidState, ErrOutOfStock, ErrInvalidInput, ErrStoreUnavailable} {
		back := FromCode(Code(err), "remote")
		assert.ErrorIs(t, back, err)
	}
	assert.Equal(t, "INTERNAL", Code(FromCode("INTERNAL", "boom")))
}
