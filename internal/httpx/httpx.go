// Package httpx holds JSON request/response helpers shared by the handlers.
package httpx

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"shelfshare/internal/errs"
)

var validate = validator.New()

var defaultClient = &http.Client{
	Timeout: 10 * time.Second,
	Transport: &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// Client returns the shared outbound HTTP client.
func Client() *http.Client { return defaultClient }

// InternalTokenHeader carries the shared secret on service-to-service calls.
const InternalTokenHeader = "X-Internal-Token"

// RequireToken rejects requests that do not carry token in
// InternalTokenHeader. An empty token rejects everything.
func RequireToken(token string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(InternalTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				Error(w, logger, errs.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Error maps err onto a status and body. Server-side failures are logged.
func Error(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	JSON(w, status, ErrorBody{Code: errs.Code(err), Message: msg})
}

// ReadError turns a non-2xx response from another service back into a
// taxonomy error. 5xx responses without a usable body count as transient.
func ReadError(resp *http.Response) error {
	var body ErrorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil || body.Code == "" {
		if resp.StatusCode >= http.StatusInternalServerError {
			return errs.Unavailable(fmt.Errorf("upstream status %d", resp.StatusCode))
		}
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusInternalServerError && body.Code == "INTERNAL" {
		return errs.Unavailable(fmt.Errorf("upstream: %s", body.Message))
	}
	return errs.FromCode(body.Code, body.Message)
}

// Decode reads a JSON body into dst and validates its struct tags.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.InvalidInput("decode body: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return errs.InvalidInput("field %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return errs.InvalidInput("%v", err)
	}
	return nil
}
