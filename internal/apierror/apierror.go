// Package apierror defines the error taxonomy handlers return and the single
// mapping from those errors to HTTP responses. Handlers never write error
// bodies themselves; they return one of these errors and call Respond.
package apierror

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	// ErrUnauthenticated means no identity could be resolved for the request.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden means the caller's role is not accepted by the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound covers both absent rows and rows of another organization.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the If-Match version did not match the stored row.
	ErrConflict = errors.New("version conflict")
	// ErrRateLimited means the caller exceeded a rate limit class.
	ErrRateLimited = errors.New("rate limited")
)

// RateLimitedMessage is the body text of every 429 response.
const RateLimitedMessage = "Too many requests, please try again later."

// Issue is one field-level validation failure.
type Issue struct {
	Path    []string `json:"path"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
}

// ValidationError is a 422 carrying every failing field.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, strings.Join(issue.Path, ".")+": "+issue.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Invalid builds a ValidationError for a single field.
func Invalid(field, code, message string) *ValidationError {
	return &ValidationError{Issues: []Issue{{Path: []string{field}, Code: code, Message: message}}}
}

// StatusError is an explicit status and message, used for the handful of
// domain rejections that are neither validation nor authorization failures.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// BadRequest returns a 400 with message.
func BadRequest(message string) *StatusError {
	return &StatusError{Status: http.StatusBadRequest, Message: message}
}

// Conflict returns a 409 with message.
func Conflict(message string) *StatusError {
	return &StatusError{Status: http.StatusConflict, Message: message}
}

// Respond writes the response for err and aborts the handler chain.
// Unrecognized errors become an opaque 500 and are logged with the request id.
func Respond(c *gin.Context, err error) {
	var validationErr *ValidationError
	var statusErr *StatusError

	switch {
	case errors.As(err, &validationErr):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"issues": validationErr.Issues})
	case errors.As(err, &statusErr):
		c.AbortWithStatusJSON(statusErr.Status, gin.H{"error": statusErr.Message})
	case errors.Is(err, ErrUnauthenticated):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	case errors.Is(err, ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	case errors.Is(err, ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "Version conflict"})
	case errors.Is(err, ErrRateLimited):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": RateLimitedMessage})
	default:
		slog.Error("request failed",
			"error", err,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"request_id", c.GetString("request_id"),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
	}
}
