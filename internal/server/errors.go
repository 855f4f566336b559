package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallorbit/nebula/internal/fault"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware turns errors queued on the gin context into one
// JSON error body. Fault kinds carry their own status; anything else is a
// plain 500 with no internal detail leaked.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status := fault.StatusOf(lastErr.Err)
		payload := errorPayload{
			Type:    string(fault.KindOf(lastErr.Err)),
			Message: publicMessage(lastErr.Err, status),
		}
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func abortValidation(c *gin.Context, message string) {
	AbortWithError(c, fault.New(fault.ValidationError, message))
}

// publicMessage keeps backend internals out of 5xx responses.
func publicMessage(err error, status int) string {
	if status >= http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}
