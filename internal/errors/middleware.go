// This file implements error handling middleware for the gin framework.
//
// ErrorHandler converts an AppError (or any unhandled error) set on the
// gin context into the standard error envelope (spec §6), stamping the
// request ID that middleware.RequestID attached earlier in the chain.
// Recovery turns a panic into a 500 response instead of crashing the
// process.
package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sentryscan/controller/internal/logger"
)

func requestIDFrom(c *gin.Context) string {
	if v, exists := c.Get("request_id"); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// ErrorHandler handles errors consistently across all three surfaces.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last()
		requestID := requestIDFrom(c)

		if appErr, ok := err.Err.(*AppError); ok {
			log := logger.HTTP()
			if appErr.StatusCode >= 500 {
				log.Error().Str("code", appErr.Code).Strs("details", appErr.Details).Msg(appErr.Message)
			} else {
				log.Warn().Str("code", appErr.Code).Msg(appErr.Message)
			}
			c.JSON(appErr.StatusCode, appErr.ToEnvelope(requestID))
			return
		}

		logger.HTTP().Error().Err(err.Err).Msg("unhandled error")
		internal := InternalError("an unexpected error occurred")
		c.JSON(http.StatusInternalServerError, internal.ToEnvelope(requestID))
	}
}

// Recovery recovers from panics and returns a 500 error envelope.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.HTTP().Error().Interface("panic", r).Msg("recovered from panic")
				internal := InternalError("an unexpected error occurred")
				c.JSON(http.StatusInternalServerError, internal.ToEnvelope(requestIDFrom(c)))
				c.Abort()
			}
		}()

		c.Next()
	}
}

// HandleError is a helper for handlers to return a response immediately.
func HandleError(c *gin.Context, err error) {
	if appErr, ok := err.(*AppError); ok {
		c.Error(appErr)
		c.JSON(appErr.StatusCode, appErr.ToEnvelope(requestIDFrom(c)))
		return
	}
	internal := InternalError(err.Error())
	c.Error(internal)
	c.JSON(internal.StatusCode, internal.ToEnvelope(requestIDFrom(c)))
}

// AbortWithError aborts the request immediately with the given error.
func AbortWithError(c *gin.Context, err *AppError) {
	c.Error(err)
	c.AbortWithStatusJSON(err.StatusCode, err.ToEnvelope(requestIDFrom(c)))
}
