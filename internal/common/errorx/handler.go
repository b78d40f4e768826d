package errorx

import (
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrorHandler maps domain failures to responses at the transport boundary
type ErrorHandler struct {
	logger *zap.Logger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger: logger.Named("errorx"),
	}
}

// HandleError writes the response for err and aborts the request.
// Classified failures are exposed as-is; anything else is logged in full
// and answered with a bare server_error.
func (h *ErrorHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	traceID := ExtractTraceID(c)

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		h.logger.Info("validation failed",
			zap.String("trace_id", traceID),
			zap.String("path", c.Request.URL.Path),
			zap.Int("failures", len(vErr.Errors)))
		c.AbortWithStatusJSON(StatusFor(KindValidation, ""), gin.H{
			"error":             "invalid_request",
			"error_code":        "validation_failed",
			"error_description": "Request validation failed",
			"errors":            vErr.Errors,
		})
		return
	}

	var oauthErr *OAuth2Error
	if errors.As(err, &oauthErr) {
		if oauthErr.Kind == KindInternal {
			h.logInternal(c, traceID, err)
		} else {
			h.logger.Debug("request failed",
				zap.String("trace_id", traceID),
				zap.String("error", oauthErr.ErrorType),
				zap.String("error_code", oauthErr.ErrorCode),
				zap.String("path", c.Request.URL.Path))
		}
		c.AbortWithStatusJSON(oauthErr.HTTPStatus(), oauthErr)
		return
	}

	h.logInternal(c, traceID, err)
	c.AbortWithStatusJSON(ErrServerError.HTTPStatus(), ErrServerError)
}

// logInternal logs an unclassified error with a stack trace
func (h *ErrorHandler) logInternal(c *gin.Context, traceID string, err error) {
	buf := make([]byte, 1024*4)
	n := runtime.Stack(buf, false)

	h.logger.Error("internal server error",
		zap.String("trace_id", traceID),
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
		zap.String("client_ip", c.ClientIP()),
		zap.Error(err),
		zap.String("stack_trace", string(buf[:n])))
}

// ErrorMiddleware returns a gin middleware for error handling
func (h *ErrorHandler) ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			h.HandleError(c, c.Errors.Last().Err)
		}
	}
}

// RecoveryMiddleware returns a gin middleware for panic recovery
func (h *ErrorHandler) RecoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, rec any) {
		h.HandleError(c, fmt.Errorf("panic: %v", rec))
	})
}

// ExtractTraceID extracts trace ID from context or request
func ExtractTraceID(c *gin.Context) string {
	if traceID := c.GetString("trace_id"); traceID != "" {
		return traceID
	}

	if c.Request != nil {
		if sc := oteltrace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			traceID := sc.TraceID().String()
			c.Set("trace_id", traceID)
			return traceID
		}
	}

	if traceID := c.GetHeader("X-Trace-Id"); traceID != "" {
		c.Set("trace_id", traceID)
		return traceID
	}

	traceID := uuid.New().String()
	c.Set("trace_id", traceID)
	return traceID
}
