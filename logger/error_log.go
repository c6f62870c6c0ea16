package logger

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

// LogHTTPError logs a failed control API request. Server errors log at
// error level with a stack trace outside production; client errors at warn.
func LogHTTPError(c *gin.Context, err error, statusCode int, message string) {
	fields := []interface{}{
		"error", err,
		"status_code", statusCode,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"client_ip", c.ClientIP(),
	}
	if requestID := c.GetString(RequestIDKey); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}
	if len(c.Request.Header) > 0 {
		fields = append(fields, "headers", redactHeaders(c.Request.Header))
	}

	log := GetLogger().Named("http")
	if statusCode >= http.StatusInternalServerError {
		log.Errorw(message, fields...)
		return
	}
	log.Warnw(message, fields...)
}

// redactHeaders keeps the first value of each header and replaces values
// that may carry credentials.
func redactHeaders(headers http.Header) map[string]string {
	filtered := make(map[string]string, len(headers))
	for name, values := range headers {
		lower := strings.ToLower(name)
		if lower == "authorization" || lower == "cookie" ||
			strings.Contains(lower, "token") ||
			strings.Contains(lower, "key") ||
			strings.Contains(lower, "secret") {
			filtered[name] = "[REDACTED]"
			continue
		}
		if len(values) > 0 {
			filtered[name] = values[0]
		}
	}
	return filtered
}
