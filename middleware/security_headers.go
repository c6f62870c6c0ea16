package middleware

import (
	"strings"

	"github.com/NomadCrew/nomad-crew-proximity/config"
	"github.com/gin-gonic/gin"
)

// SecurityHeadersMiddleware sets response hardening headers. Responses under
// /v1 carry live location data and are never cached.
func SecurityHeadersMiddleware(cfg *config.ServerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")

		if strings.HasPrefix(c.Request.URL.Path, "/v1/") {
			c.Header("Cache-Control", "no-store")
		}

		// HSTS only once served behind TLS.
		if cfg.Environment == config.EnvProduction {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
