package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/developer-overheid-nl/don-package-register/pkg/registry/helpers/problem"
	"github.com/gin-gonic/gin"
)

const apiKeyHeader = "X-NuGet-ApiKey"

// RequireAPIKey guards the publish endpoints with the single shared API key.
// A missing or wrong key aborts with 403; no further handler runs.
func RequireAPIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		supplied := c.GetHeader(apiKeyHeader)
		if supplied == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, problem.NewForbidden(apiKeyHeader, "missing or invalid API key"))
			return
		}

		c.Set("auth_method", "api_key")
		c.Next()
	}
}
