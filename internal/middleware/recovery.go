package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"avitobridge-backend/pkg/response"
)

// Recovery recovers from handler panics and returns 500
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic in http handler",
					zap.String("path", c.Request.URL.Path),
					zap.Any("panic", err),
				)
				response.InternalError(c, "Internal server error")
				c.Abort()
			}
		}()
		c.Next()
	}
}
