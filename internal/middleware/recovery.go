package middleware

import (
	"fmt"
	"runtime/debug"

	"perpbot/internal/util"
	"perpbot/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Recovery turns a handler panic into a 500 response
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID, _ := c.Get("request_id")
				log.WithFields(map[string]interface{}{
					"request_id": requestID,
					"stack":      string(debug.Stack()),
				}).Error("Panic recovered", fmt.Errorf("%v", err))

				util.AbortWithError(c, util.ErrInternalServer("Internal server error"))
			}
		}()
		c.Next()
	}
}
