package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gopherchat/gopherchat/internal/common"
)

// Recovery converts panics into the standard error envelope instead of
// gin's plain-text 500.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("panic recovered path=%s err=%v", c.Request.URL.Path, r)
				common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
				c.Abort()
			}
		}()
		c.Next()
	}
}
