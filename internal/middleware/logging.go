package middleware

import (
	"strconv"
	"time"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/logger"
	"github.com/gin-gonic/gin"
)

// RequestObserver 请求计数
type RequestObserver interface {
	ObserveRequest(method, route, code string)
}

// RequestLogger 记录请求日志，observer 可以为 nil
func RequestLogger(observer RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		logger.LogRequest(c.Request.Method, c.Request.URL.Path, status, time.Since(start), c.ClientIP())

		if observer != nil {
			// 用路由模板做标签，避免 id 撑爆基数
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			observer.ObserveRequest(c.Request.Method, route, strconv.Itoa(status))
		}
	}
}
