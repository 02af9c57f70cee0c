package middleware

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

// LocalOnly 只允许回环地址访问，用于保护提现等资金操作。
// 判断依据是 TCP 对端地址，X-Forwarded-For 等代理头一律忽略
func LocalOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := net.ParseIP(c.RemoteIP())
		if ip == nil || !ip.IsLoopback() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "禁止访问：仅允许本地访问"})
			return
		}
		c.Next()
	}
}
