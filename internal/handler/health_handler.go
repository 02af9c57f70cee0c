package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthzHandler 存活探针（liveness probe），总是返回 200
func (h *Handler) HealthzHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"type":   "liveness",
	})
}

// ReadinessHandler 就绪探针（readiness probe），存储可用才就绪
func (h *Handler) ReadinessHandler(c *gin.Context) {
	if err := h.status.Ready(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"type":    "readiness",
			"message": "数据库连接失败",
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"type":    "readiness",
		"message": "服务已就绪",
	})
}

// StatusHandler 服务状态，每次实时计算，禁止缓存
func (h *Handler) StatusHandler(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	st, err := h.status.ServerStatus(c.Request.Context())
	if err != nil {
		h.log.Error("获取服务状态失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "status unavailable",
			"status": st,
		})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) AuditHandler(c *gin.Context) {
	if err := h.status.Audit(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
