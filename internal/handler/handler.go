package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"

	"DepositPay/internal/middleware"
	"DepositPay/internal/models"
	"DepositPay/internal/services"
	"DepositPay/utils"
)

// OrderEngine 由 services.OrderService 实现
type OrderEngine interface {
	CreateOrGetOrder(ctx context.Context, req services.OrderRequest) (services.OrderOutcome, error)
	ModifyOrder(ctx context.Context, req services.OrderRequest) (services.OrderOutcome, error)
	GetOrder(ctx context.Context, recipient solana.PublicKey, order string) (*models.Invoice, error)
}

// Withdrawer 由 services.WithdrawalService 实现
type Withdrawer interface {
	ForceWithdrawal(ctx context.Context, recipient solana.PublicKey, order string) (services.WithdrawalReceipt, error)
}

// StatusReporter 由 services.StatusService 实现
type StatusReporter interface {
	ServerStatus(ctx context.Context) (services.ServerStatus, error)
	Ready(ctx context.Context) error
	Audit(ctx context.Context) error
}

type Options struct {
	Recipient           solana.PublicKey // 订单路由使用的商户收款人
	WSS                 string
	Decimals            int32
	Version             string
	Explorer            string // 含一个 %s，填交易签名
	WithdrawalLocalOnly bool
}

type Handler struct {
	orders      OrderEngine
	withdrawals Withdrawer
	status      StatusReporter
	opts        Options
	log         *utils.Logger
}

func New(orders OrderEngine, withdrawals Withdrawer, status StatusReporter, opts Options, logger *utils.Logger) *Handler {
	return &Handler{
		orders:      orders,
		withdrawals: withdrawals,
		status:      status,
		opts:        opts,
		log:         logger,
	}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	r.GET("/health", h.HealthzHandler)
	r.GET("/ready", h.ReadinessHandler)
	r.GET("/status", h.StatusHandler)
	r.GET("/audit", h.AuditHandler)

	order := r.Group("/order")
	order.POST("/:orderId", h.CreateOrderHandler)
	order.PUT("/:orderId", h.ModifyOrderHandler)
	order.GET("/:orderId", h.GetOrderHandler)
	order.POST("/:orderId/investigate", notImplemented)

	withdrawal := []gin.HandlerFunc{}
	if h.opts.WithdrawalLocalOnly {
		withdrawal = append(withdrawal, middleware.LocalOnly())
	}
	withdrawal = append(withdrawal, h.ForceWithdrawalHandler)
	order.POST("/:orderId/forceWithdrawal", withdrawal...)

	r.POST("/public/v2/payment/:paymentAccount", notImplemented)
}

func notImplemented(c *gin.Context) {
	c.JSON(http.StatusNotImplemented, gin.H{"error": "not implemented"})
}

// fail 把引擎错误映射为 HTTP 响应，内部错误不暴露细节
func (h *Handler) fail(c *gin.Context, err error) {
	var verrs services.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, []models.FieldError(verrs))
	case errors.Is(err, services.ErrUnknownInvoice):
		c.JSON(http.StatusNotFound, gin.H{"error": "订单未找到"})
	case errors.Is(err, services.ErrNotImplemented):
		notImplemented(c)
	default:
		h.log.Error("%s %s 失败: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
