package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"DepositPay/internal/models"
	"DepositPay/internal/services"
)

// bindOrder 解析请求体，金额缺失或格式错误时返回字段级错误
func (h *Handler) bindOrder(c *gin.Context) (services.OrderRequest, bool) {
	var body models.OrderRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, []models.FieldError{{Parameter: "body", Message: err.Error()}})
		return services.OrderRequest{}, false
	}
	if body.Amount == nil {
		c.JSON(http.StatusBadRequest, []models.FieldError{{Parameter: "amount", Message: "parameter is required"}})
		return services.OrderRequest{}, false
	}
	return services.OrderRequest{
		Recipient: h.opts.Recipient,
		Order:     c.Param("orderId"),
		Amount:    *body.Amount,
		Currency:  body.Currency,
		Callback:  body.Callback,
	}, true
}

// CreateOrderHandler 201 新建，200 已存在，409 同一订单金额不一致
func (h *Handler) CreateOrderHandler(c *gin.Context) {
	req, ok := h.bindOrder(c)
	if !ok {
		return
	}

	outcome, err := h.orders.CreateOrGetOrder(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	code := http.StatusOK
	switch outcome.Kind {
	case services.NewOrder:
		code = http.StatusCreated
	case services.CollidedOrder:
		code = http.StatusConflict
	}
	c.JSON(code, h.orderResponse(&outcome.Invoice))
}

// ModifyOrderHandler 显式修改未支付订单
func (h *Handler) ModifyOrderHandler(c *gin.Context) {
	req, ok := h.bindOrder(c)
	if !ok {
		return
	}

	outcome, err := h.orders.ModifyOrder(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.orderResponse(&outcome.Invoice))
}

// ForceWithdrawalHandler 把收款账户余额转给商户，错误体为 {error:{code,message,retriable}}
func (h *Handler) ForceWithdrawalHandler(c *gin.Context) {
	orderID := c.Param("orderId")

	receipt, err := h.withdrawals.ForceWithdrawal(c.Request.Context(), h.opts.Recipient, orderID)
	if err != nil {
		code, status := withdrawalErrorCode(err)
		if status == http.StatusInternalServerError {
			h.log.Error("提现失败: order=%s err=%v", orderID, err)
		} else {
			h.log.Warn("提现被拒绝: order=%s err=%v", orderID, err)
		}
		c.JSON(status, gin.H{"error": models.ErrorBody{
			Code:      code,
			Message:   err.Error(),
			Retriable: services.Retriable(err),
		}})
		return
	}

	signature := receipt.Signature.String()
	explorerURL := ""
	if h.opts.Explorer != "" && strings.Contains(h.opts.Explorer, "%s") {
		explorerURL = fmt.Sprintf(h.opts.Explorer, signature)
	}
	c.JSON(http.StatusCreated, models.WithdrawalResponse{
		ID:          receipt.ID.String(),
		Order:       receipt.Order,
		Account:     receipt.Account.String(),
		Recipient:   receipt.Recipient.String(),
		Amount:      receipt.Amount,
		Signature:   signature,
		ExplorerURL: explorerURL,
		SubmittedAt: receipt.SubmittedAt,
	})
}

func withdrawalErrorCode(err error) (string, int) {
	switch {
	case errors.Is(err, services.ErrNotPayable):
		return "not_payable", http.StatusBadRequest
	case errors.Is(err, services.ErrAlreadyWithdrawn):
		return "already_withdrawn", http.StatusBadRequest
	case errors.Is(err, services.ErrInsufficientBalance):
		return "insufficient_balance", http.StatusBadRequest
	case errors.Is(err, services.ErrChainUnreachable):
		return "chain_unreachable", http.StatusBadRequest
	}
	return "internal", http.StatusInternalServerError
}
