package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"DepositPay/internal/models"
)

// GetOrderHandler 只读查询订单
func (h *Handler) GetOrderHandler(c *gin.Context) {
	orderID := c.Param("orderId")

	inv, err := h.orders.GetOrder(c.Request.Context(), h.opts.Recipient, orderID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.orderResponse(inv))
}

func (h *Handler) orderResponse(inv *models.Invoice) models.OrderResponse {
	status := "waiting"
	if inv.IsPaid() {
		status = "paid"
	}
	withdrawal := inv.WithdrawalStatus
	if withdrawal == models.WithdrawalNone {
		withdrawal = "none"
	}
	return models.OrderResponse{
		Order:          inv.OrderID,
		Recipient:      inv.Recipient,
		PaymentAccount: inv.Account,
		Amount:         inv.Amount(),
		Currency:       inv.Currency,
		Callback:       inv.Callback,
		Status:         status,
		Withdrawal:     withdrawal,
		CreatedAt:      inv.CreatedAt,
		WSS:            h.opts.WSS,
		Mul:            h.opts.Decimals,
		Version:        h.opts.Version,
	}
}
