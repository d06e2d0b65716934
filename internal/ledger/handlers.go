package ledger

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/edkim/ai-agent-prop-firm-sub005/pkg/response"
)

// GinHandlers exposes the read side of the ledger plus order cancellation
// over the operator API.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetAccountHandler handles GET requests for a single account summary.
// URL parameter: account_id
func (h *GinHandlers) GetAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")
		account, err := h.service.DB().GetAccount(accountID)
		if errors.Is(err, ErrAccountNotFound) {
			response.NotFound(c, "Account not found")
			return
		}
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, account)
	}
}

// ListPositionsHandler handles GET requests for an account's open positions.
func (h *GinHandlers) ListPositionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")
		positions, err := h.service.DB().ListPositions(accountID)
		response.Handle(c, positions, err)
	}
}

// ListTradesHandler handles GET requests for an account's trade history.
func (h *GinHandlers) ListTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")
		trades, err := h.service.DB().ListTrades(accountID)
		response.Handle(c, trades, err)
	}
}

// GetOrderHandler handles GET requests for a single order.
// URL parameter: order_id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		order, err := h.service.DB().GetOrder(orderID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if order == nil {
			response.NotFound(c, "Order not found")
			return
		}
		response.Success(c, order)
	}
}

// CancelOrderHandler handles POST requests cancelling an open order.
// URL parameter: order_id
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		order, err := h.service.CancelOrder(orderID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, order)
	}
}
