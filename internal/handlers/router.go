package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/logger"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handlers struct {
	Service  string
	DB       Pinger
	Gatherer prometheus.Gatherer
	Orders   *OrderHandler
	Carts    *CartHandler
	Products *ProductHandler
	Outbox   *OutboxHandler
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(h Handlers, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logger.GinMiddleware(log))

	router.GET("/health", h.health)
	if h.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})))
	}

	users := router.Group("/users/:id")
	{
		users.GET("/cart", h.Carts.GetCart)
		users.POST("/cart/items", h.Carts.AddItem)
		users.PUT("/cart/items/:productId", h.Carts.SetItemQuantity)
		users.DELETE("/cart/items/:productId", h.Carts.RemoveItem)
		users.POST("/checkout", h.Carts.Checkout)
		users.GET("/orders", h.Orders.ListUserOrders)
	}

	orders := router.Group("/orders/:id")
	{
		orders.GET("", h.Orders.GetOrder)
		orders.POST("/cancel", h.Orders.CancelOrder)
		orders.PATCH("/status", h.Orders.UpdateOrderStatus)
	}

	router.PUT("/products/:id/stock", h.Products.UpdateStock)

	router.GET("/outbox/failed", h.Outbox.ListFailed)
	router.POST("/outbox/:id/requeue", h.Outbox.Requeue)

	return router
}

func (h Handlers) health(c *gin.Context) {
	if h.DB != nil {
		if err := h.DB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "service": h.Service, "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": h.Service})
}
