package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/services"
)

type CartService interface {
	GetCart(ctx context.Context, userID int64) (*models.Cart, error)
	AddItem(ctx context.Context, userID, productID int64, quantity int) (*models.Cart, error)
	SetItemQuantity(ctx context.Context, userID, productID int64, quantity int) (*models.Cart, error)
	RemoveItem(ctx context.Context, userID, productID int64) (*models.Cart, error)
}

type CheckoutService interface {
	Checkout(ctx context.Context, userID int64, paymentMethod string) (*services.CheckoutResult, error)
}

type CartHandler struct {
	carts    CartService
	checkout CheckoutService
}

func NewCartHandler(carts CartService, checkout CheckoutService) *CartHandler {
	return &CartHandler{carts: carts, checkout: checkout}
}

func (h *CartHandler) GetCart(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *CartHandler) AddItem(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req models.AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cart, err := h.carts.AddItem(c.Request.Context(), userID, req.ProductID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *CartHandler) SetItemQuantity(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}
	productID, ok := paramID(c, "productId")
	if !ok {
		return
	}

	var req models.SetCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cart, err := h.carts.SetItemQuantity(c.Request.Context(), userID, productID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *CartHandler) RemoveItem(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}
	productID, ok := paramID(c, "productId")
	if !ok {
		return
	}

	cart, err := h.carts.RemoveItem(c.Request.Context(), userID, productID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

// Checkout accepts an optional body carrying the payment method.
func (h *CartHandler) Checkout(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.checkout.Checkout(c.Request.Context(), userID, req.PaymentMethod)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}
