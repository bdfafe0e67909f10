package models

import "time"

// Cart belongs to exactly one user and is emptied, not deleted, on checkout.
type Cart struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type CartItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// IsEmpty reports whether the cart has no items.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// ProductIDs returns the product ids of the items in cart order.
func (c *Cart) ProductIDs() []int64 {
	ids := make([]int64, 0, len(c.Items))
	for _, item := range c.Items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

type AddCartItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required"`
}

type SetCartItemRequest struct {
	Quantity int `json:"quantity" binding:"required"`
}

type CheckoutRequest struct {
	PaymentMethod string `json:"payment_method"`
}
