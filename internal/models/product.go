package models

import "time"

// Product is a catalog entry. PriceAmount is in minor currency units.
type Product struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PriceAmount int64     `json:"price_amount"`
	Stock       int       `json:"stock"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type UpdateStockRequest struct {
	Stock *int `json:"stock" binding:"required"`
}
