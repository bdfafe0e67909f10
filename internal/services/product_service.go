package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/apperrors"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

type ProductService struct {
	store ProductStore
	cache ProductCache
	log   *zap.Logger
}

// NewProductService accepts a nil cache.
func NewProductService(store ProductStore, cache ProductCache, log *zap.Logger) *ProductService {
	return &ProductService{store: store, cache: cache, log: log}
}

// FindAllProductsByIDs is the batch catalog read used to enrich orders.
// Results may come from the cache and can lag committed stock briefly.
func (s *ProductService) FindAllProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if s.cache != nil {
		return s.cache.GetByIDs(ctx, ids)
	}
	return s.store.GetByIDs(ctx, nil, ids)
}

// GetProduct reads through q, bypassing the cache.
func (s *ProductService) GetProduct(ctx context.Context, q db.DBTX, id int64) (*models.Product, error) {
	p, err := s.store.GetByID(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperrors.NotFound("Product", id)
	}
	return p, nil
}

// UpdateProductStock sets an absolute stock level. Saga stock changes never
// go through here.
func (s *ProductService) UpdateProductStock(ctx context.Context, id int64, stock int) (*models.Product, error) {
	if stock < 0 {
		return nil, apperrors.Validation("stock", stock, "stock cannot be negative")
	}

	p, err := s.store.SetStock(ctx, nil, id, stock)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperrors.NotFound("Product", id)
	}

	if s.cache != nil {
		s.cache.Evict(ctx, id)
	}
	s.log.Info("product stock updated", zap.Int64("product_id", id), zap.Int("stock", stock))
	return p, nil
}
