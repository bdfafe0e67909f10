package db

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/cache"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

// Cache is the subset of cache.RedisCache the product reads need.
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
}

// CachedProductRepository serves catalog reads from Redis. Writes always go
// to ProductRepository; callers evict touched ids after commit.
type CachedProductRepository struct {
	repo  *ProductRepository
	cache Cache
	log   *zap.Logger
}

func NewCachedProductRepository(repo *ProductRepository, c Cache, log *zap.Logger) *CachedProductRepository {
	return &CachedProductRepository{repo: repo, cache: c, log: log}
}

func productKey(id int64) string {
	return fmt.Sprintf("product:%d", id)
}

// GetByIDs returns cached products and loads the misses in one query.
func (r *CachedProductRepository) GetByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	products := make([]models.Product, 0, len(ids))
	var misses []int64

	for _, id := range ids {
		var p models.Product
		err := r.cache.Get(ctx, productKey(id), &p)
		if err == nil {
			products = append(products, p)
			continue
		}
		if !errors.Is(err, cache.ErrMiss) {
			r.log.Warn("product cache read failed", zap.Int64("product_id", id), zap.Error(err))
		}
		misses = append(misses, id)
	}

	if len(misses) == 0 {
		r.log.Debug("product cache hit", zap.Int("count", len(products)))
		return products, nil
	}

	r.log.Debug("product cache miss", zap.Int64s("product_ids", misses))
	loaded, err := r.repo.GetByIDs(ctx, nil, misses)
	if err != nil {
		return nil, err
	}

	for _, p := range loaded {
		if err := r.cache.Set(ctx, productKey(p.ID), p); err != nil {
			r.log.Warn("failed to cache product", zap.Int64("product_id", p.ID), zap.Error(err))
		}
	}
	return append(products, loaded...), nil
}

// Evict drops cached entries so the next read sees committed stock.
func (r *CachedProductRepository) Evict(ctx context.Context, ids ...int64) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, productKey(id))
	}
	if err := r.cache.Delete(ctx, keys...); err != nil {
		r.log.Warn("failed to invalidate product cache", zap.Int64s("product_ids", ids), zap.Error(err))
	}
}
