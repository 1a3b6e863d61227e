// Package inventory exposes the product store consumed by the dispatch
// handlers: a persistence-backed store with a short-TTL redis read-through
// cache in front of lookups.
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"project/internal/domain/product"

	"github.com/redis/go-redis/v9"
)

const cacheTTL = 5 * time.Second

type Store struct {
	inner       product.Store
	redisClient *redis.Client
}

// NewStore wraps the persistence-backed store. redisClient may be nil, in
// which case every lookup goes to the repository.
func NewStore(inner product.Store, redisClient *redis.Client) *Store {
	return &Store{inner: inner, redisClient: redisClient}
}

func (s *Store) FindByCode(ctx context.Context, code string) (*product.Product, error) {
	cacheKey := fmt.Sprintf("product:%s", code)

	if s.redisClient != nil {
		val, err := s.redisClient.Get(ctx, cacheKey).Result()
		if err == nil {
			var p product.Product
			if err := json.Unmarshal([]byte(val), &p); err == nil {
				return &p, nil
			}
		}
	}

	p, err := s.inner.FindByCode(ctx, code)
	if err != nil || p == nil {
		return p, err
	}

	if s.redisClient != nil {
		if data, err := json.Marshal(p); err == nil {
			s.redisClient.Set(ctx, cacheKey, data, cacheTTL)
		}
	}

	return p, nil
}

// Save writes through and drops the cached copy so the next lookup sees
// the mutated stock.
func (s *Store) Save(ctx context.Context, p *product.Product) (*product.Product, error) {
	saved, err := s.inner.Save(ctx, p)
	if err != nil {
		return nil, err
	}

	if s.redisClient != nil {
		s.redisClient.Del(ctx, fmt.Sprintf("product:%s", saved.Code))
	}

	return saved, nil
}

func (s *Store) AddReview(ctx context.Context, code, message string, rating float64) error {
	return s.inner.AddReview(ctx, code, message, rating)
}
