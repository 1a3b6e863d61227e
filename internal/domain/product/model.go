package product

import (
	"context"
	"time"
)

type Product struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Stock     int       `json:"stock"`
	UnitPrice float64   `json:"unit_price"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Review struct {
	ID          string    `json:"id"`
	ProductCode string    `json:"product_code"`
	Message     string    `json:"message"`
	Rating      float64   `json:"rating"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the inventory collaborator consumed by the dispatch handlers.
// FindByCode returns (nil, nil) when no product matches.
type Store interface {
	FindByCode(ctx context.Context, code string) (*Product, error)
	Save(ctx context.Context, p *Product) (*Product, error)
	AddReview(ctx context.Context, code, message string, rating float64) error
}
