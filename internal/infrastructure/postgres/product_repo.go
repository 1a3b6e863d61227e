package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"project/internal/domain/product"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProductRepository struct {
	pool *pgxpool.Pool
}

func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// FindByCode returns (nil, nil) when no product matches the code.
func (r *ProductRepository) FindByCode(ctx context.Context, code string) (*product.Product, error) {
	const sql = `
		SELECT code, COALESCE(name, ''), stock, unit_price, created_at, updated_at
		FROM products
		WHERE code = $1
	`

	var p product.Product
	err := r.pool.QueryRow(ctx, sql, code).Scan(
		&p.Code, &p.Name, &p.Stock, &p.UnitPrice, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product by code: %w", err)
	}

	return &p, nil
}

func (r *ProductRepository) Save(ctx context.Context, p *product.Product) (*product.Product, error) {
	const sql = `
		INSERT INTO products (code, name, stock, unit_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (code) DO UPDATE
		SET name = EXCLUDED.name, stock = EXCLUDED.stock,
		    unit_price = EXCLUDED.unit_price, updated_at = NOW()
		RETURNING created_at, updated_at
	`

	if err := r.pool.QueryRow(ctx, sql, p.Code, p.Name, p.Stock, p.UnitPrice).Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("save product: %w", err)
	}

	return p, nil
}

func (r *ProductRepository) AddReview(ctx context.Context, code, message string, rating float64) error {
	const sql = `
		INSERT INTO product_reviews (id, product_code, message, rating, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, sql, uuid.New().String(), code, message, rating, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}

	return nil
}
