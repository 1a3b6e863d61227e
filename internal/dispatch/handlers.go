package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"project/internal/domain/product"
	"project/internal/normalize"
	"project/internal/payload"
)

// Handlers owns the inventory-mutation logic behind the dispatch table.
type Handlers struct {
	store  product.Store
	logger *slog.Logger
}

func NewHandlers(store product.Store, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{store: store, logger: logger}
}

// NewTableWithHandlers builds the production dispatch table.
func NewTableWithHandlers(store product.Store, logger *slog.Logger) *Table {
	h := NewHandlers(store, logger)
	t := NewTable()
	t.Register(normalize.CompraRealizada, h.StockReserve)
	t.Register(normalize.CompraConfirmada, h.StockConfirm)
	t.Register(normalize.CompraCancelada, h.StockRelease)
	t.Register(normalize.RollbackCompra, h.StockRelease)
	t.Register(normalize.ReviewCreada, h.ReviewAdd)
	return t
}

// StockReserve decrements stock for every cart line item. Missing products,
// zero-quantity lines and reservations that would drive stock negative are
// skipped with a warning, never fatal.
func (h *Handlers) StockReserve(ctx context.Context, raw json.RawMessage) error {
	return h.eachCartItem(ctx, raw, func(ctx context.Context, p *product.Product, qty int) error {
		if p.Stock-qty < 0 {
			h.logger.Warn("insufficient stock, skipping reservation",
				"product_code", p.Code, "stock", p.Stock, "quantity", qty)
			return nil
		}
		p.Stock -= qty
		if _, err := h.store.Save(ctx, p); err != nil {
			return fmt.Errorf("save product %s: %w", p.Code, err)
		}
		return nil
	})
}

// StockConfirm is an explicit no-op: the reservation was already applied at
// reserve time. The handler exists so confirmations reach the ledger and
// the monitor like any other event.
func (h *Handlers) StockConfirm(ctx context.Context, raw json.RawMessage) error {
	h.logger.Info("purchase confirmed, stock already reserved")
	return nil
}

// StockRelease returns reserved stock to the shelf. Shared by the cancel
// and rollback event types.
func (h *Handlers) StockRelease(ctx context.Context, raw json.RawMessage) error {
	return h.eachCartItem(ctx, raw, func(ctx context.Context, p *product.Product, qty int) error {
		p.Stock += qty
		if _, err := h.store.Save(ctx, p); err != nil {
			return fmt.Errorf("save product %s: %w", p.Code, err)
		}
		return nil
	})
}

// ReviewAdd attaches a review to a product. A payload without a product
// code is a handler failure, not a skip.
func (h *Handlers) ReviewAdd(ctx context.Context, raw json.RawMessage) error {
	doc := payload.NewDocument(raw)
	code := doc.String("productCode", "codigo")
	if code == "" {
		return fmt.Errorf("review payload has no product code")
	}
	message := doc.String("message", "description", "descripcion")
	rating := doc.Float("rating", "calificacion")

	if err := h.store.AddReview(ctx, code, message, rating); err != nil {
		return fmt.Errorf("add review for %s: %w", code, err)
	}
	return nil
}

func (h *Handlers) eachCartItem(ctx context.Context, raw json.RawMessage, apply func(context.Context, *product.Product, int) error) error {
	doc := payload.NewDocument(raw)
	items := doc.Array("cart.cartItems", "cartItems", "cart.items")
	if len(items) == 0 {
		h.logger.Warn("payload carries no cart items")
		return nil
	}

	for _, item := range items {
		code := item.String("productCode", "codigo")
		qty := int(item.Int("quantity", "cantidad"))
		if code == "" || qty <= 0 {
			h.logger.Warn("skipping incomplete cart item", "product_code", code, "quantity", qty)
			continue
		}

		p, err := h.store.FindByCode(ctx, code)
		if err != nil {
			return fmt.Errorf("find product %s: %w", code, err)
		}
		if p == nil {
			h.logger.Warn("product not found, skipping cart item", "product_code", code)
			continue
		}

		if err := apply(ctx, p, qty); err != nil {
			return err
		}
	}

	return nil
}
