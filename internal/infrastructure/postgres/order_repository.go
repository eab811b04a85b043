package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tu-usuario/cursos-pro/internal/domain"
	"github.com/tu-usuario/cursos-pro/internal/domain/entity"
	"github.com/tu-usuario/cursos-pro/internal/domain/repository"
)

var _ repository.OrderRepository = (*OrderRepo)(nil)

// OrderRepo lectura de pedidos de la capa de comercio (usable con pool o tx).
type OrderRepo struct {
	q Querier
}

// NewOrderRepository construye el adaptador. Pasar pool o tx (Querier).
func NewOrderRepository(q Querier) *OrderRepo {
	return &OrderRepo{q: q}
}

// GetByID carga el pedido con sus líneas en orden de inserción.
func (r *OrderRepo) GetByID(ctx context.Context, id string) (*entity.Order, error) {
	query := `
		SELECT id, number, sym_var, COALESCE(sym_spec, ''), COALESCE(company, ''),
		       COALESCE(customer_name, ''), COALESCE(email, ''), COALESCE(phone, ''),
		       total_before_discount, total_after_discount, COALESCE(note, ''), created_at
		FROM orders
		WHERE id = $1`

	var o entity.Order
	err := r.q.QueryRow(ctx, query, id).Scan(
		&o.ID, &o.Number, &o.VariableSymbol, &o.SpecificSymbol, &o.Customer.Company,
		&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&o.TotalBeforeDiscount, &o.TotalAfterDiscount, &o.Note, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("pedido %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func (r *OrderRepo) loadItems(ctx context.Context, orderID string) ([]entity.OrderItem, error) {
	query := `
		SELECT name, quantity, total_incl_vat, vat_amount
		FROM order_items
		WHERE order_id = $1
		ORDER BY position`

	rows, err := r.q.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var items []entity.OrderItem
	for rows.Next() {
		var it entity.OrderItem
		if err := rows.Scan(&it.Name, &it.Quantity, &it.TotalInclVat, &it.VatAmount); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
