package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tu-usuario/cursos-pro/internal/domain/entity"
	"github.com/tu-usuario/cursos-pro/internal/domain/repository"
)

var _ repository.InvoiceMirrorRepository = (*InvoiceMirrorRepo)(nil)

// InvoiceMirrorRepo espejo SQL local de las facturas exportadas. Cabecera y
// líneas se escriben en una transacción propia: requiere el pool, no un
// Querier suelto.
type InvoiceMirrorRepo struct {
	pool *pgxpool.Pool
}

// NewInvoiceMirrorRepository construye el adaptador sobre el pool.
func NewInvoiceMirrorRepository(pool *pgxpool.Pool) *InvoiceMirrorRepo {
	return &InvoiceMirrorRepo{pool: pool}
}

// SaveInvoice persiste cabecera + líneas atómicamente. Reexportar el mismo
// pedido reemplaza el espejo completo (upsert de cabecera, líneas reescritas).
func (r *InvoiceMirrorRepo) SaveInvoice(ctx context.Context, orderID, invoiceNumber string, inv entity.Invoice) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	headerQuery := `
		INSERT INTO invoices (order_id, number, sym_var, issue_date, tax_date, due_date, text,
		                      total_excl_vat, vat_amount, total_incl_vat, discount_total,
		                      created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		ON CONFLICT (order_id) DO UPDATE
		SET number         = EXCLUDED.number,
		    sym_var        = EXCLUDED.sym_var,
		    issue_date     = EXCLUDED.issue_date,
		    tax_date       = EXCLUDED.tax_date,
		    due_date       = EXCLUDED.due_date,
		    text           = EXCLUDED.text,
		    total_excl_vat = EXCLUDED.total_excl_vat,
		    vat_amount     = EXCLUDED.vat_amount,
		    total_incl_vat = EXCLUDED.total_incl_vat,
		    discount_total = EXCLUDED.discount_total,
		    updated_at     = now()
		RETURNING id`

	var invoiceID int64
	err = tx.QueryRow(ctx, headerQuery,
		orderID, nullIfEmpty(invoiceNumber), inv.Header.VariableSymbol,
		inv.Header.IssueDate, inv.Header.TaxDate, inv.Header.DueDate, inv.Header.Text,
		inv.Summary.TotalExclVat, inv.Summary.VatAmount, inv.Summary.TotalInclVat,
		inv.Summary.DiscountTotal,
	).Scan(&invoiceID)
	if err != nil {
		return fmt.Errorf("upsert invoice header: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, invoiceID); err != nil {
		return fmt.Errorf("delete invoice items: %w", err)
	}

	itemQuery := `
		INSERT INTO invoice_items (invoice_id, position, name, quantity, unit_price,
		                           total_excl_vat, vat_amount, total_incl_vat, discount, rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	for i, it := range inv.Items {
		if _, err := tx.Exec(ctx, itemQuery,
			invoiceID, i+1, it.Name, it.Quantity, it.UnitPrice,
			it.TotalExclVat, it.VatAmount, it.TotalInclVat, it.Discount, string(it.Rate),
		); err != nil {
			return fmt.Errorf("insert invoice item %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// MarkGenerated registra el número de factura generado localmente. Si el
// espejo aún no existe crea la fila mínima (los importes llegan con SaveInvoice).
func (r *InvoiceMirrorRepo) MarkGenerated(ctx context.Context, orderID, invoiceNumber string) error {
	query := `
		INSERT INTO invoices (order_id, number, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (order_id) DO UPDATE
		SET number     = EXCLUDED.number,
		    updated_at = now()`
	if _, err := r.pool.Exec(ctx, query, orderID, invoiceNumber); err != nil {
		return fmt.Errorf("mark invoice generated: %w", err)
	}
	return nil
}
