package repository

import (
	"context"

	"github.com/tu-usuario/cursos-pro/internal/domain/entity"
)

// InvoiceMirrorRepository define el puerto del espejo SQL local de facturas:
// la cabecera y sus líneas se insertan en UNA transacción (todo o nada).
type InvoiceMirrorRepository interface {
	// SaveInvoice persiste cabecera + líneas atómicamente. Si cualquier
	// insert falla, la transacción se revierte y el error se propaga.
	SaveInvoice(ctx context.Context, orderID, invoiceNumber string, inv entity.Invoice) error

	// MarkGenerated registra un número de factura generado localmente contra
	// el pedido, independiente del envío al servicio contable.
	MarkGenerated(ctx context.Context, orderID, invoiceNumber string) error
}
