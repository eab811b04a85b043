package export

import (
	"context"

	"github.com/tu-usuario/cursos-pro/internal/domain/entity"
	"github.com/tu-usuario/cursos-pro/internal/domain/repository"
	"github.com/tu-usuario/cursos-pro/internal/infrastructure/pohoda"
)

// LedgerClient puerto al servicio contable externo.
type LedgerClient interface {
	SendInvoice(ctx context.Context, document, correlationID string) (*pohoda.Response, error)
	ListInvoices(ctx context.Context, filter pohoda.ListFilter) ([]entity.InvoiceStatus, error)
	CheckStatus(ctx context.Context) bool
}

// TxRunner persiste el resultado de un intento (trabajo + registro de
// idempotencia) en una sola transacción.
type TxRunner interface {
	Run(ctx context.Context, fn func(
		jobRepo repository.ExportJobRepository,
		ledgerRepo repository.LedgerRecordRepository,
	) error) error
}

// PDFGenerator puerto del generador local de PDF de factura.
type PDFGenerator interface {
	Generate(inv entity.Invoice, invoiceNumber string) (string, error)
}

// JobExporter ejecuta un intento de exportación sobre un trabajo con el
// pedido precargado. Lo implementa ExportOrderUseCase; la cola lo usa para
// la ejecución forzada por el operador.
type JobExporter interface {
	Process(ctx context.Context, job *entity.ExportJob) error
}
