package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tu-usuario/cursos-pro/internal/domain"
	"github.com/tu-usuario/cursos-pro/internal/domain/entity"
	"github.com/tu-usuario/cursos-pro/internal/domain/invoice"
	"github.com/tu-usuario/cursos-pro/internal/domain/repository"
	"github.com/tu-usuario/cursos-pro/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// QueueUseCase operaciones de administración de la cola de exportación:
// encolar un pedido pagado, listar trabajos, reintentar un fallido y
// registrar la factura generada localmente.
type QueueUseCase struct {
	orderRepo  repository.OrderRepository
	jobRepo    repository.ExportJobRepository
	ledgerRepo repository.LedgerRecordRepository
	mirrorRepo repository.InvoiceMirrorRepository
	mapper     *invoice.MapperService
	pdf        PDFGenerator
	exporter   JobExporter
	log        *logger.Logger
	now        func() time.Time
}

// NewQueueUseCase construye el caso de uso.
func NewQueueUseCase(
	orderRepo repository.OrderRepository,
	jobRepo repository.ExportJobRepository,
	ledgerRepo repository.LedgerRecordRepository,
	mirrorRepo repository.InvoiceMirrorRepository,
	mapper *invoice.MapperService,
	pdf PDFGenerator,
	exporter JobExporter,
	log *logger.Logger,
) *QueueUseCase {
	return &QueueUseCase{
		orderRepo:  orderRepo,
		jobRepo:    jobRepo,
		ledgerRepo: ledgerRepo,
		mirrorRepo: mirrorRepo,
		mapper:     mapper,
		pdf:        pdf,
		exporter:   exporter,
		log:        log,
		now:        time.Now,
	}
}

// QueueOrder encola el pedido para exportación. Exactamente un trabajo por
// pedido: si ya existe (en cualquier estado) devuelve domain.ErrDuplicate.
func (uc *QueueUseCase) QueueOrder(ctx context.Context, orderID string) (*entity.ExportJob, error) {
	if orderID == "" {
		return nil, domain.NewValidationError("orderID", "identificador de pedido requerido")
	}
	order, err := uc.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(order.Items) == 0 {
		return nil, domain.NewValidationError("items", "el pedido no tiene líneas")
	}

	// El registro de idempotencia manda: un pedido ya aceptado por el
	// servicio contable no se vuelve a encolar jamás.
	if rec, err := uc.ledgerRepo.Get(ctx, orderID); err == nil && rec.Status == entity.ExportSucceeded {
		return nil, fmt.Errorf("pedido %s ya exportado (data pack %s): %w", orderID, rec.DataPackID, domain.ErrDuplicate)
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	job := &entity.ExportJob{
		OrderID:   order.ID,
		Status:    entity.ExportPending,
		CreatedAt: uc.now(),
	}
	if err := uc.jobRepo.Create(ctx, job); err != nil {
		return nil, err
	}

	uc.log.Info().Str("job_id", job.ID).Str("order_id", order.ID).Msg("export: pedido encolado")
	return job, nil
}

// ListJobs devuelve los trabajos más recientes para la vista de administración.
func (uc *QueueUseCase) ListJobs(ctx context.Context, limit int) ([]*entity.ExportJob, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return uc.jobRepo.List(ctx, limit)
}

// GetJob devuelve un trabajo por id.
func (uc *QueueUseCase) GetJob(ctx context.Context, id string) (*entity.ExportJob, error) {
	if id == "" {
		return nil, domain.NewValidationError("id", "identificador de trabajo requerido")
	}
	return uc.jobRepo.GetByID(ctx, id)
}

// RetryJob vuelve un trabajo FAILED a PENDING (acción manual del operador).
func (uc *QueueUseCase) RetryJob(ctx context.Context, id string) error {
	if id == "" {
		return domain.NewValidationError("id", "identificador de trabajo requerido")
	}
	if err := uc.jobRepo.ResetForRetry(ctx, id); err != nil {
		return err
	}
	uc.log.Info().Str("job_id", id).Msg("export: trabajo reencolado por operador")
	return nil
}

// ForceJob ejecuta la exportación del trabajo de forma síncrona, sin esperar
// al barrido del worker. Un trabajo FAILED pasa antes por el mismo
// reencolado que RetryJob (contador a cero); SUCCEEDED o IN_PROGRESS son
// domain.ErrConflict. Devuelve el trabajo con el desenlace ya persistido.
func (uc *QueueUseCase) ForceJob(ctx context.Context, id string) (*entity.ExportJob, error) {
	if id == "" {
		return nil, domain.NewValidationError("id", "identificador de trabajo requerido")
	}
	job, err := uc.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case entity.ExportFailed:
		if err := uc.jobRepo.ResetForRetry(ctx, id); err != nil {
			return nil, err
		}
		if job, err = uc.jobRepo.GetByID(ctx, id); err != nil {
			return nil, err
		}
	case entity.ExportPending:
	default:
		return nil, fmt.Errorf("el trabajo %s está %s: %w", id, job.Status, domain.ErrConflict)
	}

	order, err := uc.orderRepo.GetByID(ctx, job.OrderID)
	if err != nil {
		return nil, err
	}
	job.Order = order

	uc.log.Info().Str("job_id", id).Msg("export: ejecución forzada por operador")
	if err := uc.exporter.Process(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// MarkInvoiceGenerated registra el número de factura generado localmente y
// produce el PDF de cortesía. El PDF es best-effort: su fallo se loguea.
func (uc *QueueUseCase) MarkInvoiceGenerated(ctx context.Context, orderID, invoiceNumber string) error {
	if orderID == "" {
		return domain.NewValidationError("orderID", "identificador de pedido requerido")
	}
	if invoiceNumber == "" {
		return domain.NewValidationError("invoiceNumber", "número de factura requerido")
	}
	if err := uc.mirrorRepo.MarkGenerated(ctx, orderID, invoiceNumber); err != nil {
		return err
	}

	if path, err := uc.generatePDF(ctx, orderID, invoiceNumber); err != nil {
		uc.log.Warn().Err(err).Str("order_id", orderID).Msg("export: PDF local no generado")
	} else {
		uc.log.Info().Str("order_id", orderID).Str("invoice_number", invoiceNumber).
			Str("pdf", path).Msg("export: factura local registrada")
	}
	return nil
}

func (uc *QueueUseCase) generatePDF(ctx context.Context, orderID, invoiceNumber string) (string, error) {
	order, err := uc.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	inv, err := uc.mapper.Map(*order)
	if err != nil {
		return "", err
	}
	return uc.pdf.Generate(inv, invoiceNumber)
}
