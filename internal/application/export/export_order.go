package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tu-usuario/cursos-pro/internal/domain"
	"github.com/tu-usuario/cursos-pro/internal/domain/entity"
	"github.com/tu-usuario/cursos-pro/internal/domain/invoice"
	"github.com/tu-usuario/cursos-pro/internal/domain/repository"
	"github.com/tu-usuario/cursos-pro/internal/infrastructure/pohoda"
	"github.com/tu-usuario/cursos-pro/pkg/logger"
)

// Config parámetros del pipeline de exportación.
type Config struct {
	Application string        // identificador enviado en el data pack
	MaxAttempts int           // intentos totales antes de FAILED
	BackoffBase time.Duration // espera tras el primer fallo; se duplica por intento
	BackoffCap  time.Duration // tope de la espera
}

// ExportOrderUseCase ejecuta UN intento de exportación de un pedido: mapea,
// serializa y valida, registra idempotencia, transmite y persiste el
// desenlace. El worker lo invoca por cada trabajo vencido; el estado entre
// intentos vive en el trabajo, nunca en memoria.
type ExportOrderUseCase struct {
	mapper     *invoice.MapperService
	builder    *pohoda.Builder
	client     LedgerClient
	txRunner   TxRunner
	ledgerRepo repository.LedgerRecordRepository
	mirrorRepo repository.InvoiceMirrorRepository
	cfg        Config
	log        *logger.Logger
	now        func() time.Time
}

// NewExportOrderUseCase construye el caso de uso.
func NewExportOrderUseCase(
	mapper *invoice.MapperService,
	builder *pohoda.Builder,
	client LedgerClient,
	txRunner TxRunner,
	ledgerRepo repository.LedgerRecordRepository,
	mirrorRepo repository.InvoiceMirrorRepository,
	cfg Config,
	log *logger.Logger,
) *ExportOrderUseCase {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Minute
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		cfg.BackoffCap = cfg.BackoffBase
	}
	return &ExportOrderUseCase{
		mapper:     mapper,
		builder:    builder,
		client:     client,
		txRunner:   txRunner,
		ledgerRepo: ledgerRepo,
		mirrorRepo: mirrorRepo,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

// Process ejecuta un intento sobre el trabajo (con el pedido precargado).
// Devuelve el error del intento ya persistido; nil si el envío fue aceptado.
func (uc *ExportOrderUseCase) Process(ctx context.Context, job *entity.ExportJob) error {
	if job.Order == nil {
		return fmt.Errorf("trabajo %s sin pedido precargado", job.ID)
	}

	// Un registro de idempotencia ya SUCCEEDED (por ejemplo tras un reinicio
	// a mitad de camino) significa que el servicio contable ya aceptó el
	// pedido: se adopta el resultado sin retransmitir.
	if rec, err := uc.ledgerRepo.Get(ctx, job.OrderID); err == nil && rec.Status == entity.ExportSucceeded {
		return uc.adoptExported(ctx, job, rec)
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("consultar idempotencia: %w", err)
	}

	inv, err := uc.mapper.Map(*job.Order)
	if err != nil {
		// Un pedido que no mapea no va a mapear mañana: fallo permanente.
		return uc.failPermanently(ctx, job, err)
	}

	// Tampoco un documento que no valida contra el esquema: fail-closed.
	document, packID, err := uc.builder.BuildInvoice(inv, uc.cfg.Application)
	if err != nil {
		return uc.failPermanently(ctx, job, err)
	}

	// Registrar el intento y el data pack ANTES de transmitir: si el proceso
	// muere a mitad, el registro de idempotencia ya apunta al envío en vuelo.
	now := uc.now()
	job.Status = entity.ExportInProgress
	job.AttemptCount++
	job.LastAttemptAt = &now
	job.NextAttemptAt = nil
	if err := uc.txRunner.Run(ctx, func(jobs repository.ExportJobRepository, ledger repository.LedgerRecordRepository) error {
		if err := jobs.Update(ctx, job); err != nil {
			return err
		}
		_, err := ledger.Upsert(ctx, job.OrderID, packID, entity.ExportInProgress)
		return err
	}); err != nil {
		return fmt.Errorf("registrar intento: %w", err)
	}

	correlationID := fmt.Sprintf("%s-%d", job.ID, job.AttemptCount)
	resp, sendErr := uc.client.SendInvoice(ctx, document, correlationID)
	if sendErr != nil {
		// Un contexto cancelado (apagado del worker) no es un fallo del
		// trabajo: se devuelve a la cola sin consumir intento.
		if ctx.Err() != nil {
			return uc.recordInterrupted(ctx, job, packID, sendErr)
		}
		return uc.recordFailure(ctx, job, packID, sendErr)
	}
	return uc.recordSuccess(ctx, job, packID, inv, resp)
}

// adoptExported cierra el trabajo como SUCCEEDED adoptando el data pack ya
// aceptado, sin transmitir ni consumir intento.
func (uc *ExportOrderUseCase) adoptExported(ctx context.Context, job *entity.ExportJob, rec *entity.LedgerRecord) error {
	now := uc.now()
	job.Status = entity.ExportSucceeded
	job.SucceededAt = &now
	job.NextAttemptAt = nil
	job.LastError = ""

	dctx := context.WithoutCancel(ctx)
	if err := uc.txRunner.Run(dctx, func(jobs repository.ExportJobRepository, _ repository.LedgerRecordRepository) error {
		return jobs.Update(dctx, job)
	}); err != nil {
		return fmt.Errorf("adoptar exportación previa: %w", err)
	}

	uc.log.Info().Str("job_id", job.ID).Str("order_id", job.OrderID).
		Str("data_pack_id", rec.DataPackID).
		Msg("export: pedido ya aceptado por el servicio contable, sin retransmisión")
	return nil
}

// recordInterrupted deshace la reserva del intento y deja el trabajo PENDING
// para el próximo barrido. Persiste con el contexto desacoplado: el original
// ya está cancelado y la transacción debe completarse igualmente.
func (uc *ExportOrderUseCase) recordInterrupted(ctx context.Context, job *entity.ExportJob, packID string, cause error) error {
	job.Status = entity.ExportPending
	job.AttemptCount--
	job.NextAttemptAt = nil

	dctx := context.WithoutCancel(ctx)
	if err := uc.txRunner.Run(dctx, func(jobs repository.ExportJobRepository, ledger repository.LedgerRecordRepository) error {
		if err := jobs.Update(dctx, job); err != nil {
			return err
		}
		_, err := ledger.Upsert(dctx, job.OrderID, packID, entity.ExportPending)
		return err
	}); err != nil {
		return fmt.Errorf("persistir interrupción: %w", err)
	}

	uc.log.Warn().Str("job_id", job.ID).Str("order_id", job.OrderID).
		Msg("export: envío interrumpido por apagado, trabajo devuelto a la cola")
	return cause
}

func (uc *ExportOrderUseCase) recordSuccess(ctx context.Context, job *entity.ExportJob, packID string, inv entity.Invoice, resp *pohoda.Response) error {
	now := uc.now()
	job.Status = entity.ExportSucceeded
	job.SucceededAt = &now
	job.LastError = ""
	job.DocumentNumber = resp.DocumentNumber
	job.DocumentID = resp.DocumentID
	job.Warnings = strings.Join(resp.Warnings, "; ")

	// El desenlace se persiste con el contexto desacoplado: una cancelación
	// que llegue tras el envío no puede dejar el trabajo IN_PROGRESS.
	dctx := context.WithoutCancel(ctx)
	if err := uc.txRunner.Run(dctx, func(jobs repository.ExportJobRepository, ledger repository.LedgerRecordRepository) error {
		if err := jobs.Update(dctx, job); err != nil {
			return err
		}
		_, err := ledger.Upsert(dctx, job.OrderID, packID, entity.ExportSucceeded)
		return err
	}); err != nil {
		return fmt.Errorf("persistir éxito: %w", err)
	}

	// El espejo local es secundario: un fallo aquí no deshace la exportación.
	if err := uc.mirrorRepo.SaveInvoice(dctx, job.OrderID, resp.DocumentNumber, inv); err != nil {
		uc.log.Warn().Err(err).Str("order_id", job.OrderID).Msg("export: espejo de factura no actualizado")
	}

	uc.log.Info().Str("job_id", job.ID).Str("order_id", job.OrderID).
		Str("document_number", resp.DocumentNumber).Int("attempt", job.AttemptCount).
		Msg("export: pedido exportado")
	return nil
}

func (uc *ExportOrderUseCase) recordFailure(ctx context.Context, job *entity.ExportJob, packID string, cause error) error {
	now := uc.now()
	job.LastError = cause.Error()

	final := job.AttemptCount >= uc.cfg.MaxAttempts
	ledgerStatus := entity.ExportPending
	if final {
		job.Status = entity.ExportFailed
		job.FailedAt = &now
		ledgerStatus = entity.ExportFailed
	} else {
		job.Status = entity.ExportPending
		next := now.Add(uc.backoff(job.AttemptCount))
		job.NextAttemptAt = &next
	}

	dctx := context.WithoutCancel(ctx)
	if err := uc.txRunner.Run(dctx, func(jobs repository.ExportJobRepository, ledger repository.LedgerRecordRepository) error {
		if err := jobs.Update(dctx, job); err != nil {
			return err
		}
		_, err := ledger.Upsert(dctx, job.OrderID, packID, ledgerStatus)
		return err
	}); err != nil {
		return fmt.Errorf("persistir fallo: %w", err)
	}

	uc.log.Error().Err(cause).Str("job_id", job.ID).Str("order_id", job.OrderID).
		Int("attempt", job.AttemptCount).Bool("final", final).
		Msg("export: intento fallido")
	return cause
}

// failPermanently marca el trabajo FAILED sin transmitir (errores de mapeo o
// de esquema: reintentarlos no cambia nada, los arregla un operador).
func (uc *ExportOrderUseCase) failPermanently(ctx context.Context, job *entity.ExportJob, cause error) error {
	now := uc.now()
	job.Status = entity.ExportFailed
	job.AttemptCount++
	job.LastAttemptAt = &now
	job.FailedAt = &now
	job.NextAttemptAt = nil
	job.LastError = cause.Error()

	dctx := context.WithoutCancel(ctx)
	if err := uc.txRunner.Run(dctx, func(jobs repository.ExportJobRepository, ledger repository.LedgerRecordRepository) error {
		if err := jobs.Update(dctx, job); err != nil {
			return err
		}
		return ledger.UpdateStatus(dctx, job.OrderID, entity.ExportFailed)
	}); err != nil {
		return fmt.Errorf("persistir fallo permanente: %w", err)
	}

	uc.log.Error().Err(cause).Str("job_id", job.ID).Str("order_id", job.OrderID).
		Msg("export: pedido no exportable, requiere intervención")
	return cause
}

// backoff espera exponencial: base * 2^(intento-1), acotada por el tope.
func (uc *ExportOrderUseCase) backoff(attempt int) time.Duration {
	d := uc.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= uc.cfg.BackoffCap {
			return uc.cfg.BackoffCap
		}
	}
	if d > uc.cfg.BackoffCap {
		return uc.cfg.BackoffCap
	}
	return d
}
