package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tu-usuario/cursos-pro/internal/domain"
	"github.com/tu-usuario/cursos-pro/internal/domain/entity"
	"github.com/tu-usuario/cursos-pro/internal/domain/repository"
)

var _ repository.ExportJobRepository = (*ExportJobRepo)(nil)

// ExportJobRepo implementación de ExportJobRepository (usable con pool o tx).
// Las filas nunca se borran; el reintento manual solo muta el estado.
type ExportJobRepo struct {
	q Querier
}

// NewExportJobRepository construye el adaptador. Pasar pool o tx (Querier).
func NewExportJobRepository(q Querier) *ExportJobRepo {
	return &ExportJobRepo{q: q}
}

const exportJobColumns = `
	id, order_id, status, attempt_count, created_at,
	last_attempt_at, next_attempt_at, succeeded_at, failed_at,
	COALESCE(last_error, ''), COALESCE(document_number, ''),
	COALESCE(document_id, ''), COALESCE(warnings, '')`

// Create persiste un trabajo nuevo. Un pedido admite un único trabajo:
// la violación del índice único se traduce a domain.ErrDuplicate.
func (r *ExportJobRepo) Create(ctx context.Context, job *entity.ExportJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	query := `
		INSERT INTO export_jobs (id, order_id, status, attempt_count, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.q.Exec(ctx, query, job.ID, job.OrderID, job.Status, job.AttemptCount, job.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("el pedido %s ya tiene trabajo de exportación: %w", job.OrderID, domain.ErrDuplicate)
		}
		return fmt.Errorf("insert export job: %w", err)
	}
	return nil
}

// GetByID devuelve el trabajo, domain.ErrNotFound si no existe.
func (r *ExportJobRepo) GetByID(ctx context.Context, id string) (*entity.ExportJob, error) {
	query := `SELECT ` + exportJobColumns + ` FROM export_jobs WHERE id = $1`
	return r.scanOne(r.q.QueryRow(ctx, query, id), id)
}

// GetByOrderID devuelve el trabajo del pedido, domain.ErrNotFound si no existe.
func (r *ExportJobRepo) GetByOrderID(ctx context.Context, orderID string) (*entity.ExportJob, error) {
	query := `SELECT ` + exportJobColumns + ` FROM export_jobs WHERE order_id = $1`
	return r.scanOne(r.q.QueryRow(ctx, query, orderID), orderID)
}

// Update persiste todos los campos mutables del trabajo.
func (r *ExportJobRepo) Update(ctx context.Context, job *entity.ExportJob) error {
	query := `
		UPDATE export_jobs
		SET status          = $2,
		    attempt_count   = $3,
		    last_attempt_at = $4,
		    next_attempt_at = $5,
		    succeeded_at    = $6,
		    failed_at       = $7,
		    last_error      = $8,
		    document_number = $9,
		    document_id     = $10,
		    warnings        = $11
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, query,
		job.ID, job.Status, job.AttemptCount,
		job.LastAttemptAt, job.NextAttemptAt, job.SucceededAt, job.FailedAt,
		nullIfEmpty(job.LastError), nullIfEmpty(job.DocumentNumber),
		nullIfEmpty(job.DocumentID), nullIfEmpty(job.Warnings),
	)
	if err != nil {
		return fmt.Errorf("update export job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trabajo %s: %w", job.ID, domain.ErrNotFound)
	}
	return nil
}

// staleInProgressAfter es la antigüedad a partir de la cual un trabajo
// IN_PROGRESS se considera huérfano de un proceso caído y vuelve a barrerse.
const staleInProgressAfter = 15 * time.Minute

// ListPendingDue trae los trabajos vencidos con el pedido y sus líneas
// precargados; es la consulta del worker, del más antiguo al más nuevo para
// que ningún pedido se quede atrás. Además de los PENDING recupera los
// IN_PROGRESS huérfanos: un crash a mitad de envío no puede dejar un trabajo
// fuera del alcance del worker y del operador para siempre.
func (r *ExportJobRepo) ListPendingDue(ctx context.Context, limit int) ([]*entity.ExportJob, error) {
	query := `
		SELECT j.id, j.order_id, j.status, j.attempt_count, j.created_at,
		       j.last_attempt_at, j.next_attempt_at, j.succeeded_at, j.failed_at,
		       COALESCE(j.last_error, ''), COALESCE(j.document_number, ''),
		       COALESCE(j.document_id, ''), COALESCE(j.warnings, ''),
		       o.id, o.number, o.sym_var, COALESCE(o.sym_spec, ''), COALESCE(o.company, ''),
		       COALESCE(o.customer_name, ''), COALESCE(o.email, ''), COALESCE(o.phone, ''),
		       o.total_before_discount, o.total_after_discount, COALESCE(o.note, ''), o.created_at
		FROM export_jobs j
		JOIN orders o ON o.id = j.order_id
		WHERE (j.status = $1 AND (j.next_attempt_at IS NULL OR j.next_attempt_at <= now()))
		   OR (j.status = $2 AND j.last_attempt_at <= now() - $3::interval)
		ORDER BY j.created_at ASC
		LIMIT $4`

	rows, err := r.q.Query(ctx, query,
		entity.ExportPending, entity.ExportInProgress, staleInProgressAfter, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*entity.ExportJob
	for rows.Next() {
		var j entity.ExportJob
		var o entity.Order
		if err := rows.Scan(
			&j.ID, &j.OrderID, &j.Status, &j.AttemptCount, &j.CreatedAt,
			&j.LastAttemptAt, &j.NextAttemptAt, &j.SucceededAt, &j.FailedAt,
			&j.LastError, &j.DocumentNumber, &j.DocumentID, &j.Warnings,
			&o.ID, &o.Number, &o.VariableSymbol, &o.SpecificSymbol, &o.Customer.Company,
			&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
			&o.TotalBeforeDiscount, &o.TotalAfterDiscount, &o.Note, &o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending job: %w", err)
		}
		j.Order = &o
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	orderRepo := NewOrderRepository(r.q)
	for _, j := range jobs {
		items, err := orderRepo.loadItems(ctx, j.Order.ID)
		if err != nil {
			return nil, err
		}
		j.Order.Items = items
	}
	return jobs, nil
}

// List devuelve los trabajos más recientes (vista de administración), con el
// número de pedido para mostrar pero sin precargar las líneas.
func (r *ExportJobRepo) List(ctx context.Context, limit int) ([]*entity.ExportJob, error) {
	query := `
		SELECT j.id, j.order_id, j.status, j.attempt_count, j.created_at,
		       j.last_attempt_at, j.next_attempt_at, j.succeeded_at, j.failed_at,
		       COALESCE(j.last_error, ''), COALESCE(j.document_number, ''),
		       COALESCE(j.document_id, ''), COALESCE(j.warnings, ''),
		       o.number
		FROM export_jobs j
		JOIN orders o ON o.id = j.order_id
		ORDER BY j.created_at DESC
		LIMIT $1`

	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*entity.ExportJob
	for rows.Next() {
		var j entity.ExportJob
		var number string
		if err := rows.Scan(
			&j.ID, &j.OrderID, &j.Status, &j.AttemptCount, &j.CreatedAt,
			&j.LastAttemptAt, &j.NextAttemptAt, &j.SucceededAt, &j.FailedAt,
			&j.LastError, &j.DocumentNumber, &j.DocumentID, &j.Warnings,
			&number,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Order = &entity.Order{ID: j.OrderID, Number: number}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// ResetForRetry vuelve un trabajo FAILED a PENDING con el presupuesto de
// intentos limpio. Si el trabajo no está en FAILED devuelve domain.ErrConflict.
func (r *ExportJobRepo) ResetForRetry(ctx context.Context, id string) error {
	query := `
		UPDATE export_jobs
		SET status          = $2,
		    attempt_count   = 0,
		    next_attempt_at = NULL,
		    failed_at       = NULL,
		    last_error      = NULL
		WHERE id = $1 AND status = $3`
	tag, err := r.q.Exec(ctx, query, id, entity.ExportPending, entity.ExportFailed)
	if err != nil {
		return fmt.Errorf("reset export job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("el trabajo %s no está en FAILED: %w", id, domain.ErrConflict)
	}
	return nil
}

func (r *ExportJobRepo) scanOne(row pgx.Row, key string) (*entity.ExportJob, error) {
	var j entity.ExportJob
	err := row.Scan(
		&j.ID, &j.OrderID, &j.Status, &j.AttemptCount, &j.CreatedAt,
		&j.LastAttemptAt, &j.NextAttemptAt, &j.SucceededAt, &j.FailedAt,
		&j.LastError, &j.DocumentNumber, &j.DocumentID, &j.Warnings,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("trabajo de exportación %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("select export job: %w", err)
	}
	return &j, nil
}
