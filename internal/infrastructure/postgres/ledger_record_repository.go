package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tu-usuario/cursos-pro/internal/domain"
	"github.com/tu-usuario/cursos-pro/internal/domain/entity"
	"github.com/tu-usuario/cursos-pro/internal/domain/repository"
	"github.com/tu-usuario/cursos-pro/pkg/logger"
)

var _ repository.LedgerRecordRepository = (*LedgerRecordRepo)(nil)

// LedgerRecordRepo almacén de idempotencia: una fila por pedido,
// last-write-wins (usable con pool o tx).
type LedgerRecordRepo struct {
	q   Querier
	log *logger.Logger
}

// NewLedgerRecordRepository construye el adaptador. Pasar pool o tx (Querier).
func NewLedgerRecordRepository(q Querier, log *logger.Logger) *LedgerRecordRepo {
	return &LedgerRecordRepo{q: q, log: log}
}

// Get devuelve el registro del pedido, domain.ErrNotFound si no existe.
func (r *LedgerRecordRepo) Get(ctx context.Context, orderID string) (*entity.LedgerRecord, error) {
	query := `
		SELECT order_id, data_pack_id, status, created_at, updated_at
		FROM ledger_records
		WHERE order_id = $1`

	var rec entity.LedgerRecord
	err := r.q.QueryRow(ctx, query, orderID).Scan(
		&rec.OrderID, &rec.DataPackID, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("registro de idempotencia %s: %w", orderID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("select ledger record: %w", err)
	}
	return &rec, nil
}

// Upsert inserta o actualiza el registro y devuelve la fila resultante.
func (r *LedgerRecordRepo) Upsert(ctx context.Context, orderID, dataPackID string, status entity.ExportStatus) (*entity.LedgerRecord, error) {
	query := `
		INSERT INTO ledger_records (order_id, data_pack_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (order_id) DO UPDATE
		SET data_pack_id = EXCLUDED.data_pack_id,
		    status       = EXCLUDED.status,
		    updated_at   = now()
		RETURNING order_id, data_pack_id, status, created_at, updated_at`

	var rec entity.LedgerRecord
	err := r.q.QueryRow(ctx, query, orderID, dataPackID, status).Scan(
		&rec.OrderID, &rec.DataPackID, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert ledger record: %w", err)
	}
	return &rec, nil
}

// UpdateStatus cambia solo el estado; un pedido sin registro es un no-op con
// advertencia en el log.
func (r *LedgerRecordRepo) UpdateStatus(ctx context.Context, orderID string, status entity.ExportStatus) error {
	query := `UPDATE ledger_records SET status = $2, updated_at = now() WHERE order_id = $1`
	tag, err := r.q.Exec(ctx, query, orderID, status)
	if err != nil {
		return fmt.Errorf("update ledger record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.log.Warn().Str("order_id", orderID).Str("status", string(status)).
			Msg("ledger: cambio de estado sobre pedido sin registro, ignorado")
	}
	return nil
}
