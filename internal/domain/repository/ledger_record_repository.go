package repository

import (
	"context"

	"github.com/tu-usuario/cursos-pro/internal/domain/entity"
)

// LedgerRecordRepository define el puerto del almacén de idempotencia: una
// fila por pedido, último data pack enviado y su estado. Todas las
// operaciones son de fila única, last-write-wins (un pedido solo lo procesa
// un trabajo en vuelo a la vez, lo garantiza la cola).
type LedgerRecordRepository interface {
	Get(ctx context.Context, orderID string) (*entity.LedgerRecord, error)

	// Upsert inserta el registro si no existe o actualiza data pack id,
	// estado y marca de tiempo si ya existe. Se invoca ANTES de transmitir
	// (estado IN_PROGRESS) y al conocerse la respuesta.
	Upsert(ctx context.Context, orderID, dataPackID string, status entity.ExportStatus) (*entity.LedgerRecord, error)

	// UpdateStatus cambia solo el estado; si el pedido no tiene registro es
	// un no-op (el adaptador deja un log de advertencia).
	UpdateStatus(ctx context.Context, orderID string, status entity.ExportStatus) error
}
