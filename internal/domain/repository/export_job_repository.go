package repository

import (
	"context"

	"github.com/tu-usuario/cursos-pro/internal/domain/entity"
)

// ExportJobRepository define el puerto de persistencia para los trabajos de
// exportación. Las filas nunca se borran (pista de auditoría).
type ExportJobRepository interface {
	Create(ctx context.Context, job *entity.ExportJob) error
	GetByID(ctx context.Context, id string) (*entity.ExportJob, error)
	GetByOrderID(ctx context.Context, orderID string) (*entity.ExportJob, error)

	// Update persiste todos los campos mutables del trabajo: estado, contador
	// de intentos, marcas de tiempo, último error y los identificadores del
	// documento asignados por el servicio contable.
	Update(ctx context.Context, job *entity.ExportJob) error

	// ListPendingDue devuelve hasta limit trabajos PENDING cuyo próximo
	// intento es nulo o ya venció, ordenados del más antiguo al más nuevo,
	// con el pedido y sus líneas precargados. Es la consulta del worker.
	ListPendingDue(ctx context.Context, limit int) ([]*entity.ExportJob, error)

	// List devuelve los trabajos más recientes para la vista de administración.
	List(ctx context.Context, limit int) ([]*entity.ExportJob, error)

	// ResetForRetry vuelve un trabajo FAILED a PENDING limpiando los campos de
	// intento (acción manual del operador; no hay des-fallo automático).
	ResetForRetry(ctx context.Context, id string) error
}
