package repository

import (
	"context"

	"github.com/tu-usuario/cursos-pro/internal/domain/entity"
)

// OrderRepository acceso de SOLO lectura a los pedidos de la capa de
// comercio. El pipeline de exportación nunca muta un pedido.
type OrderRepository interface {
	// GetByID carga el pedido con sus líneas. domain.ErrNotFound si no existe.
	GetByID(ctx context.Context, id string) (*entity.Order, error)
}
