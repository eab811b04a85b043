package export

import (
	"context"
	"fmt"
	"time"

	"github.com/tu-usuario/cursos-pro/internal/domain"
	"github.com/tu-usuario/cursos-pro/internal/domain/entity"
	"github.com/tu-usuario/cursos-pro/internal/infrastructure/pohoda"
)

// StatusQuery criterios de la consulta de estado de facturas. Se aplica el
// primero no vacío: número, símbolo variable, rango de fechas.
type StatusQuery struct {
	Number         string
	VariableSymbol string
	DateFrom       *time.Time
	DateTill       *time.Time
}

// StatusUseCase consulta de solo lectura del estado de cobro de facturas en
// el servicio contable. No toca la cola ni el registro de idempotencia.
type StatusUseCase struct {
	client LedgerClient
}

// NewStatusUseCase construye el caso de uso.
func NewStatusUseCase(client LedgerClient) *StatusUseCase {
	return &StatusUseCase{client: client}
}

// Lookup ejecuta la consulta. Sin criterio es inválida; una búsqueda puntual
// (número o símbolo variable) sin resultados es domain.ErrNotFound, un rango
// de fechas vacío devuelve lista vacía.
func (uc *StatusUseCase) Lookup(ctx context.Context, q StatusQuery) ([]entity.InvoiceStatus, error) {
	if q.Number == "" && q.VariableSymbol == "" && q.DateFrom == nil && q.DateTill == nil {
		return nil, domain.NewValidationError("filter", "se requiere número, símbolo variable o rango de fechas")
	}

	statuses, err := uc.client.ListInvoices(ctx, pohoda.ListFilter{
		Number:         q.Number,
		VariableSymbol: q.VariableSymbol,
		DateFrom:       q.DateFrom,
		DateTill:       q.DateTill,
	})
	if err != nil {
		return nil, err
	}

	puntual := q.Number != "" || q.VariableSymbol != ""
	if puntual && len(statuses) == 0 {
		return nil, fmt.Errorf("factura no encontrada en el servicio contable: %w", domain.ErrNotFound)
	}
	return statuses, nil
}

// Ping indica si el servicio contable responde (para el health check).
func (uc *StatusUseCase) Ping(ctx context.Context) bool {
	return uc.client.CheckStatus(ctx)
}
