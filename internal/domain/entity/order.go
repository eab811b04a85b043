package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order representa un pedido de la tienda de cursos ya pagado, tal como lo
// entrega la capa de comercio. El pipeline de exportación solo lo lee.
type Order struct {
	ID                  string
	Number              string // número visible del pedido (ej. "2024000123")
	VariableSymbol      string // símbolo variable para emparejar el pago
	SpecificSymbol      string
	Customer            OrderCustomer
	Items               []OrderItem
	TotalBeforeDiscount decimal.Decimal // bruto con IVA, antes del descuento
	TotalAfterDiscount  decimal.Decimal // bruto con IVA, después del descuento
	Note                string
	CreatedAt           time.Time
}

// OrderCustomer identidad del cliente; todos los campos son opcionales
// (best-effort, un pedido anónimo es válido).
type OrderCustomer struct {
	Company string
	Name    string
	Email   string
	Phone   string
}

// OrderItem línea del pedido con los importes brutos y el IVA ya calculados
// por la capa de comercio.
type OrderItem struct {
	Name         string
	Quantity     int64
	TotalInclVat decimal.Decimal // total de la línea con IVA
	VatAmount    decimal.Decimal // IVA contenido en el total
}
