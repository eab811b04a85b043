package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus estado de una factura según la consulta de listado del
// servicio contable. Efímero: se parsea de la respuesta y no se persiste.
type InvoiceStatus struct {
	Number         string
	VariableSymbol string
	Total          decimal.Decimal
	Paid           bool
	DueDate        *time.Time
	PaidDate       *time.Time
}
