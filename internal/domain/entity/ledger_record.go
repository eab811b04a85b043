package entity

import "time"

// LedgerRecord registro de idempotencia: una fila por pedido con el id del
// último data pack enviado al servicio contable. Permite detectar "este
// pedido ya fue aceptado" aunque el trabajo local se pierda o se reinicie.
type LedgerRecord struct {
	OrderID    string
	DataPackID string
	Status     ExportStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
