package entity

import "time"

// ExportStatus estado de un trabajo de exportación (y de su registro de
// idempotencia, que lo refleja).
type ExportStatus string

// Máquina de estados: Pending → InProgress → {Succeeded | Failed}.
// Failed solo puede volver a Pending por acción manual de un operador.
const (
	ExportPending    ExportStatus = "PENDING"
	ExportInProgress ExportStatus = "IN_PROGRESS"
	ExportSucceeded  ExportStatus = "SUCCEEDED"
	ExportFailed     ExportStatus = "FAILED"
)

// ExportJob trabajo persistido de exportación de un pedido al servicio
// contable. Nunca se borra (pista de auditoría); el worker lo muta en cada
// intento.
type ExportJob struct {
	ID             string
	OrderID        string
	Status         ExportStatus
	AttemptCount   int
	CreatedAt      time.Time
	LastAttemptAt  *time.Time
	NextAttemptAt  *time.Time
	SucceededAt    *time.Time
	FailedAt       *time.Time
	LastError      string
	DocumentNumber string // número de documento asignado por el servicio contable
	DocumentID     string // id interno del documento en el servicio contable
	Warnings       string // advertencias devueltas en un envío exitoso

	// Order se precarga (con líneas) al listar trabajos pendientes, para que
	// el worker no haga lecturas extra por trabajo.
	Order *Order
}
