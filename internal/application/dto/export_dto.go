package dto

import (
	"time"

	"github.com/tu-usuario/cursos-pro/internal/domain/entity"
)

// ExportJobResponse representación HTTP de un trabajo de exportación.
type ExportJobResponse struct {
	ID             string     `json:"id"`
	OrderID        string     `json:"order_id"`
	OrderNumber    string     `json:"order_number,omitempty"`
	Status         string     `json:"status"`
	AttemptCount   int        `json:"attempt_count"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAttemptAt  *time.Time `json:"last_attempt_at,omitempty"`
	NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty"`
	SucceededAt    *time.Time `json:"succeeded_at,omitempty"`
	FailedAt       *time.Time `json:"failed_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	DocumentNumber string     `json:"document_number,omitempty"`
	DocumentID     string     `json:"document_id,omitempty"`
	Warnings       string     `json:"warnings,omitempty"`
}

// FromExportJob convierte la entidad a su DTO.
func FromExportJob(job *entity.ExportJob) ExportJobResponse {
	out := ExportJobResponse{
		ID:             job.ID,
		OrderID:        job.OrderID,
		Status:         string(job.Status),
		AttemptCount:   job.AttemptCount,
		CreatedAt:      job.CreatedAt,
		LastAttemptAt:  job.LastAttemptAt,
		NextAttemptAt:  job.NextAttemptAt,
		SucceededAt:    job.SucceededAt,
		FailedAt:       job.FailedAt,
		LastError:      job.LastError,
		DocumentNumber: job.DocumentNumber,
		DocumentID:     job.DocumentID,
		Warnings:       job.Warnings,
	}
	if job.Order != nil {
		out.OrderNumber = job.Order.Number
	}
	return out
}

// FromExportJobs convierte un listado de entidades.
func FromExportJobs(jobs []*entity.ExportJob) []ExportJobResponse {
	out := make([]ExportJobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, FromExportJob(j))
	}
	return out
}

// InvoiceStatusResponse estado de cobro de una factura en el servicio contable.
type InvoiceStatusResponse struct {
	Number         string     `json:"number"`
	VariableSymbol string     `json:"variable_symbol,omitempty"`
	Total          string     `json:"total"`
	Paid           bool       `json:"paid"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	PaidDate       *time.Time `json:"paid_date,omitempty"`
}

// FromInvoiceStatuses convierte el resultado de la consulta de listado.
func FromInvoiceStatuses(statuses []entity.InvoiceStatus) []InvoiceStatusResponse {
	out := make([]InvoiceStatusResponse, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, InvoiceStatusResponse{
			Number:         s.Number,
			VariableSymbol: s.VariableSymbol,
			Total:          s.Total.StringFixed(2),
			Paid:           s.Paid,
			DueDate:        s.DueDate,
			PaidDate:       s.PaidDate,
		})
	}
	return out
}

// MarkGeneratedRequest cuerpo para registrar una factura ya generada.
type MarkGeneratedRequest struct {
	InvoiceNumber string `json:"invoice_number"`
}
