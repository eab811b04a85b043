package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/tu-usuario/cursos-pro/internal/application/dto"
	"github.com/tu-usuario/cursos-pro/internal/application/export"
	"github.com/tu-usuario/cursos-pro/internal/domain"
)

// ExportHandler maneja las peticiones HTTP de la cola de exportación contable
// (protegido).
type ExportHandler struct {
	queue  *export.QueueUseCase
	status *export.StatusUseCase
}

// NewExportHandler construye el handler.
func NewExportHandler(queue *export.QueueUseCase, status *export.StatusUseCase) *ExportHandler {
	return &ExportHandler{queue: queue, status: status}
}

// QueueOrder encola un pedido pagado para exportarlo al servicio contable.
// POST /api/export/orders/:id
func (h *ExportHandler) QueueOrder(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id requerido"})
	}
	job, err := h.queue.QueueOrder(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.FromExportJob(job))
}

// ListJobs lista los trabajos de exportación, más recientes primero.
// GET /api/export/jobs?limit=50
func (h *ExportHandler) ListJobs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit")
	jobs, err := h.queue.ListJobs(c.Context(), limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.FromExportJobs(jobs))
}

// GetJob obtiene el detalle de un trabajo de exportación.
// GET /api/export/jobs/:id
func (h *ExportHandler) GetJob(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id requerido"})
	}
	job, err := h.queue.GetJob(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.FromExportJob(job))
}

// RetryJob devuelve a la cola un trabajo fallado (acción de operador).
// POST /api/export/jobs/:id/retry
func (h *ExportHandler) RetryJob(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id requerido"})
	}
	if err := h.queue.RetryJob(c.Context(), id); err != nil {
		return writeError(c, err)
	}
	job, err := h.queue.GetJob(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.FromExportJob(job))
}

// ForceJob ejecuta la exportación del trabajo en el acto, sin esperar al
// worker. El desenlace del intento queda persistido; un fallo de envío se
// refleja como error de gateway.
// POST /api/export/jobs/:id/force
func (h *ExportHandler) ForceJob(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id requerido"})
	}
	job, err := h.queue.ForceJob(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.FromExportJob(job))
}

// MarkGenerated registra el número de la factura generada para un pedido.
// POST /api/export/orders/:id/invoice
func (h *ExportHandler) MarkGenerated(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id requerido"})
	}
	var in dto.MarkGeneratedRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if in.InvoiceNumber == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "invoice_number requerido"})
	}
	if err := h.queue.MarkInvoiceGenerated(c.Context(), id, in.InvoiceNumber); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"order_id": id, "invoice_number": in.InvoiceNumber})
}

// InvoiceStatus consulta el estado de cobro de facturas en el servicio
// contable. Fechas en formato 2006-01-02.
// GET /api/invoices/status?number=&variable_symbol=&date_from=&date_till=
func (h *ExportHandler) InvoiceStatus(c *fiber.Ctx) error {
	q := export.StatusQuery{
		Number:         c.Query("number"),
		VariableSymbol: c.Query("variable_symbol"),
	}
	var err error
	if q.DateFrom, err = parseDateQuery(c.Query("date_from")); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "date_from inválida, formato 2006-01-02"})
	}
	if q.DateTill, err = parseDateQuery(c.Query("date_till")); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "date_till inválida, formato 2006-01-02"})
	}
	statuses, err := h.status.Lookup(c.Context(), q)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.FromInvoiceStatuses(statuses))
}

func parseDateQuery(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// writeError traduce errores de dominio al estado HTTP correspondiente.
func writeError(c *fiber.Ctx, err error) error {
	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: valErr.Error()})
	}
	var schemaErr *domain.SchemaValidationError
	if errors.As(err, &schemaErr) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "SCHEMA", Message: schemaErr.Error()})
	}
	var protoErr *domain.ProtocolError
	if errors.As(err, &protoErr) {
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Code: "LEDGER", Message: protoErr.Error()})
	}
	if errors.Is(err, domain.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: err.Error()})
	}
	if errors.Is(err, domain.ErrDuplicate) {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "DUPLICATE", Message: err.Error()})
	}
	if errors.Is(err, domain.ErrConflict) {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "CONFLICT", Message: err.Error()})
	}
	if errors.Is(err, domain.ErrInvalidInput) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
}
