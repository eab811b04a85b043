package http

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tu-usuario/cursos-pro/internal/application/export"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	QueueUC   *export.QueueUseCase
	StatusUC  *export.StatusUseCase
	JWTSecret string
	// DBPing comprueba la conexión a la base de datos en el health check.
	DBPing func(ctx context.Context) error
	// Registry expone las métricas del pipeline en /metrics.
	Registry *prometheus.Registry
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	exportHandler := NewExportHandler(deps.QueueUC, deps.StatusUC)

	// Health y métricas (público)
	app.Get("/health", healthHandler(deps))
	if deps.Registry != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	// Rutas protegidas (requieren Bearer Token)
	api := app.Group("/api", AuthMiddleware(deps.JWTSecret))

	// Cola de exportación: consulta para cualquier rol autenticado,
	// encolado y reintento solo para admin y operador.
	exportGroup := api.Group("/export")
	exportGroup.Get("/jobs", exportHandler.ListJobs)
	exportGroup.Get("/jobs/:id", exportHandler.GetJob)
	exportGroup.Post("/jobs/:id/retry", RequireRole("admin", "operador"), exportHandler.RetryJob)
	exportGroup.Post("/jobs/:id/force", RequireRole("admin", "operador"), exportHandler.ForceJob)
	exportGroup.Post("/orders/:id", RequireRole("admin", "operador"), exportHandler.QueueOrder)
	exportGroup.Post("/orders/:id/invoice", RequireRole("admin", "operador"), exportHandler.MarkGenerated)

	// Estado de cobro en el servicio contable (solo lectura)
	api.Get("/invoices/status", exportHandler.InvoiceStatus)
}

// healthHandler responde el estado de la aplicación y sus dependencias.
// La API sigue "ok" aunque el servicio contable no responda: la cola absorbe
// la indisponibilidad y el worker reintenta.
func healthHandler(deps RouterDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbOK := true
		if deps.DBPing != nil {
			dbOK = deps.DBPing(c.Context()) == nil
		}
		ledgerOK := deps.StatusUC != nil && deps.StatusUC.Ping(c.Context())

		status := "ok"
		code := fiber.StatusOK
		if !dbOK {
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"db":     dbOK,
			"ledger": ledgerOK,
		})
	}
}
