package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tu-usuario/cursos-pro/internal/application/export"
	"github.com/tu-usuario/cursos-pro/internal/domain/invoice"
	infrapdf "github.com/tu-usuario/cursos-pro/internal/infrastructure/pdf"
	"github.com/tu-usuario/cursos-pro/internal/infrastructure/pohoda"
	"github.com/tu-usuario/cursos-pro/internal/infrastructure/postgres"
	httpRouter "github.com/tu-usuario/cursos-pro/internal/interfaces/http"
	"github.com/tu-usuario/cursos-pro/pkg/config"
	"github.com/tu-usuario/cursos-pro/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.LogLevel,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Msg("iniciando aplicación")

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	orderRepo := postgres.NewOrderRepository(pool)
	jobRepo := postgres.NewExportJobRepository(pool)
	ledgerRepo := postgres.NewLedgerRecordRepository(pool, log)
	mirrorRepo := postgres.NewInvoiceMirrorRepository(pool)
	txRunner := postgres.NewTxRunner(pool, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	schemas := pohoda.NewSchemaSet()
	auditor := pohoda.NewAuditor(cfg.Ledger.AuditDir, log)
	metrics := pohoda.NewMetrics(registry)
	client, err := pohoda.NewClient(pohoda.Config{
		BaseURL:        cfg.Ledger.BaseURL,
		Username:       cfg.Ledger.Username,
		Password:       cfg.Ledger.Password,
		Application:    cfg.Ledger.Application,
		Instance:       cfg.Ledger.Instance,
		Company:        cfg.Ledger.Company,
		Encoding:       cfg.Ledger.Encoding,
		Timeout:        cfg.Ledger.Timeout,
		RetryCount:     cfg.Ledger.RetryCount,
		RetryDelay:     cfg.Ledger.RetryDelay,
		CheckDuplicity: cfg.Ledger.CheckDuplicity,
	}, schemas, auditor, metrics, log)
	if err != nil {
		log.Fatal().Err(err).Msg("cliente del servicio contable")
	}

	mapper := invoice.NewMapperService()
	builder := pohoda.NewBuilder(schemas)
	pdfGenerator := infrapdf.NewInvoicePDF(cfg.Export.PDFDir, cfg.App.Name)

	exportUC := export.NewExportOrderUseCase(mapper, builder, client, txRunner, ledgerRepo, mirrorRepo, export.Config{
		Application: cfg.Ledger.Application,
		MaxAttempts: cfg.Export.MaxAttempts,
		BackoffBase: cfg.Export.BackoffBase,
		BackoffCap:  cfg.Export.BackoffCap,
	}, log)
	queueUC := export.NewQueueUseCase(orderRepo, jobRepo, ledgerRepo, mirrorRepo, mapper, pdfGenerator, exportUC, log)
	statusUC := export.NewStatusUseCase(client)

	// Worker de exportación: un solo bucle en proceso drena la cola.
	worker := export.NewWorker(jobRepo, exportUC, cfg.Worker.Interval, cfg.Worker.BatchSize, log)
	worker.Start(ctx)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	httpRouter.Router(app, httpRouter.RouterDeps{
		QueueUC:   queueUC,
		StatusUC:  statusUC,
		JWTSecret: cfg.JWT.Secret,
		DBPing:    pool.Ping,
		Registry:  registry,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	// Primero deja de aceptar trabajo nuevo, después espera el barrido en curso.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}
	worker.Stop()

	log.Info().Msg("aplicación detenida")
}
