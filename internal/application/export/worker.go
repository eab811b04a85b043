package export

import (
	"context"
	"sync"
	"time"

	"github.com/tu-usuario/cursos-pro/internal/domain/repository"
	"github.com/tu-usuario/cursos-pro/pkg/logger"
)

// Worker bucle único en proceso que drena la cola de exportación: cada tick
// toma un lote de trabajos PENDING vencidos y los procesa en orden. Un solo
// worker por despliegue; la exclusión por pedido la da la propia cola (un
// trabajo por pedido).
type Worker struct {
	jobRepo   repository.ExportJobRepository
	exportUC  *ExportOrderUseCase
	interval  time.Duration
	batchSize int
	log       *logger.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorker construye el worker.
func NewWorker(jobRepo repository.ExportJobRepository, exportUC *ExportOrderUseCase, interval time.Duration, batchSize int, log *logger.Logger) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Worker{
		jobRepo:   jobRepo,
		exportUC:  exportUC,
		interval:  interval,
		batchSize: batchSize,
		log:       log,
	}
}

// Start lanza el bucle en una goroutine. El primer barrido corre de
// inmediato, los siguientes a cada tick.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
	w.log.Info().Dur("interval", w.interval).Int("batch", w.batchSize).Msg("worker: iniciado")
}

// Stop detiene el bucle y espera a que el trabajo en curso termine.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.log.Info().Msg("worker: detenido")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep procesa un lote. El fallo de un trabajo queda registrado en el
// propio trabajo y no detiene a los demás.
func (w *Worker) sweep(ctx context.Context) {
	jobs, err := w.jobRepo.ListPendingDue(ctx, w.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("worker: no se pudo listar trabajos pendientes")
		}
		return
	}
	if len(jobs) == 0 {
		return
	}
	w.log.Debug().Int("jobs", len(jobs)).Msg("worker: barrido")

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		// Process persiste el desenlace y ya lo dejó logueado; aquí solo se
		// aísla el fallo para seguir con el siguiente trabajo.
		_ = w.exportUC.Process(ctx, job)
	}
}
