package pohoda

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics métrica de las llamadas de exportación al servicio contable:
// contadores de éxito/fallo y latencia. Las consultas de listado no se miden.
type Metrics struct {
	exportSuccess  prometheus.Counter
	exportFailure  prometheus.Counter
	exportDuration prometheus.Histogram
}

// NewMetrics registra las métricas en el registro dado.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		exportSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cursos_ledger_export_success_total",
			Help: "Exportaciones aceptadas por el servicio contable.",
		}),
		exportFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cursos_ledger_export_failure_total",
			Help: "Exportaciones fallidas (rechazo, HTTP o reintentos agotados).",
		}),
		exportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cursos_ledger_export_duration_seconds",
			Help:    "Duración total de la llamada de exportación, reintentos incluidos.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.exportSuccess, m.exportFailure, m.exportDuration)
	return m
}

// ObserveExport registra el resultado y duración de una exportación
// completada. Seguro con receptor nil (métrica deshabilitada en tests).
func (m *Metrics) ObserveExport(success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	if success {
		m.exportSuccess.Inc()
	} else {
		m.exportFailure.Inc()
	}
	m.exportDuration.Observe(elapsed.Seconds())
}
