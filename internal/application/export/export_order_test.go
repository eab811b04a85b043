package export

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tu-usuario/cursos-pro/internal/domain"
	"github.com/tu-usuario/cursos-pro/internal/domain/entity"
	"github.com/tu-usuario/cursos-pro/internal/domain/invoice"
	"github.com/tu-usuario/cursos-pro/internal/domain/repository"
	"github.com/tu-usuario/cursos-pro/internal/infrastructure/pohoda"
	"github.com/tu-usuario/cursos-pro/pkg/logger"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Env: "production", Level: "error"})
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return v
}

func pedidoPagado(t *testing.T, id string) *entity.Order {
	t.Helper()
	return &entity.Order{
		ID:                  id,
		Number:              "2026000" + id,
		VariableSymbol:      "100" + id,
		Customer:            entity.OrderCustomer{Name: "Marta Rojas", Email: "marta@example.com"},
		Items: []entity.OrderItem{{
			Name:         "Curso de Go avanzado",
			Quantity:     1,
			TotalInclVat: dec(t, "1000.00"),
			VatAmount:    dec(t, "173.55"),
		}},
		TotalBeforeDiscount: dec(t, "1000.00"),
		TotalAfterDiscount:  dec(t, "1000.00"),
		CreatedAt:           testNow.Add(-time.Hour),
	}
}

// ── Dobles en memoria ─────────────────────────────────────────────────────────

type fakeJobRepo struct {
	mu   sync.Mutex
	seq  int
	jobs map[string]*entity.ExportJob
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[string]*entity.ExportJob{}}
}

func (r *fakeJobRepo) Create(_ context.Context, job *entity.ExportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.OrderID == job.OrderID {
			return domain.ErrDuplicate
		}
	}
	r.seq++
	if job.ID == "" {
		job.ID = fmt.Sprintf("job-%d", r.seq)
	}
	copia := *job
	r.jobs[job.ID] = &copia
	return nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, id string) (*entity.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copia := *j
	return &copia, nil
}

func (r *fakeJobRepo) GetByOrderID(_ context.Context, orderID string) (*entity.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.OrderID == orderID {
			copia := *j
			return &copia, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeJobRepo) Update(_ context.Context, job *entity.ExportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return domain.ErrNotFound
	}
	copia := *job
	r.jobs[job.ID] = &copia
	return nil
}

func (r *fakeJobRepo) ListPendingDue(_ context.Context, limit int) ([]*entity.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*entity.ExportJob
	for _, j := range r.jobs {
		if j.Status != entity.ExportPending {
			continue
		}
		if j.NextAttemptAt != nil && j.NextAttemptAt.After(time.Now()) {
			continue
		}
		copia := *j
		due = append(due, &copia)
	}
	sort.Slice(due, func(a, b int) bool { return due[a].CreatedAt.Before(due[b].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *fakeJobRepo) List(_ context.Context, limit int) ([]*entity.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*entity.ExportJob
	for _, j := range r.jobs {
		copia := *j
		all = append(all, &copia)
	}
	sort.Slice(all, func(a, b int) bool { return all[a].CreatedAt.After(all[b].CreatedAt) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *fakeJobRepo) ResetForRetry(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status != entity.ExportFailed {
		return domain.ErrConflict
	}
	j.Status = entity.ExportPending
	j.AttemptCount = 0
	j.NextAttemptAt = nil
	j.FailedAt = nil
	j.LastError = ""
	return nil
}

type fakeLedgerRepo struct {
	mu      sync.Mutex
	records map[string]*entity.LedgerRecord
	upserts []string // data pack ids en orden de llegada
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{records: map[string]*entity.LedgerRecord{}}
}

func (r *fakeLedgerRepo) Get(_ context.Context, orderID string) (*entity.LedgerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copia := *rec
	return &copia, nil
}

func (r *fakeLedgerRepo) Upsert(_ context.Context, orderID, dataPackID string, status entity.ExportStatus) (*entity.LedgerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[orderID]
	if !ok {
		rec = &entity.LedgerRecord{OrderID: orderID, CreatedAt: testNow}
		r.records[orderID] = rec
	}
	rec.DataPackID = dataPackID
	rec.Status = status
	rec.UpdatedAt = testNow
	r.upserts = append(r.upserts, dataPackID)
	copia := *rec
	return &copia, nil
}

func (r *fakeLedgerRepo) UpdateStatus(_ context.Context, orderID string, status entity.ExportStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[orderID]; ok {
		rec.Status = status
	}
	return nil
}

type fakeTxRunner struct {
	jobs   repository.ExportJobRepository
	ledger repository.LedgerRecordRepository
}

func (r *fakeTxRunner) Run(ctx context.Context, fn func(repository.ExportJobRepository, repository.LedgerRecordRepository) error) error {
	return fn(r.jobs, r.ledger)
}

type fakeLedgerClient struct {
	mu    sync.Mutex
	calls []string // correlation ids
	send  func(document, correlationID string) (*pohoda.Response, error)
	list  func(filter pohoda.ListFilter) ([]entity.InvoiceStatus, error)
}

func (c *fakeLedgerClient) SendInvoice(_ context.Context, document, correlationID string) (*pohoda.Response, error) {
	c.mu.Lock()
	c.calls = append(c.calls, correlationID)
	c.mu.Unlock()
	return c.send(document, correlationID)
}

func (c *fakeLedgerClient) ListInvoices(_ context.Context, filter pohoda.ListFilter) ([]entity.InvoiceStatus, error) {
	if c.list == nil {
		return nil, nil
	}
	return c.list(filter)
}

func (c *fakeLedgerClient) CheckStatus(context.Context) bool { return true }

type fakeMirrorRepo struct {
	mu     sync.Mutex
	saved  map[string]string // orderID -> invoiceNumber
	marked map[string]string
	err    error
}

func newFakeMirrorRepo() *fakeMirrorRepo {
	return &fakeMirrorRepo{saved: map[string]string{}, marked: map[string]string{}}
}

func (r *fakeMirrorRepo) SaveInvoice(_ context.Context, orderID, invoiceNumber string, _ entity.Invoice) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved[orderID] = invoiceNumber
	return nil
}

func (r *fakeMirrorRepo) MarkGenerated(_ context.Context, orderID, invoiceNumber string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marked[orderID] = invoiceNumber
	return nil
}

// entorno arma el caso de uso real (mapper y builder verdaderos) sobre los
// dobles de persistencia y transporte.
type entorno struct {
	jobs   *fakeJobRepo
	ledger *fakeLedgerRepo
	mirror *fakeMirrorRepo
	client *fakeLedgerClient
	uc     *ExportOrderUseCase
}

func nuevoEntorno(t *testing.T, send func(document, correlationID string) (*pohoda.Response, error)) *entorno {
	t.Helper()
	e := &entorno{
		jobs:   newFakeJobRepo(),
		ledger: newFakeLedgerRepo(),
		mirror: newFakeMirrorRepo(),
		client: &fakeLedgerClient{send: send},
	}
	e.uc = NewExportOrderUseCase(
		invoice.NewMapperServiceWithClock(func() time.Time { return testNow }),
		pohoda.NewBuilder(pohoda.NewSchemaSet()),
		e.client,
		&fakeTxRunner{jobs: e.jobs, ledger: e.ledger},
		e.ledger,
		e.mirror,
		Config{Application: "cursos-pro", MaxAttempts: 3, BackoffBase: time.Minute, BackoffCap: 10 * time.Minute},
		testLogger(),
	)
	e.uc.now = func() time.Time { return testNow }
	return e
}

func (e *entorno) encolar(t *testing.T, order *entity.Order) *entity.ExportJob {
	t.Helper()
	job := &entity.ExportJob{OrderID: order.ID, Status: entity.ExportPending, CreatedAt: testNow.Add(-time.Minute)}
	require.NoError(t, e.jobs.Create(context.Background(), job))
	job.Order = order
	return job
}

func respuestaOK(number, id string) *pohoda.Response {
	return &pohoda.Response{State: "ok", Severity: pohoda.SeverityOK, DocumentNumber: number, DocumentID: id}
}

// ── Process ──────────────────────────────────────────────────────────────────

func TestProcess_ExitoPersisteDocumentoYEspejo(t *testing.T) {
	e := nuevoEntorno(t, func(document, _ string) (*pohoda.Response, error) {
		return respuestaOK("FA-2026-0042", "731"), nil
	})
	job := e.encolar(t, pedidoPagado(t, "1"))

	require.NoError(t, e.uc.Process(context.Background(), job))

	guardado, err := e.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ExportSucceeded, guardado.Status)
	assert.Equal(t, 1, guardado.AttemptCount)
	assert.Equal(t, "FA-2026-0042", guardado.DocumentNumber)
	assert.Equal(t, "731", guardado.DocumentID)
	require.NotNil(t, guardado.SucceededAt)

	rec, err := e.ledger.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, entity.ExportSucceeded, rec.Status)
	assert.NotEmpty(t, rec.DataPackID)

	assert.Equal(t, "FA-2026-0042", e.mirror.saved["1"])
}

func TestProcess_IdempotenciaSeRegistraAntesDeTransmitir(t *testing.T) {
	var packEnVuelo string
	e := nuevoEntorno(t, nil)
	e.client.send = func(document, _ string) (*pohoda.Response, error) {
		rec, err := e.ledger.Get(context.Background(), "1")
		require.NoError(t, err, "el registro debe existir antes del envío")
		assert.Equal(t, entity.ExportInProgress, rec.Status)
		packEnVuelo = rec.DataPackID
		return respuestaOK("FA-1", ""), nil
	}
	job := e.encolar(t, pedidoPagado(t, "1"))

	require.NoError(t, e.uc.Process(context.Background(), job))

	rec, err := e.ledger.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, packEnVuelo, rec.DataPackID, "mismo contenido, mismo data pack id en ambos upserts")
}

func TestProcess_MismoPedidoMismoDataPackID(t *testing.T) {
	e := nuevoEntorno(t, func(document, _ string) (*pohoda.Response, error) {
		return nil, &domain.ProtocolError{Err: fmt.Errorf("timeout")}
	})
	job := e.encolar(t, pedidoPagado(t, "1"))

	require.Error(t, e.uc.Process(context.Background(), job))
	job.Order = pedidoPagado(t, "1")
	require.Error(t, e.uc.Process(context.Background(), job))

	require.GreaterOrEqual(t, len(e.ledger.upserts), 2)
	assert.Equal(t, e.ledger.upserts[0], e.ledger.upserts[1],
		"reintentos del mismo pedido reutilizan el data pack id")
}

func TestProcess_FalloTransitorioReprogramaConBackoff(t *testing.T) {
	e := nuevoEntorno(t, func(document, _ string) (*pohoda.Response, error) {
		return nil, &domain.ProtocolError{Err: fmt.Errorf("HTTP 503 del servicio contable")}
	})
	job := e.encolar(t, pedidoPagado(t, "1"))

	require.Error(t, e.uc.Process(context.Background(), job))

	guardado, err := e.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ExportPending, guardado.Status)
	assert.Equal(t, 1, guardado.AttemptCount)
	assert.Contains(t, guardado.LastError, "503")
	require.NotNil(t, guardado.NextAttemptAt)
	assert.Equal(t, testNow.Add(time.Minute), *guardado.NextAttemptAt)
}

func TestProcess_BackoffSeDuplicaYRespetaElTope(t *testing.T) {
	e := nuevoEntorno(t, nil)
	assert.Equal(t, time.Minute, e.uc.backoff(1))
	assert.Equal(t, 2*time.Minute, e.uc.backoff(2))
	assert.Equal(t, 4*time.Minute, e.uc.backoff(3))
	assert.Equal(t, 10*time.Minute, e.uc.backoff(8), "acotado por el tope")
}

func TestProcess_AgotaIntentosYQuedaFailed(t *testing.T) {
	e := nuevoEntorno(t, func(document, _ string) (*pohoda.Response, error) {
		return nil, &domain.ProtocolError{Err: fmt.Errorf("mantenimiento")}
	})
	order := pedidoPagado(t, "1")
	job := e.encolar(t, order)

	for i := 0; i < 3; i++ {
		job.Order = order
		require.Error(t, e.uc.Process(context.Background(), job))
	}

	guardado, err := e.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ExportFailed, guardado.Status)
	assert.Equal(t, 3, guardado.AttemptCount)
	require.NotNil(t, guardado.FailedAt)

	rec, err := e.ledger.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, entity.ExportFailed, rec.Status)

	assert.Len(t, e.client.calls, 3, "nunca un cuarto envío")
}

func TestProcess_PedidoSinLineasFallaSinTransmitir(t *testing.T) {
	e := nuevoEntorno(t, func(document, _ string) (*pohoda.Response, error) {
		t.Fatal("no debe transmitirse un pedido que no mapea")
		return nil, nil
	})
	order := pedidoPagado(t, "1")
	order.Items = nil
	job := e.encolar(t, order)

	err := e.uc.Process(context.Background(), job)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	guardado, err := e.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ExportFailed, guardado.Status)
	assert.Empty(t, e.client.calls)
}

func TestProcess_AdvertenciasDeEnvioExitosoSeConservan(t *testing.T) {
	e := nuevoEntorno(t, func(document, _ string) (*pohoda.Response, error) {
		return &pohoda.Response{
			State:          "warning",
			Severity:       pohoda.SeverityWarning,
			DocumentNumber: "FA-9",
			Warnings:       []string{"posible duplicidad", "dirección incompleta"},
		}, nil
	})
	job := e.encolar(t, pedidoPagado(t, "1"))

	require.NoError(t, e.uc.Process(context.Background(), job))

	guardado, err := e.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ExportSucceeded, guardado.Status)
	assert.Equal(t, "posible duplicidad; dirección incompleta", guardado.Warnings)
}

func TestProcess_FalloDelEspejoNoDeshaceLaExportacion(t *testing.T) {
	e := nuevoEntorno(t, func(document, _ string) (*pohoda.Response, error) {
		return respuestaOK("FA-1", ""), nil
	})
	e.mirror.err = fmt.Errorf("espejo caído")
	job := e.encolar(t, pedidoPagado(t, "1"))

	require.NoError(t, e.uc.Process(context.Background(), job))

	guardado, err := e.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ExportSucceeded, guardado.Status)
}

// txRunnerSensibleAlContexto imita a pgxpool: no abre una transacción sobre
// un contexto ya cancelado.
type txRunnerSensibleAlContexto struct {
	inner *fakeTxRunner
}

func (r *txRunnerSensibleAlContexto) Run(ctx context.Context, fn func(repository.ExportJobRepository, repository.LedgerRecordRepository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.inner.Run(ctx, fn)
}

func TestProcess_ApagadoDuranteEnvioDevuelveElTrabajoALaCola(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := nuevoEntorno(t, func(_, _ string) (*pohoda.Response, error) {
		cancel()
		return nil, context.Canceled
	})
	e.uc.txRunner = &txRunnerSensibleAlContexto{inner: &fakeTxRunner{jobs: e.jobs, ledger: e.ledger}}
	pedido := pedidoPagado(t, "1")
	job := e.encolar(t, pedido)

	err := e.uc.Process(ctx, job)
	require.ErrorIs(t, err, context.Canceled)

	// Ni IN_PROGRESS atascado ni intento consumido: el trabajo queda listo
	// para el próximo barrido.
	guardado, err := e.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ExportPending, guardado.Status)
	assert.Equal(t, 0, guardado.AttemptCount)
	assert.Nil(t, guardado.NextAttemptAt)

	rec, err := e.ledger.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, entity.ExportPending, rec.Status)

	due, err := e.jobs.ListPendingDue(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	// Tras el reinicio, el mismo trabajo se exporta con normalidad.
	e.client.send = func(_, _ string) (*pohoda.Response, error) {
		return respuestaOK("FA-2026-0042", "731"), nil
	}
	reanudado := due[0]
	reanudado.Order = pedido
	require.NoError(t, e.uc.Process(context.Background(), reanudado))

	guardado, err = e.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ExportSucceeded, guardado.Status)
}

func TestProcess_RegistroYaAceptadoNoRetransmite(t *testing.T) {
	e := nuevoEntorno(t, func(_, _ string) (*pohoda.Response, error) {
		t.Fatal("no debe transmitirse un pedido ya aceptado")
		return nil, nil
	})
	_, err := e.ledger.Upsert(context.Background(), "1", "fa-previo", entity.ExportSucceeded)
	require.NoError(t, err)
	job := e.encolar(t, pedidoPagado(t, "1"))

	require.NoError(t, e.uc.Process(context.Background(), job))

	guardado, err := e.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ExportSucceeded, guardado.Status)
	assert.Equal(t, 0, guardado.AttemptCount)
	assert.Empty(t, e.client.calls)
}
