package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tu-usuario/cursos-pro/internal/application/export"
	"github.com/tu-usuario/cursos-pro/internal/domain"
	"github.com/tu-usuario/cursos-pro/internal/domain/entity"
	"github.com/tu-usuario/cursos-pro/internal/domain/invoice"
	"github.com/tu-usuario/cursos-pro/internal/infrastructure/pohoda"
	apphttp "github.com/tu-usuario/cursos-pro/internal/interfaces/http"
	"github.com/tu-usuario/cursos-pro/pkg/logger"
)

// ──────────────────────────────────────────────────────────────────────────────
// Fakes en memoria
// ──────────────────────────────────────────────────────────────────────────────

type fakeOrderRepo struct {
	orders map[string]*entity.Order
}

func (r *fakeOrderRepo) GetByID(_ context.Context, id string) (*entity.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("pedido %s: %w", id, domain.ErrNotFound)
	}
	return o, nil
}

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*entity.ExportJob
	seq  int
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*entity.ExportJob)}
}

func (r *fakeJobRepo) Create(_ context.Context, job *entity.ExportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.OrderID == job.OrderID {
			return fmt.Errorf("trabajo para el pedido %s: %w", job.OrderID, domain.ErrDuplicate)
		}
	}
	r.seq++
	if job.ID == "" {
		job.ID = fmt.Sprintf("job-%d", r.seq)
	}
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, id string) (*entity.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("trabajo %s: %w", id, domain.ErrNotFound)
	}
	cp := *j
	return &cp, nil
}

func (r *fakeJobRepo) GetByOrderID(_ context.Context, orderID string) (*entity.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.OrderID == orderID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("trabajo del pedido %s: %w", orderID, domain.ErrNotFound)
}

func (r *fakeJobRepo) Update(_ context.Context, job *entity.ExportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return fmt.Errorf("trabajo %s: %w", job.ID, domain.ErrNotFound)
	}
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *fakeJobRepo) ListPendingDue(_ context.Context, _ int) ([]*entity.ExportJob, error) {
	return nil, nil
}

func (r *fakeJobRepo) List(_ context.Context, limit int) ([]*entity.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.ExportJob, 0, len(r.jobs))
	for _, j := range r.jobs {
		cp := *j
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeJobRepo) ResetForRetry(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("trabajo %s: %w", id, domain.ErrNotFound)
	}
	if j.Status != entity.ExportFailed {
		return fmt.Errorf("el trabajo %s no está en FAILED: %w", id, domain.ErrConflict)
	}
	j.Status = entity.ExportPending
	j.AttemptCount = 0
	j.NextAttemptAt = nil
	j.FailedAt = nil
	j.LastError = ""
	return nil
}

type fakeLedgerRepo struct {
	records map[string]*entity.LedgerRecord
}

func (r *fakeLedgerRepo) Get(_ context.Context, orderID string) (*entity.LedgerRecord, error) {
	rec, ok := r.records[orderID]
	if !ok {
		return nil, fmt.Errorf("registro del pedido %s: %w", orderID, domain.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeLedgerRepo) Upsert(_ context.Context, orderID, dataPackID string, status entity.ExportStatus) (*entity.LedgerRecord, error) {
	rec := &entity.LedgerRecord{OrderID: orderID, DataPackID: dataPackID, Status: status}
	r.records[orderID] = rec
	cp := *rec
	return &cp, nil
}

func (r *fakeLedgerRepo) UpdateStatus(_ context.Context, orderID string, status entity.ExportStatus) error {
	if rec, ok := r.records[orderID]; ok {
		rec.Status = status
	}
	return nil
}

type fakeMirrorRepo struct {
	marked map[string]string
}

func (r *fakeMirrorRepo) SaveInvoice(_ context.Context, _, _ string, _ entity.Invoice) error {
	return nil
}

func (r *fakeMirrorRepo) MarkGenerated(_ context.Context, orderID, invoiceNumber string) error {
	r.marked[orderID] = invoiceNumber
	return nil
}

type fakePDF struct{}

func (g *fakePDF) Generate(_ entity.Invoice, invoiceNumber string) (string, error) {
	return "/tmp/facturas/" + invoiceNumber + ".pdf", nil
}

// fakeLedgerClient solo implementa la consulta de listado y el ping; el envío
// no se ejercita desde la API HTTP.
type fakeLedgerClient struct {
	statuses []entity.InvoiceStatus
	listErr  error
	up       bool
}

func (c *fakeLedgerClient) SendInvoice(_ context.Context, _, _ string) (*pohoda.Response, error) {
	return nil, fmt.Errorf("no implementado en el fake")
}

func (c *fakeLedgerClient) ListInvoices(_ context.Context, _ pohoda.ListFilter) ([]entity.InvoiceStatus, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.statuses, nil
}

func (c *fakeLedgerClient) CheckStatus(_ context.Context) bool {
	return c.up
}

// ──────────────────────────────────────────────────────────────────────────────
// Entorno de test
// fakeExporter marca el trabajo como exportado sin tocar la red, suficiente
// para ejercitar la ejecución forzada desde el handler.
type fakeExporter struct{}

func (fakeExporter) Process(_ context.Context, job *entity.ExportJob) error {
	job.Status = entity.ExportSucceeded
	now := time.Now()
	job.SucceededAt = &now
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────

type apiEnv struct {
	app    *fiber.App
	jobs   *fakeJobRepo
	ledger *fakeLedgerRepo
	mirror *fakeMirrorRepo
	client *fakeLedgerClient
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func pedidoPagado(t *testing.T, id string) *entity.Order {
	t.Helper()
	return &entity.Order{
		ID:             id,
		Number:         "2026000" + id,
		VariableSymbol: "100" + id,
		Customer:       entity.OrderCustomer{Name: "Ana Torres", Email: "ana@example.com"},
		Items: []entity.OrderItem{
			{Name: "Curso de Go avanzado", Quantity: 1, TotalInclVat: dec(t, "1000.00"), VatAmount: dec(t, "173.55")},
		},
		TotalBeforeDiscount: dec(t, "1000.00"),
		TotalAfterDiscount:  dec(t, "1000.00"),
		CreatedAt:           time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func newAPIEnv(t *testing.T, orders ...*entity.Order) *apiEnv {
	t.Helper()
	log := logger.New(logger.Config{Env: "production", Level: "error"})

	orderRepo := &fakeOrderRepo{orders: make(map[string]*entity.Order)}
	for _, o := range orders {
		orderRepo.orders[o.ID] = o
	}
	jobs := newFakeJobRepo()
	ledger := &fakeLedgerRepo{records: make(map[string]*entity.LedgerRecord)}
	mirror := &fakeMirrorRepo{marked: make(map[string]string)}
	client := &fakeLedgerClient{up: true}

	queueUC := export.NewQueueUseCase(orderRepo, jobs, ledger, mirror, invoice.NewMapperService(), &fakePDF{}, fakeExporter{}, log)
	statusUC := export.NewStatusUseCase(client)

	app := fiber.New()
	apphttp.Router(app, apphttp.RouterDeps{
		QueueUC:   queueUC,
		StatusUC:  statusUC,
		JWTSecret: testJWTSecret,
		DBPing:    func(context.Context) error { return nil },
	})
	return &apiEnv{app: app, jobs: jobs, ledger: ledger, mirror: mirror, client: client}
}

func (e *apiEnv) request(t *testing.T, method, target, token string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, out))
}

// ──────────────────────────────────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────────────────────────────────

func TestQueueOrder_PedidoValidoDevuelve201(t *testing.T) {
	env := newAPIEnv(t, pedidoPagado(t, "1"))

	resp := env.request(t, http.MethodPost, "/api/export/orders/1", tokenForRole(t, "operador"))
	defer resp.Body.Close()

	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var out map[string]any
	decodeJSON(t, resp, &out)
	assert.Equal(t, "1", out["order_id"])
	assert.Equal(t, string(entity.ExportPending), out["status"])
}

func TestQueueOrder_PedidoInexistenteDevuelve404(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.request(t, http.MethodPost, "/api/export/orders/99", tokenForRole(t, "admin"))
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestQueueOrder_SegundoEncoladoDevuelve409(t *testing.T) {
	env := newAPIEnv(t, pedidoPagado(t, "1"))

	resp := env.request(t, http.MethodPost, "/api/export/orders/1", tokenForRole(t, "operador"))
	resp.Body.Close()
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/api/export/orders/1", tokenForRole(t, "operador"))
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	var out map[string]any
	decodeJSON(t, resp, &out)
	assert.Equal(t, "DUPLICATE", out["code"])
}

func TestQueueOrder_SinTokenDevuelve401(t *testing.T) {
	env := newAPIEnv(t, pedidoPagado(t, "1"))

	resp := env.request(t, http.MethodPost, "/api/export/orders/1", "")
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRetryJob_SoloTrabajosFallados(t *testing.T) {
	env := newAPIEnv(t, pedidoPagado(t, "1"))

	resp := env.request(t, http.MethodPost, "/api/export/orders/1", tokenForRole(t, "operador"))
	resp.Body.Close()
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	// PENDING no es reintentable: 409.
	resp = env.request(t, http.MethodPost, "/api/export/jobs/job-1/retry", tokenForRole(t, "operador"))
	resp.Body.Close()
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	// Se marca FAILED y el reintento lo devuelve a PENDING con contador a cero.
	job, err := env.jobs.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	job.Status = entity.ExportFailed
	job.AttemptCount = 3
	require.NoError(t, env.jobs.Update(context.Background(), job))

	resp = env.request(t, http.MethodPost, "/api/export/jobs/job-1/retry", tokenForRole(t, "operador"))
	defer resp.Body.Close()

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var out map[string]any
	decodeJSON(t, resp, &out)
	assert.Equal(t, string(entity.ExportPending), out["status"])
	assert.Equal(t, float64(0), out["attempt_count"])
}

func TestRetryJob_InexistenteDevuelve404(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.request(t, http.MethodPost, "/api/export/jobs/nada/retry", tokenForRole(t, "admin"))
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestForceJob_EjecutaEnElMomentoYDevuelve200(t *testing.T) {
	env := newAPIEnv(t, pedidoPagado(t, "1"))

	resp := env.request(t, http.MethodPost, "/api/export/orders/1", tokenForRole(t, "operador"))
	resp.Body.Close()
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/api/export/jobs/job-1/force", tokenForRole(t, "operador"))
	defer resp.Body.Close()

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var out map[string]any
	decodeJSON(t, resp, &out)
	assert.Equal(t, string(entity.ExportSucceeded), out["status"])
}

func TestForceJob_TrabajoExportadoDevuelve409(t *testing.T) {
	env := newAPIEnv(t, pedidoPagado(t, "1"))

	resp := env.request(t, http.MethodPost, "/api/export/orders/1", tokenForRole(t, "operador"))
	resp.Body.Close()
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	job, err := env.jobs.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	job.Status = entity.ExportSucceeded
	require.NoError(t, env.jobs.Update(context.Background(), job))

	resp = env.request(t, http.MethodPost, "/api/export/jobs/job-1/force", tokenForRole(t, "operador"))
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestForceJob_RolDeConsultaDevuelve403(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.request(t, http.MethodPost, "/api/export/jobs/job-1/force", tokenForRole(t, "consulta"))
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestListJobs_DevuelveTrabajos(t *testing.T) {
	env := newAPIEnv(t, pedidoPagado(t, "1"), pedidoPagado(t, "2"))

	for _, id := range []string{"1", "2"} {
		resp := env.request(t, http.MethodPost, "/api/export/orders/"+id, tokenForRole(t, "operador"))
		resp.Body.Close()
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}

	resp := env.request(t, http.MethodGet, "/api/export/jobs", tokenForRole(t, "consulta"))
	defer resp.Body.Close()

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var out []map[string]any
	decodeJSON(t, resp, &out)
	assert.Len(t, out, 2)
}

func TestInvoiceStatus_SinCriterioDevuelve400(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.request(t, http.MethodGet, "/api/invoices/status", tokenForRole(t, "consulta"))
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestInvoiceStatus_PorNumeroDevuelveEstado(t *testing.T) {
	env := newAPIEnv(t)
	paid := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	env.client.statuses = []entity.InvoiceStatus{
		{Number: "FA-2026-0042", VariableSymbol: "1001", Total: dec(t, "1000.00"), Paid: true, PaidDate: &paid},
	}

	resp := env.request(t, http.MethodGet, "/api/invoices/status?number=FA-2026-0042", tokenForRole(t, "consulta"))
	defer resp.Body.Close()

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var out []map[string]any
	decodeJSON(t, resp, &out)
	require.Len(t, out, 1)
	assert.Equal(t, "FA-2026-0042", out[0]["number"])
	assert.Equal(t, "1000.00", out[0]["total"])
	assert.Equal(t, true, out[0]["paid"])
}

func TestInvoiceStatus_BusquedaPuntualVaciaDevuelve404(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.request(t, http.MethodGet, "/api/invoices/status?variable_symbol=9999", tokenForRole(t, "consulta"))
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestInvoiceStatus_ErrorDeProtocoloDevuelve502(t *testing.T) {
	env := newAPIEnv(t)
	env.client.listErr = &domain.ProtocolError{State: "error", Messages: []string{"servicio no disponible"}}

	resp := env.request(t, http.MethodGet, "/api/invoices/status?number=FA-1", tokenForRole(t, "consulta"))
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	var out map[string]any
	decodeJSON(t, resp, &out)
	assert.Equal(t, "LEDGER", out["code"])
}

func TestInvoiceStatus_FechaInvalidaDevuelve400(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.request(t, http.MethodGet, "/api/invoices/status?date_from=10-03-2026", tokenForRole(t, "consulta"))
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHealth_ReportaDBYServicioContable(t *testing.T) {
	env := newAPIEnv(t)
	env.client.up = false

	resp := env.request(t, http.MethodGet, "/health", "")
	defer resp.Body.Close()

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var out map[string]any
	decodeJSON(t, resp, &out)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, true, out["db"])
	assert.Equal(t, false, out["ledger"])
}

func TestMarkGenerated_RegistraNumeroDeFactura(t *testing.T) {
	env := newAPIEnv(t, pedidoPagado(t, "1"))

	req := httptest.NewRequest(http.MethodPost, "/api/export/orders/1/invoice",
		strings.NewReader(`{"invoice_number":"FV-2026-007"}`))
	req.Header.Set("Authorization", tokenForRole(t, "admin"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "FV-2026-007", env.mirror.marked["1"])
}
