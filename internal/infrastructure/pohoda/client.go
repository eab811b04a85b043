package pohoda

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/tu-usuario/cursos-pro/internal/domain"
	"github.com/tu-usuario/cursos-pro/internal/domain/entity"
	"github.com/tu-usuario/cursos-pro/pkg/logger"
)

// DefaultEncoding code page heredado del servicio contable.
const DefaultEncoding = "windows-1250"

const maxResponseBytes = 4 << 20

// Client cliente HTTP del servicio contable. Cada intento deriva la cabecera
// de autenticación de las credenciales configuradas; los cuerpos viajan en el
// code page legado configurado y toda llamada completada queda auditada
// (saneada) antes de propagar cualquier error.
type Client struct {
	cfg         Config
	httpClient  *http.Client
	enc         encoding.Encoding
	auditor     *Auditor
	metrics     *Metrics
	listBuilder *ListRequestBuilder
	log         *logger.Logger
}

// NewClient construye el cliente resolviendo el encoding ANTES del primer
// uso; un nombre de code page desconocido es un error de configuración, no
// un fallo en caliente.
func NewClient(cfg Config, schemas *SchemaSet, auditor *Auditor, metrics *Metrics, log *logger.Logger) (*Client, error) {
	if cfg.Encoding == "" {
		cfg.Encoding = DefaultEncoding
	}
	enc, err := htmlindex.Get(strings.ToLower(cfg.Encoding))
	if err != nil {
		return nil, fmt.Errorf("encoding %q no registrado: %w", cfg.Encoding, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		enc:         enc,
		auditor:     auditor,
		metrics:     metrics,
		listBuilder: NewListRequestBuilder(schemas),
		log:         log,
	}, nil
}

// SendInvoice transmite el data pack ya validado y devuelve la respuesta
// estructurada. El resultado del último intento siempre se devuelve o se
// propaga como error; ningún intento se pierde en silencio. La métrica de
// exportación se registra en toda llamada completada.
func (c *Client) SendInvoice(ctx context.Context, document, correlationID string) (*Response, error) {
	start := time.Now()

	status, respBody, httpErr := c.post(ctx, document)

	// Auditoría ANTES de cualquier error: las llamadas fallidas también
	// tienen que quedar rastreables.
	ref := c.auditor.Record(correlationID, []byte(document), respBody)

	if httpErr != nil {
		c.metrics.ObserveExport(false, time.Since(start))
		return nil, &domain.ProtocolError{PayloadRef: ref.String(), Err: httpErr}
	}
	if status < 200 || status >= 300 {
		c.metrics.ObserveExport(false, time.Since(start))
		return nil, &domain.ProtocolError{
			PayloadRef: ref.String(),
			Err:        fmt.Errorf("HTTP %d del servicio contable", status),
		}
	}

	resp, err := ParseResponse(respBody)
	if err != nil {
		c.metrics.ObserveExport(false, time.Since(start))
		return nil, &domain.ProtocolError{PayloadRef: ref.String(), Err: err}
	}
	resp.PayloadRef = ref.String()

	if err := resp.EnsureSuccess(); err != nil {
		c.metrics.ObserveExport(false, time.Since(start))
		return nil, err
	}
	c.metrics.ObserveExport(true, time.Since(start))
	return resp, nil
}

// ListInvoices construye el documento de consulta, lo envía y parsea los
// estados de factura. Sin métrica de exportación (camino de solo lectura).
func (c *Client) ListInvoices(ctx context.Context, filter ListFilter) ([]entity.InvoiceStatus, error) {
	document, err := c.listBuilder.Build(filter, c.cfg.Application)
	if err != nil {
		return nil, err
	}

	status, respBody, httpErr := c.post(ctx, document)
	ref := c.auditor.Record("list-"+uuid.NewString(), []byte(document), respBody)

	if httpErr != nil {
		return nil, &domain.ProtocolError{PayloadRef: ref.String(), Err: httpErr}
	}
	if status < 200 || status >= 300 {
		return nil, &domain.ProtocolError{
			PayloadRef: ref.String(),
			Err:        fmt.Errorf("HTTP %d del servicio contable", status),
		}
	}
	statuses, err := ParseInvoiceList(respBody)
	if err != nil {
		// Un cuerpo imparseable es un error de protocolo como en el envío:
		// conserva la referencia al payload saneado para el diagnóstico.
		return nil, &domain.ProtocolError{PayloadRef: ref.String(), Err: err}
	}
	return statuses, nil
}

// CheckStatus consulta el endpoint de salud del servicio contable.
func (c *Client) CheckStatus(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/status", nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode == http.StatusOK
}

// ── Transporte con reintentos ─────────────────────────────────────────────────

// post envía el documento con la política de reintentos: 408 y 5xx (salvo
// 501) o error transitorio de red → reintento con espera fija, hasta agotar
// la cuenta configurada. La cancelación del contexto corta de inmediato y
// nunca se reintenta. Devuelve el estado y cuerpo (ya decodificado a UTF-8)
// del último intento.
func (c *Client) post(ctx context.Context, document string) (int, []byte, error) {
	body, err := c.encodeBody(document)
	if err != nil {
		return 0, nil, fmt.Errorf("codificar cuerpo a %s: %w", c.cfg.Encoding, err)
	}

	attempts := c.cfg.RetryCount + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastStatus int
	var lastBody []byte
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/xml", bytes.NewReader(body))
		if err != nil {
			return 0, nil, err
		}
		c.setHeaders(req)

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			if ctx.Err() != nil {
				// cancelación cooperativa: se propaga, no se reintenta
				return 0, nil, ctx.Err()
			}
			lastStatus, lastBody, lastErr = 0, nil, doErr
			c.log.Warn().Err(doErr).Int("attempt", attempt).Msg("ledger: error de red")
		} else {
			raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
			resp.Body.Close()
			if readErr != nil {
				lastStatus, lastBody, lastErr = 0, nil, readErr
			} else {
				lastStatus, lastBody, lastErr = resp.StatusCode, c.decodeBody(raw), nil
				if !retryableStatus(resp.StatusCode) {
					return lastStatus, lastBody, nil
				}
				c.log.Warn().Int("status", resp.StatusCode).Int("attempt", attempt).Msg("ledger: estado HTTP reintentable")
			}
		}

		if attempt < attempts {
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			}
		}
	}
	// resultado del último intento, sea cuerpo con estado de error o fallo de red
	if lastErr != nil {
		return 0, nil, lastErr
	}
	return lastStatus, lastBody, nil
}

func retryableStatus(status int) bool {
	if status == http.StatusRequestTimeout {
		return true
	}
	return status >= 500 && status != http.StatusNotImplemented
}

func (c *Client) setHeaders(req *http.Request) {
	cred := base64.StdEncoding.EncodeToString([]byte(c.cfg.Username + ":" + c.cfg.Password))
	req.Header.Set(HeaderAuthorization, "Basic "+cred)
	req.Header.Set(HeaderApplication, c.cfg.Application)
	req.Header.Set(HeaderInstance, c.cfg.Instance)
	if c.cfg.Company != "" {
		req.Header.Set(HeaderCompany, c.cfg.Company)
	}
	req.Header.Set(HeaderCheckDuplicity, strconv.FormatBool(c.cfg.CheckDuplicity))
	req.Header.Set("Content-Type", "text/xml; charset="+c.cfg.Encoding)
	req.Header.Set("Accept", "text/xml")
}

// encodeBody re-etiqueta la declaración XML con el code page real y
// transforma el cuerpo; las runas sin mapeo se sustituyen, no abortan.
func (c *Client) encodeBody(document string) ([]byte, error) {
	labeled := strings.Replace(document, `encoding="UTF-8"`, fmt.Sprintf("encoding=%q", c.cfg.Encoding), 1)
	out, _, err := transform.Bytes(encoding.ReplaceUnsupported(c.enc.NewEncoder()), []byte(labeled))
	return out, err
}

// decodeBody decodifica la respuesta del code page legado; si la
// transformación falla se conserva el crudo (el parser decidirá).
func (c *Client) decodeBody(raw []byte) []byte {
	out, _, err := transform.Bytes(c.enc.NewDecoder(), raw)
	if err != nil {
		return raw
	}
	return out
}
