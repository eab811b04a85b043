package pohoda

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/tu-usuario/cursos-pro/pkg/logger"
)

// RedactionMarker reemplaza el texto de los elementos sensibles.
const RedactionMarker = "***"

// unparseablePlaceholder se almacena cuando el cuerpo no es XML parseable:
// jamás se persiste contenido crudo.
const unparseablePlaceholder = "<redacted reason=\"unparseable\"/>"

// sensitiveElements nombres de elementos cuyo contenido textual identifica a
// una persona o sus medios de pago. Tabla fija; comparar por nombre local.
var sensitiveElements = map[string]struct{}{
	"company":        {},
	"name":           {},
	"surname":        {},
	"street":         {},
	"city":           {},
	"zip":            {},
	"country":        {},
	"email":          {},
	"phone":          {},
	"mobilPhone":     {},
	"ico":            {},
	"dic":            {},
	"symVar":         {},
	"symSpec":        {},
	"accountNo":      {},
	"bankCode":       {},
	"iban":           {},
	"swift":          {},
	"paymentAccount": {},
}

// Sanitize devuelve una copia del XML con el contenido de los elementos
// sensibles reemplazado por el marcador. Si el cuerpo no se puede parsear
// devuelve un placeholder, nunca el contenido original (degradación segura).
func Sanitize(raw []byte) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return unparseablePlaceholder
	}
	root := doc.Root()
	if root == nil {
		return unparseablePlaceholder
	}
	redact(root)
	out, err := doc.WriteToString()
	if err != nil {
		return unparseablePlaceholder
	}
	return out
}

func redact(el *etree.Element) {
	if _, ok := sensitiveElements[el.Tag]; ok && strings.TrimSpace(el.Text()) != "" {
		el.SetText(RedactionMarker)
	}
	for _, child := range el.ChildElements() {
		redact(child)
	}
}

// Auditor persiste los cuerpos saneados de cada llamada en almacenamiento
// append-only, con nombre derivado del id de correlación saneado y la marca
// de tiempo. Un fallo de persistencia se loguea y se traga: la auditoría
// nunca aborta la operación de negocio.
type Auditor struct {
	dir string
	log *logger.Logger
}

// NewAuditor construye el auditor sobre el directorio dado.
func NewAuditor(dir string, log *logger.Logger) *Auditor {
	return &Auditor{dir: dir, log: log}
}

// Record sanea y persiste petición y respuesta; devuelve las rutas escritas
// (vacías si la escritura correspondiente falló).
func (a *Auditor) Record(correlationID string, request, response []byte) PayloadRef {
	cid := sanitizeCorrelationID(correlationID)
	ts := time.Now().UTC().Format("20060102T150405.000000000")

	var ref PayloadRef
	ref.RequestPath = a.write(fmt.Sprintf("%s_%s_request.xml", ts, cid), Sanitize(request))
	ref.ResponsePath = a.write(fmt.Sprintf("%s_%s_response.xml", ts, cid), Sanitize(response))
	return ref
}

// write crea el archivo en modo exclusivo (append-only a nivel de directorio:
// nunca se sobreescribe un payload ya registrado).
func (a *Auditor) write(name, content string) string {
	if err := os.MkdirAll(a.dir, 0o750); err != nil {
		a.log.Warn().Err(err).Str("dir", a.dir).Msg("auditoría: no se pudo crear el directorio")
		return ""
	}
	path := filepath.Join(a.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		a.log.Warn().Err(err).Str("path", path).Msg("auditoría: no se pudo crear el archivo")
		return ""
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		a.log.Warn().Err(err).Str("path", path).Msg("auditoría: escritura fallida")
		return ""
	}
	return path
}

// sanitizeCorrelationID deja solo caracteres seguros para nombre de archivo.
func sanitizeCorrelationID(id string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return -1
		}
	}, id)
	if cleaned == "" {
		return "sin-correlacion"
	}
	return cleaned
}
