// Package pohoda implementa el protocolo XML del servicio contable externo:
// construcción y validación del data pack, cliente HTTP con reintentos,
// parseo de respuestas y saneado de payloads para auditoría.
package pohoda

import "time"

// Namespaces del protocolo (versión 2 del esquema).
const (
	NsData    = "http://www.stormware.cz/schema/version_2/data.xsd"
	NsInvoice = "http://www.stormware.cz/schema/version_2/invoice.xsd"
	NsType    = "http://www.stormware.cz/schema/version_2/type.xsd"
	NsList    = "http://www.stormware.cz/schema/version_2/list.xsd"
	NsFilter  = "http://www.stormware.cz/schema/version_2/filter.xsd"
	NsResp    = "http://www.stormware.cz/schema/version_2/response.xsd"

	SchemaVersion = "2.0"
)

// Cabeceras HTTP propias del servicio contable.
const (
	HeaderAuthorization  = "STW-Authorization"
	HeaderApplication    = "STW-Application"
	HeaderInstance       = "STW-Instance"
	HeaderCompany        = "STW-Company"
	HeaderCheckDuplicity = "STW-Check-Duplicity"
)

// Config configuración del cliente del servicio contable.
type Config struct {
	BaseURL        string
	Username       string
	Password       string
	Application    string // identificador de la aplicación emisora
	Instance       string
	Company        string
	Encoding       string // nombre del code page del hilo (ej. "windows-1250")
	Timeout        time.Duration
	RetryCount     int           // reintentos adicionales al primer intento
	RetryDelay     time.Duration // espera fija entre intentos
	CheckDuplicity bool
}

// Severity severidad resuelta de una respuesta.
type Severity int

// Orden: error > warning > ok. Un estado no reconocido se clasifica como
// warning, nunca como éxito silencioso.
const (
	SeverityOK Severity = iota
	SeverityWarning
	SeverityError
)

// Response respuesta estructurada del servicio contable a un envío.
type Response struct {
	State          string // valor textual original del estado ganador
	Severity       Severity
	Warnings       []string
	Errors         []string
	DocumentNumber string // número del documento creado (si lo hubo)
	DocumentID     string
	PayloadRef     string // referencia al payload saneado en el log de auditoría
}

// ListFilter filtro de la consulta de listado de facturas. Los campos son
// excluyentes en la práctica; se serializa el primero no vacío en el orden
// número, símbolo variable, rango de fechas.
type ListFilter struct {
	Number         string
	VariableSymbol string
	DateFrom       *time.Time
	DateTill       *time.Time
}

// PayloadRef referencia a los cuerpos saneados persistidos de una llamada.
type PayloadRef struct {
	RequestPath  string
	ResponsePath string
}

// String devuelve la referencia imprimible (para errores y logs).
func (p PayloadRef) String() string {
	if p.RequestPath == "" && p.ResponsePath == "" {
		return ""
	}
	return p.RequestPath + ";" + p.ResponsePath
}
