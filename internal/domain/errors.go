package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrDuplicate    = errors.New("recurso duplicado")
	ErrConflict     = errors.New("conflicto con el estado actual")
)

// ValidationError indica entrada malformada al mapper o al constructor de la
// factura (lista de ítems vacía, cabecera incompleta). Nunca se reintenta.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validación: " + e.Reason
	}
	return fmt.Sprintf("validación: %s: %s", e.Field, e.Reason)
}

// NewValidationError construye un ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// SchemaValidationError indica que un documento construido no pasó la
// validación contra el esquema XSD. Se trata como defecto de mapeo: el
// documento NUNCA se transmite y no se reintenta automáticamente.
type SchemaValidationError struct {
	Violations []string
	Document   string // XML ofensivo (para log/diagnóstico)
}

func (e *SchemaValidationError) Error() string {
	return "esquema: documento inválido: " + strings.Join(e.Violations, "; ")
}

// ProtocolError indica que el servicio contable rechazó el documento, devolvió
// un cuerpo no parseable o se agotaron los reintentos HTTP. Lleva una
// referencia al payload saneado, nunca contenido crudo.
type ProtocolError struct {
	State      string   // estado textual original devuelto por el servicio
	Messages   []string // mensajes de error del servicio
	PayloadRef string   // ruta/referencia al payload saneado en el log de auditoría
	Err        error    // causa subyacente (HTTP, parseo), puede ser nil
}

func (e *ProtocolError) Error() string {
	var b strings.Builder
	b.WriteString("protocolo")
	if e.State != "" {
		b.WriteString(": estado=" + e.State)
	}
	if len(e.Messages) > 0 {
		b.WriteString(": " + strings.Join(e.Messages, "; "))
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ProtocolError) Unwrap() error { return e.Err }
