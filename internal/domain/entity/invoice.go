package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tu-usuario/cursos-pro/internal/domain"
)

// VatRate clasifica la línea en una banda de IVA del protocolo contable.
type VatRate string

// Bandas de IVA reconocidas por el servicio contable.
const (
	VatRateNone VatRate = "none"
	VatRateLow  VatRate = "low"
	VatRateHigh VatRate = "high"
)

// Tipos de documento aceptados por el servicio contable.
const (
	InvoiceTypeIssued = "issuedInvoice"
)

// InvoiceHeader cabecera de la factura. Inmutable una vez construida la factura.
type InvoiceHeader struct {
	DocumentType   string // ej. InvoiceTypeIssued
	OrderNumber    string
	Text           string // descripción libre del documento
	IssueDate      time.Time
	TaxDate        time.Time
	DueDate        time.Time
	VariableSymbol string
	SpecificSymbol string
	Company        string
	Name           string
	Email          string
	Phone          string
	Note           string
}

// InvoiceItem línea de la factura con los importes ya redondeados a centavos.
// Invariante: TotalExclVat + VatAmount == TotalInclVat (tras redondeo).
type InvoiceItem struct {
	Name         string
	Quantity     int64
	UnitPrice    decimal.Decimal // precio unitario sin IVA
	TotalExclVat decimal.Decimal
	VatAmount    decimal.Decimal
	TotalInclVat decimal.Decimal
	Discount     decimal.Decimal
	Rate         VatRate
}

// ConsistentAmounts verifica el invariante de línea con tolerancia de un
// centavo (unidad mínima de la moneda).
func (it InvoiceItem) ConsistentAmounts() bool {
	diff := it.TotalExclVat.Add(it.VatAmount).Sub(it.TotalInclVat).Abs()
	return diff.LessThanOrEqual(decimal.New(1, -2))
}

// VatBand subtotales de una banda de IVA.
type VatBand struct {
	Base decimal.Decimal // base imponible (sin IVA)
	Vat  decimal.Decimal
}

// VatSummary resumen de totales de la factura. Los subtotales por banda se
// agregan desde las líneas ya redondeadas, nunca se recalculan aparte.
type VatSummary struct {
	TotalExclVat  decimal.Decimal
	VatAmount     decimal.Decimal
	TotalInclVat  decimal.Decimal
	DiscountTotal decimal.Decimal
	None          VatBand
	Low           VatBand
	High          VatBand
}

// Invoice factura lista para serializar al protocolo del servicio contable.
type Invoice struct {
	Header  InvoiceHeader
	Items   []InvoiceItem
	Summary VatSummary
}

// NewInvoice construye la factura validando los campos obligatorios de la
// cabecera y que exista al menos una línea. El error es siempre un
// *domain.ValidationError; el caller decide cómo propagarlo.
func NewInvoice(header InvoiceHeader, items []InvoiceItem, summary VatSummary) (Invoice, error) {
	if len(items) == 0 {
		return Invoice{}, domain.NewValidationError("items", "la factura requiere al menos una línea")
	}
	if header.DocumentType == "" {
		return Invoice{}, domain.NewValidationError("documentType", "tipo de documento requerido")
	}
	if header.OrderNumber == "" {
		return Invoice{}, domain.NewValidationError("orderNumber", "número de pedido requerido")
	}
	if header.VariableSymbol == "" {
		return Invoice{}, domain.NewValidationError("variableSymbol", "símbolo variable requerido")
	}
	return Invoice{Header: header, Items: items, Summary: summary}, nil
}
