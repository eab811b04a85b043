// Package invoice contiene la lógica pura de mapeo pedido → factura:
// redondeo monetario, clasificación de bandas de IVA y reparto proporcional
// del descuento sin deriva de redondeo.
package invoice

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tu-usuario/cursos-pro/internal/domain"
	"github.com/tu-usuario/cursos-pro/internal/domain/entity"
)

// Umbrales de clasificación de banda según vatAmount/totalExclVat × 100.
var (
	highRateThreshold = decimal.NewFromInt(20)
	lowRateThreshold  = decimal.NewFromInt(10)
	hundred           = decimal.NewFromInt(100)
)

// DueDays plazo de vencimiento aplicado a la fecha de emisión.
const DueDays = 14

// MapperService convierte un pedido de la tienda en una factura del modelo
// de dominio. Sin estado; now es inyectable para tests deterministas.
type MapperService struct {
	now func() time.Time
}

// NewMapperService crea el mapper con el reloj del sistema.
func NewMapperService() *MapperService {
	return &MapperService{now: time.Now}
}

// NewMapperServiceWithClock crea el mapper con un reloj fijo (tests).
func NewMapperServiceWithClock(now func() time.Time) *MapperService {
	return &MapperService{now: now}
}

// Map construye la factura a partir del pedido:
//
//  1. Redondea todo importe a centavos (mitad lejos de cero).
//  2. Calcula el descuento total = max(bruto antes − bruto después, 0).
//  3. Clasifica cada línea en su banda de IVA por la razón IVA/base.
//  4. Reparte el descuento proporcionalmente al bruto de cada línea; la
//     última línea absorbe el residuo para que la suma cierre exacta.
//  5. Agrega los subtotales por banda desde las líneas ya redondeadas.
//
// Falla con *domain.ValidationError si el pedido no tiene líneas.
func (m *MapperService) Map(order entity.Order) (entity.Invoice, error) {
	if len(order.Items) == 0 {
		return entity.Invoice{}, domain.NewValidationError("items", "el pedido no tiene líneas")
	}

	items := make([]entity.InvoiceItem, len(order.Items))
	grossSum := decimal.Zero
	for i, oi := range order.Items {
		totalIncl := round2(oi.TotalInclVat)
		vat := round2(oi.VatAmount)
		totalExcl := totalIncl.Sub(vat)
		qty := oi.Quantity
		if qty < 1 {
			qty = 1
		}
		items[i] = entity.InvoiceItem{
			Name:         oi.Name,
			Quantity:     qty,
			UnitPrice:    round2(totalExcl.Div(decimal.NewFromInt(qty))),
			TotalExclVat: totalExcl,
			VatAmount:    vat,
			TotalInclVat: totalIncl,
			Discount:     decimal.Zero,
			Rate:         classifyRate(totalExcl, vat),
		}
		grossSum = grossSum.Add(totalIncl)
	}

	discountTotal := round2(order.TotalBeforeDiscount).Sub(round2(order.TotalAfterDiscount))
	if discountTotal.IsNegative() {
		discountTotal = decimal.Zero
	}
	allocateDiscount(items, discountTotal, grossSum)

	summary := buildSummary(items, discountTotal)

	now := m.now()
	header := entity.InvoiceHeader{
		DocumentType:   entity.InvoiceTypeIssued,
		OrderNumber:    order.Number,
		Text:           "Venta de cursos, pedido " + order.Number,
		IssueDate:      now,
		TaxDate:        now,
		DueDate:        now.AddDate(0, 0, DueDays),
		VariableSymbol: variableSymbol(order),
		SpecificSymbol: order.SpecificSymbol,
		Company:        order.Customer.Company,
		Name:           order.Customer.Name,
		Email:          order.Customer.Email,
		Phone:          order.Customer.Phone,
		Note:           order.Note,
	}

	return entity.NewInvoice(header, items, summary)
}

// allocateDiscount reparte total proporcionalmente al bruto de cada línea.
// Todas menos la última se redondean a centavos; la última recibe el residuo
// (total − suma de las anteriores) para evitar deriva acumulada. Qué línea
// absorbe el residuo (siempre la última, no la mayor) se conserva tal cual
// por compatibilidad con los registros ya emitidos.
func allocateDiscount(items []entity.InvoiceItem, total, grossSum decimal.Decimal) {
	if total.IsZero() {
		return
	}
	allocated := decimal.Zero
	last := len(items) - 1
	for i := range items[:last] {
		share := decimal.Zero
		if grossSum.IsPositive() {
			share = round2(total.Mul(items[i].TotalInclVat).Div(grossSum))
		}
		items[i].Discount = share
		allocated = allocated.Add(share)
	}
	items[last].Discount = total.Sub(allocated)
}

// buildSummary agrega los totales desde las líneas ya redondeadas, de modo
// que la suma de subtotales por banda cuadre exacta con el total general.
func buildSummary(items []entity.InvoiceItem, discountTotal decimal.Decimal) entity.VatSummary {
	s := entity.VatSummary{
		TotalExclVat:  decimal.Zero,
		VatAmount:     decimal.Zero,
		TotalInclVat:  decimal.Zero,
		DiscountTotal: discountTotal,
	}
	for _, it := range items {
		s.TotalExclVat = s.TotalExclVat.Add(it.TotalExclVat)
		s.VatAmount = s.VatAmount.Add(it.VatAmount)
		s.TotalInclVat = s.TotalInclVat.Add(it.TotalInclVat)
		switch it.Rate {
		case entity.VatRateHigh:
			s.High.Base = s.High.Base.Add(it.TotalExclVat)
			s.High.Vat = s.High.Vat.Add(it.VatAmount)
		case entity.VatRateLow:
			s.Low.Base = s.Low.Base.Add(it.TotalExclVat)
			s.Low.Vat = s.Low.Vat.Add(it.VatAmount)
		default:
			s.None.Base = s.None.Base.Add(it.TotalExclVat)
			s.None.Vat = s.None.Vat.Add(it.VatAmount)
		}
	}
	return s
}

// classifyRate clasifica la banda por la razón IVA/base × 100:
// ≥20% → high, ≥10% → low, resto → none.
func classifyRate(totalExcl, vat decimal.Decimal) entity.VatRate {
	if !totalExcl.IsPositive() || !vat.IsPositive() {
		return entity.VatRateNone
	}
	ratio := vat.Div(totalExcl).Mul(hundred)
	switch {
	case ratio.GreaterThanOrEqual(highRateThreshold):
		return entity.VatRateHigh
	case ratio.GreaterThanOrEqual(lowRateThreshold):
		return entity.VatRateLow
	default:
		return entity.VatRateNone
	}
}

// variableSymbol usa el símbolo del pedido o, en su defecto, los dígitos del
// número de pedido.
func variableSymbol(order entity.Order) string {
	if order.VariableSymbol != "" {
		return order.VariableSymbol
	}
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, order.Number)
}

// round2 redondea a la unidad mínima de la moneda (centavos), mitad lejos de
// cero, el mismo redondeo que aplica el servicio contable.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
