package pohoda

import (
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/tu-usuario/cursos-pro/internal/domain"
	"github.com/tu-usuario/cursos-pro/internal/domain/entity"
)

// Builder serializa facturas del dominio al sobre XML del servicio contable
// (dat:dataPack con un dat:dataPackItem) y valida el resultado contra el
// conjunto de esquemas ANTES de devolverlo. Un documento que no valida nunca
// sale de aquí: es la frontera fail-closed entre el dominio y el protocolo.
type Builder struct {
	schemas *SchemaSet
}

// NewBuilder construye el builder con el conjunto de esquemas inyectado.
func NewBuilder(schemas *SchemaSet) *Builder {
	return &Builder{schemas: schemas}
}

// BuildInvoice produce el XML del data pack para la factura. El id del data
// pack se deriva del contenido (C14N + SHA-256), de modo que el mismo pedido
// mapeado igual produce el mismo identificador. Falla con
// *domain.SchemaValidationError (con el XML ofensivo) si la validación no pasa.
func (b *Builder) BuildInvoice(inv entity.Invoice, application string) (string, string, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	pack := doc.CreateElement("dat:dataPack")
	pack.CreateAttr("xmlns:dat", NsData)
	pack.CreateAttr("xmlns:inv", NsInvoice)
	pack.CreateAttr("xmlns:typ", NsType)
	pack.CreateAttr("version", SchemaVersion)
	if application != "" {
		pack.CreateAttr("application", application)
	}

	item := pack.CreateElement("dat:dataPackItem")
	item.CreateAttr("version", SchemaVersion)
	b.writeInvoice(item, inv)

	// Id derivado del contenido: se calcula sin los atributos id y luego se
	// fija en sobre e ítem.
	id, err := contentID(doc)
	if err != nil {
		return "", "", err
	}
	packID := "fa-" + id
	pack.CreateAttr("id", packID)
	item.CreateAttr("id", packID+"-1")

	if err := b.validate(doc); err != nil {
		return "", "", err
	}

	doc.Indent(2)
	out, err := doc.WriteToString()
	if err != nil {
		return "", "", err
	}
	return out, packID, nil
}

func (b *Builder) validate(doc *etree.Document) error {
	violations, err := b.schemas.Validate(doc)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		offending, _ := doc.WriteToString()
		return &domain.SchemaValidationError{Violations: violations, Document: offending}
	}
	return nil
}

func (b *Builder) writeInvoice(parent *etree.Element, inv entity.Invoice) {
	el := parent.CreateElement("inv:invoice")
	el.CreateAttr("version", SchemaVersion)
	b.writeHeader(el, inv.Header)
	b.writeDetail(el, inv.Items)
	b.writeSummary(el, inv.Summary)
}

func (b *Builder) writeHeader(parent *etree.Element, h entity.InvoiceHeader) {
	el := parent.CreateElement("inv:invoiceHeader")
	el.CreateElement("inv:invoiceType").SetText(h.DocumentType)
	if h.OrderNumber != "" {
		el.CreateElement("inv:numberOrder").SetText(h.OrderNumber)
	}
	el.CreateElement("inv:symVar").SetText(h.VariableSymbol)
	if h.SpecificSymbol != "" {
		el.CreateElement("inv:symSpec").SetText(h.SpecificSymbol)
	}
	writeDate(el, "inv:date", h.IssueDate)
	writeDate(el, "inv:dateTax", h.TaxDate)
	writeDate(el, "inv:dateDue", h.DueDate)
	if h.Text != "" {
		el.CreateElement("inv:text").SetText(h.Text)
	}
	b.writePartner(el, h)
	if h.Note != "" {
		el.CreateElement("inv:note").SetText(h.Note)
	}
}

// writePartner escribe la identidad del cliente; todos los campos son
// best-effort y un pedido anónimo simplemente omite el bloque completo.
func (b *Builder) writePartner(parent *etree.Element, h entity.InvoiceHeader) {
	if h.Company == "" && h.Name == "" && h.Email == "" && h.Phone == "" {
		return
	}
	addr := parent.CreateElement("inv:partnerIdentity").CreateElement("typ:address")
	if h.Company != "" {
		addr.CreateElement("typ:company").SetText(h.Company)
	}
	if h.Name != "" {
		addr.CreateElement("typ:name").SetText(h.Name)
	}
	if h.Email != "" {
		addr.CreateElement("typ:email").SetText(h.Email)
	}
	if h.Phone != "" {
		addr.CreateElement("typ:phone").SetText(h.Phone)
	}
}

func (b *Builder) writeDetail(parent *etree.Element, items []entity.InvoiceItem) {
	detail := parent.CreateElement("inv:invoiceDetail")
	for _, it := range items {
		el := detail.CreateElement("inv:invoiceItem")
		el.CreateElement("inv:text").SetText(it.Name)
		el.CreateElement("inv:quantity").SetText(decimal.NewFromInt(it.Quantity).String())
		el.CreateElement("inv:rateVAT").SetText(string(it.Rate))
		if it.Discount.IsPositive() {
			el.CreateElement("inv:discountAmount").SetText(money(it.Discount))
		}
		cur := el.CreateElement("inv:homeCurrency")
		cur.CreateElement("typ:unitPrice").SetText(money(it.UnitPrice))
		cur.CreateElement("typ:price").SetText(money(it.TotalExclVat))
		cur.CreateElement("typ:priceVAT").SetText(money(it.VatAmount))
		cur.CreateElement("typ:priceSum").SetText(money(it.TotalInclVat))
	}
}

func (b *Builder) writeSummary(parent *etree.Element, s entity.VatSummary) {
	el := parent.CreateElement("inv:invoiceSummary")
	cur := el.CreateElement("inv:summaryHomeCurrency")
	if !s.None.Base.IsZero() {
		cur.CreateElement("typ:priceNone").SetText(money(s.None.Base))
	}
	if !s.Low.Base.IsZero() || !s.Low.Vat.IsZero() {
		cur.CreateElement("typ:priceLow").SetText(money(s.Low.Base))
		cur.CreateElement("typ:priceLowVAT").SetText(money(s.Low.Vat))
		cur.CreateElement("typ:priceLowSum").SetText(money(s.Low.Base.Add(s.Low.Vat)))
	}
	if !s.High.Base.IsZero() || !s.High.Vat.IsZero() {
		cur.CreateElement("typ:priceHigh").SetText(money(s.High.Base))
		cur.CreateElement("typ:priceHighVAT").SetText(money(s.High.Vat))
		cur.CreateElement("typ:priceHighSum").SetText(money(s.High.Base.Add(s.High.Vat)))
	}
	if s.DiscountTotal.IsPositive() {
		el.CreateElement("inv:discountTotal").SetText(money(s.DiscountTotal))
	}
}

func writeDate(parent *etree.Element, tag string, t time.Time) {
	if t.IsZero() {
		return
	}
	parent.CreateElement(tag).SetText(t.Format("2006-01-02"))
}

func money(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}
