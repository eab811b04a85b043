package pohoda

import (
	"github.com/beevik/etree"
)

// ListRequestBuilder produce los documentos de consulta de solo-lectura
// (listado de facturas filtrado por número, símbolo variable o rango de
// fechas) contra el mismo conjunto de esquemas que el builder de envío.
type ListRequestBuilder struct {
	schemas *SchemaSet
}

// NewListRequestBuilder construye el builder de consultas.
func NewListRequestBuilder(schemas *SchemaSet) *ListRequestBuilder {
	return &ListRequestBuilder{schemas: schemas}
}

// Build genera el data pack de la consulta. Aplica el primer criterio no
// vacío del filtro en el orden número, símbolo variable, rango de fechas.
func (b *ListRequestBuilder) Build(filter ListFilter, application string) (string, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	pack := doc.CreateElement("dat:dataPack")
	pack.CreateAttr("xmlns:dat", NsData)
	pack.CreateAttr("xmlns:lst", NsList)
	pack.CreateAttr("xmlns:ftr", NsFilter)
	pack.CreateAttr("version", SchemaVersion)
	if application != "" {
		pack.CreateAttr("application", application)
	}

	item := pack.CreateElement("dat:dataPackItem")
	item.CreateAttr("version", SchemaVersion)

	req := item.CreateElement("lst:listInvoiceRequest")
	req.CreateAttr("version", SchemaVersion)
	req.CreateAttr("invoiceType", "issuedInvoice")
	request := req.CreateElement("lst:requestInvoice")
	writeFilter(request, filter)

	id, err := contentID(doc)
	if err != nil {
		return "", err
	}
	pack.CreateAttr("id", "ls-"+id)
	item.CreateAttr("id", "ls-"+id+"-1")

	builder := Builder{schemas: b.schemas}
	if err := builder.validate(doc); err != nil {
		return "", err
	}

	doc.Indent(2)
	return doc.WriteToString()
}

func writeFilter(parent *etree.Element, filter ListFilter) {
	if filter.Number == "" && filter.VariableSymbol == "" && filter.DateFrom == nil && filter.DateTill == nil {
		return
	}
	f := parent.CreateElement("ftr:filter")
	switch {
	case filter.Number != "":
		f.CreateElement("ftr:number").SetText(filter.Number)
	case filter.VariableSymbol != "":
		f.CreateElement("ftr:symVar").SetText(filter.VariableSymbol)
	default:
		if filter.DateFrom != nil {
			f.CreateElement("ftr:dateFrom").SetText(filter.DateFrom.Format("2006-01-02"))
		}
		if filter.DateTill != nil {
			f.CreateElement("ftr:dateTill").SetText(filter.DateTill.Format("2006-01-02"))
		}
	}
}
