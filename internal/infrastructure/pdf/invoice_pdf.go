// Package pdf genera la representación gráfica local (de cortesía) de una
// factura exportada. El documento fiscal real lo emite el servicio contable;
// este PDF acompaña el correo al cliente.
//
// Layout de la página A4:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  HEADER: "FACTURA" + número  │  Fechas emisión/vencimiento  │
//	│  ─────────────────────────────────────────────────────────  │
//	│  CLIENTE: nombre / empresa / contacto                       │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TABLA: Cant | Descripción | Base | IVA | Importe           │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TOTALES: Base / IVA / Descuento / TOTAL                    │
//	│  ─────────────────────────────────────────────────────────  │
//	│  PIE: símbolo variable + nota                               │
//	└─────────────────────────────────────────────────────────────┘
package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"

	appexport "github.com/tu-usuario/cursos-pro/internal/application/export"
	"github.com/tu-usuario/cursos-pro/internal/domain/entity"
)

// ── Paleta de colores ─────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 0, Green: 70, Blue: 127}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
)

// InvoicePDF implementa export.PDFGenerator usando Maroto v2. Escribe el
// archivo en el directorio configurado y devuelve su ruta.
type InvoicePDF struct {
	dir    string
	issuer string
}

var _ appexport.PDFGenerator = (*InvoicePDF)(nil)

// NewInvoicePDF construye el generador.
func NewInvoicePDF(dir, issuer string) *InvoicePDF {
	return &InvoicePDF{dir: dir, issuer: issuer}
}

// Generate produce el PDF de la factura y devuelve la ruta del archivo.
func (g *InvoicePDF) Generate(inv entity.Invoice, invoiceNumber string) (string, error) {
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle("Factura "+invoiceNumber, true).
		WithAuthor(g.issuer, true).
		Build()

	m := maroto.New(cfg)

	m.AddRows(headerRow(inv, invoiceNumber, g.issuer))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(clienteRow(inv.Header))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))

	m.AddRows(tableHeaderRow())
	for _, r := range tableItemRows(inv.Items) {
		m.AddRows(r)
	}

	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(totalsRow(inv.Summary))

	m.AddRows(line.NewRow(3))
	m.AddRows(line.NewRow(1, props.Line{Color: colorGray, Thickness: 0.3}))
	m.AddRows(footerRows(inv.Header)...)

	doc, err := m.Generate()
	if err != nil {
		return "", fmt.Errorf("pdf: generar documento: %w", err)
	}

	if err := os.MkdirAll(g.dir, 0o750); err != nil {
		return "", fmt.Errorf("pdf: crear directorio: %w", err)
	}
	path := filepath.Join(g.dir, fileName(invoiceNumber))
	if err := os.WriteFile(path, doc.GetBytes(), 0o640); err != nil {
		return "", fmt.Errorf("pdf: escribir archivo: %w", err)
	}
	return path, nil
}

// ── Secciones ─────────────────────────────────────────────────────────────────

// headerRow: emisor (izq) y número + fechas (der).
func headerRow(inv entity.Invoice, invoiceNumber, issuer string) core.Row {
	return row.New(18).Add(
		col.New(7).Add(
			text.New(issuer, props.Text{
				Style: fontstyle.Bold, Size: 13, Color: colorPrimary, Top: 1,
			}),
			text.New("Pedido: "+inv.Header.OrderNumber, props.Text{
				Size: 9, Top: 9, Color: colorGray,
			}),
		),
		col.New(5).Add(
			text.New("FACTURA", props.Text{
				Style: fontstyle.Bold, Size: 8, Align: align.Right,
				Color: colorPrimary, Top: 1,
			}),
			text.New(invoiceNumber, props.Text{
				Style: fontstyle.Bold, Size: 12, Align: align.Right, Top: 7,
			}),
			text.New(fmt.Sprintf("Emisión: %s   Vence: %s",
				inv.Header.IssueDate.Format("02/01/2006"),
				inv.Header.DueDate.Format("02/01/2006"),
			), props.Text{Size: 8, Align: align.Right, Top: 14, Color: colorGray}),
		),
	)
}

// clienteRow: identidad del cliente; los campos vacíos se muestran con guion.
func clienteRow(h entity.InvoiceHeader) core.Row {
	nombre := h.Name
	if h.Company != "" {
		nombre = h.Company
		if h.Name != "" {
			nombre += " — " + h.Name
		}
	}
	return row.New(14).Add(
		col.New(12).Add(
			text.New("CLIENTE", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
			text.New(nonEmpty(nombre, "Cliente sin identificar"), props.Text{
				Style: fontstyle.Bold, Size: 10, Top: 6,
			}),
			text.New(fmt.Sprintf("Email: %s   |   Tel: %s",
				nonEmpty(h.Email, "—"), nonEmpty(h.Phone, "—"),
			), props.Text{Size: 8, Top: 12, Color: colorGray}),
		),
	)
}

func tableHeaderRow() core.Row {
	h := func(label string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(label, props.Text{
			Style: fontstyle.Bold, Size: 8, Align: a,
			Color: colorPrimary, Top: 2, Left: 1, Right: 1,
		}))
	}
	return row.New(8).Add(
		h("Cant.", 1, align.Center),
		h("Descripción", 5, align.Left),
		h("Base", 2, align.Right),
		h("IVA", 2, align.Right),
		h("Importe", 2, align.Right),
	)
}

func tableItemRows(items []entity.InvoiceItem) []core.Row {
	result := make([]core.Row, 0, len(items))
	for _, it := range items {
		result = append(result, row.New(7).Add(
			col.New(1).Add(text.New(
				fmt.Sprintf("%d", it.Quantity),
				props.Text{Size: 8, Align: align.Center, Top: 1},
			)),
			col.New(5).Add(text.New(
				it.Name,
				props.Text{Size: 8, Align: align.Left, Top: 1, Left: 1},
			)),
			col.New(2).Add(text.New(
				money(it.TotalExclVat),
				props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1},
			)),
			col.New(2).Add(text.New(
				money(it.VatAmount),
				props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1},
			)),
			col.New(2).Add(text.New(
				money(it.TotalInclVat),
				props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1},
			)),
		))
	}
	return result
}

func totalsRow(s entity.VatSummary) core.Row {
	label := func(t string) core.Component {
		return text.New(t, props.Text{
			Style: fontstyle.Bold, Size: 9, Align: align.Right, Right: 2,
		})
	}
	value := func(t string) core.Component {
		return text.New(t, props.Text{Size: 9, Align: align.Right, Right: 1})
	}
	grandLabel := text.New("TOTAL:", props.Text{
		Style: fontstyle.Bold, Size: 10, Align: align.Right,
		Color: colorPrimary, Right: 2,
	})
	grandValue := text.New(money(s.TotalInclVat), props.Text{
		Style: fontstyle.Bold, Size: 10, Align: align.Right,
		Color: colorPrimary, Right: 1,
	})

	labels := []core.Component{label("Base imponible:"), label("IVA:")}
	values := []core.Component{value(money(s.TotalExclVat)), value(money(s.VatAmount))}
	if s.DiscountTotal.IsPositive() {
		labels = append(labels, label("Descuento aplicado:"))
		values = append(values, value(money(s.DiscountTotal)))
	}
	labels = append(labels, grandLabel)
	values = append(values, grandValue)

	return row.New(30).Add(
		col.New(3),
		col.New(3).Add(labels...),
		col.New(3).Add(values...),
		col.New(3),
	)
}

func footerRows(h entity.InvoiceHeader) []core.Row {
	rows := []core.Row{
		row.New(5).Add(col.New(12).Add(
			text.New("Símbolo variable para el pago: "+h.VariableSymbol, props.Text{
				Style: fontstyle.Bold, Size: 7, Top: 1,
			}),
		)),
	}
	if h.Note != "" {
		rows = append(rows, row.New(4).Add(col.New(12).Add(
			text.New(h.Note, props.Text{Size: 6.5, Color: colorGray, Top: 0.5, Left: 2}),
		)))
	}
	return rows
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func fileName(invoiceNumber string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, invoiceNumber)
	return fmt.Sprintf("factura_%s.pdf", safe)
}
