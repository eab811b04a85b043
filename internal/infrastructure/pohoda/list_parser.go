package pohoda

import (
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/tu-usuario/cursos-pro/internal/domain/entity"
)

// Nombres candidatos por campo, en orden de preferencia. El servicio usa
// etiquetas distintas según la operación que produjo el listado.
var (
	listNumberCandidates   = []string{"number", "invoiceNumber", "documentNumber"}
	listSymVarCandidates   = []string{"symVar", "varSymbol", "variableSymbol"}
	listTotalCandidates    = []string{"priceSum", "totalPrice", "total"}
	listDueDateCandidates  = []string{"dateDue", "dueDate"}
	listPaidDateCandidates = []string{"datePayment", "paymentDate", "dateOfPayment"}
	listPaidFlagCandidates = []string{"paid", "isPaid", "liquidation"}
)

// ParseInvoiceList recorre cada elemento invoice del listado y devuelve un
// InvoiceStatus por elemento reconocible. Los elementos sin ningún dato
// extraíble se saltan en silencio: este es el camino de lectura best-effort,
// no el autoritativo.
func ParseInvoiceList(raw []byte) ([]entity.InvoiceStatus, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil {
		return nil, nil
	}

	var statuses []entity.InvoiceStatus
	walk(root, func(el *etree.Element) {
		if el.Tag != "invoice" {
			return
		}
		st, ok := parseInvoiceElement(el)
		if ok {
			statuses = append(statuses, st)
		}
	})
	return statuses, nil
}

func parseInvoiceElement(el *etree.Element) (entity.InvoiceStatus, bool) {
	st := entity.InvoiceStatus{
		Number:         firstCandidate(el, listNumberCandidates),
		VariableSymbol: firstCandidate(el, listSymVarCandidates),
	}
	if st.Number == "" && st.VariableSymbol == "" {
		return entity.InvoiceStatus{}, false
	}

	if raw := firstCandidate(el, listTotalCandidates); raw != "" {
		if total, err := decimal.NewFromString(raw); err == nil {
			st.Total = total
		}
	}
	st.DueDate = parseCandidateDate(el, listDueDateCandidates)
	st.PaidDate = parseCandidateDate(el, listPaidDateCandidates)

	switch flag := strings.ToLower(firstCandidate(el, listPaidFlagCandidates)); flag {
	case "true", "1", "yes":
		st.Paid = true
	case "":
		// sin bandera explícita: una fecha de pago implica pagada
		st.Paid = st.PaidDate != nil
	}
	return st, true
}

// firstCandidate prueba cada nombre en orden: primero como atributo del
// propio elemento, después como texto de cualquier descendiente.
func firstCandidate(el *etree.Element, names []string) string {
	for _, name := range names {
		if v := strings.TrimSpace(el.SelectAttrValue(name, "")); v != "" {
			return v
		}
		if v := findElementText(el, name); v != "" {
			return v
		}
	}
	return ""
}

func parseCandidateDate(el *etree.Element, names []string) *time.Time {
	raw := firstCandidate(el, names)
	if raw == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil
	}
	return &t
}
