package pohoda

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/tu-usuario/cursos-pro/internal/domain"
)

// El protocolo es inconsistente entre operaciones: el número y el id del
// documento aparecen bajo nombres distintos según el caso. Los extractores
// se prueban en orden fijo; el primero que encuentra algo gana.
var (
	documentNumberElements = []string{"number", "invoiceNumber", "documentNumber"}
	docIDAttrCandidates    = []string{"producedDetails", "invoice", "detail"}
)

// ParseResponse interpreta la respuesta heterogénea del servicio contable:
// cero o más ítems de respuesta, cada uno con su propio estado ok/warning/
// error (o ausente). El estado global es el candidato de mayor severidad
// entre la raíz y los ítems, conservando su valor textual original.
func ParseResponse(raw []byte) (*Response, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("respuesta no parseable: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("respuesta vacía")
	}

	resp := &Response{Severity: SeverityOK, State: "ok"}

	// La raíz cuenta como un candidato más.
	first := true
	if state := root.SelectAttrValue("state", ""); state != "" {
		resp.State, resp.Severity = state, severityOf(state)
		first = false
	}

	items := collectItems(root)
	for _, item := range items {
		state := item.SelectAttrValue("state", "")
		sev := severityOf(state)
		if state != "" && (first || sev > resp.Severity) {
			resp.State, resp.Severity = state, sev
			first = false
		}
		harvestMessages(item, sev, resp)
	}
	// Sin ítems: cosechar advertencias/errores colgados directamente de la raíz.
	if len(items) == 0 {
		harvestMessages(root, resp.Severity, resp)
	}

	resp.DocumentNumber = extractDocumentNumber(root, items)
	resp.DocumentID = extractDocumentID(items)
	return resp, nil
}

// EnsureSuccess devuelve nil si el estado es ok o warning Y la lista de
// errores está vacía; en cualquier otro caso un *domain.ProtocolError con
// los mensajes concatenados y la referencia al payload saneado.
func (r *Response) EnsureSuccess() error {
	if (r.Severity == SeverityOK || r.Severity == SeverityWarning) && len(r.Errors) == 0 {
		return nil
	}
	return &domain.ProtocolError{
		State:      r.State,
		Messages:   r.Errors,
		PayloadRef: r.PayloadRef,
	}
}

// severityOf clasifica el valor textual del estado. Un valor no reconocido
// se trata como warning, nunca como éxito.
func severityOf(state string) Severity {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "ok", "":
		return SeverityOK
	case "error", "fail":
		return SeverityError
	case "warning":
		return SeverityWarning
	default:
		return SeverityWarning
	}
}

func collectItems(root *etree.Element) []*etree.Element {
	var items []*etree.Element
	for _, child := range root.ChildElements() {
		if child.Tag == "responsePackItem" {
			items = append(items, child)
		}
	}
	return items
}

// harvestMessages cosecha advertencias (elementos warning/warnings), errores
// (error/errors/message) y los atributos de texto libre note/stateDetail/
// stateInfo, clasificados estos últimos por la severidad del ítem que los
// contiene.
func harvestMessages(item *etree.Element, sev Severity, resp *Response) {
	walk(item, func(el *etree.Element) {
		text := strings.TrimSpace(el.Text())
		switch el.Tag {
		case "warning", "warnings":
			if text != "" {
				resp.Warnings = append(resp.Warnings, text)
			}
		case "error", "errors", "message":
			if text != "" {
				resp.Errors = append(resp.Errors, text)
			}
		}
		for _, attrName := range []string{"note", "stateDetail", "stateInfo"} {
			if v := strings.TrimSpace(el.SelectAttrValue(attrName, "")); v != "" {
				switch sev {
				case SeverityError:
					resp.Errors = append(resp.Errors, v)
				case SeverityWarning:
					resp.Warnings = append(resp.Warnings, v)
				}
			}
		}
	})
}

// extractDocumentNumber prueba cada nombre candidato primero como atributo
// del ítem y después como texto de elementos anidados, en orden.
func extractDocumentNumber(root *etree.Element, items []*etree.Element) string {
	for _, name := range documentNumberElements {
		for _, item := range items {
			if v := strings.TrimSpace(item.SelectAttrValue(name, "")); v != "" {
				return v
			}
		}
	}
	scopes := items
	if len(scopes) == 0 {
		scopes = []*etree.Element{root}
	}
	for _, name := range documentNumberElements {
		for _, scope := range scopes {
			if v := findElementText(scope, name); v != "" {
				return v
			}
		}
	}
	return ""
}

// extractDocumentID solo desde atributo, nunca texto: el id interno siempre
// viaja como atributo id de alguno de los elementos candidatos.
func extractDocumentID(items []*etree.Element) string {
	for _, name := range docIDAttrCandidates {
		for _, item := range items {
			var found string
			walk(item, func(el *etree.Element) {
				if found == "" && el.Tag == name {
					found = el.SelectAttrValue("id", "")
				}
			})
			if found != "" {
				return found
			}
		}
	}
	return ""
}

func findElementText(scope *etree.Element, name string) string {
	var found string
	walk(scope, func(el *etree.Element) {
		if found == "" && el.Tag == name {
			found = strings.TrimSpace(el.Text())
		}
	})
	return found
}

func walk(el *etree.Element, fn func(*etree.Element)) {
	fn(el)
	for _, child := range el.ChildElements() {
		walk(child, fn)
	}
}
