package pohoda

import (
	"embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/beevik/etree"
)

// Esquemas del protocolo embebidos en el binario: sobre (data), factura,
// listado, filtro y tipos compartidos. Se cargan una sola vez por proceso.
//
//go:embed schemas/*.xsd
var schemaFS embed.FS

const xsdNS = "http://www.w3.org/2001/XMLSchema"

var (
	decimalLexical = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]+)?$`)
	dateLexical    = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}$`)
)

type qname struct {
	NS    string
	Local string
}

func (q qname) String() string { return q.Local }

// xsdParticle una posición de una secuencia: referencia a un elemento global
// o un choice entre varias alternativas. Max == -1 significa unbounded.
type xsdParticle struct {
	Ref     qname
	Choice  []qname
	Min     int
	Max     int
}

type xsdAttr struct {
	Name     string
	Required bool
}

// xsdType tipo complejo (secuencia + atributos) o simple (restricción).
type xsdType struct {
	Simple   bool
	Base     string // tipo builtin xs:* para tipos simples
	Enum     []string
	Sequence []xsdParticle
	Attrs    []xsdAttr
}

type xsdElement struct {
	Name   qname
	Type   qname // referencia a tipo (builtin xs:* o definido); vacía si Inline
	Inline *xsdType
}

// SchemaSet conjunto de esquemas del protocolo contable, parseado una sola
// vez (sync.Once) y reutilizado en cada validación. Se inyecta por
// constructor; nunca es estado global, así los tests pueden sustituirlo.
type SchemaSet struct {
	once     sync.Once
	loadErr  error
	elements map[qname]*xsdElement
	types    map[qname]*xsdType
}

// NewSchemaSet crea el conjunto; la carga real es perezosa (primer uso).
func NewSchemaSet() *SchemaSet {
	return &SchemaSet{}
}

// Validate valida el documento contra los esquemas y devuelve la lista de
// violaciones (vacía si el documento es válido). El subconjunto XSD cubierto
// es el que usan los esquemas del protocolo: secuencias, choice,
// minOccurs/maxOccurs, atributos requeridos, enumeraciones y léxico de
// decimales y fechas.
func (s *SchemaSet) Validate(doc *etree.Document) ([]string, error) {
	s.once.Do(s.load)
	if s.loadErr != nil {
		return nil, fmt.Errorf("cargar esquemas: %w", s.loadErr)
	}
	root := doc.Root()
	if root == nil {
		return []string{"documento sin elemento raíz"}, nil
	}
	name := qname{NS: namespaceOf(root), Local: root.Tag}
	decl, ok := s.elements[name]
	if !ok {
		return []string{fmt.Sprintf("elemento raíz desconocido <%s> (ns %s)", root.Tag, name.NS)}, nil
	}
	var violations []string
	s.validateElement(root, decl, &violations)
	return violations, nil
}

func (s *SchemaSet) validateElement(el *etree.Element, decl *xsdElement, violations *[]string) {
	typ := decl.Inline
	if typ == nil {
		if decl.Type.NS == xsdNS {
			s.checkBuiltin(el, decl.Type.Local, violations)
			return
		}
		t, ok := s.types[decl.Type]
		if !ok {
			*violations = append(*violations, fmt.Sprintf("<%s>: tipo %s no definido", el.Tag, decl.Type.Local))
			return
		}
		typ = t
	}
	if typ.Simple {
		s.checkSimple(el, typ, violations)
		return
	}

	for _, attr := range typ.Attrs {
		if attr.Required && el.SelectAttr(attr.Name) == nil {
			*violations = append(*violations, fmt.Sprintf("<%s>: falta el atributo requerido %q", el.Tag, attr.Name))
		}
	}

	children := el.ChildElements()
	i := 0
	for _, p := range typ.Sequence {
		count := 0
		for i < len(children) {
			child := children[i]
			childName := qname{NS: namespaceOf(child), Local: child.Tag}
			childDecl := s.matchParticle(p, childName)
			if childDecl == nil {
				break
			}
			s.validateElement(child, childDecl, violations)
			i++
			count++
			if p.Max != -1 && count >= p.Max {
				break
			}
		}
		if count < p.Min {
			*violations = append(*violations, fmt.Sprintf("<%s>: falta el elemento requerido <%s>", el.Tag, particleName(p)))
		}
	}
	for ; i < len(children); i++ {
		*violations = append(*violations, fmt.Sprintf("<%s>: elemento inesperado <%s>", el.Tag, children[i].Tag))
	}
}

// matchParticle resuelve la declaración del hijo si encaja en la partícula.
func (s *SchemaSet) matchParticle(p xsdParticle, child qname) *xsdElement {
	if len(p.Choice) > 0 {
		for _, alt := range p.Choice {
			if alt == child {
				return s.elements[alt]
			}
		}
		return nil
	}
	if p.Ref == child {
		return s.elements[p.Ref]
	}
	return nil
}

func (s *SchemaSet) checkSimple(el *etree.Element, typ *xsdType, violations *[]string) {
	text := strings.TrimSpace(el.Text())
	if len(typ.Enum) > 0 {
		for _, v := range typ.Enum {
			if v == text {
				return
			}
		}
		*violations = append(*violations, fmt.Sprintf("<%s>: valor %q fuera de la enumeración", el.Tag, text))
		return
	}
	s.checkBuiltin(el, typ.Base, violations)
}

func (s *SchemaSet) checkBuiltin(el *etree.Element, builtin string, violations *[]string) {
	text := strings.TrimSpace(el.Text())
	switch builtin {
	case "decimal":
		if !decimalLexical.MatchString(text) {
			*violations = append(*violations, fmt.Sprintf("<%s>: %q no es un decimal válido", el.Tag, text))
		}
	case "date":
		if !dateLexical.MatchString(text) {
			*violations = append(*violations, fmt.Sprintf("<%s>: %q no es una fecha AAAA-MM-DD", el.Tag, text))
		}
	case "int", "integer", "long":
		if _, err := strconv.ParseInt(text, 10, 64); err != nil {
			*violations = append(*violations, fmt.Sprintf("<%s>: %q no es un entero válido", el.Tag, text))
		}
	}
	// string y tipos no reconocidos: sin chequeo léxico
}

// ── Carga y parseo de los .xsd embebidos ──────────────────────────────────────

func (s *SchemaSet) load() {
	s.elements = make(map[qname]*xsdElement)
	s.types = make(map[qname]*xsdType)

	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		s.loadErr = err
		return
	}
	for _, entry := range entries {
		raw, err := schemaFS.ReadFile("schemas/" + entry.Name())
		if err != nil {
			s.loadErr = err
			return
		}
		if err := s.parseSchema(raw); err != nil {
			s.loadErr = fmt.Errorf("%s: %w", entry.Name(), err)
			return
		}
	}
}

func (s *SchemaSet) parseSchema(raw []byte) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return err
	}
	root := doc.Root()
	if root == nil || root.Tag != "schema" {
		return fmt.Errorf("no es un xs:schema")
	}
	target := root.SelectAttrValue("targetNamespace", "")
	prefixes := prefixMap(root)

	for _, child := range root.ChildElements() {
		switch child.Tag {
		case "element":
			el, err := parseElementDecl(child, target, prefixes)
			if err != nil {
				return err
			}
			s.elements[el.Name] = el
		case "complexType", "simpleType":
			name := child.SelectAttrValue("name", "")
			if name == "" {
				return fmt.Errorf("tipo global sin nombre")
			}
			typ, err := parseType(child, prefixes)
			if err != nil {
				return err
			}
			s.types[qname{NS: target, Local: name}] = typ
		}
	}
	return nil
}

func parseElementDecl(el *etree.Element, target string, prefixes map[string]string) (*xsdElement, error) {
	name := el.SelectAttrValue("name", "")
	if name == "" {
		return nil, fmt.Errorf("xs:element global sin nombre")
	}
	decl := &xsdElement{Name: qname{NS: target, Local: name}}
	if typeRef := el.SelectAttrValue("type", ""); typeRef != "" {
		q, err := resolveQName(typeRef, prefixes)
		if err != nil {
			return nil, err
		}
		decl.Type = q
		return decl, nil
	}
	for _, child := range el.ChildElements() {
		if child.Tag == "complexType" || child.Tag == "simpleType" {
			typ, err := parseType(child, prefixes)
			if err != nil {
				return nil, err
			}
			decl.Inline = typ
			return decl, nil
		}
	}
	// sin tipo declarado: se trata como xs:string
	decl.Type = qname{NS: xsdNS, Local: "string"}
	return decl, nil
}

func parseType(el *etree.Element, prefixes map[string]string) (*xsdType, error) {
	if el.Tag == "simpleType" {
		return parseSimpleType(el, prefixes)
	}
	typ := &xsdType{}
	for _, child := range el.ChildElements() {
		switch child.Tag {
		case "sequence":
			seq, err := parseSequence(child, prefixes)
			if err != nil {
				return nil, err
			}
			typ.Sequence = seq
		case "attribute":
			typ.Attrs = append(typ.Attrs, xsdAttr{
				Name:     child.SelectAttrValue("name", ""),
				Required: child.SelectAttrValue("use", "") == "required",
			})
		}
	}
	return typ, nil
}

func parseSimpleType(el *etree.Element, prefixes map[string]string) (*xsdType, error) {
	typ := &xsdType{Simple: true, Base: "string"}
	restriction := el.SelectElement("restriction")
	if restriction == nil {
		return typ, nil
	}
	if base := restriction.SelectAttrValue("base", ""); base != "" {
		q, err := resolveQName(base, prefixes)
		if err != nil {
			return nil, err
		}
		typ.Base = q.Local
	}
	for _, e := range restriction.SelectElements("enumeration") {
		typ.Enum = append(typ.Enum, e.SelectAttrValue("value", ""))
	}
	return typ, nil
}

func parseSequence(el *etree.Element, prefixes map[string]string) ([]xsdParticle, error) {
	var seq []xsdParticle
	for _, child := range el.ChildElements() {
		switch child.Tag {
		case "element":
			ref := child.SelectAttrValue("ref", "")
			if ref == "" {
				return nil, fmt.Errorf("xs:element de secuencia sin ref")
			}
			q, err := resolveQName(ref, prefixes)
			if err != nil {
				return nil, err
			}
			min, max := occurs(child)
			seq = append(seq, xsdParticle{Ref: q, Min: min, Max: max})
		case "choice":
			var alts []qname
			for _, alt := range child.SelectElements("element") {
				ref := alt.SelectAttrValue("ref", "")
				q, err := resolveQName(ref, prefixes)
				if err != nil {
					return nil, err
				}
				alts = append(alts, q)
			}
			min, max := occurs(child)
			seq = append(seq, xsdParticle{Choice: alts, Min: min, Max: max})
		}
	}
	return seq, nil
}

func occurs(el *etree.Element) (min, max int) {
	min, max = 1, 1
	if v := el.SelectAttrValue("minOccurs", ""); v != "" {
		min, _ = strconv.Atoi(v)
	}
	switch v := el.SelectAttrValue("maxOccurs", ""); v {
	case "":
	case "unbounded":
		max = -1
	default:
		max, _ = strconv.Atoi(v)
	}
	return min, max
}

func resolveQName(ref string, prefixes map[string]string) (qname, error) {
	prefix, local := "", ref
	if idx := strings.IndexByte(ref, ':'); idx >= 0 {
		prefix, local = ref[:idx], ref[idx+1:]
	}
	ns, ok := prefixes[prefix]
	if !ok {
		return qname{}, fmt.Errorf("prefijo %q sin declaración xmlns", prefix)
	}
	return qname{NS: ns, Local: local}, nil
}

func particleName(p xsdParticle) string {
	if len(p.Choice) > 0 {
		names := make([]string, len(p.Choice))
		for i, c := range p.Choice {
			names[i] = c.Local
		}
		return strings.Join(names, "|")
	}
	return p.Ref.Local
}

// prefixMap mapea los prefijos declarados en el elemento a sus namespaces.
func prefixMap(el *etree.Element) map[string]string {
	m := map[string]string{"xs": xsdNS}
	for _, attr := range el.Attr {
		if attr.Space == "xmlns" {
			m[attr.Key] = attr.Value
		} else if attr.Space == "" && attr.Key == "xmlns" {
			m[""] = attr.Value
		}
	}
	return m
}

// namespaceOf resuelve el namespace efectivo de un elemento de instancia
// subiendo por los ancestros hasta encontrar la declaración xmlns que aplica.
func namespaceOf(el *etree.Element) string {
	prefix := el.Space
	for cur := el; cur != nil; cur = cur.Parent() {
		for _, attr := range cur.Attr {
			if prefix == "" && attr.Space == "" && attr.Key == "xmlns" {
				return attr.Value
			}
			if prefix != "" && attr.Space == "xmlns" && attr.Key == prefix {
				return attr.Value
			}
		}
	}
	return ""
}
