package facts

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// DocumentID is the fact ID of the XML document handed to the function.
const DocumentID = "doc"

// Reserved XMLDocument fields. Every other field name is a path.
const (
	FieldType = "type"
	FieldRoot = "root"
	FieldXML  = "xml"
)

var tagRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*(:[A-Za-z_][A-Za-z0-9_.\-]*)?$`)

// XMLDocument is an XML document fact tagged with a document type.
//
// Besides the reserved fields type, root and xml, fields are paths relative
// to the root element:
//
//	total            text of the <total> child of the root
//	order/total      text of <total> inside <order>
//	order/@currency  currency attribute of <order>
//
// Get accepts any etree path; Set only accepts plain element names, and
// creates missing elements.
type XMLDocument struct {
	id      string
	docType string
	doc     *etree.Document
}

// NewXMLDocument parses the XML into a document fact.
func NewXMLDocument(id, docType, xml string) (*XMLDocument, error) {
	if strings.TrimSpace(docType) == "" {
		return nil, fmt.Errorf("document %s: required document type", id)
	}
	doc, err := parseXML(xml)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	return &XMLDocument{id: id, docType: docType, doc: doc}, nil
}

func parseXML(xml string) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		return nil, fmt.Errorf("parsing xml: %w", err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("parsing xml: no root element")
	}
	return doc, nil
}

func (d *XMLDocument) FactID() string   { return d.id }
func (d *XMLDocument) FactType() string { return d.docType }

// Document returns the underlying DOM.
func (d *XMLDocument) Document() *etree.Document { return d.doc }

func (d *XMLDocument) Get(field string) (any, bool) {
	switch field {
	case FieldType:
		return d.docType, true
	case FieldRoot:
		return d.doc.Root().Tag, true
	case FieldXML:
		return d.String(), true
	}
	return lookup(d.doc.Root(), field)
}

func (d *XMLDocument) Set(field string, v any) error {
	_, err := d.set(field, v)
	return err
}

// SetWithUndo sets the field like Set, and returns a function removing the
// elements and attributes the change created, or restoring the values it
// replaced.
func (d *XMLDocument) SetWithUndo(field string, v any) (func(), error) {
	return d.set(field, v)
}

func (d *XMLDocument) set(field string, v any) (func(), error) {
	switch field {
	case FieldType, FieldRoot:
		return nil, fmt.Errorf("document %s: field '%s' is read-only", d.id, field)
	case FieldXML:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("document %s: xml: want string, got %T", d.id, v)
		}
		doc, err := parseXML(s)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", d.id, err)
		}
		old := d.doc
		d.doc = doc
		return func() { d.doc = old }, nil
	}

	elPath, attr, err := splitPath(field)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", d.id, err)
	}

	// created is the outermost element added for the path
	var created *etree.Element
	el := d.doc.Root()
	for _, tag := range elPath {
		child := el.SelectElement(tag)
		if child == nil {
			child = el.CreateElement(tag)
			if created == nil {
				created = child
			}
		}
		el = child
	}

	var undo func()
	switch {
	case created != nil:
		undo = func() {
			if p := created.Parent(); p != nil {
				p.RemoveChild(created)
			}
		}
	case attr != "":
		if a := el.SelectAttr(attr); a != nil {
			old := a.Value
			undo = func() { el.CreateAttr(attr, old) }
		} else {
			undo = func() { el.RemoveAttr(attr) }
		}
	default:
		old := el.Text()
		undo = func() { el.SetText(old) }
	}

	if attr != "" {
		el.CreateAttr(attr, text(v))
	} else {
		el.SetText(text(v))
	}
	return undo, nil
}

// Delete removes the element or attribute at the path.
func (d *XMLDocument) Delete(field string) {
	elPath, attr, err := splitPath(field)
	if err != nil {
		return
	}
	el := d.doc.Root()
	for _, tag := range elPath {
		if el = el.SelectElement(tag); el == nil {
			return
		}
	}
	if attr != "" {
		el.RemoveAttr(attr)
		return
	}
	if p := el.Parent(); p != nil && el != d.doc.Root() {
		p.RemoveChild(el)
	}
}

func (d *XMLDocument) Fields() map[string]any {
	return map[string]any{
		FieldType: d.docType,
		FieldRoot: d.doc.Root().Tag,
		FieldXML:  d.String(),
	}
}

// Validate checks that the document can still be serialized.
func (d *XMLDocument) Validate() error {
	if d.doc == nil || d.doc.Root() == nil {
		return fmt.Errorf("document %s: no root element", d.id)
	}
	if _, err := d.doc.WriteToString(); err != nil {
		return fmt.Errorf("document %s: %w", d.id, err)
	}
	return nil
}

// String serializes the document.
func (d *XMLDocument) String() string {
	s, err := d.doc.WriteToString()
	if err != nil {
		return ""
	}
	return s
}

// XPath returns the text of the first element matching the etree path in the
// XML, or the value of an attribute when the path ends in /@name. Paths are
// evaluated from the document, so both "/doc/total" and "//total" work.
func XPath(xml, path string) (string, error) {
	doc, err := parseXML(xml)
	if err != nil {
		return "", err
	}
	v, ok := lookup(&doc.Element, path)
	if !ok {
		return "", nil
	}
	return v.(string), nil
}

func lookup(el *etree.Element, path string) (any, bool) {
	elPath, attr := path, ""
	if i := strings.LastIndex(path, "@"); i >= 0 && !strings.ContainsAny(path[i:], "[]/") {
		elPath, attr = strings.TrimSuffix(path[:i], "/"), path[i+1:]
	}

	if elPath != "" {
		p, err := etree.CompilePath(elPath)
		if err != nil {
			return nil, false
		}
		if el = el.FindElementPath(p); el == nil {
			return nil, false
		}
	}

	if attr != "" {
		a := el.SelectAttr(attr)
		if a == nil {
			return nil, false
		}
		return a.Value, true
	}
	return el.Text(), true
}

func splitPath(path string) ([]string, string, error) {
	parts := strings.Split(path, "/")
	var attr string
	if last := parts[len(parts)-1]; strings.HasPrefix(last, "@") {
		attr = last[1:]
		parts = parts[:len(parts)-1]
		if !tagRx.MatchString(attr) {
			return nil, "", fmt.Errorf("invalid attribute name in path '%s'", path)
		}
	}
	for _, p := range parts {
		if !tagRx.MatchString(p) {
			return nil, "", fmt.Errorf("invalid element name '%s' in path '%s'", p, path)
		}
	}
	return parts, attr, nil
}

func text(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
