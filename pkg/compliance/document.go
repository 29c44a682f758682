package compliance

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// Syntax identifies the invoice grammar a document is written in.
type Syntax string

const (
	// SyntaxCII is the UN/CEFACT Cross Industry Invoice grammar (ZUGFeRD, Factur-X).
	SyntaxCII Syntax = "cii"
	// SyntaxUBL is the OASIS Universal Business Language invoice grammar (XRechnung UBL).
	SyntaxUBL Syntax = "ubl"
	// SyntaxUnknown marks a document that is well-formed XML but not a known invoice grammar.
	SyntaxUnknown Syntax = "unknown"
)

// Profile is the declared EN 16931 conformance profile of a document.
type Profile string

const (
	ProfileEN16931  Profile = "EN16931"
	ProfileBasic    Profile = "BASIC"
	ProfileComfort  Profile = "COMFORT"
	ProfileExtended Profile = "EXTENDED"
)

// Namespace markers for the two supported grammars.
const (
	nsUBLInvoice     = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	en16931Guideline = "urn:cen.eu:en16931:2017"
)

// nonProcessableMarker is the comment a generator embeds when the payload is
// a scan or free text wrapped in XML rather than structured data.
const nonProcessableMarker = "Plain text or image only"

// Document is a parsed structured invoice. It is immutable once created;
// all rule predicates are read-only inspections of the element tree.
type Document struct {
	tree *etree.Document
	root *etree.Element
}

// ParseDocument parses a rendered invoice. It fails only on malformed XML;
// a well-formed document that is not a recognizable invoice still parses and
// simply fails the structured-format rule.
func ParseDocument(data []byte) (*Document, error) {
	tree := etree.NewDocument()
	if err := tree.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parsing invoice XML: %w", err)
	}
	root := tree.Root()
	if root == nil {
		return nil, fmt.Errorf("parsing invoice XML: document has no root element")
	}
	return &Document{tree: tree, root: root}, nil
}

// Syntax reports the invoice grammar of the document.
func (d *Document) Syntax() Syntax {
	switch {
	case d.root.Tag == "CrossIndustryInvoice":
		return SyntaxCII
	case d.root.Tag == "Invoice" && d.hasNamespace(nsUBLInvoice):
		return SyntaxUBL
	}
	return SyntaxUnknown
}

// Profile detects the declared conformance profile from the guideline
// (CII) or customization (UBL) identifier. EN16931 is returned when the
// document does not declare a recognizable profile.
func (d *Document) Profile() Profile {
	var id string
	if el := d.find("GuidelineSpecifiedDocumentContextParameter"); el != nil {
		id = textOf(findIn(el, "ID"))
	}
	if id == "" {
		id = d.findText("CustomizationID")
	}

	upper := strings.ToUpper(id)
	switch {
	case strings.Contains(id, en16931Guideline):
		return ProfileEN16931
	case strings.Contains(upper, "BASIC"):
		return ProfileBasic
	case strings.Contains(upper, "COMFORT"):
		return ProfileComfort
	case strings.Contains(upper, "EXTENDED"):
		return ProfileExtended
	}
	return ProfileEN16931
}

// hasNamespace reports whether any attribute on the root element declares
// the given namespace URI.
func (d *Document) hasNamespace(uri string) bool {
	for _, attr := range d.root.Attr {
		if attr.Value == uri {
			return true
		}
	}
	return false
}

// find returns the first descendant element whose local tag matches any of
// the given names, in document order. Namespace prefixes are ignored so the
// same predicate covers ram:/cbc:/cac: and unprefixed variants.
func (d *Document) find(tags ...string) *etree.Element {
	return findIn(d.root, tags...)
}

// findText returns the trimmed text of the first matching descendant with
// non-empty text.
func (d *Document) findText(tags ...string) string {
	var found string
	walk(d.root, func(el *etree.Element) bool {
		for _, tag := range tags {
			if el.Tag == tag {
				if text := strings.TrimSpace(el.Text()); text != "" {
					found = text
					return false
				}
			}
		}
		return true
	})
	return found
}

// hasComment reports whether any comment in the document contains the
// given marker text.
func (d *Document) hasComment(marker string) bool {
	var found bool
	var visit func(el *etree.Element)
	visit = func(el *etree.Element) {
		for _, tok := range el.Child {
			switch node := tok.(type) {
			case *etree.Comment:
				if strings.Contains(node.Data, marker) {
					found = true
					return
				}
			case *etree.Element:
				visit(node)
				if found {
					return
				}
			}
		}
	}
	visit(d.root)
	return found
}

// findIn returns the first descendant of el (el included) whose local tag
// matches any of the given names.
func findIn(el *etree.Element, tags ...string) *etree.Element {
	var found *etree.Element
	walk(el, func(e *etree.Element) bool {
		for _, tag := range tags {
			if e.Tag == tag {
				found = e
				return false
			}
		}
		return true
	})
	return found
}

// textOf returns the trimmed text of el, or "" when el is nil.
func textOf(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}

// walk visits el and its descendants in document order until fn returns false.
func walk(el *etree.Element, fn func(*etree.Element) bool) bool {
	if !fn(el) {
		return false
	}
	for _, child := range el.ChildElements() {
		if !walk(child, fn) {
			return false
		}
	}
	return true
}
