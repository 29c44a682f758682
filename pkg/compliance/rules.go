package compliance

import (
	"strings"
	"time"

	"github.com/beevik/etree"
)

// Rule predicates. Each one is a pure inspection of the parsed document
// testing a single mandatory property. The checker runs all of them and
// accumulates violations; no predicate short-circuits another.

// HasStructuredFormat reports whether the document is written in a
// recognizable machine-readable invoice grammar (CII or UBL).
func (d *Document) HasStructuredFormat() bool {
	return d.Syntax() != SyntaxUnknown
}

// EnablesProcessing reports whether the format permits automated
// processing: the document must be structured and must not carry the
// explicit non-processable marker generators embed for scanned content.
func (d *Document) EnablesProcessing() bool {
	return d.HasStructuredFormat() && !d.hasComment(nonProcessableMarker)
}

// HasSequentialNumber reports whether a non-empty invoice identifier is
// present. CII carries it in ExchangedDocument/ram:ID, UBL as a direct
// cbc:ID child of the invoice root.
func (d *Document) HasSequentialNumber() bool {
	if ex := d.find("ExchangedDocument"); ex != nil {
		return textOf(findIn(ex, "ID")) != ""
	}
	for _, child := range d.root.ChildElements() {
		if child.Tag == "ID" && textOf(child) != "" {
			return true
		}
	}
	return false
}

// HasIssueDate reports whether an issue date is present and parses as a
// valid calendar date. CII encodes dates as DateTimeString with a format
// qualifier (102 = CCYYMMDD); UBL uses plain ISO dates.
func (d *Document) HasIssueDate() bool {
	if el := d.find("IssueDateTime"); el != nil {
		dts := findIn(el, "DateTimeString")
		if dts == nil {
			return false
		}
		return parseDate(textOf(dts), dts.SelectAttrValue("format", "102")) != nil
	}
	if text := d.findText("IssueDate"); text != "" {
		return parseDate(text, "") != nil
	}
	return false
}

// HasCompleteSellerData reports whether a seller party block exists with
// both a name and a tax registration identifier.
func (d *Document) HasCompleteSellerData() bool {
	block := d.find("SellerTradeParty", "AccountingSupplierParty")
	if block == nil {
		return false
	}
	hasName := textOf(findIn(block, "Name", "RegistrationName")) != ""
	hasTaxID := findIn(block, "SpecifiedTaxRegistration", "PartyTaxScheme") != nil
	return hasName && hasTaxID
}

// HasCompleteBuyerData reports whether a buyer party block exists with a name.
func (d *Document) HasCompleteBuyerData() bool {
	block := d.find("BuyerTradeParty", "AccountingCustomerParty")
	if block == nil {
		return false
	}
	return textOf(findIn(block, "Name", "RegistrationName")) != ""
}

// HasValidTaxData reports whether the full tax breakdown required by
// UStG §14 Abs. 4 Nr. 5-8 is present. All five components must exist
// simultaneously; partial presence fails the rule.
func (d *Document) HasValidTaxData() bool {
	hasType := d.hasVATTypeCode()
	hasAmount := d.findText("CalculatedAmount", "TaxTotalAmount", "TaxAmount") != ""
	hasRate := d.findText("RateApplicablePercent", "Percent") != ""
	hasCategory := d.findText("CategoryCode", "TaxCategoryCode") != "" || d.hasTaxCategoryID()
	hasBasis := d.findText("BasisAmount", "TaxBasisTotalAmount", "TaxableAmount") != ""

	return hasType && hasAmount && hasRate && hasCategory && hasBasis
}

// HasPaymentTerms reports whether payment terms or a due date are present.
// Absence is a warning, not an error.
func (d *Document) HasPaymentTerms() bool {
	return d.find("SpecifiedTradePaymentTerms", "PaymentTerms", "DueDateDateTime", "DueDate") != nil
}

// hasVATTypeCode reports whether any tax type element declares VAT:
// ram:TypeCode in CII, cbc:TaxTypeCode or a cac:TaxScheme identifier in UBL.
func (d *Document) hasVATTypeCode() bool {
	var found bool
	walk(d.root, func(el *etree.Element) bool {
		switch el.Tag {
		case "TypeCode", "TaxTypeCode":
			if strings.EqualFold(strings.TrimSpace(el.Text()), "VAT") {
				found = true
				return false
			}
		case "TaxScheme":
			if strings.EqualFold(textOf(findIn(el, "ID")), "VAT") {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// hasTaxCategoryID reports whether a UBL TaxCategory block carries a
// category identifier (cbc:ID inside cac:TaxCategory).
func (d *Document) hasTaxCategoryID() bool {
	block := d.find("TaxCategory", "ClassifiedTaxCategory")
	if block == nil {
		return false
	}
	return textOf(findIn(block, "ID")) != ""
}

// parseDate parses an invoice date in the encoding named by format.
// Format 102 is CCYYMMDD per UN/CEFACT; anything else is tried as an ISO
// date, then RFC 3339. Returns nil when the value is not a real date.
func parseDate(value, format string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	layouts := []string{"2006-01-02", time.RFC3339}
	if format == "102" {
		layouts = []string{"20060102"}
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}
