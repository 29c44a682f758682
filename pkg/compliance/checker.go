package compliance

import "fmt"

// Level grades a compliance verdict.
type Level string

const (
	// LevelFull means every mandatory rule passed.
	LevelFull Level = "full"
	// LevelPartial means at most two errors and five warnings were found.
	LevelPartial Level = "partial"
	// LevelNonCompliant means the document fails too many rules to be usable.
	LevelNonCompliant Level = "non_compliant"
)

// Thresholds for the partial compliance grade.
const (
	partialMaxErrors   = 2
	partialMaxWarnings = 5
)

// CheckedFields records the outcome of every individual rule.
type CheckedFields struct {
	SequentialNumber  bool `json:"hasSequentialNumber" bson:"has_sequential_number"`
	IssueDate         bool `json:"hasIssueDate" bson:"has_issue_date"`
	SellerData        bool `json:"hasSellerData" bson:"has_seller_data"`
	BuyerData         bool `json:"hasBuyerData" bson:"has_buyer_data"`
	ValidTax          bool `json:"hasValidTax" bson:"has_valid_tax"`
	PaymentTerms      bool `json:"hasPaymentTerms" bson:"has_payment_terms"`
	StructuredFormat  bool `json:"isStructuredFormat" bson:"is_structured_format"`
	EnablesProcessing bool `json:"enablesProcessing" bson:"enables_processing"`
}

// Verdict is the graded result of checking a document against the rule set.
// Compliant is true iff Errors is empty.
type Verdict struct {
	Compliant bool          `json:"isCompliant"`
	Checked   CheckedFields `json:"checkedFields"`
	Errors    []string      `json:"errors"`
	Warnings  []string      `json:"warnings"`
	Level     Level         `json:"complianceLevel"`
	Profile   Profile       `json:"formatStandard"`
}

// Checker certifies invoice documents against the mandatory-field rule set.
// The zero value is usable; Check is safe for concurrent use.
type Checker struct{}

// NewChecker returns a compliance checker.
func NewChecker() *Checker {
	return &Checker{}
}

// Check runs every rule against the document and returns the accumulated
// verdict. A non-compliant document is a legitimate result, not an error:
// the only hard failure mode is malformed XML, which yields a verdict with
// every field false, a single parse error, and level non_compliant.
func (c *Checker) Check(data []byte) *Verdict {
	verdict := &Verdict{
		Errors:   []string{},
		Warnings: []string{},
		Profile:  ProfileEN16931,
	}

	doc, err := ParseDocument(data)
	if err != nil {
		verdict.Errors = append(verdict.Errors, fmt.Sprintf("invalid XML format: %v", err))
		verdict.Level = LevelNonCompliant
		return verdict
	}

	verdict.Profile = doc.Profile()

	verdict.Checked.StructuredFormat = doc.HasStructuredFormat()
	if !verdict.Checked.StructuredFormat {
		verdict.Errors = append(verdict.Errors, "document is not a structured electronic format per EN 16931")
	}

	verdict.Checked.EnablesProcessing = doc.EnablesProcessing()
	if !verdict.Checked.EnablesProcessing {
		verdict.Errors = append(verdict.Errors, "format does not enable electronic processing")
	}

	verdict.Checked.SequentialNumber = doc.HasSequentialNumber()
	if !verdict.Checked.SequentialNumber {
		verdict.Errors = append(verdict.Errors, "sequential invoice number is missing")
	}

	verdict.Checked.IssueDate = doc.HasIssueDate()
	if !verdict.Checked.IssueDate {
		verdict.Errors = append(verdict.Errors, "issue date is missing or not a valid date")
	}

	verdict.Checked.SellerData = doc.HasCompleteSellerData()
	if !verdict.Checked.SellerData {
		verdict.Errors = append(verdict.Errors, "complete seller data missing (name, address, tax registration)")
	}

	verdict.Checked.BuyerData = doc.HasCompleteBuyerData()
	if !verdict.Checked.BuyerData {
		verdict.Errors = append(verdict.Errors, "complete buyer data missing")
	}

	verdict.Checked.ValidTax = doc.HasValidTaxData()
	if !verdict.Checked.ValidTax {
		verdict.Errors = append(verdict.Errors, "tax data incomplete or invalid (type, amount, rate, category, basis required)")
	}

	verdict.Checked.PaymentTerms = doc.HasPaymentTerms()
	if !verdict.Checked.PaymentTerms {
		verdict.Warnings = append(verdict.Warnings, "payment terms not specified")
	}

	verdict.Compliant = len(verdict.Errors) == 0
	verdict.Level = determineLevel(verdict.Errors, verdict.Warnings)
	return verdict
}

func determineLevel(errors, warnings []string) Level {
	switch {
	case len(errors) == 0:
		return LevelFull
	case len(errors) <= partialMaxErrors && len(warnings) <= partialMaxWarnings:
		return LevelPartial
	}
	return LevelNonCompliant
}
