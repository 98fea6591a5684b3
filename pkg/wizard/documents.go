package wizard

import (
	"encoding/json"

	"github.com/mcclellann/loandesk/pkg/models"
)

type DocumentType string

const (
	DocNICFront             DocumentType = "nic_front"
	DocNICBack              DocumentType = "nic_back"
	DocPhoto                DocumentType = "photo"
	DocBusinessRegistration DocumentType = "business_registration"
	DocUtilityBill          DocumentType = "utility_bill"
	DocBankStatement        DocumentType = "bank_statement"
	DocSalarySlip           DocumentType = "salary_slip"
	DocGuardianNIC          DocumentType = "guardian_nic"
)

var documentLabels = map[DocumentType]string{
	DocNICFront:             "NIC (front)",
	DocNICBack:              "NIC (back)",
	DocPhoto:                "Customer photo",
	DocBusinessRegistration: "Business registration",
	DocUtilityBill:          "Utility bill",
	DocBankStatement:        "Bank statement",
	DocSalarySlip:           "Salary slip",
	DocGuardianNIC:          "Guardian NIC",
}

// Label is the display name of a document type.
func (t DocumentType) Label() string {
	if l, ok := documentLabels[t]; ok {
		return l
	}
	return string(t)
}

// Known reports whether t is a supported document type.
func (t DocumentType) Known() bool {
	_, ok := documentLabels[t]
	return ok
}

var requiredDocuments = map[models.ProductCategory][]DocumentType{
	models.CategoryBusiness:    {DocNICFront, DocNICBack, DocPhoto, DocBusinessRegistration},
	models.CategoryConsumption: {DocNICFront, DocNICBack, DocPhoto, DocUtilityBill},
	models.CategoryStaff:       {DocNICFront, DocNICBack, DocSalarySlip},
}

var defaultRequiredDocuments = []DocumentType{DocNICFront, DocNICBack, DocPhoto}

// RequiredDocuments lists the document types an application of the category must carry.
func RequiredDocuments(category models.ProductCategory) []DocumentType {
	if docs, ok := requiredDocuments[category]; ok {
		return docs
	}
	return defaultRequiredDocuments
}

// Document is the current value of a document slot. A slot without an entry is unset.
type Document interface {
	isDocument()
}

// ExistingDocument references a document already stored for the customer.
type ExistingDocument struct {
	ID string
}

// StagedFile is a new upload that has not been submitted yet. Replaces names the
// stored document it shadows; that document is deleted only after a successful submit.
type StagedFile struct {
	Name        string
	ContentType string
	Data        []byte
	Replaces    string
}

func (ExistingDocument) isDocument() {}
func (StagedFile) isDocument()       {}

// Documents holds at most one document per type.
type Documents map[DocumentType]Document

func (d Documents) clone() Documents {
	out := make(Documents, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

type documentView struct {
	Kind     string `json:"kind"`
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Size     int    `json:"size,omitempty"`
	Replaces string `json:"replaces,omitempty"`
}

func viewOf(doc Document) documentView {
	switch v := doc.(type) {
	case ExistingDocument:
		return documentView{Kind: "existing", ID: v.ID}
	case StagedFile:
		return documentView{Kind: "staged", Name: v.Name, Size: len(v.Data), Replaces: v.Replaces}
	}
	return documentView{Kind: "unset"}
}

// MarshalJSON describes each slot without the file contents.
func (d Documents) MarshalJSON() ([]byte, error) {
	out := make(map[DocumentType]documentView, len(d))
	for k, v := range d {
		out[k] = viewOf(v)
	}
	return json.Marshal(out)
}
