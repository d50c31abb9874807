package domain

import "time"

// ElementCategoryTable marks document elements that carry a table.
const ElementCategoryTable = "table"

// StatementDocument is the raw output of the OCR service for one uploaded
// statement. Filename and Period pass through the pipeline untouched.
type StatementDocument struct {
	ID          string    `json:"id,omitempty"`
	Filename    string    `json:"filename,omitempty"`
	Period      *Period   `json:"period,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
	ProcessedBy string    `json:"processed_by,omitempty"`
	Elements    []Element `json:"elements"`
}

// Period is the statement period as ISO dates.
type Period struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Element is one page element produced by the OCR layer.
type Element struct {
	Category   string         `json:"category"`
	PageNumber int            `json:"page_number,omitempty"`
	Content    ElementContent `json:"content"`
}

// ElementContent holds the rendered payload of an element.
type ElementContent struct {
	HTML string `json:"html,omitempty"`
	Text string `json:"text,omitempty"`
}

// Key identifies the statement for deterministic row ids.
func (d StatementDocument) Key() string {
	if d.ID != "" {
		return d.ID
	}
	if d.Filename != "" {
		return d.Filename
	}
	return "statement"
}
