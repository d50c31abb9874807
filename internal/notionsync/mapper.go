package notionsync

import (
	"time"

	infra "github.com/dvloznov/statement-analytics/internal/infra/bigquery"
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
)

// Property names of the ledger database.
const (
	PropDescription   = "Description"
	PropTransactionID = "Transaction ID"
	PropDate          = "Date"
	PropDebits        = "Debits"
	PropCredits       = "Credits"
	PropBalance       = "Balance"
	PropFees          = "Fees"
	PropCategory      = "Category"
	PropConfidence    = "Confidence"
	PropStatement     = "Statement"
	PropImportedAt    = "Imported At"
)

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}}}
}

func dateProperty(t time.Time) notionapi.DateProperty {
	d := notionapi.Date(t)
	return notionapi.DateProperty{Date: &notionapi.DateObject{Start: &d}}
}

func number(d decimal.Decimal) notionapi.NumberProperty {
	f, _ := d.Float64()
	return notionapi.NumberProperty{Number: f}
}

// TransactionProperties converts a ledger row into page properties.
func TransactionProperties(row *infra.TransactionRow) notionapi.Properties {
	tx := row.Transaction()

	props := notionapi.Properties{
		PropDescription:   notionapi.TitleProperty{Title: richText(tx.Description)},
		PropTransactionID: notionapi.RichTextProperty{RichText: richText(tx.ID)},
		PropDebits:        number(tx.Debits),
		PropCredits:       number(tx.Credits),
		PropBalance:       number(tx.Balance),
		PropFees:          number(tx.Fees),
		PropCategory:      notionapi.SelectProperty{Select: notionapi.Option{Name: tx.Category}},
		PropStatement:     notionapi.RichTextProperty{RichText: richText(row.StatementKey)},
		PropImportedAt:    dateProperty(row.CreatedTS),
	}
	if tx.Date != nil {
		props[PropDate] = dateProperty(*tx.Date)
	}
	if tx.Confidence != nil {
		props[PropConfidence] = notionapi.NumberProperty{Number: *tx.Confidence}
	}
	return props
}

// pageTransactionID reads the Transaction ID property of a page.
func pageTransactionID(page notionapi.Page) string {
	if prop, ok := page.Properties[PropTransactionID].(*notionapi.RichTextProperty); ok && len(prop.RichText) > 0 {
		return prop.RichText[0].PlainText
	}
	return ""
}

// pageCategory reads the Category select of a page.
func pageCategory(page notionapi.Page) string {
	if prop, ok := page.Properties[PropCategory].(*notionapi.SelectProperty); ok {
		return prop.Select.Name
	}
	return ""
}

// pageDate reads the Date property of a page.
func pageDate(page notionapi.Page) *time.Time {
	prop, ok := page.Properties[PropDate].(*notionapi.DateProperty)
	if !ok || prop.Date == nil || prop.Date.Start == nil {
		return nil
	}
	t := time.Time(*prop.Date.Start)
	return &t
}
