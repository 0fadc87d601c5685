package entity

import (
	"encoding/json"

	"github.com/jmoiron/sqlx/types"
)

// ExtractedData is the structured document produced by field extraction.
// The same shape is used for user-confirmed data.
type ExtractedData struct {
	Provider      string     `json:"provider"`
	Amount        float64    `json:"amount"`
	Currency      string     `json:"currency"`
	Date          string     `json:"date"` // YYYY-MM-DD
	Category      string     `json:"category"`
	Items         []LineItem `json:"items"`
	ReceiptNumber string     `json:"receipt_number,omitempty"`
	TaxAmount     *float64   `json:"tax_amount,omitempty"`
	Subtotal      *float64   `json:"subtotal,omitempty"`
}

// LineItem is one parsed row of a tabular receipt body.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"line_total"`
}

// Marshal encodes the document for storage in the jobs table.
func (d *ExtractedData) Marshal() (json.RawMessage, error) {
	return json.Marshal(d)
}

// UnmarshalExtractedData decodes a stored document; an empty column yields nil.
func UnmarshalExtractedData(raw types.JSONText) (*ExtractedData, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var d ExtractedData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
