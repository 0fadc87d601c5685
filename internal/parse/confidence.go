package parse

import (
	"math"

	"github.com/fieldline/crm-ocr/internal/entity"
)

// Confidence weighting. Each of the three required fields is worth the same
// share, and a receipt whose subtotal+tax reconciles with its total earns a
// consistency bonus. The absolute numbers are a policy choice; the contract
// that matters is monotonicity: more required fields found, or internal
// consistency, always means strictly higher confidence.
const (
	requiredFieldWeight = 0.30
	reconcileBonus      = 0.10
	reconcileTolerance  = 0.02
)

// Confidence scores an extraction in [0,1], rounded to three fractional
// digits. It is a heuristic reliability estimate, not a calibrated
// probability.
func Confidence(d *entity.ExtractedData) float32 {
	score := 0.0
	if d.Provider != "" {
		score += requiredFieldWeight
	}
	if d.Amount > 0 {
		score += requiredFieldWeight
	}
	if d.Date != "" {
		score += requiredFieldWeight
	}
	if reconciles(d) {
		score += reconcileBonus
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return float32(math.Round(score*1000) / 1000)
}

// reconciles reports whether subtotal plus tax lands on the total within
// tolerance. Both optional fields must be present.
func reconciles(d *entity.ExtractedData) bool {
	if d.Subtotal == nil || d.TaxAmount == nil || d.Amount <= 0 {
		return false
	}
	return math.Abs(*d.Subtotal+*d.TaxAmount-d.Amount) <= reconcileTolerance
}
