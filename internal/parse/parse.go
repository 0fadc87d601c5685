package parse

import (
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/fieldline/crm-ocr/constants"
	"github.com/fieldline/crm-ocr/internal/entity"
)

// Extractor turns raw OCR text into typed receipt fields using patterns and
// keyword lookups, no models. Every method is deterministic over its input.
type Extractor struct {
	logger *slog.Logger
	// knownVendors refines the provider guess; keys are lowercase substrings.
	knownVendors map[string]string
	// vendorNeedles is the sorted key list; map iteration order would make
	// the provider pick flap between runs on multi-vendor text.
	vendorNeedles []string
}

func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		logger:        logger,
		knownVendors:  defaultVendors,
		vendorNeedles: sortedNeedles(defaultVendors),
	}
}

// WithVendors replaces the known-vendor lookup table.
func (e *Extractor) WithVendors(vendors map[string]string) *Extractor {
	e.knownVendors = vendors
	e.vendorNeedles = sortedNeedles(vendors)
	return e
}

func sortedNeedles(vendors map[string]string) []string {
	needles := make([]string, 0, len(vendors))
	for needle := range vendors {
		needles = append(needles, needle)
	}
	sort.Strings(needles)
	return needles
}

// defaultVendors maps lowercase needles to canonical provider names.
var defaultVendors = map[string]string{
	"walmart":    "Walmart",
	"target":     "Target",
	"costco":     "Costco",
	"starbucks":  "Starbucks",
	"amazon":     "Amazon",
	"home depot": "The Home Depot",
	"walgreens":  "Walgreens",
	"cvs":        "CVS Pharmacy",
	"shell":      "Shell",
	"chevron":    "Chevron",
	"uber":       "Uber",
	"lyft":       "Lyft",
	"fedex":      "FedEx",
	"staples":    "Staples",
}

// Extract parses the text and scores the result. The confidence contract:
// more of the three required fields (provider, amount, date) and an internally
// consistent subtotal+tax imply strictly higher confidence, always in [0,1].
func (e *Extractor) Extract(text string) (entity.ExtractedData, float32) {
	lines := splitLines(text)

	data := entity.ExtractedData{
		Currency: detectCurrency(text),
		Items:    []entity.LineItem{},
	}

	if amt, ok := findAmount(lines); ok {
		data.Amount = amt
	}
	if date, ok := findDate(text); ok {
		data.Date = date
	}
	data.Provider = e.findProvider(lines)
	data.Category = string(constants.CategoryFor(data.Provider, text))

	if tax, ok := findLabeledAmount(lines, taxLabels); ok {
		data.TaxAmount = &tax
	}
	if sub, ok := findLabeledAmount(lines, subtotalLabels); ok {
		data.Subtotal = &sub
	}
	data.ReceiptNumber = findReceiptNumber(text)
	data.Items = findLineItems(lines)

	conf := Confidence(&data)
	e.logger.Debug("fields extracted",
		"provider", data.Provider,
		"amount", data.Amount,
		"date", data.Date,
		"category", data.Category,
		"items", len(data.Items),
		"confidence", conf,
	)
	return data, conf
}

func splitLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, ln := range raw {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			lines = append(lines, ln)
		}
	}
	return lines
}

var (
	// A money token: optional currency mark, digits with optional thousands
	// separators and two decimals.
	reMoney = regexp.MustCompile(`[$£€]?\s*(\d{1,3}(?:,\d{3})*\.\d{2}|\d+\.\d{2})`)

	totalLabels    = []string{"grand total", "amount due", "balance due", "total due", "total"}
	subtotalLabels = []string{"subtotal", "sub-total", "sub total"}
	taxLabels      = []string{"sales tax", "tax", "vat", "gst", "hst"}
)

// findAmount picks the most total-like money candidate. Labeled totals beat
// bare numbers; among labeled candidates the most specific label wins, and
// "subtotal" lines never count as totals.
func findAmount(lines []string) (float64, bool) {
	var best float64
	bestRank := -1
	for _, ln := range lines {
		low := strings.ToLower(ln)
		m := reMoney.FindStringSubmatch(ln)
		if m == nil {
			continue
		}
		v, err := parseMoney(m[1])
		if err != nil || v < 0 {
			continue
		}

		rank := 0 // bare number
		if isSubtotalLine(low) {
			rank = 0
		} else {
			for i, label := range totalLabels {
				if hasLabel(low, label) {
					// Earlier labels are more specific.
					rank = len(totalLabels) - i + 1
					break
				}
			}
		}

		// Prefer higher rank; at equal rank keep the larger value, since the
		// grand total dominates its components.
		if rank > bestRank || (rank == bestRank && v > best) {
			best = v
			bestRank = rank
		}
	}
	return best, bestRank >= 0
}

func isSubtotalLine(low string) bool {
	for _, label := range subtotalLabels {
		if hasLabel(low, label) {
			return true
		}
	}
	return false
}

// hasLabel matches label as whole words, so "tax" never matches inside
// "taxi" and "total" never matches inside "subtotal".
func hasLabel(low, label string) bool {
	for start := 0; start+len(label) <= len(low); {
		i := strings.Index(low[start:], label)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(label)
		if (i == 0 || !isWordByte(low[i-1])) && (end == len(low) || !isWordByte(low[end])) {
			return true
		}
		start = i + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' ||
		('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}

// findLabeledAmount returns the money value on the first line carrying one of
// the labels.
func findLabeledAmount(lines []string, labels []string) (float64, bool) {
	for _, ln := range lines {
		low := strings.ToLower(ln)
		for _, label := range labels {
			if !hasLabel(low, label) {
				continue
			}
			// "subtotal before tax" is a subtotal, not the tax amount
			if label == "tax" && isSubtotalLine(low) {
				continue
			}
			if m := reMoney.FindStringSubmatch(ln); m != nil {
				if v, err := parseMoney(m[1]); err == nil && v >= 0 {
					return v, true
				}
			}
		}
	}
	return 0, false
}

func parseMoney(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

func detectCurrency(text string) string {
	low := strings.ToLower(text)
	switch {
	case strings.Contains(text, "€") || strings.Contains(low, " eur"):
		return "EUR"
	case strings.Contains(text, "£") || strings.Contains(low, " gbp"):
		return "GBP"
	case strings.Contains(low, " cad"):
		return "CAD"
	case strings.Contains(low, " aud"):
		return "AUD"
	default:
		return "USD"
	}
}

// findProvider takes the most prominent early line: the first line in the top
// of the receipt that is not an address, phone number, or money amount. The
// known-vendor table overrides the heuristic when it matches anywhere.
func (e *Extractor) findProvider(lines []string) string {
	joined := strings.ToLower(strings.Join(lines, "\n"))
	for _, needle := range e.vendorNeedles {
		if strings.Contains(joined, needle) {
			return e.knownVendors[needle]
		}
	}

	limit := 5
	if limit > len(lines) {
		limit = len(lines)
	}
	for i := 0; i < limit; i++ {
		ln := lines[i]
		if looksLikeNoise(ln) {
			continue
		}
		return strings.TrimSpace(ln)
	}
	return ""
}

var (
	rePhone   = regexp.MustCompile(`(?:\+?\d[\d\s().-]{7,}\d)`)
	reAddress = regexp.MustCompile(`(?i)\b(street|st\.|ave|avenue|blvd|road|rd\.|suite|floor)\b`)
	reDigits  = regexp.MustCompile(`\d`)
)

func looksLikeNoise(ln string) bool {
	if len(ln) < 3 {
		return true
	}
	if reMoney.MatchString(ln) || rePhone.MatchString(ln) || reAddress.MatchString(ln) {
		return true
	}
	if _, ok := findDate(ln); ok {
		return true
	}
	// Mostly-digit lines are store numbers or timestamps, not names.
	digits := len(reDigits.FindAllString(ln, -1))
	return digits*2 > len(ln)
}

var reReceiptNo = regexp.MustCompile(`(?i)\b(?:receipt|invoice|order|ref)\s*(?:no\.?|number|#)?\s*[:#]?\s*([A-Z0-9][A-Z0-9-]{2,})`)

func findReceiptNumber(text string) string {
	if m := reReceiptNo.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// reItem matches a tabular "description qty unit-price line-total" row; line
// items are parsed only when this shape is actually present.
var reItem = regexp.MustCompile(`^(.{2,40}?)\s+(\d{1,3}(?:\.\d+)?)\s*[xX@]?\s+[$£€]?(\d+\.\d{2})\s+[$£€]?(\d+\.\d{2})$`)

func findLineItems(lines []string) []entity.LineItem {
	items := []entity.LineItem{}
	for _, ln := range lines {
		m := reItem.FindStringSubmatch(ln)
		if m == nil {
			continue
		}
		qty, err1 := strconv.ParseFloat(m[2], 64)
		unit, err2 := strconv.ParseFloat(m[3], 64)
		total, err3 := strconv.ParseFloat(m[4], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		// Skip rows whose arithmetic is nonsense; usually an OCR misread.
		if math.Abs(qty*unit-total) > 0.05*math.Max(total, 1) {
			continue
		}
		items = append(items, entity.LineItem{
			Description: strings.TrimSpace(m[1]),
			Quantity:    qty,
			UnitPrice:   unit,
			LineTotal:   total,
		})
	}
	return items
}
