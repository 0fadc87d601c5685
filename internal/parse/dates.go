package parse

import (
	"regexp"
	"time"
)

// datePattern pairs a locating regex with the layouts tried on the match.
// Ordered most- to least-specific; the first parseable hit wins.
type datePattern struct {
	re      *regexp.Regexp
	layouts []string
}

var datePatterns = []datePattern{
	// ISO.
	{regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`), []string{"2006-01-02"}},
	// US and EU slash dates. US order is tried first; receipts in this
	// corpus are predominantly US-locale.
	{regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{4})\b`), []string{"1/2/2006", "2/1/2006"}},
	{regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{2})\b`), []string{"1/2/06", "2/1/06"}},
	// Dotted EU dates.
	{regexp.MustCompile(`\b(\d{1,2}\.\d{1,2}\.\d{4})\b`), []string{"2.1.2006"}},
	// Spelled-out months.
	{regexp.MustCompile(`\b([A-Za-z]{3,9} \d{1,2},? \d{4})\b`), []string{"January 2, 2006", "January 2 2006", "Jan 2, 2006", "Jan 2 2006"}},
	{regexp.MustCompile(`\b(\d{1,2} [A-Za-z]{3,9} \d{4})\b`), []string{"2 January 2006", "2 Jan 2006"}},
}

// findDate tries the locale-aware patterns in order and returns the first
// parseable date as YYYY-MM-DD.
func findDate(text string) (string, bool) {
	for _, dp := range datePatterns {
		m := dp.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		for _, layout := range dp.layouts {
			if t, err := time.Parse(layout, m[1]); err == nil {
				return t.Format("2006-01-02"), true
			}
		}
	}
	return "", false
}
