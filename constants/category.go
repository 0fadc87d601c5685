package constants

import "strings"

type Category string

const (
	Fuel            Category = "Fuel"
	Groceries       Category = "Groceries"
	Lodging         Category = "Lodging"
	Meals           Category = "Meals"
	OfficeSupplies  Category = "OfficeSupplies"
	Parking         Category = "Parking"
	Shipping        Category = "Shipping"
	Software        Category = "Software"
	Travel          Category = "Travel"
	Utilities       Category = "Utilities"
	Uncategorized   Category = "Uncategorized"
)

var allCategories = []Category{
	Fuel,
	Groceries,
	Lodging,
	Meals,
	OfficeSupplies,
	Parking,
	Shipping,
	Software,
	Travel,
	Utilities,
	Uncategorized,
}

type categoryKeyword struct {
	keyword  string
	category Category
}

// categoryKeywords maps lowercase provider/receipt keywords to a category.
// Ordered so lookups are deterministic; first match wins.
var categoryKeywords = []categoryKeyword{
	{"shell", Fuel},
	{"chevron", Fuel},
	{"exxon", Fuel},
	{"petrol", Fuel},
	{"fuel", Fuel},
	{"grocery", Groceries},
	{"supermarket", Groceries},
	{"market", Groceries},
	{"hotel", Lodging},
	{"motel", Lodging},
	{"restaurant", Meals},
	{"cafe", Meals},
	{"coffee", Meals},
	{"pizza", Meals},
	{"grill", Meals},
	{"diner", Meals},
	{"staples", OfficeSupplies},
	{"office depot", OfficeSupplies},
	{"stationery", OfficeSupplies},
	{"parking", Parking},
	{"garage", Parking},
	{"fedex", Shipping},
	{"dhl", Shipping},
	{"postal", Shipping},
	{"shipping", Shipping},
	{"software", Software},
	{"subscription", Software},
	{"saas", Software},
	{"airline", Travel},
	{"airways", Travel},
	{"uber", Travel},
	{"lyft", Travel},
	{"taxi", Travel},
	{"rail", Travel},
	{"electric", Utilities},
	{"water", Utilities},
	{"telecom", Utilities},
	{"internet", Utilities},
}

// AsStringSlice returns every known category name, in declaration order.
func AsStringSlice() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = string(cat)
	}
	return result
}

// CategoryFor derives a category from the provider name plus the receipt text.
// Returns Uncategorized when nothing matches.
func CategoryFor(provider, text string) Category {
	haystack := strings.ToLower(provider)
	for _, ck := range categoryKeywords {
		if strings.Contains(haystack, ck.keyword) {
			return ck.category
		}
	}
	// fall back to the body text; provider lines are often truncated by OCR
	haystack = strings.ToLower(text)
	for _, ck := range categoryKeywords {
		if strings.Contains(haystack, ck.keyword) {
			return ck.category
		}
	}
	return Uncategorized
}

// Canonicalize maps a free-form label onto a known category.
func Canonicalize(input string) (Category, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return Uncategorized, false
	}
	for _, cat := range allCategories {
		if normalized == strings.ToLower(string(cat)) {
			return cat, true
		}
	}
	return Uncategorized, false
}
