package discovery

import (
	"regexp"

	"github.com/presenteio/priceworker/internal/price"
)

// Extraction guard: anything outside this window is treated as a false
// positive (product ids, phone numbers, installment counts).
const (
	minAcceptedPrice = 0
	maxAcceptedPrice = 1_000_000
)

// amountPattern matches a Brazilian "1.234,56" amount or a plain numeric
// amount with an optional one- or two-digit decimal part.
const amountPattern = `([0-9]{1,3}(?:\.[0-9]{3})*(?:,[0-9]{2})|[0-9]+(?:[.,][0-9]{1,2})?)`

// strategy binds a compiled pattern to the capture group holding the amount.
// Strategies are evaluated in priority order; within one strategy, matches
// are tried left to right until one parses to an accepted value.
type strategy struct {
	name    string
	pattern *regexp.Regexp
	group   int
}

// Ordering rationale: storefronts render the discounted price next to the
// struck-through original, so the sale-markup strategies must outrank the
// bare-amount ones or extraction would return the old (higher) price.
var strategies = []strategy{
	{
		// ~~R$ 199,90~~ R$ 149,90 (reader-mirror output for strikethrough)
		name:    "struck_through",
		pattern: regexp.MustCompile(`(?i)~~\s*R\$\s*` + amountPattern + `\s*~~\s*R\$\s*` + amountPattern),
		group:   2,
	},
	{
		// "de R$ 199,90 por R$ 149,90" / "de 50 a 39,90"
		name:    "from_to",
		pattern: regexp.MustCompile(`(?i)de\s*(?:r\$\s*)?` + amountPattern + `\s*(?:por|a)\s*(?:r\$\s*)?` + amountPattern),
		group:   2,
	},
	{
		// "por R$ 39,90", "à vista por 39,90"
		name:    "for_amount",
		pattern: regexp.MustCompile(`(?i)\bpor\s*(?:r\$\s*)?` + amountPattern),
		group:   1,
	},
	{
		// product-schema markup embedded in the page
		name:    "schema_price",
		pattern: regexp.MustCompile(`(?i)"price"\s*:\s*"([0-9]+(?:[.,][0-9]{1,2})?)"`),
		group:   1,
	},
	{
		name:    "schema_low_price",
		pattern: regexp.MustCompile(`(?i)"lowPrice"\s*:\s*"([0-9]+(?:[.,][0-9]{1,2})?)"`),
		group:   1,
	},
	{
		name:    "schema_high_price",
		pattern: regexp.MustCompile(`(?i)"highPrice"\s*:\s*"([0-9]+(?:[.,][0-9]{1,2})?)"`),
		group:   1,
	},
	{
		// currency-symbol-prefixed Brazilian amount
		name:    "symbol_amount",
		pattern: regexp.MustCompile(`(?i)R\$\s*([0-9]{1,3}(?:\.[0-9]{3})*,[0-9]{2})`),
		group:   1,
	},
	{
		// bare Brazilian amount
		name:    "bare_br_amount",
		pattern: regexp.MustCompile(`([0-9]{1,3}(?:\.[0-9]{3})*,[0-9]{2})`),
		group:   1,
	},
	{
		// bare English decimal amount, last resort
		name:    "bare_en_amount",
		pattern: regexp.MustCompile(`([0-9]+(?:\.[0-9]{2}))\b`),
		group:   1,
	},
}

// ExtractPrice runs the strategy cascade over page text and returns the
// first accepted amount. Ties are broken by strategy priority, not by
// position in the text.
func ExtractPrice(text string) (float64, bool) {
	if text == "" {
		return 0, false
	}

	for _, s := range strategies {
		if v, ok := s.pick(text); ok {
			return v, true
		}
	}
	return 0, false
}

// pick scans all matches of one strategy left to right and returns the first
// amount inside the accepted window.
func (s strategy) pick(text string) (float64, bool) {
	for _, match := range s.pattern.FindAllStringSubmatch(text, -1) {
		if s.group >= len(match) {
			continue
		}
		parsed, ok := price.Parse(match[s.group])
		if ok && parsed > minAcceptedPrice && parsed < maxAcceptedPrice {
			return parsed, true
		}
	}
	return 0, false
}
