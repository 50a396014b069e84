// Package price converts free-form numeric strings into canonical
// two-decimal amounts. Brazilian formatting ("1.234,56") takes precedence
// over English formatting ("1,234.56").
package price

import (
	"math"
	"strconv"
	"strings"
)

// Parse converts a free-form numeric string into an amount rounded to two
// decimal places. It strips every character except digits, comma, dot and
// minus, then tries the Brazilian convention (dot thousands, comma decimal)
// followed by the English convention (comma thousands). Returns false when
// neither convention yields a finite value >= 0.
func Parse(text string) (float64, bool) {
	only := stripNonNumeric(strings.TrimSpace(text))
	if only == "" {
		return 0, false
	}

	// Brazilian convention: drop thousands dots, first comma is the decimal.
	br := strings.Replace(strings.ReplaceAll(only, ".", ""), ",", ".", 1)
	if v, ok := parseFinite(br); ok && v >= 0 {
		return Round(v), true
	}

	// English convention: drop thousands commas.
	en := strings.ReplaceAll(only, ",", "")
	if v, ok := parseFinite(en); ok && v >= 0 {
		return Round(v), true
	}

	return 0, false
}

// Round rounds an amount to two decimal places, half away from zero.
func Round(v float64) float64 {
	return math.Round(v*100) / 100
}

// Format renders an amount with exactly two decimal places.
func Format(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func parseFinite(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func stripNonNumeric(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
