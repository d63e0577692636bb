package mine

import (
	"fmt"
	"math"
	"strings"
)

// coerceValue flattens an arbitrary context value into the string form used
// for antecedent grouping. Strings pass through untouched; every other type
// takes its default formatted representation. This is the only place the
// coercion happens, so distinct underlying types that format identically
// collapse into the same antecedent.
func coerceValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// describe renders the human-readable sentence for a rule. The exact shape is
// a contract surface consumed by renderers; percentages carry one decimal,
// lift carries two, and the antecedent value keeps its repr-style quoting.
func describe(key, value, action string, support, confidence, lift float64) string {
	return fmt.Sprintf("When %s=%s, agents perform '%s' with %.1f%% confidence (support=%.1f%%, lift=%.2f)",
		key, reprQuote(value), action, confidence*100, support*100, lift)
}

// reprQuote quotes an antecedent value for display: single quotes unless the
// value contains a single quote and no double quote, with the delimiter,
// backslashes, and control characters escaped.
func reprQuote(value string) string {
	quote := '\''
	if strings.ContainsRune(value, '\'') && !strings.ContainsRune(value, '"') {
		quote = '"'
	}
	var b strings.Builder
	b.Grow(len(value) + 2)
	b.WriteRune(quote)
	for _, r := range value {
		switch {
		case r == quote || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteRune(quote)
	return b.String()
}

// round6 rounds a stored score to six decimal digits. Rounding is a
// stored-value transformation: serialized output shows the rounded number.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
