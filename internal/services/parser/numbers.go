package parser

import (
	"math"
	"strconv"
	"strings"
)

// NumberFormat describes the separators used by the listings site.
type NumberFormat struct {
	Decimal byte
	Group   byte
}

var (
	// GermanFormat: 1.234,56
	GermanFormat = NumberFormat{Decimal: ',', Group: '.'}
	// EnglishFormat: 1,234.56
	EnglishFormat = NumberFormat{Decimal: '.', Group: ','}
)

// nullValues are the cell spellings that mean "no value".
var nullValues = map[string]bool{
	"":      true,
	"-":     true,
	"--":    true,
	"–":     true,
	"—":     true,
	"n/a":   true,
	"n.a.":  true,
	"na":    true,
	"k.a.":  true,
	"k. a.": true,
	"none":  true,
	"null":  true,
}

// IsNullValue reports whether a cell text is one of the null spellings.
func IsNullValue(s string) bool {
	return nullValues[strings.ToLower(strings.TrimSpace(s))]
}

// Parse reads a locale-formatted number. Currency codes, symbols, percent
// signs and whitespace are ignored. The last separator is the decimal one
// when both kinds are present; a lone separator is a thousands separator only
// if every group after it has exactly three digits.
func (f NumberFormat) Parse(raw string) (float64, bool) {
	s := strings.TrimSpace(strings.ReplaceAll(raw, "\u00a0", " "))
	if IsNullValue(s) {
		return 0, false
	}

	var b strings.Builder
	negative := false
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '.' || r == ',':
			if digits == 0 && b.Len() == 0 {
				// ".5" style leading separator
				b.WriteByte('0')
			}
			b.WriteRune(r)
		case r == '-' || r == '−':
			if digits > 0 {
				return 0, false
			}
			negative = true
		case r == '+':
			if digits > 0 {
				return 0, false
			}
		default:
			// currency, percent, unit suffixes, whitespace, apostrophes
		}
	}
	if digits == 0 {
		return 0, false
	}

	num, ok := f.canonical(b.String())
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if negative {
		v = -v
	}
	return v, true
}

// canonical rewrites digits-and-separators into strconv form.
func (f NumberFormat) canonical(num string) (string, bool) {
	num = strings.TrimRight(num, ".,")
	if num == "" {
		return "", false
	}
	lastDot := strings.LastIndexByte(num, '.')
	lastComma := strings.LastIndexByte(num, ',')

	var decimal, group byte
	switch {
	case lastDot < 0 && lastComma < 0:
		return num, true
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			decimal, group = '.', ','
		} else {
			decimal, group = ',', '.'
		}
	default:
		sep := byte('.')
		if lastComma >= 0 {
			sep = ','
		}
		switch {
		case strings.Count(num, string(sep)) > 1:
			group = sep
		case sep == f.Decimal:
			decimal = sep
		case validGrouping(num, sep):
			group = sep
		default:
			decimal = sep
		}
	}

	intPart, fracPart := num, ""
	if decimal != 0 {
		i := strings.LastIndexByte(num, decimal)
		intPart, fracPart = num[:i], num[i+1:]
		if strings.IndexByte(intPart, decimal) >= 0 {
			return "", false
		}
	}
	if group != 0 && strings.IndexByte(intPart, group) >= 0 {
		if !validGrouping(intPart, group) {
			return "", false
		}
		intPart = strings.ReplaceAll(intPart, string(group), "")
	}
	if strings.ContainsAny(fracPart, ".,") {
		return "", false
	}
	if intPart == "" {
		intPart = "0"
	}
	if fracPart == "" {
		return intPart, true
	}
	return intPart + "." + fracPart, true
}

// validGrouping checks 1-3 leading digits followed by groups of exactly 3.
func validGrouping(s string, sep byte) bool {
	parts := strings.Split(s, string(sep))
	if len(parts) < 2 {
		return false
	}
	first := parts[0]
	if len(first) == 0 || len(first) > 3 || first == "0" {
		return false
	}
	for _, p := range parts[1:] {
		if len(p) != 3 {
			return false
		}
	}
	return true
}

// parseRatio reads a ratio given either as a number ("0,1") or as
// "products:underlying" ("10:1" means 0.1).
func (f NumberFormat) parseRatio(raw string) (float64, bool) {
	if left, right, found := strings.Cut(raw, ":"); found {
		l, okL := f.Parse(left)
		r, okR := f.Parse(right)
		if !okL || !okR || l == 0 {
			return 0, false
		}
		return r / l, true
	}
	return f.Parse(raw)
}
