package parser

import (
	"strings"
	"unicode"
)

// Field is a logical column of the results table.
type Field int

const (
	FieldID Field = iota
	FieldISIN
	FieldName
	FieldIssuer
	FieldLeverage
	FieldSpread
	FieldBid
	FieldAsk
	FieldDistance
	FieldBarrier
	FieldUnderlying
	FieldRatio
	FieldExpiry
)

var fieldNames = map[Field]string{
	FieldID:         "id",
	FieldISIN:       "isin",
	FieldName:       "name",
	FieldIssuer:     "issuer",
	FieldLeverage:   "leverage",
	FieldSpread:     "spread",
	FieldBid:        "bid",
	FieldAsk:        "ask",
	FieldDistance:   "distance",
	FieldBarrier:    "barrier",
	FieldUnderlying: "underlying",
	FieldRatio:      "ratio",
	FieldExpiry:     "expiry",
}

func (f Field) String() string {
	return fieldNames[f]
}

// claimOrder is the order in which fields pick their column. A column taken
// by an earlier field is not offered to later ones, so fields whose headers
// embed another field's words (the distance header names the barrier) go
// first.
var claimOrder = []Field{
	FieldID,
	FieldISIN,
	FieldName,
	FieldIssuer,
	FieldLeverage,
	FieldSpread,
	FieldBid,
	FieldAsk,
	FieldDistance,
	FieldBarrier,
	FieldUnderlying,
	FieldRatio,
	FieldExpiry,
}

// headerVariants lists accepted header texts per field, most specific first.
// Matching is on whole words, case-insensitive, punctuation ignored.
var headerVariants = map[Field][]string{
	FieldID:         {"wkn", "kennung", "symbol", "id"},
	FieldISIN:       {"isin"},
	FieldName:       {"produktname", "bezeichnung", "name", "produkt", "product"},
	FieldIssuer:     {"emittent", "issuer", "anbieter"},
	FieldLeverage:   {"hebel ask", "leverage ask", "hebel", "leverage", "omega"},
	FieldSpread:     {"spread in", "spread pct", "spread percent", "spread"},
	FieldBid:        {"geld", "geldkurs", "bid"},
	FieldAsk:        {"brief", "briefkurs", "ask"},
	FieldDistance:   {"abstand zur ko schwelle", "abstand ko", "ko abstand", "abstand", "distance"},
	FieldBarrier:    {"ko schwelle", "knock out schwelle", "ko barriere", "barriere", "knock out", "barrier", "ko"},
	FieldUnderlying: {"basiswert", "underlying", "basis"},
	FieldRatio:      {"bezugsverhältnis", "bv", "ratio"},
	FieldExpiry:     {"fälligkeit", "laufzeit", "verfall", "expiry", "maturity"},
}

// ColumnMap maps logical fields to column indices.
type ColumnMap map[Field]int

// Has reports whether field was mapped.
func (m ColumnMap) Has(field Field) bool {
	_, ok := m[field]
	return ok
}

// candidate is a header cell matched against one field.
type candidate struct {
	column       int
	variantIndex int
	exact        bool
	headerLen    int
}

// better ranks candidates: earlier variant, then exact over partial, then the
// shorter (more literal) header, then the leftmost column.
func (c candidate) better(o candidate) bool {
	if c.variantIndex != o.variantIndex {
		return c.variantIndex < o.variantIndex
	}
	if c.exact != o.exact {
		return c.exact
	}
	if c.headerLen != o.headerLen {
		return c.headerLen < o.headerLen
	}
	return c.column < o.column
}

// BuildColumnMap matches header texts against the variant table.
func BuildColumnMap(headers []string) ColumnMap {
	tokenized := make([][]string, len(headers))
	for i, h := range headers {
		tokenized[i] = headerTokens(h)
	}

	columns := make(ColumnMap)
	claimed := make(map[int]bool)

	for _, field := range claimOrder {
		var best *candidate
		for col, tokens := range tokenized {
			if claimed[col] || len(tokens) == 0 {
				continue
			}
			for vi, variant := range headerVariants[field] {
				exact, ok := matchTokens(tokens, headerTokens(variant))
				if !ok {
					continue
				}
				c := candidate{
					column:       col,
					variantIndex: vi,
					exact:        exact,
					headerLen:    len(strings.Join(tokens, " ")),
				}
				if best == nil || c.better(*best) {
					best = &c
				}
				break
			}
		}
		if best != nil {
			columns[field] = best.column
			claimed[best.column] = true
		}
	}
	return columns
}

// headerTokens lowercases text and splits it into words.
func headerTokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// matchTokens reports whether variant occurs as a contiguous word run in
// header, and whether it covers the whole header.
func matchTokens(header, variant []string) (exact bool, ok bool) {
	if len(variant) == 0 || len(variant) > len(header) {
		return false, false
	}
	for start := 0; start+len(variant) <= len(header); start++ {
		match := true
		for i, v := range variant {
			if header[start+i] != v {
				match = false
				break
			}
		}
		if match {
			return len(variant) == len(header), true
		}
	}
	return false, false
}
