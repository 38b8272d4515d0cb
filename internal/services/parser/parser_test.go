package parser

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/koscout/internal/models"
)

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestParser() *Parser {
	return New(arbor.NewLogger(), WithClock(func() time.Time { return fixedNow }))
}

type column struct {
	header string
	cells  []string
}

// buildTable renders a results page from columns in the given order.
func buildTable(attrs string, columns []column) string {
	return "<html><body>" + tableHTML(attrs, columns) + "</body></html>"
}

func tableHTML(attrs string, columns []column) string {
	var b strings.Builder
	b.WriteString("<table " + attrs + "><thead><tr>")
	for _, c := range columns {
		b.WriteString("<th>" + c.header + "</th>")
	}
	b.WriteString("</tr></thead><tbody>")
	for row := 0; row < len(columns[0].cells); row++ {
		b.WriteString("<tr>")
		for _, c := range columns {
			b.WriteString("<td>" + c.cells[row] + "</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table>")
	return b.String()
}

func standardColumns() []column {
	return []column{
		{"WKN", []string{"AB1CDE", "FG2HIJ", "KL3MNO"}},
		{"Emittent", []string{"Bank A", "Bank B", "Bank A"}},
		{"Hebel", []string{"12,34", "5,10", "25,00"}},
		{"Spread in %", []string{"0,50 %", "1,20 %", "0,80 %"}},
		{"Geld", []string{"1,00", "2,50", "0,40"}},
		{"Brief", []string{"1,01", "2,53", "0,41"}},
		{"KO-Schwelle", []string{"15.000,00", "14.000,00", "16.500,00"}},
		{"Abstand zur KO-Schwelle in %", []string{"8,50", "15,00", "2,50"}},
		{"Basiswert", []string{"DAX", "DAX", "DAX"}},
		{"BV", []string{"0,01", "0,01", "0,01"}},
		{"Fälligkeit", []string{"Open End", "20.12.2027", "-"}},
	}
}

func TestParse_GermanTable(t *testing.T) {
	p := newTestParser()
	html := buildTable(`id="knockout-results"`, standardColumns())

	result := p.Parse(html, models.DirectionLong, "https://example.com/long")

	require.True(t, result.Success)
	require.NoError(t, result.Err)
	require.Len(t, result.Products, 3)
	assert.Equal(t, 3, result.RowsParsed)
	assert.Equal(t, 0, result.RowsFailed)
	assert.Equal(t, 1.0, result.Confidence)

	first := result.Products[0]
	assert.Equal(t, "AB1CDE", first.ID)
	assert.Equal(t, "Bank A", first.Issuer.Name)
	assert.Equal(t, models.DirectionLong, first.Direction)
	require.NotNil(t, first.Leverage)
	assert.InDelta(t, 12.34, *first.Leverage, 1e-9)
	require.NotNil(t, first.Quote.SpreadPct)
	assert.InDelta(t, 0.5, *first.Quote.SpreadPct, 1e-9)
	assert.InDelta(t, 1.0, *first.Quote.Bid, 1e-9)
	assert.InDelta(t, 1.01, *first.Quote.Ask, 1e-9)
	assert.True(t, first.Quote.IsValid())
	require.NotNil(t, first.Barrier)
	assert.InDelta(t, 15000, *first.Barrier, 1e-9)
	require.NotNil(t, first.DistanceToBarrierPct)
	assert.InDelta(t, 8.5, *first.DistanceToBarrierPct, 1e-9)
	assert.InDelta(t, 0.01, *first.Ratio, 1e-9)
	assert.Nil(t, first.Expiry)
	assert.Equal(t, "DAX", first.Underlying.Name)

	assert.Equal(t, SchemaVersion, first.Provenance.SchemaVersion)
	assert.Equal(t, "https://example.com/long", first.Provenance.SourceURL)
	assert.Equal(t, fixedNow, first.Provenance.FetchedAt)
	assert.Equal(t, 1.0, first.Provenance.ParserConfidence)

	second := result.Products[1]
	require.NotNil(t, second.Expiry)
	assert.Equal(t, time.Date(2027, 12, 20, 0, 0, 0, 0, time.UTC), *second.Expiry)
}

func TestParse_HeaderReorderingIsNameBased(t *testing.T) {
	p := newTestParser()

	original := standardColumns()
	swapped := standardColumns()
	swapped[2], swapped[3] = swapped[3], swapped[2]

	a := p.Parse(buildTable("", original), models.DirectionShort, "https://example.com/short")
	b := p.Parse(buildTable("", swapped), models.DirectionShort, "https://example.com/short")

	require.True(t, a.Success)
	require.True(t, b.Success)
	require.Len(t, b.Products, len(a.Products))
	for i := range a.Products {
		assert.Equal(t, a.Products[i], b.Products[i])
	}
	assert.NotEqual(t, a.Columns[FieldLeverage], b.Columns[FieldLeverage])
}

func TestParse_IssuerID(t *testing.T) {
	p := newTestParser()
	columns := standardColumns()
	columns[1].cells = []string{
		`<span data-issuer-id="7">Bank A</span>`,
		`<img alt="Bank B" data-issuer-id="9">`,
		"Bank A",
	}

	result := p.Parse(buildTable("", columns), models.DirectionLong, "u")
	require.Len(t, result.Products, 3)

	require.NotNil(t, result.Products[0].Issuer.ID)
	assert.Equal(t, 7, *result.Products[0].Issuer.ID)
	assert.Equal(t, "Bank A", result.Products[0].Issuer.Name)

	require.NotNil(t, result.Products[1].Issuer.ID)
	assert.Equal(t, 9, *result.Products[1].Issuer.ID)
	assert.Equal(t, "Bank B", result.Products[1].Issuer.Name)

	assert.Nil(t, result.Products[2].Issuer.ID)
}

func TestParse_NoTable(t *testing.T) {
	p := newTestParser()

	result := p.Parse("<html><body><p>Zu viele Anfragen</p></body></html>", models.DirectionLong, "u")

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, ErrNoTable)
	assert.Equal(t, 0.0, result.Confidence)
	assert.Empty(t, result.Products)
}

func TestParse_NoIDColumn(t *testing.T) {
	p := newTestParser()
	html := buildTable(`class="knockout-list"`, []column{
		{"Hebel", []string{"5,0"}},
		{"KO-Schwelle", []string{"100,0"}},
	})

	result := p.Parse(html, models.DirectionLong, "u")

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, ErrNoIDColumn)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestParse_ISINAsIdentification(t *testing.T) {
	p := newTestParser()
	html := buildTable("", []column{
		{"ISIN", []string{"de000ab1cde0"}},
		{"Hebel", []string{"5,0"}},
	})

	result := p.Parse(html, models.DirectionLong, "u")

	require.True(t, result.Success)
	require.Len(t, result.Products, 1)
	assert.Equal(t, "DE000AB1CDE0", result.Products[0].ID)
	assert.Empty(t, result.Products[0].SecondaryID)
}

func TestParse_RowFailuresLowerConfidence(t *testing.T) {
	p := newTestParser()
	columns := standardColumns()
	columns[0].cells[1] = "-"

	result := p.Parse(buildTable("", columns), models.DirectionLong, "u")

	require.True(t, result.Success)
	assert.Equal(t, 2, result.RowsParsed)
	assert.Equal(t, 1, result.RowsFailed)
	assert.InDelta(t, 2.0/3.0, result.Confidence, 1e-9)
	assert.Len(t, result.Products, 2)
}

func TestParse_SkipsSpanningRows(t *testing.T) {
	p := newTestParser()
	html := `<table id="knockout-results">
		<tr><th>WKN</th><th>Hebel</th></tr>
		<tr><td colspan="2">Anzeige</td></tr>
		<tr><td>AB1CDE</td><td>5,0</td></tr>
	</table>`

	result := p.Parse(html, models.DirectionLong, "u")

	require.True(t, result.Success)
	assert.Equal(t, 1, result.RowsParsed)
	assert.Equal(t, 0, result.RowsFailed)
}

func TestParse_ProductConfidencePenalties(t *testing.T) {
	p := newTestParser()
	html := buildTable("", []column{
		{"WKN", []string{"AB1CDE"}},
		{"Emittent", []string{"Bank A"}},
		{"Hebel", []string{"-"}},
		{"Geld", []string{"n/a"}},
		{"Brief", []string{"1,01"}},
		{"KO-Schwelle", []string{"100,00"}},
	})

	result := p.Parse(html, models.DirectionLong, "u")
	require.Len(t, result.Products, 1)

	product := result.Products[0]
	assert.Nil(t, product.Leverage)
	assert.False(t, product.Quote.IsValid())
	assert.Nil(t, product.Quote.SpreadPct)
	// 1 - 0.2 (leverage) - 0.25 (quote) - 0.1 (spread)
	assert.InDelta(t, 0.45, product.Provenance.ParserConfidence, 1e-9)
}

func TestParse_ComputesSpreadWhenColumnMissing(t *testing.T) {
	p := newTestParser()
	html := buildTable("", []column{
		{"WKN", []string{"AB1CDE"}},
		{"Geld", []string{"2,00"}},
		{"Brief", []string{"2,02"}},
	})

	result := p.Parse(html, models.DirectionLong, "u")
	require.Len(t, result.Products, 1)
	require.NotNil(t, result.Products[0].Quote.SpreadPct)
	assert.InDelta(t, 1.0, *result.Products[0].Quote.SpreadPct, 1e-9)
}

func TestParse_PrefersKnownSelectorOverFallback(t *testing.T) {
	p := newTestParser()
	decoy := tableHTML("", []column{{"WKN", []string{"DECOY1"}}})
	listing := tableHTML(`data-product-table="1"`, []column{{"WKN", []string{"REAL01"}}})
	html := fmt.Sprintf("<html><body><div>%s</div>%s</body></html>", decoy, listing)

	result := p.Parse(html, models.DirectionLong, "u")

	require.Len(t, result.Products, 1)
	assert.Equal(t, "REAL01", result.Products[0].ID)
}

func TestBuildColumnMap_PrefersSpecificHeader(t *testing.T) {
	columns := BuildColumnMap([]string{"WKN", "Hebel", "Hebel (Ask)", "Brief"})

	assert.Equal(t, 0, columns[FieldID])
	assert.Equal(t, 2, columns[FieldLeverage])
	assert.Equal(t, 3, columns[FieldAsk])
}

func TestBuildColumnMap_ColumnsClaimedOnce(t *testing.T) {
	columns := BuildColumnMap([]string{"WKN", "Hebel (Ask)"})

	assert.Equal(t, 1, columns[FieldLeverage])
	assert.False(t, columns.Has(FieldAsk))
}

func TestBuildColumnMap_DistanceAndBarrier(t *testing.T) {
	columns := BuildColumnMap([]string{"Abstand zur KO-Schwelle in %", "KO-Schwelle", "Symbol"})

	assert.Equal(t, 0, columns[FieldDistance])
	assert.Equal(t, 1, columns[FieldBarrier])
	assert.Equal(t, 2, columns[FieldID])
}

func TestBuildColumnMap_WholeWordMatching(t *testing.T) {
	columns := BuildColumnMap([]string{"Bid", "Ask", "Spread"})

	assert.False(t, columns.Has(FieldID), "id must not match inside bid")
	assert.Equal(t, 0, columns[FieldBid])
	assert.Equal(t, 1, columns[FieldAsk])
	assert.Equal(t, 2, columns[FieldSpread])
}
