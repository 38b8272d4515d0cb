// -----------------------------------------------------------------------
// Listings Parser - Results table discovery and row extraction
// -----------------------------------------------------------------------

package parser

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/koscout/internal/models"
)

const (
	// SchemaVersion identifies this table layout parser in product provenance.
	SchemaVersion = "table-v2"

	// DefaultSource is the provenance tag for products parsed from the site.
	DefaultSource = "listings"
)

// Per-product confidence deductions.
const (
	penaltyMissingField  = 0.2
	penaltyInvalidQuote  = 0.25
	penaltyMissingSpread = 0.1
)

var (
	// ErrNoTable means no results table was found in the document.
	ErrNoTable = errors.New("no results table found")

	// ErrNoIDColumn means the table has no identification column.
	ErrNoIDColumn = errors.New("no identification column in results table")
)

// tableSelectors are tried in order before the header-term fallback.
var tableSelectors = []string{
	"table#knockout-results",
	"table[data-product-table]",
	"table.knockout-list",
	"table.product-list",
	"div.product-list table",
	"table.searchresults",
	"table.table-products",
}

// headerKeyTerms identify a results table by its header words.
var headerKeyTerms = []string{"wkn", "isin", "hebel", "leverage", "ko", "barrier", "basispreis"}

// expiryLayouts are the date formats seen in the expiry column.
var expiryLayouts = []string{"02.01.2006", "02.01.06", "2006-01-02", "02/01/2006"}

// ParseResult is the outcome of parsing one document.
type ParseResult struct {
	Products   []*models.Product `json:"products"`
	Success    bool              `json:"success"`
	Confidence float64           `json:"confidence"`
	RowsParsed int               `json:"rows_parsed"`
	RowsFailed int               `json:"rows_failed"`
	Columns    ColumnMap         `json:"-"`
	Err        error             `json:"-"`
}

// Parser turns a listings document into products.
type Parser struct {
	format NumberFormat
	source string
	logger arbor.ILogger
	now    func() time.Time
}

// Option customises a Parser.
type Option func(*Parser)

// WithNumberFormat sets the separators (default GermanFormat).
func WithNumberFormat(format NumberFormat) Option {
	return func(p *Parser) {
		p.format = format
	}
}

// WithSource sets the provenance source tag.
func WithSource(source string) Option {
	return func(p *Parser) {
		p.source = source
	}
}

// WithClock overrides the fetch timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		p.now = now
	}
}

// New creates a parser.
func New(logger arbor.ILogger, opts ...Option) *Parser {
	p := &Parser{
		format: GermanFormat,
		source: DefaultSource,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse extracts products for direction from an HTML document. Structural
// failures (no table, no id column) return an unsuccessful result with zero
// confidence; row failures are counted and skipped.
func (p *Parser) Parse(html string, direction models.Direction, sourceURL string) *ParseResult {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return failed(fmt.Errorf("failed to parse HTML: %w", err))
	}

	table := p.findTable(doc)
	if table == nil {
		p.logger.Warn().Str("source_url", sourceURL).Str("direction", string(direction)).Msg("No results table found")
		return failed(ErrNoTable)
	}

	headerRow, headers := tableHeaders(table)
	columns := BuildColumnMap(headers)

	idColumn, ok := columns[FieldID]
	if !ok {
		idColumn, ok = columns[FieldISIN]
	}
	if !ok {
		p.logger.Warn().
			Str("source_url", sourceURL).
			Strs("headers", headers).
			Msg("Results table has no identification column")
		return failed(ErrNoIDColumn)
	}

	fetchedAt := p.now()
	result := &ParseResult{
		Products: make([]*models.Product, 0),
		Columns:  columns,
	}

	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if row.IsSelection(headerRow) {
			return
		}
		cells := row.ChildrenFiltered("td")
		if cells.Length() == 0 {
			return
		}
		// Separator and advertising rows span the whole table.
		if cells.Length() == 1 && len(headers) > 1 {
			return
		}

		product, err := p.parseRow(cells, columns, idColumn, direction, sourceURL, fetchedAt)
		if err != nil {
			result.RowsFailed++
			p.logger.Debug().Int("row", i).Err(err).Msg("Skipping unparseable row")
			return
		}
		result.RowsParsed++
		result.Products = append(result.Products, product)
	})

	result.Success = true
	if total := result.RowsParsed + result.RowsFailed; total > 0 {
		result.Confidence = float64(result.RowsParsed) / float64(total)
	}

	p.logger.Debug().
		Str("direction", string(direction)).
		Int("rows_parsed", result.RowsParsed).
		Int("rows_failed", result.RowsFailed).
		Int("columns_mapped", len(columns)).
		Float64("confidence", result.Confidence).
		Msg("Parsed results table")

	return result
}

func failed(err error) *ParseResult {
	return &ParseResult{
		Products:   make([]*models.Product, 0),
		Success:    false,
		Confidence: 0,
		Err:        err,
	}
}

// findTable tries the known selectors, then any table whose header carries
// a key term.
func (p *Parser) findTable(doc *goquery.Document) *goquery.Selection {
	for _, selector := range tableSelectors {
		if table := doc.Find(selector).First(); table.Length() > 0 {
			return table
		}
	}

	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(i int, table *goquery.Selection) bool {
		_, headers := tableHeaders(table)
		for _, h := range headers {
			tokens := headerTokens(h)
			for _, term := range headerKeyTerms {
				for _, tok := range tokens {
					if tok == term {
						found = table
						return false
					}
				}
			}
		}
		return true
	})
	return found
}

// tableHeaders returns the header row and its cell texts. The last thead row
// wins; otherwise the first row containing th cells; otherwise the first row.
func tableHeaders(table *goquery.Selection) (*goquery.Selection, []string) {
	row := table.Find("thead tr").Last()
	if row.Length() == 0 {
		table.Find("tr").EachWithBreak(func(i int, tr *goquery.Selection) bool {
			if tr.ChildrenFiltered("th").Length() > 0 {
				row = tr
				return false
			}
			return true
		})
	}
	if row.Length() == 0 {
		row = table.Find("tr").First()
	}

	var headers []string
	row.ChildrenFiltered("th, td").Each(func(i int, cell *goquery.Selection) {
		headers = append(headers, cellText(cell))
	})
	return row, headers
}

// parseRow builds one product. Panics from malformed markup are converted to
// row errors.
func (p *Parser) parseRow(cells *goquery.Selection, columns ColumnMap, idColumn int, direction models.Direction, sourceURL string, fetchedAt time.Time) (product *models.Product, err error) {
	defer func() {
		if r := recover(); r != nil {
			product = nil
			err = fmt.Errorf("row panic: %v", r)
		}
	}()

	text := func(field Field) string {
		col, ok := columns[field]
		if !ok || col >= cells.Length() {
			return ""
		}
		return cellText(cells.Eq(col))
	}
	number := func(field Field) *float64 {
		v, ok := p.format.Parse(text(field))
		if !ok {
			return nil
		}
		return models.Float(v)
	}

	if idColumn >= cells.Length() {
		return nil, fmt.Errorf("row has %d cells, id column is %d", cells.Length(), idColumn)
	}
	id := strings.ToUpper(strings.Join(strings.Fields(cellText(cells.Eq(idColumn))), ""))
	if id == "" || IsNullValue(id) {
		return nil, errors.New("empty identification cell")
	}

	product = &models.Product{
		ID:        id,
		Name:      text(FieldName),
		Direction: direction,
		Barrier:   number(FieldBarrier),
		Leverage:  number(FieldLeverage),
		Provenance: models.Provenance{
			Source:        p.source,
			SourceURL:     sourceURL,
			FetchedAt:     fetchedAt,
			SchemaVersion: SchemaVersion,
		},
	}

	if isin := strings.ToUpper(text(FieldISIN)); isin != "" && isin != id && !IsNullValue(isin) {
		product.SecondaryID = isin
	}
	if product.Name == "" {
		if col, ok := columns[FieldID]; ok && col < cells.Length() {
			product.Name, _ = cells.Eq(col).Find("a[title]").First().Attr("title")
		}
	}

	product.Issuer = p.parseIssuer(cells, columns, text(FieldIssuer))

	if raw := text(FieldRatio); raw != "" {
		if v, ok := p.format.parseRatio(raw); ok {
			product.Ratio = models.Float(v)
		}
	}
	product.Expiry = parseExpiry(text(FieldExpiry))

	product.Quote = models.Quote{
		Bid:       number(FieldBid),
		Ask:       number(FieldAsk),
		SpreadPct: number(FieldSpread),
		AsOf:      fetchedAt,
	}
	product.Quote.Missing = product.Quote.Bid == nil && product.Quote.Ask == nil
	if product.Quote.SpreadPct == nil {
		product.Quote.SpreadPct = product.Quote.ComputeSpreadPct()
	}

	product.Underlying = models.UnderlyingSnapshot{
		Name:   text(FieldUnderlying),
		AsOf:   fetchedAt,
		Source: p.source,
	}
	product.DistanceToBarrierPct = number(FieldDistance)

	product.Provenance.ParserConfidence = productConfidence(product)
	return product, nil
}

// parseIssuer reads the issuer name and the numeric id carried in a
// data-issuer-id attribute on the cell or one of its children.
func (p *Parser) parseIssuer(cells *goquery.Selection, columns ColumnMap, name string) models.Issuer {
	issuer := models.Issuer{Name: name}
	col, ok := columns[FieldIssuer]
	if !ok || col >= cells.Length() {
		return issuer
	}
	cell := cells.Eq(col)
	raw, exists := cell.Attr("data-issuer-id")
	if !exists {
		raw, exists = cell.Find("[data-issuer-id]").First().Attr("data-issuer-id")
	}
	if exists {
		if id, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			issuer.ID = &id
		}
	}
	if issuer.Name == "" {
		issuer.Name, _ = cell.Find("img[alt]").First().Attr("alt")
	}
	return issuer
}

// productConfidence deducts fixed penalties for missing mandatory fields, an
// invalid quote and a missing spread.
func productConfidence(product *models.Product) float64 {
	confidence := 1.0
	if product.Leverage == nil {
		confidence -= penaltyMissingField
	}
	if product.Barrier == nil {
		confidence -= penaltyMissingField
	}
	if product.Issuer.Name == "" && product.Issuer.ID == nil {
		confidence -= penaltyMissingField
	}
	if !product.Quote.IsValid() {
		confidence -= penaltyInvalidQuote
	}
	if product.Quote.SpreadPct == nil {
		confidence -= penaltyMissingSpread
	}
	return math.Max(0, math.Round(confidence*1000)/1000)
}

func parseExpiry(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" || IsNullValue(raw) {
		return nil
	}
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	// "Open End" and similar
	return nil
}

// cellText returns whitespace-collapsed cell text.
func cellText(cell *goquery.Selection) string {
	return strings.Join(strings.Fields(cell.Text()), " ")
}
