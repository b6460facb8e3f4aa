package quote

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"quoteflow/logger"
	"quoteflow/models"
)

var assignmentPattern = regexp.MustCompile(`v_([a-z]+)(\d+)="([^"]*)"`)

// Parser decodes Tencent quote strings using an ordered set of layouts.
// A Parser holds no mutable state and may be shared between goroutines.
type Parser struct {
	layouts []Layout
	log     *logger.Entry
}

// Result is the outcome of parsing one ; separated segment.
type Result struct {
	Segment string
	Quote   models.Quote
	Err     error
}

// DefaultParser uses DefaultLayouts.
var DefaultParser = mustNewParser(DefaultLayouts()...)

func mustNewParser(layouts ...Layout) *Parser {
	p, err := NewParser(layouts...)
	if err != nil {
		panic(err)
	}
	return p
}

// NewParser builds a parser from the given layouts, falling back to
// DefaultLayouts when none are supplied.
func NewParser(layouts ...Layout) (*Parser, error) {
	if len(layouts) == 0 {
		layouts = DefaultLayouts()
	}
	sorted, err := sortLayouts(layouts)
	if err != nil {
		return nil, err
	}
	return &Parser{
		layouts: sorted,
		log:     logger.GetLogger().WithComponent("quote_parser"),
	}, nil
}

// Layouts returns a copy of the active layouts, highest threshold first.
func (p *Parser) Layouts() []Layout {
	out := make([]Layout, len(p.layouts))
	copy(out, p.layouts)
	return out
}

// MinFields is the smallest field count any layout accepts.
func (p *Parser) MinFields() int {
	return p.layouts[len(p.layouts)-1].MinFields
}

// Parse decodes every well-formed segment of a possibly multi-symbol response.
// Failed segments are dropped; the result is empty, never nil, on total failure.
func (p *Parser) Parse(raw string) []models.Quote {
	results := p.ParseAll(raw)
	quotes := make([]models.Quote, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		quotes = append(quotes, r.Quote)
	}
	return quotes
}

// ParseAll returns one Result per non-blank segment, successful or not.
func (p *Parser) ParseAll(raw string) []Result {
	segments := strings.Split(raw, ";")
	results := make([]Result, 0, len(segments))
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		q, err := p.ParseSegment(seg)
		results = append(results, Result{Segment: seg, Quote: q, Err: err})
	}
	return results
}

// ParseSegment decodes a single v_<market><code>="..." assignment.
func (p *Parser) ParseSegment(raw string) (models.Quote, error) {
	m := assignmentPattern.FindStringSubmatch(raw)
	if m == nil {
		return models.Quote{}, fmt.Errorf("%w: %s", ErrMalformedResponse, truncate(raw, 40))
	}
	market, symbol, payload := m[1], m[2], m[3]
	if !models.Market(market).Valid() || len(symbol) != 6 {
		return models.Quote{}, fmt.Errorf("%w: unsupported security %s%s", ErrMalformedResponse, market, symbol)
	}
	fields := strings.Split(payload, "~")

	layout, ok := p.selectLayout(len(fields))
	if !ok {
		return models.Quote{}, fmt.Errorf("%w: %s%s has %d fields, need at least %d",
			ErrInsufficientFields, market, symbol, len(fields), p.MinFields())
	}

	r := fieldReader{fields: fields, log: p.log, symbol: market + symbol}
	q := models.Quote{
		Market:        models.Market(market),
		Symbol:        symbol,
		Name:          r.str(layout.StockName),
		Status:        r.str(layout.Status),
		CurrentPrice:  r.float("current", layout.Current),
		PreviousClose: r.float("previous_close", layout.PreviousClose),
		OpenPrice:     r.float("open", layout.Open),
		DayHigh:       r.float("high", layout.High),
		DayLow:        r.float("low", layout.Low),
		Volume:        r.int("volume", layout.Volume),
		Timestamp:     r.str(layout.Time),
		Change:        r.float("change", layout.Change),
		ChangePercent: r.float("change_percent", layout.ChangePercent),
		Layout:        layout.Name,
	}

	scale := layout.AmountScale
	if scale == 0 {
		scale = 1
	}
	q.Amount = int64(math.Round(r.float("amount", layout.Amount) * scale))

	deriveChange(&q)
	return q, nil
}

func (p *Parser) selectLayout(n int) (Layout, bool) {
	for _, l := range p.layouts {
		if n >= l.MinFields {
			return l, true
		}
	}
	return Layout{}, false
}

// deriveChange fills a zero change or change percent from the prices.
// Non-zero provider values are kept.
func deriveChange(q *models.Quote) {
	if q.PreviousClose <= 0 {
		return
	}
	diff := q.CurrentPrice - q.PreviousClose
	if q.Change == 0 {
		q.Change = diff
	}
	if q.ChangePercent == 0 {
		q.ChangePercent = diff / q.PreviousClose * 100
	}
}

type fieldReader struct {
	fields []string
	log    *logger.Entry
	symbol string
}

func (r fieldReader) str(idx int) string {
	if idx < 0 || idx >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[idx])
}

func (r fieldReader) float(name string, idx int) float64 {
	s := r.str(idx)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		r.log.WithFields(logger.Fields{"symbol": r.symbol, "field": name, "raw": s}).Debug("field coerced to zero")
		return 0
	}
	return v
}

func (r fieldReader) int(name string, idx int) int64 {
	s := r.str(idx)
	if s == "" {
		return 0
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	return int64(r.float(name, idx))
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n]) + "..."
}

// Parse decodes raw with DefaultParser.
func Parse(raw string) []models.Quote {
	return DefaultParser.Parse(raw)
}

// ParseSegment decodes one segment with DefaultParser.
func ParseSegment(raw string) (models.Quote, error) {
	return DefaultParser.ParseSegment(raw)
}
