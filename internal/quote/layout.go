package quote

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Layout maps Quote fields to offsets in the ~ separated payload.
// An offset of -1 means the layout does not carry that field.
type Layout struct {
	Name          string  `yaml:"name"`
	MinFields     int     `yaml:"min_fields"`
	Status        int     `yaml:"status"`
	StockName     int     `yaml:"stock_name"`
	Symbol        int     `yaml:"symbol"`
	Current       int     `yaml:"current"`
	PreviousClose int     `yaml:"previous_close"`
	Open          int     `yaml:"open"`
	High          int     `yaml:"high"`
	Low           int     `yaml:"low"`
	Volume        int     `yaml:"volume"`
	Amount        int     `yaml:"amount"`
	AmountScale   float64 `yaml:"amount_scale"`
	Time          int     `yaml:"time"`
	Change        int     `yaml:"change"`
	ChangePercent int     `yaml:"change_percent"`
}

const (
	LayoutLegacy = "legacy"
	LayoutV3     = "v3"
	LayoutFinal  = "final"
)

// DefaultLayouts returns the built-in layouts, highest threshold first.
func DefaultLayouts() []Layout {
	return []Layout{
		{
			Name: LayoutFinal, MinFields: 33,
			Status: 0, StockName: 1, Symbol: 2,
			Current: 3, PreviousClose: 4, Open: 5,
			High: 33, Low: 34,
			Volume: 6, Amount: 37, AmountScale: 10000,
			Time: 30, Change: 31, ChangePercent: 32,
		},
		{
			Name: LayoutV3, MinFields: 32,
			Status: -1, StockName: 0, Symbol: 1,
			Current: 2, PreviousClose: 3, Open: 4,
			High: 5, Low: 6,
			Volume: 7, Amount: 8, AmountScale: 1,
			Time: 9, Change: 30, ChangePercent: 31,
		},
		{
			Name: LayoutLegacy, MinFields: 13,
			Status: 0, StockName: 1, Symbol: 2,
			Current: 3, PreviousClose: 4, Open: 5,
			High: 6, Low: 7,
			Volume: 8, Amount: 9, AmountScale: 1,
			Time: 10, Change: 11, ChangePercent: 12,
		},
	}
}

// UnmarshalYAML treats offsets missing from the document as absent (-1)
// rather than as field 0.
func (l *Layout) UnmarshalYAML(value *yaml.Node) error {
	type plain Layout
	p := plain{
		Status: -1, StockName: -1, Symbol: -1,
		Current: -1, PreviousClose: -1, Open: -1,
		High: -1, Low: -1, Volume: -1, Amount: -1,
		AmountScale: 1, Time: -1, Change: -1, ChangePercent: -1,
	}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*l = Layout(p)
	return nil
}

func (l Layout) offsets() map[string]int {
	return map[string]int{
		"status":         l.Status,
		"stock_name":     l.StockName,
		"symbol":         l.Symbol,
		"current":        l.Current,
		"previous_close": l.PreviousClose,
		"open":           l.Open,
		"high":           l.High,
		"low":            l.Low,
		"volume":         l.Volume,
		"amount":         l.Amount,
		"time":           l.Time,
		"change":         l.Change,
		"change_percent": l.ChangePercent,
	}
}

// Validate checks that the layout can be used by a Parser.
func (l Layout) Validate() error {
	if l.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidLayout)
	}
	if l.MinFields < 1 {
		return fmt.Errorf("%w: %s: min_fields must be positive", ErrInvalidLayout, l.Name)
	}
	if l.AmountScale < 0 {
		return fmt.Errorf("%w: %s: amount_scale must not be negative", ErrInvalidLayout, l.Name)
	}
	for field, off := range l.offsets() {
		if off < -1 {
			return fmt.Errorf("%w: %s: offset %s=%d", ErrInvalidLayout, l.Name, field, off)
		}
	}
	if l.Current < 0 || l.PreviousClose < 0 {
		return fmt.Errorf("%w: %s: current and previous_close offsets are required", ErrInvalidLayout, l.Name)
	}
	return nil
}

// sortLayouts orders layouts by descending MinFields and rejects duplicates.
func sortLayouts(layouts []Layout) ([]Layout, error) {
	out := make([]Layout, len(layouts))
	copy(out, layouts)
	sort.SliceStable(out, func(i, j int) bool { return out[i].MinFields > out[j].MinFields })

	seen := make(map[string]bool, len(out))
	for i, l := range out {
		if err := l.Validate(); err != nil {
			return nil, err
		}
		if seen[l.Name] {
			return nil, fmt.Errorf("%w: duplicate layout %q", ErrInvalidLayout, l.Name)
		}
		seen[l.Name] = true
		if i > 0 && out[i-1].MinFields == l.MinFields {
			return nil, fmt.Errorf("%w: %s and %s share min_fields %d", ErrInvalidLayout, out[i-1].Name, l.Name, l.MinFields)
		}
	}
	return out, nil
}
