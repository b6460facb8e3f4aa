package eastmoney

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Jeffail/gabs/v2"

	"quoteflow/models"
)

// number reads a numeric field. Eastmoney sends "-" for suspended securities,
// which reads as absent.
func number(c *gabs.Container, key string) (float64, bool) {
	switch v := c.S(key).Data().(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func num(c *gabs.Container, key string) float64 {
	v, _ := number(c, key)
	return v
}

func str(c *gabs.Container, key string) string {
	switch v := c.S(key).Data().(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func klines(root *gabs.Container) []string {
	var out []string
	for _, child := range root.Search("data", "klines").Children() {
		if line, ok := child.Data().(string); ok && line != "" {
			out = append(out, line)
		}
	}
	return out
}

func parseFloats(parts []string) ([]float64, bool) {
	out := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

// parseFlowLine reads "date,main,small,medium,large,super,...", values in CNY.
func parseFlowLine(line string) (models.FundFlowDay, bool) {
	parts := strings.Split(line, ",")
	if len(parts) < 6 {
		return models.FundFlowDay{}, false
	}
	v, ok := parseFloats(parts[1:6])
	if !ok {
		return models.FundFlowDay{}, false
	}
	return models.FundFlowDay{
		Date:           parts[0],
		MainFlow:       v[0] / 10000,
		SmallFlow:      v[1] / 10000,
		MediumFlow:     v[2] / 10000,
		LargeFlow:      v[3] / 10000,
		SuperLargeFlow: v[4] / 10000,
	}, true
}

// parseBarLine reads "date,open,close,high,low,volume,amount,amplitude,pct,change,turnover".
func parseBarLine(line string) (models.KlineBar, bool) {
	parts := strings.Split(line, ",")
	if len(parts) < 7 {
		return models.KlineBar{}, false
	}
	v, ok := parseFloats(parts[1:7])
	if !ok {
		return models.KlineBar{}, false
	}
	bar := models.KlineBar{
		Date:   parts[0],
		Open:   v[0],
		Close:  v[1],
		High:   v[2],
		Low:    v[3],
		Volume: int64(v[4]),
		Amount: v[5],
	}
	if len(parts) > 8 {
		bar.ChangePercent, _ = strconv.ParseFloat(parts[8], 64)
	}
	if len(parts) > 10 {
		bar.Turnover, _ = strconv.ParseFloat(parts[10], 64)
	}
	return bar, true
}
