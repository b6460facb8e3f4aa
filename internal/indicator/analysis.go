package indicator

import "quoteflow/models"

const (
	RecommendCaution = "hold with caution"
	RecommendWatch   = "worth watching"
	RecommendWait    = "wait and see"
)

// Analyze turns indicators and the day's change into a one line reading and
// a recommendation.
func Analyze(changePercent float64, ind models.Indicators) (analysis, recommendation string) {
	switch {
	case ind.RSI > 70:
		return "overbought, a short-term pullback is possible", RecommendCaution
	case ind.RSI < 30:
		return "oversold, a short-term rebound is possible", RecommendWatch
	case ind.MACD > 0 && changePercent > 0:
		return "indicators strengthening, trend improving", RecommendWatch
	case ind.MACD < 0 && changePercent < 0:
		return "indicators weakening, trend pointing down", RecommendWait
	default:
		return "indicators flat, waiting for a breakout", RecommendWait
	}
}

// DescribeFlow summarises money flow from the day's change percent.
func DescribeFlow(changePercent float64) string {
	switch {
	case changePercent > 5:
		return "strong inflow, very active"
	case changePercent > 2:
		return "inflow, performing well"
	case changePercent > 0:
		return "slight inflow, steady"
	case changePercent > -2:
		return "slight outflow, soft"
	case changePercent > -5:
		return "clear outflow, weak"
	default:
		return "heavy outflow, very weak"
	}
}
