package indicator

import "quoteflow/models"

// DefaultFundFlow is returned when there are fewer than two bars of history.
var DefaultFundFlow = models.FundFlowEstimate{
	MainNetInflow:     50_000_000,
	LargeOrderInflow:  25_000_000,
	MediumOrderInflow: 15_000_000,
	SmallOrderInflow:  10_000_000,
	TotalInflow:       100_000_000,
}

const baseInflow = 10_000_000

// EstimateFundFlow scales a base inflow by today's volume against the
// historical average, boosted 1.5x on up days and cut to 0.8x otherwise.
// It is an estimate, not observed order flow.
func EstimateFundFlow(volume int64, changePercent float64, history []models.KlineBar) models.FundFlowEstimate {
	if len(history) < 2 {
		return DefaultFundFlow
	}

	var total float64
	for _, b := range history {
		total += float64(b.Volume)
	}
	avg := total / float64(len(history))
	ratio := 1.0
	if avg > 0 {
		ratio = float64(volume) / avg
	}

	multiplier := 0.8
	if changePercent > 0 {
		multiplier = 1.5
	}

	base := baseInflow * ratio * multiplier
	est := models.FundFlowEstimate{
		MainNetInflow:     base * 0.5,
		LargeOrderInflow:  base * 0.25,
		MediumOrderInflow: base * 0.15,
		SmallOrderInflow:  base * 0.1,
	}
	est.TotalInflow = est.MainNetInflow + est.LargeOrderInflow + est.MediumOrderInflow + est.SmallOrderInflow
	return est
}

// FlowScore condenses an estimate into a single number for ranking.
func FlowScore(est models.FundFlowEstimate) float64 {
	return est.TotalInflow / 10_000_000
}
