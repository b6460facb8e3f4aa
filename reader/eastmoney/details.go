package eastmoney

import (
	"context"
	"fmt"

	"quoteflow/internal/indicator"
	"quoteflow/logger"
	"quoteflow/models"
)

// DetailsHistoryDays is the history window used for indicators.
const DetailsHistoryDays = 30

// Details combines a realtime quote with indicators, a fund-flow estimate and
// a short analysis derived from recent history. When history is unavailable the
// indicators stay neutral and the estimate uses fixed defaults.
func (p *Provider) Details(ctx context.Context, q models.Quote) (models.StockDetails, error) {
	if err := validateCode(q.Symbol); err != nil {
		return models.StockDetails{}, err
	}
	bars, err := p.History(ctx, q.Symbol, DetailsHistoryDays)
	if err != nil {
		if ctx.Err() != nil {
			return models.StockDetails{}, fmt.Errorf("details %s: %w", q.Symbol, ctx.Err())
		}
		p.log.WithComponent(component).WithError(err).WithFields(logger.Fields{"code": q.Symbol}).Warn("history unavailable, using neutral indicators")
		bars = nil
	}
	return BuildDetails(q, bars), nil
}

// BuildDetails is the pure part of Details.
func BuildDetails(q models.Quote, bars []models.KlineBar) models.StockDetails {
	ind := indicator.Compute(bars)
	est := indicator.EstimateFundFlow(q.Volume, q.ChangePercent, bars)
	analysis, rec := indicator.Analyze(q.ChangePercent, ind)
	return models.StockDetails{
		Quote:          q,
		FundFlow:       est,
		FundFlowScore:  indicator.FlowScore(est),
		Indicators:     ind,
		Analysis:       analysis,
		Recommendation: rec,
		HistoryDays:    len(bars),
	}
}
