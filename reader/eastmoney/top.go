package eastmoney

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quoteflow/internal/cache"
	"quoteflow/logger"
	"quoteflow/models"
)

const (
	clistToken  = "bd1d9ddb04089700cf9c27f6f7426281"
	clistFilter = "m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23"
	topWorkers  = 4
)

type candidate struct {
	code          string
	name          string
	price         float64
	change        float64
	changePercent float64
}

// TopFundFlow ranks the day's top gainers by their summed main fund flow over
// days and returns the first limit entries.
func (p *Provider) TopFundFlow(ctx context.Context, days, limit int) ([]models.TopFundFlowStock, error) {
	if err := validateDays(days); err != nil {
		return nil, err
	}
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	key := cache.Key("top_fund_flow", map[string]any{"days": days, "limit": limit})
	p.mu.Lock()
	cached, ok := p.top.Get(key)
	p.mu.Unlock()
	if ok {
		return slices.Clone(cached), nil
	}

	log := p.log.WithComponent(component).WithFields(logger.Fields{"days": days, "limit": limit})
	start := time.Now()

	candidates, err := p.candidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("top fund flow: %w", err)
	}
	if n := p.cfg.AnalyzedSymbols; n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}

	results := make([]*models.TopFundFlowStock, len(candidates))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < topWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = p.rankCandidate(ctx, candidates[i], days)
			}
		}()
	}
	for i := range candidates {
		select {
		case jobs <- i:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now().Format(time.RFC3339)
	ranked := make([]models.TopFundFlowStock, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		r.Days = days
		r.Timestamp = now
		ranked = append(ranked, *r)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].TotalMainFlow > ranked[j].TotalMainFlow
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	logger.LogPerformanceEntry(log, component, "top_fund_flow", time.Since(start), logger.Fields{
		"candidates": len(candidates),
		"ranked":     len(ranked),
	})

	ttl := p.cfg.TopFundFlowTTL
	p.mu.Lock()
	p.top.Put(key, ranked, ttl)
	p.mu.Unlock()
	return slices.Clone(ranked), nil
}

// rankCandidate returns nil when the candidate's fund flow cannot be fetched.
func (p *Provider) rankCandidate(ctx context.Context, c candidate, days int) *models.TopFundFlowStock {
	flow, err := p.FundFlow(ctx, c.code, days)
	if err != nil {
		if ctx.Err() == nil {
			p.log.WithComponent(component).WithError(err).WithFields(logger.Fields{"code": c.code}).Debug("skipping candidate")
		}
		return nil
	}
	total := decimal.Zero
	for _, d := range flow.Days {
		total = total.Add(decimal.NewFromFloat(d.MainFlow))
	}
	return &models.TopFundFlowStock{
		Code:          c.code,
		Name:          c.name,
		Price:         c.price,
		Change:        c.change,
		ChangePercent: c.changePercent,
		TotalMainFlow: total.Round(2).InexactFloat64(),
	}
}

// candidates lists the A-share gainers ordered by change percent. With fltt=2
// prices and percentages arrive as plain decimals.
func (p *Provider) candidates(ctx context.Context) ([]candidate, error) {
	pool := p.cfg.CandidatePool
	if pool <= 0 {
		pool = 100
	}
	params := url.Values{}
	params.Set("pn", "1")
	params.Set("pz", strconv.Itoa(pool))
	params.Set("po", "1")
	params.Set("np", "1")
	params.Set("ut", clistToken)
	params.Set("fltt", "2")
	params.Set("invt", "2")
	params.Set("fid", "f3")
	params.Set("fs", clistFilter)
	params.Set("fields", "f2,f3,f4,f12,f14")

	root, err := p.getJSON(ctx, p.cfg.APIURL, "/clist/get", params)
	if err != nil {
		return nil, err
	}
	diff := root.Search("data", "diff").Children()
	if len(diff) == 0 {
		return nil, ErrNoData
	}

	out := make([]candidate, 0, len(diff))
	for _, item := range diff {
		code := str(item, "f12")
		if validateCode(code) != nil {
			continue
		}
		out = append(out, candidate{
			code:          code,
			name:          str(item, "f14"),
			price:         num(item, "f2"),
			changePercent: num(item, "f3"),
			change:        num(item, "f4"),
		})
	}
	return out, nil
}
