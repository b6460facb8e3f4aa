package indicator

import (
	"math"
	"testing"

	"quoteflow/models"
)

func bars(closes []float64, volumes []int64) []models.KlineBar {
	out := make([]models.KlineBar, len(closes))
	for i, c := range closes {
		out[i] = models.KlineBar{Close: c}
		if i < len(volumes) {
			out[i].Volume = volumes[i]
		}
	}
	return out
}

func TestComputeNeutralWithShortHistory(t *testing.T) {
	if got := Compute(bars([]float64{1, 2, 3, 4}, nil)); got != Neutral {
		t.Fatalf("expected neutral indicators, got %+v", got)
	}
}

func TestRSI(t *testing.T) {
	if got := RSI([]float64{1, 2, 3, 4, 5}); got != 100 {
		t.Fatalf("rising series RSI = %v", got)
	}
	// gains 2, 2 losses 1, 1 -> rs 2 -> 66.67
	got := RSI([]float64{10, 12, 11, 13, 12})
	if math.Abs(got-200.0/3) > 1e-9 {
		t.Fatalf("RSI = %v", got)
	}
}

func TestMACD(t *testing.T) {
	if got := MACD([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9}); got != 0 {
		t.Fatalf("MACD with 9 bars = %v", got)
	}
	closes := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	// mean(6..10)=8, mean(1..10)=5.5
	if got := MACD(closes); math.Abs(got-2.5) > 1e-9 {
		t.Fatalf("MACD = %v", got)
	}
}

func TestBollingerPosition(t *testing.T) {
	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 10
	}
	if got := BollingerPosition(flat); got != 50 {
		t.Fatalf("flat band = %v", got)
	}
	if got := BollingerPosition(flat[:19]); got != 50 {
		t.Fatalf("short history = %v", got)
	}

	rising := make([]float64, 25)
	for i := range rising {
		rising[i] = float64(i)
	}
	got := BollingerPosition(rising)
	if got <= 50 || got > 100 {
		t.Fatalf("rising series should sit in the upper half, got %v", got)
	}
}

func TestVolumeRatio(t *testing.T) {
	if got := VolumeRatio([]float64{100, 100, 100, 100, 200}); math.Abs(got-200.0/120) > 1e-9 {
		t.Fatalf("VolumeRatio = %v", got)
	}
	if got := VolumeRatio([]float64{0, 0}); got != 1 {
		t.Fatalf("zero volume ratio = %v", got)
	}
}

func TestComputeRounds(t *testing.T) {
	got := Compute(bars([]float64{10, 12, 11, 13, 12}, []int64{100, 100, 100, 100, 200}))
	if got.RSI != 66.67 || got.VolumeRatio != 1.67 || got.MACD != 0 || got.BollingerPosition != 50 {
		t.Fatalf("unexpected indicators: %+v", got)
	}
}

func TestAnalyze(t *testing.T) {
	cases := []struct {
		change float64
		ind    models.Indicators
		want   string
	}{
		{0, models.Indicators{RSI: 80}, RecommendCaution},
		{0, models.Indicators{RSI: 20}, RecommendWatch},
		{1, models.Indicators{RSI: 50, MACD: 0.5}, RecommendWatch},
		{-1, models.Indicators{RSI: 50, MACD: -0.5}, RecommendWait},
		{1, models.Indicators{RSI: 50, MACD: -0.5}, RecommendWait},
	}
	for _, c := range cases {
		analysis, rec := Analyze(c.change, c.ind)
		if rec != c.want || analysis == "" {
			t.Errorf("Analyze(%v, %+v) = %q, %q", c.change, c.ind, analysis, rec)
		}
	}
}

func TestDescribeFlow(t *testing.T) {
	if DescribeFlow(6) == DescribeFlow(-6) {
		t.Fatalf("inflow and outflow must differ")
	}
	if DescribeFlow(0.5) != "slight inflow, steady" {
		t.Fatalf("unexpected description %q", DescribeFlow(0.5))
	}
}

func TestEstimateFundFlow(t *testing.T) {
	if got := EstimateFundFlow(100, 1, nil); got != DefaultFundFlow {
		t.Fatalf("expected default estimate, got %+v", got)
	}

	history := bars([]float64{1, 1}, []int64{100, 300})
	up := EstimateFundFlow(400, 1, history)
	// ratio 2, multiplier 1.5 -> base 30M
	if math.Abs(up.TotalInflow-30_000_000) > 1e-6 || math.Abs(up.MainNetInflow-15_000_000) > 1e-6 {
		t.Fatalf("unexpected up-day estimate: %+v", up)
	}
	down := EstimateFundFlow(400, -1, history)
	if math.Abs(down.TotalInflow-16_000_000) > 1e-6 {
		t.Fatalf("unexpected down-day estimate: %+v", down)
	}
	if math.Abs(FlowScore(up)-3) > 1e-9 {
		t.Fatalf("FlowScore = %v", FlowScore(up))
	}
}
