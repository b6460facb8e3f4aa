// Package indicator computes the lightweight technical indicators shown
// alongside a realtime quote. The formulas are deliberately simple: a
// whole-window RSI, a moving-average MACD and a 20 bar Bollinger position.
package indicator

import (
	"math"

	"quoteflow/models"
)

const minBars = 5

// Neutral is returned when there is not enough history.
var Neutral = models.Indicators{RSI: 50, MACD: 0, BollingerPosition: 50, VolumeRatio: 1}

// Compute derives all indicators from daily bars, oldest first.
func Compute(bars []models.KlineBar) models.Indicators {
	if len(bars) < minBars {
		return Neutral
	}
	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = float64(b.Volume)
	}
	return models.Indicators{
		RSI:               round2(RSI(closes)),
		MACD:              round2(MACD(closes)),
		BollingerPosition: round2(BollingerPosition(closes)),
		VolumeRatio:       round2(VolumeRatio(volumes)),
	}
}

// RSI averages every up move and every down move over the whole window.
// It is 100 when there are no down moves.
func RSI(closes []float64) float64 {
	var gains, losses []float64
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains = append(gains, d)
		} else {
			losses = append(losses, -d)
		}
	}
	avgLoss := mean(losses)
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+mean(gains)/avgLoss)
}

// MACD is the 5 bar mean minus the 10 bar mean, or 0 with fewer than 10 bars.
func MACD(closes []float64) float64 {
	if len(closes) < 10 {
		return 0
	}
	return mean(tail(closes, 5)) - mean(tail(closes, 10))
}

// BollingerPosition places the last close inside the 20 bar, 2 sigma band
// on a 0..100 scale. It is 50 with fewer than 20 bars or a flat band.
func BollingerPosition(closes []float64) float64 {
	if len(closes) < 20 {
		return 50
	}
	window := tail(closes, 20)
	ma := mean(window)
	var sq float64
	for _, c := range window {
		sq += (c - ma) * (c - ma)
	}
	std := math.Sqrt(sq / float64(len(window)))
	upper, lower := ma+2*std, ma-2*std
	if upper == lower {
		return 50
	}
	pos := (closes[len(closes)-1] - lower) / (upper - lower) * 100
	return math.Max(0, math.Min(100, pos))
}

// VolumeRatio is the last volume over the mean of the last five.
func VolumeRatio(volumes []float64) float64 {
	if len(volumes) == 0 {
		return 1
	}
	avg := mean(tail(volumes, 5))
	if avg <= 0 {
		return 1
	}
	return volumes[len(volumes)-1] / avg
}

func tail(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
