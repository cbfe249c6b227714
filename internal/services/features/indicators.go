package features

import (
	"gonum.org/v1/gonum/stat"

	"RLSignal/internal/domain/models"
)

const (
	RSIPeriod       = 14
	MACDFast        = 12
	MACDSlow        = 26
	MACDSignalSpan  = 9
	BollingerPeriod = 20
	BollingerWidth  = 2.0
	VolumePeriod    = 20

	// Epsilon keeps ratios finite when a denominator is zero.
	Epsilon = 1e-10
)

// Series holds the per-row indicators of a candle series. Every slice has
// the same length as the input and rows without enough history are zero.
type Series struct {
	Close       []float64
	High        []float64
	Low         []float64
	PriceChange []float64
	RSI         []float64
	MACD        []float64
	MACDSignal  []float64
	BBPosition  []float64
	VolumeRatio []float64
}

// Len returns the number of rows.
func (s Series) Len() int { return len(s.Close) }

// Compute precomputes all indicators over the candle series.
func Compute(candles []models.Candle) Series {
	n := len(candles)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	vols := make([]float64, n)
	for i, c := range candles {
		closes[i], highs[i], lows[i], vols[i] = c.Close, c.High, c.Low, c.Volume
	}
	macd, signal := MACD(closes, MACDFast, MACDSlow, MACDSignalSpan)
	return Series{
		Close:       closes,
		High:        highs,
		Low:         lows,
		PriceChange: PctChange(closes),
		RSI:         RSI(closes, RSIPeriod),
		MACD:        macd,
		MACDSignal:  signal,
		BBPosition:  BollingerPosition(closes, BollingerPeriod, BollingerWidth),
		VolumeRatio: VolumeRatio(vols, VolumePeriod),
	}
}

// PctChange returns c[i]/c[i-1]-1, zero for the first row.
func PctChange(closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		out[i] = closes[i]/closes[i-1] - 1
	}
	return out
}

// RSI computes the relative strength index with simple rolling means of
// gains and losses. The first defined value is at index period-1.
func RSI(closes []float64, period int) []float64 {
	n := len(closes)
	out := make([]float64, n)
	if period <= 0 || n < period {
		return out
	}
	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains[i] = d
		} else if d < 0 {
			losses[i] = -d
		}
	}
	var g, l float64
	for i := 0; i < n; i++ {
		g += gains[i]
		l += losses[i]
		if i >= period {
			g -= gains[i-period]
			l -= losses[i-period]
		}
		if i < period-1 {
			continue
		}
		rs := (g / float64(period)) / (l/float64(period) + Epsilon)
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// EWM computes an exponentially weighted mean with span-derived decay,
// normalizing by the sum of weights so early rows are not biased to zero.
func EWM(data []float64, span int) []float64 {
	out := make([]float64, len(data))
	if span <= 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1.0)
	decay := 1 - alpha
	var num, den float64
	for i, x := range data {
		num = x + decay*num
		den = 1 + decay*den
		out[i] = num / den
	}
	return out
}

// MACD returns the fast-minus-slow EWM line and its signal line.
func MACD(closes []float64, fast, slow, signal int) (macd, sig []float64) {
	f := EWM(closes, fast)
	s := EWM(closes, slow)
	macd = make([]float64, len(closes))
	for i := range closes {
		macd[i] = f[i] - s[i]
	}
	return macd, EWM(macd, signal)
}

// BollingerPosition returns where the close sits inside the bands,
// 0 at the lower band and 1 at the upper band. Uses sample deviation.
func BollingerPosition(closes []float64, period int, width float64) []float64 {
	n := len(closes)
	out := make([]float64, n)
	if period <= 1 || n < period {
		return out
	}
	for i := period - 1; i < n; i++ {
		ma, std := stat.MeanStdDev(closes[i-period+1:i+1], nil)
		upper := ma + width*std
		lower := ma - width*std
		out[i] = (closes[i] - lower) / (upper - lower + Epsilon)
	}
	return out
}

// VolumeRatio divides each volume by its trailing rolling mean.
func VolumeRatio(vols []float64, period int) []float64 {
	n := len(vols)
	out := make([]float64, n)
	if period <= 0 || n < period {
		return out
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += vols[i]
		if i >= period {
			sum -= vols[i-period]
		}
		if i < period-1 {
			continue
		}
		out[i] = vols[i] / (sum/float64(period) + Epsilon)
	}
	return out
}
