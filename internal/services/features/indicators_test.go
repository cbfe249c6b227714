package features

import (
	"math"
	"testing"

	"RLSignal/internal/domain/models"
)

func closesOf(vals ...float64) []float64 { return vals }

func TestPctChange(t *testing.T) {
	got := PctChange(closesOf(100, 110, 99))
	if got[0] != 0 || math.Abs(got[1]-0.1) > 1e-12 || math.Abs(got[2]+0.1) > 1e-12 {
		t.Fatalf("unexpected %v", got)
	}
}

func TestRSIWarmupAndExtremes(t *testing.T) {
	up := make([]float64, 20)
	for i := range up {
		up[i] = float64(100 + i)
	}
	rsi := RSI(up, 14)
	for i := 0; i < 13; i++ {
		if rsi[i] != 0 {
			t.Fatalf("rsi[%d] should be zero during warmup, got %v", i, rsi[i])
		}
	}
	if rsi[19] < 99.99 {
		t.Fatalf("monotonic rise should saturate rsi, got %v", rsi[19])
	}

	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 50
	}
	if r := RSI(flat, 14)[19]; r != 0 {
		t.Fatalf("flat series rsi = %v", r)
	}
}

func TestEWMNormalizesEarlyRows(t *testing.T) {
	got := EWM(closesOf(10, 10, 10), 12)
	for i, v := range got {
		if math.Abs(v-10) > 1e-12 {
			t.Fatalf("ewm[%d] = %v", i, v)
		}
	}
	// span 1 tracks input exactly
	got = EWM(closesOf(1, 5, 3), 1)
	if got[2] != 3 {
		t.Fatalf("span 1 ewm = %v", got)
	}
}

func TestBollingerPositionMidband(t *testing.T) {
	c := make([]float64, 20)
	for i := range c {
		if i%2 == 0 {
			c[i] = 99
		} else {
			c[i] = 101
		}
	}
	c[19] = 100
	bb := BollingerPosition(c, 20, 2)
	if bb[18] != 0 {
		t.Fatalf("warmup row should be zero")
	}
	if bb[19] <= 0.4 || bb[19] >= 0.6 {
		t.Fatalf("close near mean should sit mid-band, got %v", bb[19])
	}
}

func TestBollingerPositionSampleDeviation(t *testing.T) {
	// mean 2, sample std 1: bands at 0 and 4 with width 2
	bb := BollingerPosition(closesOf(1, 2, 3), 3, 2)
	if want := 3.0 / 4.0; math.Abs(bb[2]-want) > 1e-6 {
		t.Fatalf("position = %v, want %v", bb[2], want)
	}
}

func TestComputeLengths(t *testing.T) {
	candles := make([]models.Candle, 30)
	for i := range candles {
		p := float64(100 + i)
		candles[i] = models.Candle{Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 10}
	}
	s := Compute(candles)
	if s.Len() != 30 || len(s.VolumeRatio) != 30 || len(s.MACDSignal) != 30 {
		t.Fatalf("unexpected lengths")
	}
	if math.Abs(s.VolumeRatio[25]-1) > 1e-9 {
		t.Fatalf("constant volume ratio = %v", s.VolumeRatio[25])
	}
	if s.VolumeRatio[18] != 0 {
		t.Fatalf("volume warmup not zero")
	}
}
