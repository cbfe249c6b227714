package simulation

import (
	"errors"
	"math"
	"testing"

	"RLSignal/internal/domain/models"
)

func candlesFrom(closes ...float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 100}
	}
	return out
}

func rising(n int) []models.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	return candlesFrom(closes...)
}

func TestNewMarketEnvRejectsShortSeries(t *testing.T) {
	_, err := NewMarketEnv(rising(21))
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
	if _, err := NewMarketEnv(rising(22)); err != nil {
		t.Fatalf("22 rows should be enough: %v", err)
	}
}

func TestNewMarketEnvRejectsNonPositiveClose(t *testing.T) {
	c := rising(30)
	c[10].Close = 0
	if _, err := NewMarketEnv(c); !errors.Is(err, ErrInvalidSeries) {
		t.Fatalf("expected ErrInvalidSeries, got %v", err)
	}
}

func TestResetState(t *testing.T) {
	env, err := NewMarketEnv(rising(40))
	if err != nil {
		t.Fatalf("new env: %v", err)
	}
	obs := env.Reset(nil)
	info := env.Info()
	if info.Balance != 10000 || info.Position != 0 || info.Trades != 0 || info.TotalPnL != 0 {
		t.Fatalf("unexpected info after reset %+v", info)
	}
	if obs[5] != 0 {
		t.Fatalf("position feature = %v", obs[5])
	}
	want := float64(20)/40*2 - 1
	if math.Abs(obs[9]-want) > 1e-12 {
		t.Fatalf("time feature = %v, want %v", obs[9], want)
	}
}

func TestResetIgnoresSeed(t *testing.T) {
	env, err := NewMarketEnv(rising(40))
	if err != nil {
		t.Fatalf("new env: %v", err)
	}
	run := func(seed *int64) (Observation, float64) {
		obs := env.Reset(seed)
		for _, a := range []Action{Long, Hold, Short, Hold} {
			if _, err := env.Step(a); err != nil {
				t.Fatalf("step: %v", err)
			}
		}
		return obs, env.Info().TotalPnL
	}
	seed := int64(42)
	obsNil, pnlNil := run(nil)
	obsSeed, pnlSeed := run(&seed)
	if obsNil != obsSeed || pnlNil != pnlSeed {
		t.Fatalf("seeded reset diverged: %v/%v vs %v/%v", obsNil, pnlNil, obsSeed, pnlSeed)
	}
}

func TestHoldOnlyEpisodeHasNoTrades(t *testing.T) {
	env, err := NewMarketEnv(rising(30))
	if err != nil {
		t.Fatalf("new env: %v", err)
	}
	env.Reset(nil)
	steps := 0
	for {
		res, err := env.Step(Hold)
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		steps++
		if res.Reward != 0 {
			t.Fatalf("hold reward = %v", res.Reward)
		}
		if res.Terminated {
			break
		}
	}
	if steps != 9 {
		t.Fatalf("steps = %d", steps)
	}
	if len(env.Trades()) != 0 || env.Info().TotalPnL != 0 || env.Info().Balance != 10000 {
		t.Fatalf("unexpected state %+v", env.Info())
	}
	if _, err := env.Step(Hold); !errors.Is(err, ErrEpisodeDone) {
		t.Fatalf("expected ErrEpisodeDone, got %v", err)
	}
}

func TestLongThenHoldRealizesProfit(t *testing.T) {
	env, err := NewMarketEnv(candlesFrom(100, 100, 102, 104, 105), WithLookback(1))
	if err != nil {
		t.Fatalf("new env: %v", err)
	}
	env.Reset(nil)

	r1, err := env.Step(Long)
	if err != nil {
		t.Fatalf("step 1: %v", err)
	}
	if r1.Info.Position != 1 || r1.Info.Trades != 0 {
		t.Fatalf("after long: %+v", r1.Info)
	}
	if math.Abs(r1.Info.Balance-(10000-0.1)) > 1e-9 {
		t.Fatalf("entry cost not charged: %v", r1.Info.Balance)
	}
	if r1.Observation[5] != 1 || r1.Reward != 0 {
		t.Fatalf("unexpected step 1 result %+v", r1)
	}

	r2, err := env.Step(Hold)
	if err != nil {
		t.Fatalf("step 2: %v", err)
	}
	wantPnL := 2 - 102*0.001
	if r2.Info.Position != 0 || r2.Info.Trades != 1 || math.Abs(r2.Info.TotalPnL-wantPnL) > 1e-9 {
		t.Fatalf("after hold: %+v", r2.Info)
	}
	if math.Abs(r2.Reward-wantPnL/10000*100) > 1e-9 {
		t.Fatalf("reward = %v", r2.Reward)
	}

	r3, err := env.Step(Hold)
	if err != nil {
		t.Fatalf("step 3: %v", err)
	}
	if !r3.Terminated || r3.Info.Trades != 1 {
		t.Fatalf("unexpected step 3 %+v", r3)
	}
	// one trade over two steps past warm-up trips the churn penalty
	if math.Abs(r3.Reward-(wantPnL/10000*100-0.1)) > 1e-9 {
		t.Fatalf("churn reward = %v", r3.Reward)
	}
	trades := env.Trades()
	if len(trades) != 1 || trades[0].Type != "close_long" || trades[0].PnL != 2 {
		t.Fatalf("trades = %+v", trades)
	}
}

func TestReversalClosesAndReopens(t *testing.T) {
	env, err := NewMarketEnv(candlesFrom(100, 100, 98, 97, 99), WithLookback(1))
	if err != nil {
		t.Fatalf("new env: %v", err)
	}
	if _, err := env.Step(Short); err != nil {
		t.Fatalf("short: %v", err)
	}
	res, err := env.Step(Long)
	if err != nil {
		t.Fatalf("long: %v", err)
	}
	if res.Info.Position != 1 || res.Info.Trades != 1 {
		t.Fatalf("unexpected info %+v", res.Info)
	}
	if tr := env.Trades()[0]; tr.Type != "close_short" || tr.PnL != 2 {
		t.Fatalf("unexpected trade %+v", tr)
	}
	// 97 vs 98 entry on the new long
	res, _ = env.Step(Long)
	if res.Info.Trades != 1 || res.Info.Position != 1 {
		t.Fatalf("repeated long must not trade: %+v", res.Info)
	}
}

func TestStepRejectsUnknownAction(t *testing.T) {
	env, _ := NewMarketEnv(rising(30))
	if _, err := env.Step(Action(3)); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}

func TestResetClearsTradeLog(t *testing.T) {
	env, _ := NewMarketEnv(rising(30))
	env.Step(Long)
	env.Step(Hold)
	if len(env.Trades()) != 1 {
		t.Fatalf("expected a trade")
	}
	env.Reset(nil)
	if len(env.Trades()) != 0 || env.Done() {
		t.Fatalf("reset did not clear state")
	}
}
