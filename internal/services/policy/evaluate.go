package policy

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"RLSignal/internal/domain/models"
	"RLSignal/internal/services/simulation"
)

const tradingDaysPerYear = 252

// Actor chooses an action for an observation.
type Actor interface {
	Act(obs simulation.Observation) (simulation.Action, error)
}

// ActorFunc adapts a function to Actor.
type ActorFunc func(simulation.Observation) (simulation.Action, error)

func (f ActorFunc) Act(obs simulation.Observation) (simulation.Action, error) { return f(obs) }

// Episode is the trace of one evaluation run.
type Episode struct {
	Rewards []float64
	Final   simulation.Info
	Trades  []simulation.Trade
}

// TotalReward sums the per-step rewards.
func (e Episode) TotalReward() float64 {
	return floats.Sum(e.Rewards)
}

// RunEpisode resets env and steps it with actor until termination. ctx is
// checked between steps.
func RunEpisode(ctx context.Context, env *simulation.MarketEnv, actor Actor) (Episode, error) {
	obs := env.Reset(nil)
	ep := Episode{Rewards: make([]float64, 0, env.Len())}
	for !env.Done() {
		if err := ctx.Err(); err != nil {
			return ep, err
		}
		a, err := actor.Act(obs)
		if err != nil {
			return ep, fmt.Errorf("act at step %d: %w", len(ep.Rewards), err)
		}
		res, err := env.Step(a)
		if err != nil {
			return ep, fmt.Errorf("step %d: %w", len(ep.Rewards), err)
		}
		ep.Rewards = append(ep.Rewards, res.Reward)
		ep.Final = res.Info
		obs = res.Observation
	}
	ep.Trades = env.Trades()
	return ep, nil
}

// Score computes evaluation metrics from an episode. Sharpe uses the
// population deviation of per-step rewards annualized by sqrt(252); the
// drawdown is measured on the cumulative reward curve.
func Score(ep Episode) models.EvalMetrics {
	m := models.EvalMetrics{
		TotalTrades: len(ep.Trades),
		TotalPnL:    ep.Final.TotalPnL,
	}
	n := len(ep.Rewards)
	if n == 0 {
		return m
	}

	wins := 0
	for _, r := range ep.Rewards {
		if r > 0 {
			wins++
		}
	}
	mean, std := stat.PopMeanStdDev(ep.Rewards, nil)

	m.WinRate = float64(wins) / float64(n)
	m.Sharpe = mean / (std + 1e-10) * math.Sqrt(tradingDaysPerYear)
	m.MaxDrawdown = maxDrawdown(floats.CumSum(make([]float64, n), ep.Rewards))
	return m
}

// maxDrawdown returns the largest fall from a running peak of curve,
// relative to that peak.
func maxDrawdown(curve []float64) float64 {
	worst, runMax := 0.0, math.Inf(-1)
	for _, v := range curve {
		runMax = math.Max(runMax, v)
		if dd := (runMax - v) / (runMax + 1e-10); dd > worst {
			worst = dd
		}
	}
	return worst
}

// DefaultThresholds returns the production quality bar.
func DefaultThresholds() models.Thresholds {
	return models.Thresholds{MinSharpe: 1.0, MinWinRate: 0.52, MaxDrawdown: 0.20, MinTotalTrades: 20}
}

// Validate checks metrics against th and describes every check.
func Validate(m models.EvalMetrics, th models.Thresholds) models.Validation {
	v := models.Validation{PassedChecks: []string{}, FailedChecks: []string{}, Thresholds: th}
	check := func(ok bool, pass, failed string) {
		if ok {
			v.PassedChecks = append(v.PassedChecks, pass)
		} else {
			v.FailedChecks = append(v.FailedChecks, failed)
		}
	}

	check(m.Sharpe >= th.MinSharpe,
		fmt.Sprintf("Sharpe Ratio: %.2f >= %.1f", m.Sharpe, th.MinSharpe),
		fmt.Sprintf("Sharpe Ratio: %.2f < %.1f", m.Sharpe, th.MinSharpe))
	check(m.WinRate >= th.MinWinRate,
		fmt.Sprintf("Win Rate: %.1f%% >= %.0f%%", m.WinRate*100, th.MinWinRate*100),
		fmt.Sprintf("Win Rate: %.1f%% < %.0f%%", m.WinRate*100, th.MinWinRate*100))
	check(m.MaxDrawdown <= th.MaxDrawdown,
		fmt.Sprintf("Max Drawdown: %.1f%% <= %.0f%%", m.MaxDrawdown*100, th.MaxDrawdown*100),
		fmt.Sprintf("Max Drawdown: %.1f%% > %.0f%%", m.MaxDrawdown*100, th.MaxDrawdown*100))
	check(m.TotalTrades >= th.MinTotalTrades,
		fmt.Sprintf("Total Trades: %d >= %d", m.TotalTrades, th.MinTotalTrades),
		fmt.Sprintf("Total Trades: %d < %d (low statistical significance)", m.TotalTrades, th.MinTotalTrades))

	v.IsValid = len(v.FailedChecks) == 0
	if v.IsValid {
		v.Message = fmt.Sprintf("Model passed all %d validation checks", len(v.PassedChecks))
	} else {
		v.Message = fmt.Sprintf("Model failed %d of %d checks", len(v.FailedChecks), len(v.PassedChecks)+len(v.FailedChecks))
	}
	return v
}
