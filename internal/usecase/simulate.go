package usecase

import (
	"context"
	"fmt"
	"time"

	"RLSignal/internal/domain/models"
	domrepo "RLSignal/internal/domain/repository"
	"RLSignal/internal/services/policy"
	"RLSignal/internal/services/simulation"
	applogger "RLSignal/pkg/logger"
)

// PolicyActor is a policy that can drive the environment once loaded.
type PolicyActor interface {
	Ready() bool
	policy.Actor
}

// SimulateUseCase replays actions, or lets the loaded policy act, on a
// fresh MarketEnv built from the request candles.
type SimulateUseCase struct {
	learned PolicyActor
	metrics domrepo.Metrics
	l       *applogger.Logger
	maxRows int
}

func NewSimulateUseCase(learned PolicyActor, metrics domrepo.Metrics, l *applogger.Logger) *SimulateUseCase {
	if l == nil {
		l = applogger.Nop()
	}
	return &SimulateUseCase{learned: learned, metrics: metrics, l: l, maxRows: 20000}
}

// Run returns the step trace. Environment construction errors wrap the
// simulation sentinels; the ppo policy without a model wraps
// policy.ErrModelNotLoaded.
func (uc *SimulateUseCase) Run(ctx context.Context, req models.SimulateRequest) (models.SimulateResponse, error) {
	if len(req.Candles) > uc.maxRows {
		return models.SimulateResponse{}, fmt.Errorf("%w: %d candles exceeds limit %d", simulation.ErrInvalidSeries, len(req.Candles), uc.maxRows)
	}
	start := time.Now()

	candles := make([]models.Candle, len(req.Candles))
	for i, c := range req.Candles {
		candles[i] = models.Candle{Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
	}
	env, err := simulation.NewMarketEnv(candles,
		simulation.WithInitialBalance(req.InitialBalance),
		simulation.WithTransactionCost(req.TransactionCost),
		simulation.WithPositionSize(req.PositionSize),
		simulation.WithLookback(req.Lookback),
	)
	if err != nil {
		return models.SimulateResponse{}, err
	}

	actor, limit, err := uc.actor(req)
	if err != nil {
		return models.SimulateResponse{}, err
	}

	obs := env.Reset(req.Seed)
	resp := models.SimulateResponse{Steps: make([]models.SimulateStep, 0, limit)}
	for step := 0; step < limit && !env.Done(); step++ {
		if err := ctx.Err(); err != nil {
			return resp, err
		}
		a, err := actor.Act(obs)
		if err != nil {
			return resp, fmt.Errorf("act at step %d: %w", step, err)
		}
		res, err := env.Step(a)
		if err != nil {
			return resp, fmt.Errorf("step %d: %w", step, err)
		}
		resp.Steps = append(resp.Steps, models.SimulateStep{
			Step:        step,
			Action:      int(a),
			Reward:      res.Reward,
			Terminated:  res.Terminated,
			Info:        stepInfo(res.Info),
			Observation: res.Observation[:],
		})
		resp.TotalReward += res.Reward
		obs = res.Observation
	}
	resp.Final = stepInfo(env.Info())

	if uc.metrics != nil {
		uc.metrics.RecordEpisode(resp.TotalReward)
		uc.metrics.RecordLatency("simulate", time.Since(start).Seconds())
	}
	uc.l.Debug("simulation finished",
		applogger.String("policy", req.Policy),
		applogger.Int("steps", len(resp.Steps)),
		applogger.Float64("total_reward", resp.TotalReward),
		applogger.Int("trades", resp.Final.Trades),
	)
	return resp, nil
}

// actor picks the action source and the maximum number of steps.
func (uc *SimulateUseCase) actor(req models.SimulateRequest) (policy.Actor, int, error) {
	unbounded := len(req.Candles)
	switch req.Policy {
	case "ppo":
		if uc.learned == nil || !uc.learned.Ready() {
			return nil, 0, policy.ErrModelNotLoaded
		}
		return uc.learned, unbounded, nil
	default:
		if len(req.Actions) == 0 {
			return policy.ActorFunc(func(simulation.Observation) (simulation.Action, error) {
				return simulation.Hold, nil
			}), unbounded, nil
		}
		i := 0
		return policy.ActorFunc(func(simulation.Observation) (simulation.Action, error) {
			a := simulation.Action(req.Actions[i])
			i++
			return a, nil
		}), len(req.Actions), nil
	}
}

func stepInfo(i simulation.Info) models.StepInfo {
	return models.StepInfo{TotalPnL: i.TotalPnL, Position: i.Position, Trades: i.Trades, Balance: i.Balance}
}
