package usecase

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"RLSignal/internal/domain/models"
	domrepo "RLSignal/internal/domain/repository"
	domsvc "RLSignal/internal/domain/service"
	"RLSignal/internal/services/policy"
	"RLSignal/internal/services/signal"
	applogger "RLSignal/pkg/logger"
)

// Jitter perturbs confidences by U(-amplitude, amplitude). The source is
// owned by the caller so tests can seed it; amplitude 0 disables it.
type Jitter struct {
	mu  sync.Mutex
	rnd *rand.Rand
	amp float64
}

func NewJitter(amplitude float64, seed int64) *Jitter {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Jitter{rnd: rand.New(rand.NewSource(seed)), amp: amplitude}
}

// Apply returns conf plus noise, clamped to the confidence range.
func (j *Jitter) Apply(conf float64) float64 {
	if j == nil || j.amp <= 0 {
		return conf
	}
	j.mu.Lock()
	noise := (j.rnd.Float64()*2 - 1) * j.amp
	j.mu.Unlock()
	return signal.Clamp(conf+noise, signal.MinConfidence, signal.MaxConfidence)
}

// DecisionUseCase turns a predict request into a Decision: base signal,
// structural and volume fusion, jitter, trade levels. Decisions are then
// published and logged without blocking the caller on failures.
type DecisionUseCase struct {
	learned   domsvc.Predictor
	rules     domsvc.Predictor
	state     *ServiceState
	jitter    *Jitter
	publisher domrepo.DecisionPublisher
	log       domrepo.DecisionLog
	metrics   domrepo.Metrics
	l         *applogger.Logger
	timeout   time.Duration
	now       func() time.Time
}

func NewDecisionUseCase(
	learned, rules domsvc.Predictor,
	state *ServiceState,
	jitter *Jitter,
	publisher domrepo.DecisionPublisher,
	log domrepo.DecisionLog,
	metrics domrepo.Metrics,
	l *applogger.Logger,
) *DecisionUseCase {
	if l == nil {
		l = applogger.Nop()
	}
	return &DecisionUseCase{
		learned:   learned,
		rules:     rules,
		state:     state,
		jitter:    jitter,
		publisher: publisher,
		log:       log,
		metrics:   metrics,
		l:         l,
		timeout:   2 * time.Second,
		now:       time.Now,
	}
}

// Predict produces a decision for req. It only fails when no predictor
// can produce a base signal.
func (uc *DecisionUseCase) Predict(ctx context.Context, req models.PredictRequest) (models.Decision, error) {
	start := uc.now()
	price := req.Price()

	base, source, err := uc.baseSignal(ctx, req.Features)
	if err != nil {
		uc.recordError("predict_base")
		return models.Decision{}, err
	}

	var smc *models.StructuralSnapshot
	if req.SMC != nil {
		s := req.SMC.Snapshot()
		smc = &s
	}
	var vol *models.VolumeSnapshot
	if req.Volume != nil {
		v := req.Volume.Snapshot()
		vol = &v
	}

	f := signal.Fuse(base, price, smc, vol)
	if f.Overridden {
		uc.l.Info("decision overridden to hold",
			applogger.String("symbol", req.Symbol),
			applogger.String("base_action", string(base.Action)),
			applogger.String("reason", f.SMCAnalysis),
		)
		if uc.metrics != nil {
			uc.metrics.RecordOverride(f.SMCAnalysis)
		}
	}

	conf := uc.jitter.Apply(f.Confidence)

	d := models.Decision{
		Symbol:         req.Symbol,
		Action:         f.Action,
		Confidence:     signal.Round(conf, 4),
		ExpectedReturn: signal.Round(f.ExpectedReturn, 4),
		ModelVersion:   uc.state.ModelVersion(),
		Source:         source,
		Reasoning:      f.Reasoning,
		SMCAnalysis:    f.SMCAnalysis,
		VolumeAnalysis: f.VolumeAnalysis,
		Timestamp:      start,
	}
	if f.Action != models.ActionHold && smc != nil {
		d.Levels = signal.TradeLevels(f.Action, price, *smc, req.ATR(), conf)
	}

	uc.l.Debug("decision",
		applogger.String("symbol", d.Symbol),
		applogger.String("action", string(d.Action)),
		applogger.Float64("confidence", d.Confidence),
		applogger.String("source", source),
		applogger.String("smc", d.SMCAnalysis),
		applogger.String("volume", d.VolumeAnalysis),
	)
	if d.Levels != nil {
		uc.l.Debug("trade levels",
			applogger.String("symbol", d.Symbol),
			applogger.Float64("entry", d.Levels.Entry),
			applogger.Float64("stop_loss", d.Levels.StopLoss),
			applogger.Float64("take_profit", d.Levels.TakeProfit),
			applogger.Float64("rr", d.Levels.RiskRewardRatio),
		)
	}
	if uc.metrics != nil {
		uc.metrics.RecordDecision(string(d.Action), source, d.Confidence)
		uc.metrics.RecordLatency("predict", time.Since(start).Seconds())
	}

	uc.emit(ctx, models.NewDecisionEvent(d))
	return d, nil
}

// baseSignal prefers the learned policy and falls back to the rule
// predictor on any PredictionFailure.
func (uc *DecisionUseCase) baseSignal(ctx context.Context, features []float64) (models.BaseSignal, string, error) {
	if uc.learned != nil && uc.learned.Ready() {
		sig, err := uc.learned.Predict(ctx, features)
		if err == nil {
			return sig, uc.learned.Name(), nil
		}
		var pf *policy.PredictionFailure
		if !errors.As(err, &pf) {
			return models.BaseSignal{}, "", err
		}
		uc.l.Warn("learned prediction failed, using rules",
			applogger.String("reason", string(pf.Reason)),
			applogger.Error(pf.Err),
		)
		uc.recordError("predict_" + string(pf.Reason))
	}
	sig, err := uc.rules.Predict(ctx, features)
	if err != nil {
		return models.BaseSignal{}, "", err
	}
	return sig, uc.rules.Name(), nil
}

// emit publishes and logs ev under a detached timeout so a cancelled
// request does not drop the audit record.
func (uc *DecisionUseCase) emit(ctx context.Context, ev models.DecisionEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.timeout)
	defer cancel()

	if uc.publisher != nil {
		if err := uc.publisher.PublishDecision(ctx, ev); err != nil {
			uc.l.Warn("publish decision failed", applogger.String("symbol", ev.Symbol), applogger.Error(err))
			uc.recordError("publish_decision")
		} else if uc.metrics != nil {
			uc.metrics.RecordMessageSent("kafka", ev.Symbol)
		}
	}
	if uc.log != nil {
		if err := uc.log.Append(ctx, ev); err != nil {
			uc.l.Warn("append decision log failed", applogger.String("symbol", ev.Symbol), applogger.Error(err))
			uc.recordError("decision_log")
		}
	}
}

// Recent returns logged decisions, newest first.
func (uc *DecisionUseCase) Recent(ctx context.Context, symbol string, limit int) ([]models.DecisionEvent, error) {
	if uc.log == nil {
		return nil, nil
	}
	return uc.log.Recent(ctx, symbol, limit)
}

func (uc *DecisionUseCase) recordError(kind string) {
	if uc.metrics != nil {
		uc.metrics.RecordError(kind)
	}
}
