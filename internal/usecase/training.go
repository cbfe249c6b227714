package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"RLSignal/internal/domain/models"
	domrepo "RLSignal/internal/domain/repository"
	domsvc "RLSignal/internal/domain/service"
	"RLSignal/internal/services/policy"
	applogger "RLSignal/pkg/logger"

	"github.com/google/uuid"
)

// ErrHistoryUnavailable is returned when no candle store is configured.
var ErrHistoryUnavailable = errors.New("candle history unavailable")

const (
	fallbackTimesteps = 100000
	defaultSymbol     = "BTC-USD"
)

// TrainingConfig tunes TrainingUseCase.
type TrainingConfig struct {
	HistoryRows      int
	Timeframe        domrepo.Timeframe
	DefaultTimesteps int
	LockTTL          time.Duration
	InitialBalance   float64
}

// TrainingUseCase runs training jobs. With a dispatcher configured a job
// is handed to the training topic and executed by TrainJobHandler;
// otherwise it runs in a local goroutine.
type TrainingUseCase struct {
	state      *ServiceState
	trainer    domsvc.PolicyTrainer
	candles    domrepo.CandleStore
	jobs       domrepo.JobStore
	publisher  domrepo.DecisionPublisher
	dispatcher domrepo.TrainingDispatcher
	metrics    domrepo.Metrics
	l          *applogger.Logger
	cfg        TrainingConfig
	newID      func() string
	now        func() time.Time
}

func NewTrainingUseCase(
	state *ServiceState,
	trainer domsvc.PolicyTrainer,
	candles domrepo.CandleStore,
	jobs domrepo.JobStore,
	publisher domrepo.DecisionPublisher,
	dispatcher domrepo.TrainingDispatcher,
	metrics domrepo.Metrics,
	l *applogger.Logger,
	cfg TrainingConfig,
) *TrainingUseCase {
	if l == nil {
		l = applogger.Nop()
	}
	if cfg.HistoryRows <= 0 {
		cfg.HistoryRows = 5000
	}
	if !domrepo.IsValidTimeframe(cfg.Timeframe) {
		cfg.Timeframe = domrepo.DefaultTimeframe()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Hour
	}
	return &TrainingUseCase{
		state:      state,
		trainer:    trainer,
		candles:    candles,
		jobs:       jobs,
		publisher:  publisher,
		dispatcher: dispatcher,
		metrics:    metrics,
		l:          l,
		cfg:        cfg,
		newID:      func() string { return uuid.NewString() },
		now:        time.Now,
	}
}

// Bootstrap restores the persisted state and loads the newest exported
// policy. A failed restore is logged; a failed model load is returned.
func (uc *TrainingUseCase) Bootstrap(ctx context.Context) error {
	if err := uc.state.Restore(ctx); err != nil {
		uc.l.Warn("restore service state failed", applogger.Error(err))
	}
	ok, err := uc.trainer.LoadLatest()
	if err != nil {
		return fmt.Errorf("load latest model: %w", err)
	}
	if !ok {
		uc.l.Info("no exported policy found, serving rule-based signals")
		return nil
	}
	id := uc.trainer.ModelID()
	uc.state.SetModel(ctx, id, nil, 0)
	uc.l.Info("policy model loaded", applogger.String("model_id", id))
	return nil
}

// Start creates a job and schedules it. It returns ErrTrainingInProgress
// when a job is already training here or, through the job store lock, on
// another replica.
func (uc *TrainingUseCase) Start(ctx context.Context, req models.TrainRequest) (string, error) {
	if uc.state.TrainingStatus() == models.TrainingRunning {
		return "", ErrTrainingInProgress
	}

	params := uc.state.Params()
	timesteps := req.Timesteps
	if timesteps <= 0 {
		timesteps = params.TotalTimesteps
	}
	if timesteps <= 0 {
		timesteps = uc.cfg.DefaultTimesteps
	}
	if timesteps <= 0 {
		timesteps = fallbackTimesteps
	}
	lr := req.LearningRate
	if lr <= 0 {
		lr = params.LearningRate
	}
	algo := req.Algorithm
	if algo == "" {
		algo = params.Algorithm
	}
	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = []string{defaultSymbol}
	}

	now := uc.now()
	job := models.TrainingJob{
		ID:            uc.newID(),
		Symbols:       symbols,
		Timesteps:     timesteps,
		Algorithm:     algo,
		LearningRate:  lr,
		TotalEpisodes: timesteps,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if uc.jobs != nil {
		ok, err := uc.jobs.AcquireTrainingLock(ctx, job.ID, uc.cfg.LockTTL)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrTrainingInProgress
		}
	}
	if err := uc.state.Begin(ctx, job); err != nil {
		uc.releaseLock(ctx, job.ID)
		return "", err
	}

	uc.l.Info("training job started",
		applogger.String("job_id", job.ID),
		applogger.Strings("symbols", symbols),
		applogger.Int("timesteps", timesteps),
		applogger.String("algorithm", algo),
	)

	if uc.dispatcher != nil {
		err := uc.dispatcher.DispatchTraining(ctx, models.TrainJobMessage{
			JobID:        job.ID,
			Symbols:      symbols,
			Timesteps:    timesteps,
			LearningRate: lr,
			Algorithm:    algo,
		})
		if err == nil {
			return job.ID, nil
		}
		// Kafka unavailable: run locally rather than lose the job.
		uc.l.Warn("dispatch training job failed, running locally",
			applogger.String("job_id", job.ID), applogger.Error(err))
		uc.recordError("dispatch_training")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	uc.state.Attach(job.ID, cancel)
	go func() {
		defer cancel()
		uc.run(runCtx, job)
	}()
	return job.ID, nil
}

// Execute runs a dispatched job synchronously. ctx is the consumer's
// context; a local Stop also cancels it.
func (uc *TrainingUseCase) Execute(ctx context.Context, msg models.TrainJobMessage) error {
	if msg.JobID == "" {
		return fmt.Errorf("training job without id")
	}
	job, err := uc.loadOrAdopt(ctx, msg)
	if err != nil {
		return err
	}
	if job.Status != models.TrainingRunning {
		uc.l.Info("skipping training job", applogger.String("job_id", job.ID), applogger.String("status", string(job.Status)))
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	uc.state.Attach(job.ID, cancel)
	uc.run(runCtx, job)
	return nil
}

// loadOrAdopt finds the job record for msg. A replica that did not start
// the job adopts it into its own state.
func (uc *TrainingUseCase) loadOrAdopt(ctx context.Context, msg models.TrainJobMessage) (models.TrainingJob, error) {
	if uc.jobs != nil {
		job, err := uc.jobs.GetJob(ctx, msg.JobID)
		if err == nil {
			if job.Status == models.TrainingRunning && uc.state.Status().JobID != job.ID {
				if err := uc.state.Begin(ctx, job); err != nil {
					return job, err
				}
			}
			return job, nil
		}
		if !errors.Is(err, domrepo.ErrNotFound) {
			return models.TrainingJob{}, err
		}
	}
	now := uc.now()
	job := models.TrainingJob{
		ID:            msg.JobID,
		Symbols:       msg.Symbols,
		Timesteps:     msg.Timesteps,
		Algorithm:     msg.Algorithm,
		LearningRate:  msg.LearningRate,
		TotalEpisodes: msg.Timesteps,
		Status:        models.TrainingRunning,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := uc.state.Begin(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// run trains each symbol in turn. The first successful model becomes the
// live model; later successes replace it.
func (uc *TrainingUseCase) run(ctx context.Context, job models.TrainingJob) {
	defer uc.releaseLock(context.WithoutCancel(ctx), job.ID)
	start := uc.now()

	results := make([]models.TrainResult, 0, len(job.Symbols))
	var lastErr error
	succeeded := 0

	for i, symbol := range job.Symbols {
		if ctx.Err() != nil || uc.stoppedElsewhere(ctx, job.ID) {
			break
		}
		res, err := uc.trainSymbol(ctx, job, symbol)
		results = append(results, res)
		if err != nil {
			lastErr = err
		} else {
			succeeded++
			uc.state.SetModel(ctx, res.ModelID, res.Metrics, uc.cfg.InitialBalance)
		}
		uc.state.Progress(ctx, job.ID, float64(i+1)/float64(len(job.Symbols)))
	}

	status := models.TrainingCompleted
	errMsg := ""
	switch {
	case ctx.Err() != nil:
		status = models.TrainingStopped
	case succeeded == 0 && lastErr != nil:
		status = models.TrainingFailed
		errMsg = lastErr.Error()
	}
	uc.state.Finish(context.WithoutCancel(ctx), job.ID, status, results, errMsg)

	if uc.metrics != nil {
		uc.metrics.RecordTraining(string(status))
		uc.metrics.RecordLatency("train_job", time.Since(start).Seconds())
	}
	uc.l.Info("training job finished",
		applogger.String("job_id", job.ID),
		applogger.String("status", string(status)),
		applogger.Int("succeeded", succeeded),
		applogger.Int("symbols", len(job.Symbols)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
}

func (uc *TrainingUseCase) trainSymbol(ctx context.Context, job models.TrainingJob, symbol string) (models.TrainResult, error) {
	candles, err := uc.history(ctx, symbol)
	if err != nil {
		uc.l.Error("load training history failed", applogger.String("symbol", symbol), applogger.Error(err))
		res := models.TrainResult{JobID: job.ID, Symbol: symbol, Error: err.Error()}
		uc.publishResult(ctx, res)
		return res, err
	}

	res, err := uc.trainer.Train(ctx, candles, symbol, job.Timesteps, job.LearningRate)
	res.JobID = job.ID
	res.Symbol = symbol
	if err != nil {
		uc.l.Error("training failed",
			applogger.String("job_id", job.ID),
			applogger.String("symbol", symbol),
			applogger.Int("rows", len(candles)),
			applogger.Error(err),
		)
	} else {
		uc.l.Info("training succeeded",
			applogger.String("job_id", job.ID),
			applogger.String("symbol", symbol),
			applogger.String("model_id", res.ModelID),
			applogger.Bool("production_ready", res.IsProductionReady),
			applogger.String("message", res.Message),
		)
	}
	uc.publishResult(ctx, res)
	return res, err
}

// stoppedElsewhere reports whether another replica marked the job stopped.
func (uc *TrainingUseCase) stoppedElsewhere(ctx context.Context, jobID string) bool {
	if uc.jobs == nil {
		return false
	}
	job, err := uc.jobs.GetJob(ctx, jobID)
	return err == nil && job.Status == models.TrainingStopped
}

// Stop cancels the running job.
func (uc *TrainingUseCase) Stop(ctx context.Context, reason string) models.StopResponse {
	id, ok := uc.state.Stop(ctx)
	if !ok {
		return models.StopResponse{Success: false, Message: "No training in progress"}
	}
	if strings.TrimSpace(reason) == "" {
		reason = "User requested"
	}
	uc.l.Info("training stopped", applogger.String("job_id", id), applogger.String("reason", reason))
	return models.StopResponse{Success: true, Message: "Training stopped"}
}

// Status reports the current job's progress. A job dispatched to another
// replica is refreshed from the job store, and failed once its training
// lock has lapsed without the job finishing.
func (uc *TrainingUseCase) Status(ctx context.Context) models.TrainingStatusResponse {
	st := uc.state.Status()
	if st.Status != models.TrainingRunning || uc.jobs == nil || uc.state.Local() {
		return st
	}
	job, err := uc.jobs.GetJob(ctx, st.JobID)
	if err != nil {
		return st
	}
	if job.Status == models.TrainingRunning {
		holder, held, err := uc.jobs.TrainingLockHolder(ctx)
		if err != nil {
			uc.l.Warn("read training lock failed", applogger.String("job_id", job.ID), applogger.Error(err))
		} else if !held || holder != job.ID {
			job = uc.state.failOrphan(ctx, job, "training lock expired")
		}
	}
	uc.state.Mirror(job)
	return uc.state.Status()
}

// Job returns a stored job record.
func (uc *TrainingUseCase) Job(ctx context.Context, id string) (models.TrainingJob, error) {
	if uc.jobs == nil {
		return models.TrainingJob{}, domrepo.ErrNotFound
	}
	return uc.jobs.GetJob(ctx, id)
}

// Update continues training the live model on fresh history for symbol.
func (uc *TrainingUseCase) Update(ctx context.Context, symbol string) (models.TrainResult, error) {
	if !uc.trainer.IsModelLoaded() {
		return models.TrainResult{Symbol: symbol, Error: "No model loaded"}, policy.ErrModelNotLoaded
	}
	candles, err := uc.history(ctx, symbol)
	if err != nil {
		return models.TrainResult{Symbol: symbol, Error: err.Error()}, err
	}
	res, err := uc.trainer.Update(ctx, candles, symbol)
	outcome := "update_ok"
	if err != nil {
		outcome = "update_failed"
		uc.l.Error("model update failed", applogger.String("symbol", symbol), applogger.Error(err))
	}
	if uc.metrics != nil {
		uc.metrics.RecordTraining(outcome)
	}
	return res, err
}

func (uc *TrainingUseCase) history(ctx context.Context, symbol string) ([]models.Candle, error) {
	if uc.candles == nil {
		return nil, ErrHistoryUnavailable
	}
	return uc.candles.GetLatestNCandles(ctx, symbol, uc.cfg.HistoryRows, uc.cfg.Timeframe)
}

func (uc *TrainingUseCase) publishResult(ctx context.Context, res models.TrainResult) {
	if uc.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := uc.publisher.PublishTrainResult(pctx, res); err != nil {
		uc.l.Warn("publish training result failed", applogger.String("job_id", res.JobID), applogger.Error(err))
		uc.recordError("publish_train_result")
	}
}

func (uc *TrainingUseCase) releaseLock(ctx context.Context, jobID string) {
	if uc.jobs == nil {
		return
	}
	released, err := uc.jobs.ReleaseTrainingLock(ctx, jobID)
	if err != nil {
		uc.l.Warn("release training lock failed", applogger.String("job_id", jobID), applogger.Error(err))
		uc.recordError("release_training_lock")
		return
	}
	if !released {
		uc.l.Warn("training lock no longer held by job", applogger.String("job_id", jobID))
	}
}

func (uc *TrainingUseCase) recordError(kind string) {
	if uc.metrics != nil {
		uc.metrics.RecordError(kind)
	}
}
