package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"RLSignal/internal/domain/models"
	domrepo "RLSignal/internal/domain/repository"
	"RLSignal/internal/services/signal"
	applogger "RLSignal/pkg/logger"
)

// ErrTrainingInProgress is returned when a job is started while another runs.
var ErrTrainingInProgress = errors.New("training already in progress")

// ServiceState holds the mutable service state: model identity,
// hyperparameters, performance figures and the current training job.
// Every mutation is persisted through the job store on a best-effort basis.
type ServiceState struct {
	mu           sync.RWMutex
	modelVersion string
	modelID      string
	params       models.Params
	perf         models.PerformanceMetrics
	status       models.TrainingStatus
	job          *models.TrainingJob
	cancel       context.CancelFunc

	subMu sync.Mutex
	subs  map[chan models.TrainingStatusResponse]struct{}

	store domrepo.JobStore
	l     *applogger.Logger
	now   func() time.Time
}

func NewServiceState(modelVersion string, store domrepo.JobStore, l *applogger.Logger) *ServiceState {
	if l == nil {
		l = applogger.Nop()
	}
	return &ServiceState{
		modelVersion: modelVersion,
		params:       models.DefaultParams(),
		perf:         models.DefaultPerformance(),
		status:       models.TrainingIdle,
		subs:         make(map[chan models.TrainingStatusResponse]struct{}),
		store:        store,
		l:            l,
		now:          time.Now,
	}
}

// Restore loads the persisted snapshot. A running job whose training lock
// is still held by that job belongs to a live replica and is kept as is;
// otherwise its owner is gone and the job is marked failed.
func (s *ServiceState) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	snap, ok, err := s.store.LoadState(ctx)
	if err != nil || !ok {
		return err
	}

	s.mu.Lock()
	s.modelID = snap.ModelID
	s.params = snap.Params
	s.perf = snap.Performance
	s.mu.Unlock()

	if snap.JobID == "" {
		return nil
	}
	job, err := s.store.GetJob(ctx, snap.JobID)
	if errors.Is(err, domrepo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status == models.TrainingRunning {
		holder, held, err := s.store.TrainingLockHolder(ctx)
		switch {
		case err != nil:
			s.l.Warn("training lock unreadable, keeping job state",
				applogger.String("job_id", job.ID), applogger.Error(err))
		case held && holder == job.ID:
			s.l.Info("training job owned by another replica", applogger.String("job_id", job.ID))
		default:
			job = s.failOrphan(ctx, job, "interrupted by restart")
		}
	}

	s.mu.Lock()
	s.job = &job
	s.status = job.Status
	s.mu.Unlock()
	s.l.Info("service state restored",
		applogger.String("model_id", snap.ModelID),
		applogger.String("job_id", job.ID),
		applogger.String("status", string(job.Status)),
	)
	return nil
}

func (s *ServiceState) ModelVersion() string { return s.modelVersion }

func (s *ServiceState) ModelID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modelID
}

func (s *ServiceState) Params() models.Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// SeedParams merges u into the defaults without persisting. A snapshot
// loaded by Restore replaces the result.
func (s *ServiceState) SeedParams(u models.ParamsUpdate) {
	s.mu.Lock()
	s.params = u.Apply(s.params)
	s.mu.Unlock()
}

// UpdateParams merges u into the current hyperparameters.
func (s *ServiceState) UpdateParams(ctx context.Context, u models.ParamsUpdate) models.Params {
	s.mu.Lock()
	s.params = u.Apply(s.params)
	p := s.params
	s.mu.Unlock()
	s.persist(ctx)
	return p
}

// Performance returns the model figures with the live training status.
func (s *ServiceState) Performance() models.PerformanceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.perf
	p.TrainingStatus = s.status
	return p
}

func (s *ServiceState) TrainingStatus() models.TrainingStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Status reports the current job's progress.
func (s *ServiceState) Status() models.TrainingStatusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *ServiceState) statusLocked() models.TrainingStatusResponse {
	resp := models.TrainingStatusResponse{Status: s.status}
	if s.job != nil {
		resp.Progress = signal.Round(s.job.Progress, 4)
		resp.CurrentEpisode = s.job.CurrentEpisode
		resp.TotalEpisodes = s.job.TotalEpisodes
		if s.status == models.TrainingRunning {
			resp.JobID = s.job.ID
		}
	}
	return resp
}

// Begin makes job the current training job. It fails with
// ErrTrainingInProgress while another job is training.
func (s *ServiceState) Begin(ctx context.Context, job models.TrainingJob) error {
	s.mu.Lock()
	if s.status == models.TrainingRunning {
		s.mu.Unlock()
		return ErrTrainingInProgress
	}
	job.Status = models.TrainingRunning
	job.Progress = 0
	job.CurrentEpisode = 0
	s.job = &job
	s.status = models.TrainingRunning
	s.cancel = nil
	s.mu.Unlock()

	s.persist(ctx)
	s.broadcast()
	return nil
}

// Attach registers the cancel func of the goroutine running jobID. It
// reports false when jobID is no longer the running job.
func (s *ServiceState) Attach(jobID string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job == nil || s.job.ID != jobID || s.status != models.TrainingRunning {
		return false
	}
	s.cancel = cancel
	return true
}

// Progress records that fraction of jobID is done.
func (s *ServiceState) Progress(ctx context.Context, jobID string, fraction float64) {
	s.mu.Lock()
	if s.job == nil || s.job.ID != jobID || s.status != models.TrainingRunning {
		s.mu.Unlock()
		return
	}
	fraction = signal.Clamp(fraction, 0, 1)
	s.job.Progress = fraction
	s.job.CurrentEpisode = int(fraction * float64(s.job.TotalEpisodes))
	s.job.UpdatedAt = s.now()
	s.mu.Unlock()

	s.persist(ctx)
	s.broadcast()
}

// Finish closes jobID with status. It is a no-op if the job was already
// stopped or replaced.
func (s *ServiceState) Finish(ctx context.Context, jobID string, status models.TrainingStatus, results []models.TrainResult, errMsg string) {
	s.mu.Lock()
	if s.job == nil || s.job.ID != jobID || s.status != models.TrainingRunning {
		s.mu.Unlock()
		return
	}
	s.job.Status = status
	s.job.Results = results
	s.job.Error = errMsg
	s.job.UpdatedAt = s.now()
	if status == models.TrainingCompleted {
		s.job.Progress = 1
		s.job.CurrentEpisode = s.job.TotalEpisodes
	}
	s.status = status
	s.cancel = nil
	s.mu.Unlock()

	s.persist(ctx)
	s.broadcast()
}

// failOrphan marks a running job whose training lock is gone as failed.
func (s *ServiceState) failOrphan(ctx context.Context, job models.TrainingJob, reason string) models.TrainingJob {
	job.Status = models.TrainingFailed
	job.Error = reason
	job.UpdatedAt = s.now()
	if err := s.store.SaveJob(ctx, job); err != nil {
		s.l.Warn("save orphaned job failed", applogger.String("job_id", job.ID), applogger.Error(err))
	}
	s.l.Warn("training job orphaned", applogger.String("job_id", job.ID), applogger.String("reason", reason))
	return job
}

// Local reports whether the running job executes in this process.
func (s *ServiceState) Local() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status == models.TrainingRunning && s.cancel != nil
}

// Mirror replaces the current job record with one read from the job
// store. It only applies to a job this process does not execute.
func (s *ServiceState) Mirror(job models.TrainingJob) {
	s.mu.Lock()
	if s.job == nil || s.job.ID != job.ID || s.cancel != nil {
		s.mu.Unlock()
		return
	}
	s.job = &job
	s.status = job.Status
	s.mu.Unlock()
	s.broadcast()
}

// Stop cancels the running job. It reports false when nothing is training.
func (s *ServiceState) Stop(ctx context.Context) (string, bool) {
	s.mu.Lock()
	if s.status != models.TrainingRunning || s.job == nil {
		s.mu.Unlock()
		return "", false
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	id := s.job.ID
	s.job.Status = models.TrainingStopped
	s.job.UpdatedAt = s.now()
	s.status = models.TrainingStopped
	s.mu.Unlock()

	s.persist(ctx)
	s.broadcast()
	return id, true
}

// SetModel records a newly loaded policy and its evaluation figures.
func (s *ServiceState) SetModel(ctx context.Context, modelID string, m *models.EvalMetrics, initialBalance float64) {
	s.mu.Lock()
	s.modelID = modelID
	if m != nil {
		s.perf.SharpeRatio = signal.Round(m.Sharpe, 4)
		s.perf.WinRate = signal.Round(m.WinRate, 4)
		s.perf.MaxDrawdown = signal.Round(m.MaxDrawdown, 4)
		if initialBalance > 0 {
			s.perf.TotalReturn = signal.Round(m.TotalPnL/initialBalance, 4)
		}
	}
	s.mu.Unlock()
	s.persist(ctx)
}

// Snapshot returns the persisted form of the state.
func (s *ServiceState) Snapshot() models.StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := models.StateSnapshot{
		ModelVersion: s.modelVersion,
		ModelID:      s.modelID,
		Params:       s.params,
		Performance:  s.perf,
	}
	snap.Performance.TrainingStatus = s.status
	if s.job != nil {
		snap.JobID = s.job.ID
	}
	return snap
}

// Subscribe returns a channel receiving a status frame on every change.
// Slow subscribers miss frames rather than block training.
func (s *ServiceState) Subscribe() (<-chan models.TrainingStatusResponse, func()) {
	ch := make(chan models.TrainingStatusResponse, 8)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, ch)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *ServiceState) broadcast() {
	st := s.Status()
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

func (s *ServiceState) persist(ctx context.Context) {
	if s.store == nil {
		return
	}
	s.mu.RLock()
	var job *models.TrainingJob
	if s.job != nil {
		j := *s.job
		job = &j
	}
	s.mu.RUnlock()

	if err := s.store.SaveState(ctx, s.Snapshot()); err != nil {
		s.l.Warn("persist service state failed", applogger.Error(err))
	}
	if job != nil {
		if err := s.store.SaveJob(ctx, *job); err != nil {
			s.l.Warn("persist training job failed", applogger.String("job_id", job.ID), applogger.Error(err))
		}
	}
}
