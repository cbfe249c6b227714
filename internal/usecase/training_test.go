package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"RLSignal/internal/domain/models"
	domrepo "RLSignal/internal/domain/repository"
	pkgkafka "RLSignal/pkg/kafka"
)

type trainingFixture struct {
	state   *ServiceState
	trainer *fakeTrainer
	jobs    domrepo.JobStore
	pub     *fakePublisher
	metrics *fakeMetrics
	uc      *TrainingUseCase
}

func newTrainingFixture(t *testing.T, jobs domrepo.JobStore, dispatch bool) *trainingFixture {
	t.Helper()
	f := &trainingFixture{
		trainer: &fakeTrainer{release: make(chan struct{})},
		jobs:    jobs,
		pub:     &fakePublisher{},
		metrics: newFakeMetrics(),
	}
	f.state = NewServiceState("1.1.0", jobs, nil)
	var dispatcher domrepo.TrainingDispatcher
	if dispatch {
		dispatcher = f.pub
	}
	f.uc = NewTrainingUseCase(f.state, f.trainer, &fakeCandles{rows: trendCandles(200)}, jobs, f.pub, dispatcher, f.metrics, nil,
		TrainingConfig{HistoryRows: 200, InitialBalance: 10000})
	return f
}

func (f *trainingFixture) statusIs(s models.TrainingStatus) func() bool {
	return func() bool { return f.state.TrainingStatus() == s }
}

func TestTrainingStartConflictAndComplete(t *testing.T) {
	f := newTrainingFixture(t, newJobStore(t), false)
	ctx := context.Background()

	id, err := f.uc.Start(ctx, models.TrainRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := f.uc.Status(ctx)
	if st.Status != models.TrainingRunning || st.JobID != id || st.TotalEpisodes != 100000 {
		t.Fatalf("unexpected status %+v", st)
	}
	if _, err := f.uc.Start(ctx, models.TrainRequest{}); !errors.Is(err, ErrTrainingInProgress) {
		t.Fatalf("second Start err = %v", err)
	}

	close(f.trainer.release)
	waitFor(t, f.statusIs(models.TrainingCompleted))

	st = f.uc.Status(ctx)
	if st.Progress != 1 || st.CurrentEpisode != st.TotalEpisodes {
		t.Fatalf("completed status %+v", st)
	}
	if f.state.ModelID() != "ppo_BTC-USD" {
		t.Errorf("model id = %q", f.state.ModelID())
	}
	if perf := f.state.Performance(); perf.SharpeRatio != 1.5 || perf.TotalReturn != 0.05 {
		t.Errorf("performance not updated: %+v", perf)
	}
	if f.pub.resultCount() != 1 {
		t.Errorf("published %d results", f.pub.resultCount())
	}
	job, err := f.uc.Job(ctx, id)
	if err != nil || job.Status != models.TrainingCompleted || len(job.Results) != 1 {
		t.Fatalf("stored job %+v, %v", job, err)
	}
	waitFor(t, func() bool {
		ok, _ := f.jobs.AcquireTrainingLock(ctx, "next", time.Minute)
		return ok
	})
}

func TestTrainingStop(t *testing.T) {
	f := newTrainingFixture(t, newJobStore(t), false)
	ctx := context.Background()

	if resp := f.uc.Stop(ctx, ""); resp.Success || resp.Message != "No training in progress" {
		t.Fatalf("idle stop = %+v", resp)
	}
	if _, err := f.uc.Start(ctx, models.TrainRequest{Symbols: []string{"ETH-USD"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	resp := f.uc.Stop(ctx, "")
	if !resp.Success || resp.Message != "Training stopped" {
		t.Fatalf("stop = %+v", resp)
	}
	if f.state.TrainingStatus() != models.TrainingStopped {
		t.Fatalf("status = %s", f.state.TrainingStatus())
	}
	waitFor(t, func() bool { return f.metrics.trainingCount("stopped") == 1 })
	if f.state.TrainingStatus() != models.TrainingStopped {
		t.Fatalf("finished run overwrote stopped status: %s", f.state.TrainingStatus())
	}
	t.Cleanup(func() { close(f.trainer.release) })
	waitFor(t, func() bool {
		_, err := f.uc.Start(ctx, models.TrainRequest{})
		return err == nil
	})
}

func TestTrainingFailed(t *testing.T) {
	f := newTrainingFixture(t, newJobStore(t), false)
	f.trainer.release = nil
	f.trainer.err = errors.New("insufficient data")

	id, err := f.uc.Start(context.Background(), models.TrainRequest{Symbols: []string{"A", "B"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, f.statusIs(models.TrainingFailed))
	job, _ := f.uc.Job(context.Background(), id)
	if job.Error != "insufficient data" || len(job.Results) != 2 {
		t.Fatalf("failed job %+v", job)
	}
}

func TestTrainingLockAcrossReplicas(t *testing.T) {
	store := newJobStore(t)
	a := newTrainingFixture(t, store, false)
	b := newTrainingFixture(t, store, false)
	ctx := context.Background()

	if _, err := a.uc.Start(ctx, models.TrainRequest{}); err != nil {
		t.Fatalf("Start on a: %v", err)
	}
	if _, err := b.uc.Start(ctx, models.TrainRequest{}); !errors.Is(err, ErrTrainingInProgress) {
		t.Fatalf("Start on b err = %v", err)
	}
	close(a.trainer.release)
	waitFor(t, a.statusIs(models.TrainingCompleted))
}

func TestTrainingRestoreDoesNotStealLiveLock(t *testing.T) {
	store := newJobStore(t)
	a := newTrainingFixture(t, store, false)
	ctx := context.Background()

	id, err := a.uc.Start(ctx, models.TrainRequest{})
	if err != nil {
		t.Fatalf("Start on a: %v", err)
	}

	b := newTrainingFixture(t, store, false)
	if err := b.state.Restore(ctx); err != nil {
		t.Fatalf("Restore on b: %v", err)
	}
	if _, err := b.uc.Start(ctx, models.TrainRequest{}); !errors.Is(err, ErrTrainingInProgress) {
		t.Fatalf("Start on b after restore err = %v", err)
	}
	if st := a.state.TrainingStatus(); st != models.TrainingRunning {
		t.Fatalf("a status = %s", st)
	}
	if holder, held, _ := store.TrainingLockHolder(ctx); !held || holder != id {
		t.Fatalf("lock holder = %q %v, want %q", holder, held, id)
	}

	close(a.trainer.release)
	waitFor(t, a.statusIs(models.TrainingCompleted))
	waitFor(t, func() bool { return b.uc.Status(ctx).Status == models.TrainingCompleted })
}

func TestTrainingStatusFailsJobAfterLockLapse(t *testing.T) {
	store := newJobStore(t)
	ctx := context.Background()

	owner := NewServiceState("1.1.0", store, nil)
	_ = owner.Begin(ctx, models.TrainingJob{ID: "j1"})
	_, _ = store.AcquireTrainingLock(ctx, "j1", time.Hour)

	f := newTrainingFixture(t, store, false)
	if err := f.state.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if st := f.uc.Status(ctx); st.Status != models.TrainingRunning {
		t.Fatalf("status while lock held = %s", st.Status)
	}

	// The owner's lease runs out without the job being closed.
	if ok, _ := store.ReleaseTrainingLock(ctx, "j1"); !ok {
		t.Fatal("release j1 lock")
	}
	if st := f.uc.Status(ctx); st.Status != models.TrainingFailed {
		t.Fatalf("status after lapse = %s", st.Status)
	}
	job, _ := store.GetJob(ctx, "j1")
	if job.Status != models.TrainingFailed || job.Error != "training lock expired" {
		t.Fatalf("stored job %+v", job)
	}
	if _, err := f.uc.Start(ctx, models.TrainRequest{}); err != nil {
		t.Fatalf("Start after lapse: %v", err)
	}
	close(f.trainer.release)
	waitFor(t, f.statusIs(models.TrainingCompleted))
}

func TestTrainingDispatchAndHandle(t *testing.T) {
	f := newTrainingFixture(t, newJobStore(t), true)
	f.trainer.release = nil
	ctx := context.Background()

	id, err := f.uc.Start(ctx, models.TrainRequest{Symbols: []string{"SOL-USD"}, Timesteps: 500})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(f.pub.dispatched) != 1 || f.pub.dispatched[0].JobID != id || f.pub.dispatched[0].Timesteps != 500 {
		t.Fatalf("dispatched %+v", f.pub.dispatched)
	}
	if len(f.trainer.symbols) != 0 {
		t.Fatal("dispatched job trained locally")
	}

	h := NewTrainJobHandler("rl.training.jobs", f.uc)
	payload, _ := json.Marshal(f.pub.dispatched[0])
	if err := h.Handle(ctx, payload); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if f.state.TrainingStatus() != models.TrainingCompleted {
		t.Fatalf("status after handle = %s", f.state.TrainingStatus())
	}
	if len(f.trainer.symbols) != 1 || f.trainer.symbols[0] != "SOL-USD" {
		t.Fatalf("trained %v", f.trainer.symbols)
	}

	var perm *pkgkafka.PermanentError
	if err := h.Handle(ctx, []byte("{")); !errors.As(err, &perm) {
		t.Fatalf("bad payload err = %v", err)
	}
}

func TestTrainingDispatchFailureRunsLocally(t *testing.T) {
	f := newTrainingFixture(t, newJobStore(t), true)
	f.trainer.release = nil
	f.pub.dispatchErr = errors.New("no brokers")

	if _, err := f.uc.Start(context.Background(), models.TrainRequest{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, f.statusIs(models.TrainingCompleted))
	if f.metrics.errorCount("dispatch_training") != 1 {
		t.Errorf("dispatch failure not recorded")
	}
}

func TestTrainingUpdateRequiresModel(t *testing.T) {
	f := newTrainingFixture(t, nil, false)
	if _, err := f.uc.Update(context.Background(), "BTC-USD"); err == nil {
		t.Fatal("expected error without a loaded model")
	}
	f.trainer.loaded = true
	res, err := f.uc.Update(context.Background(), "BTC-USD")
	if err != nil || res.ModelID != "ppo_updated" {
		t.Fatalf("Update = %+v, %v", res, err)
	}
}

func TestTrainingBootstrap(t *testing.T) {
	f := newTrainingFixture(t, newJobStore(t), false)
	if err := f.uc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if f.state.ModelID() != "" {
		t.Fatalf("model id set without a model: %q", f.state.ModelID())
	}

	f.trainer.loaded = true
	if err := f.uc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if f.state.ModelID() != "ppo_latest" {
		t.Fatalf("model id = %q", f.state.ModelID())
	}
}

func TestTrainingWithoutHistory(t *testing.T) {
	state := NewServiceState("1.1.0", nil, nil)
	uc := NewTrainingUseCase(state, &fakeTrainer{}, nil, nil, nil, nil, nil, nil, TrainingConfig{})
	if _, err := uc.Start(context.Background(), models.TrainRequest{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return state.TrainingStatus() == models.TrainingFailed })
}
