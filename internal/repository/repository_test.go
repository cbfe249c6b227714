package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"RLSignal/internal/domain/models"
	domrepo "RLSignal/internal/domain/repository"
	"RLSignal/pkg/cache"
)

type published struct {
	topic string
	key   string
	value []byte
}

type fakeProducer struct {
	msgs   []published
	closed bool
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.msgs = append(f.msgs, published{topic: topic, key: string(key), value: b})
	return nil
}

func (f *fakeProducer) Close() error { f.closed = true; return nil }

func TestKafkaPublisherRoutesByTopicAndKey(t *testing.T) {
	fp := &fakeProducer{}
	p := NewKafkaPublisher(fp, KafkaTopics{Decisions: "d", TrainingJobs: "j", TrainResults: "r"})
	ctx := context.Background()

	ev := models.DecisionEvent{Symbol: "BTCUSDT", Source: "rules", Timestamp: 1}
	ev.Action = models.ActionLong
	_ = p.PublishDecision(ctx, ev)
	_ = p.PublishTrainResult(ctx, models.TrainResult{JobID: "job-1", Success: true})
	_ = p.DispatchTraining(ctx, models.TrainJobMessage{JobID: "job-2", Timesteps: 10})
	_ = p.Close()

	want := []struct{ topic, key string }{{"d", "BTCUSDT"}, {"r", "job-1"}, {"j", "job-2"}}
	if len(fp.msgs) != len(want) {
		t.Fatalf("published %d messages, want %d", len(fp.msgs), len(want))
	}
	for i, w := range want {
		if fp.msgs[i].topic != w.topic || fp.msgs[i].key != w.key {
			t.Errorf("msg %d = %s/%s, want %s/%s", i, fp.msgs[i].topic, fp.msgs[i].key, w.topic, w.key)
		}
	}
	if !strings.Contains(string(fp.msgs[0].value), `"action":"LONG"`) {
		t.Errorf("decision payload missing flattened action: %s", fp.msgs[0].value)
	}
	if !fp.closed {
		t.Error("Close not forwarded")
	}
}

func newMemoryStore(t *testing.T) *CacheJobStore {
	t.Helper()
	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	t.Cleanup(func() { _ = mc.Close() })
	return NewCacheJobStore(mc, time.Hour)
}

func TestCacheJobStoreJobs(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, domrepo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	job := models.TrainingJob{ID: "abc", Symbols: []string{"ETHUSDT"}, Status: models.TrainingRunning, Progress: 0.5}
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	got, err := s.GetJob(ctx, "abc")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.TrainingRunning || got.Progress != 0.5 || got.Symbols[0] != "ETHUSDT" {
		t.Fatalf("unexpected job %+v", got)
	}
	if err := s.SaveJob(ctx, models.TrainingJob{}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestCacheJobStoreState(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	if _, ok, err := s.LoadState(ctx); ok || err != nil {
		t.Fatalf("LoadState on empty store = %v, %v", ok, err)
	}
	st := models.StateSnapshot{ModelVersion: "v2", Params: models.DefaultParams(), Performance: models.DefaultPerformance()}
	if err := s.SaveState(ctx, st); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	got, ok, err := s.LoadState(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadState = %v, %v", ok, err)
	}
	if got.ModelVersion != "v2" || got.Params.Algorithm != "PPO" {
		t.Fatalf("unexpected state %+v", got)
	}
}

func TestCacheJobStoreTrainingLock(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	if ok, _ := s.AcquireTrainingLock(ctx, "a", time.Minute); !ok {
		t.Fatal("first acquire failed")
	}
	if ok, _ := s.AcquireTrainingLock(ctx, "b", time.Minute); ok {
		t.Fatal("second acquire should fail while held")
	}
	if id, held, err := s.TrainingLockHolder(ctx); err != nil || !held || id != "a" {
		t.Fatalf("holder = %q %v %v", id, held, err)
	}
	if released, err := s.ReleaseTrainingLock(ctx, "b"); err != nil || released {
		t.Fatalf("job b released a lock held by a: %v %v", released, err)
	}
	if released, err := s.ReleaseTrainingLock(ctx, "a"); err != nil || !released {
		t.Fatalf("holder release = %v %v", released, err)
	}
	if _, held, _ := s.TrainingLockHolder(ctx); held {
		t.Fatal("lock still held after release")
	}
	if ok, _ := s.AcquireTrainingLock(ctx, "b", time.Minute); !ok {
		t.Fatal("acquire after release failed")
	}
}

func TestCandleQueries(t *testing.T) {
	q := rangeQuery("rl.candles_1m", domrepo.TF1m)
	if strings.Contains(q, "toStartOfInterval") || !strings.Contains(q, "ORDER BY bucket ASC") {
		t.Fatalf("1m range query should read raw rows: %s", q)
	}
	q = rangeQuery("rl.candles_1m", domrepo.TF15m)
	if !strings.Contains(q, "INTERVAL 900 SECOND") || !strings.Contains(q, "argMax(close, bucket)") {
		t.Fatalf("15m range query should aggregate: %s", q)
	}
	q = latestQuery("rl.candles_1m", domrepo.TF1h)
	if !strings.Contains(q, "INTERVAL 3600 SECOND") || !strings.Contains(q, "DESC") {
		t.Fatalf("1h latest query: %s", q)
	}
}

func TestReverseCandles(t *testing.T) {
	c := []models.Candle{{Close: 1}, {Close: 2}, {Close: 3}}
	reverseCandles(c)
	if c[0].Close != 3 || c[2].Close != 1 {
		t.Fatalf("reverse = %+v", c)
	}
}

func TestDecisionDDLTTL(t *testing.T) {
	if !strings.Contains(decisionDDL("rl.decisions", 30), "INTERVAL 30 DAY") {
		t.Fatal("ttl clause missing")
	}
	if strings.Contains(decisionDDL("rl.decisions", 0), "TTL") {
		t.Fatal("ttl clause should be omitted for 0")
	}
}
