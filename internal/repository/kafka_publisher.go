package repository

import (
	"context"

	"RLSignal/internal/domain/models"
)

// messagePublisher is the subset of pkg/kafka.Producer used here.
type messagePublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaTopics names the topics the publisher writes to.
type KafkaTopics struct {
	Decisions    string
	TrainingJobs string
	TrainResults string
}

// KafkaPublisher publishes decisions, training results and training jobs.
// Decisions are keyed by symbol; jobs and results by job id.
type KafkaPublisher struct {
	p      messagePublisher
	topics KafkaTopics
}

func NewKafkaPublisher(p messagePublisher, topics KafkaTopics) *KafkaPublisher {
	return &KafkaPublisher{p: p, topics: topics}
}

func (k *KafkaPublisher) PublishDecision(ctx context.Context, ev models.DecisionEvent) error {
	return k.p.Publish(ctx, k.topics.Decisions, []byte(ev.Symbol), ev)
}

func (k *KafkaPublisher) PublishTrainResult(ctx context.Context, res models.TrainResult) error {
	return k.p.Publish(ctx, k.topics.TrainResults, []byte(res.JobID), res)
}

func (k *KafkaPublisher) DispatchTraining(ctx context.Context, msg models.TrainJobMessage) error {
	return k.p.Publish(ctx, k.topics.TrainingJobs, []byte(msg.JobID), msg)
}

func (k *KafkaPublisher) Close() error { return k.p.Close() }
