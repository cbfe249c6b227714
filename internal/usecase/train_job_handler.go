package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"RLSignal/internal/domain/models"
	pkgkafka "RLSignal/pkg/kafka"
)

// TrainJobHandler consumes the training topic and executes each job.
type TrainJobHandler struct {
	topic string
	uc    *TrainingUseCase
}

func NewTrainJobHandler(topic string, uc *TrainingUseCase) *TrainJobHandler {
	return &TrainJobHandler{topic: topic, uc: uc}
}

func (h *TrainJobHandler) Topic() string { return h.topic }

// Handle decodes a TrainJobMessage and runs it to completion. Malformed
// payloads and jobs that collide with a running one are not retried.
func (h *TrainJobHandler) Handle(ctx context.Context, b []byte) error {
	var msg models.TrainJobMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		h.uc.recordError("consumer_unmarshal")
		return pkgkafka.Permanent(fmt.Errorf("decode training job: %w", err))
	}
	if err := h.uc.Execute(ctx, msg); err != nil {
		if errors.Is(err, ErrTrainingInProgress) {
			return pkgkafka.Permanent(err)
		}
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*TrainJobHandler)(nil)
