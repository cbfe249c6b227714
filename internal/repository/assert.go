package repository

import domrepo "RLSignal/internal/domain/repository"

var (
	_ domrepo.DecisionPublisher  = (*KafkaPublisher)(nil)
	_ domrepo.TrainingDispatcher = (*KafkaPublisher)(nil)
	_ domrepo.DecisionLog        = (*CHDecisionLog)(nil)
	_ domrepo.CandleStore        = (*CHCandleStore)(nil)
	_ domrepo.JobStore           = (*CacheJobStore)(nil)
)
