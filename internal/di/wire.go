//go:build wireinject
// +build wireinject

package di

import (
	"RLSignal/pkg/config"
	"RLSignal/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideCache,
		ProvideONNXRuntime,

		// Repositories
		ProvideCandleStore,
		ProvideDecisionLog,
		ProvideKafkaPublisher,
		ProvideDecisionPublisher,
		ProvideTrainingDispatcher,
		ProvideJobStore,

		// Policy
		ProvideLearnedPredictor,
		ProvideTrainer,

		// Use cases
		ProvideServiceState,
		ProvideJitter,
		ProvideDecisionUseCase,
		ProvideTrainingUseCase,
		ProvideSimulateUseCase,
		ProvideTrainJobHandler,

		// HTTP
		ProvideRateLimiter,
		ProvideTrainingStream,
		ProvideRLHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
