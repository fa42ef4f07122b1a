//go:build wireinject
// +build wireinject

package di

import (
	"MarketPulse/pkg/config"
	"MarketPulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideLogCollector,
		ProvideRegistry,
		ProvideMetrics,

		// Message bus
		ProvideRedisTransport,
		ProvideKafkaProducer,
		ProvideTransport,
		ProvideBusClient,
		ProvidePublisher,

		// Signal sinks
		ProvideCache,
		ProvideSignalCache,
		ProvideStorage,
		ProvideSinkPipeline,

		// Use cases
		ProvideAggregator,
		ProvideSignalStream,
		ProvideSubscribers,

		// HTTP
		ProvideLimiter,
		ProvideStatusHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
