package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	xhttp "RLSignal/pkg/http"
	pkgkafka "RLSignal/pkg/kafka"
	applogger "RLSignal/pkg/logger"
)

const bootstrapTimeout = 15 * time.Second

// Bootstrapper prepares state before traffic is accepted.
type Bootstrapper interface {
	Bootstrap(ctx context.Context) error
}

// Resource is a dependency released at shutdown, in registration order.
type Resource struct {
	Name  string
	Close func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	l          *applogger.Logger
	httpServer *xhttp.Server
	consumer   *pkgkafka.Consumer
	handlers   []pkgkafka.MessageHandler
	boot       Bootstrapper
	resources  []Resource
}

// New creates a new App. consumer may be nil when Kafka is disabled.
func New(
	l *applogger.Logger,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	handlers []pkgkafka.MessageHandler,
	boot Bootstrapper,
	resources []Resource,
) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{
		l:          l,
		httpServer: httpServer,
		consumer:   consumer,
		handlers:   handlers,
		boot:       boot,
		resources:  resources,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.boot != nil {
		bctx, bcancel := context.WithTimeout(ctx, bootstrapTimeout)
		if err := a.boot.Bootstrap(bctx); err != nil {
			a.l.Warn("bootstrap incomplete, continuing with rule-based signals", applogger.Error(err))
		}
		bcancel()
	}

	if a.consumer != nil && len(a.handlers) > 0 {
		for _, h := range a.handlers {
			a.consumer.RegisterHandler(h)
		}
		if err := a.consumer.Start(); err != nil {
			a.l.Error("kafka consumer start error", applogger.Error(err))
			return err
		}
	}

	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh

	a.l.Info("shutdown signal received", applogger.String("signal", sig.String()))
	return a.shutdown(ctx)
}

// shutdown stops intake first, then releases infrastructure.
func (a *App) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.httpServer.ShutdownTimeout())
	defer cancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	for _, r := range a.resources {
		if r.Close == nil {
			continue
		}
		if err := r.Close(); err != nil {
			a.l.Warn("close error", applogger.String("resource", r.Name), applogger.Error(err))
		}
	}

	a.l.Info("shutdown complete")
	return nil
}
