package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/handler/api"
	mid "MarketPulse/internal/middleware"
	"MarketPulse/internal/service/ratelimit"
	"MarketPulse/pkg/bus"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	applogger "MarketPulse/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Option configures optional App components.
type Option func(*App)

type namedCloser struct {
	name string
	c    io.Closer
}

// WithSink attaches the durable signal pipeline. It is started before the
// subscribers and drained after them.
func WithSink(p *mid.SinkPipeline) Option {
	return func(a *App) { a.sink = p }
}

// WithStore closes store on shutdown, after the sink has drained.
func WithStore(s domrepo.SignalStore) Option {
	return func(a *App) { a.store = s }
}

// WithStream disconnects WebSocket clients on shutdown.
func WithStream(s *api.SignalStream) Option {
	return func(a *App) { a.stream = s }
}

// WithLimiter periodically forgets idle rate-limit keys.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(a *App) { a.limiter = l }
}

// WithCloser registers an extra resource closed last.
func WithCloser(name string, c io.Closer) Option {
	return func(a *App) {
		if c != nil {
			a.closers = append(a.closers, namedCloser{name: name, c: c})
		}
	}
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	logger      *applogger.Logger
	client      *bus.Client
	publisher   *bus.Publisher
	subscribers []*bus.Subscriber
	httpServer  *xhttp.Server

	sink    *mid.SinkPipeline
	store   domrepo.SignalStore
	stream  *api.SignalStream
	limiter *ratelimit.Limiter
	closers []namedCloser
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	client *bus.Client,
	publisher *bus.Publisher,
	subscribers []*bus.Subscriber,
	httpServer *xhttp.Server,
	opts ...Option,
) *App {
	a := &App{
		cfg:         cfg,
		logger:      logger,
		client:      client,
		publisher:   publisher,
		subscribers: subscribers,
		httpServer:  httpServer,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx)
}

// Serve runs every component until ctx is cancelled or one of them fails,
// then shuts everything down in dependency order.
func (a *App) Serve(ctx context.Context) error {
	if a.sink != nil {
		// writes must outlive ctx so the final drain can complete
		a.sink.Start(context.WithoutCancel(ctx))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range a.subscribers {
		sub := sub
		g.Go(func() error {
			err := sub.Listen(gctx)
			if errors.Is(err, bus.ErrClosed) && gctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	g.Go(a.httpServer.Start)
	g.Go(func() error {
		a.watchPublisher(gctx)
		return nil
	})
	if a.limiter != nil && a.limiter.Enabled() {
		g.Go(func() error {
			a.sweepLimiter(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			a.logger.Info("shutdown signal received")
		}
		return a.shutdown()
	})

	a.logger.Info("marketpulse started",
		applogger.String("env", a.cfg.Environment),
		applogger.String("bus", a.client.TransportName()),
		applogger.String("storage", a.cfg.Storage.Type),
		applogger.String("http", a.httpServer.Addr()),
	)
	return g.Wait()
}

// watchPublisher surfaces ErrReconnectExhausted; the publisher keeps
// buffering until an operator re-arms it.
func (a *App) watchPublisher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-a.publisher.Errors():
			if !ok {
				return
			}
			st := a.publisher.Status()
			a.logger.Error("bus publisher degraded, POST /api/bus/reconnect to retry",
				applogger.Error(err),
				applogger.Int("buffered", st.Buffered),
				applogger.Uint64("dropped", st.Dropped),
			)
		}
	}
}

func (a *App) sweepLimiter(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.limiter.Sweep(10 * time.Minute); n > 0 {
				a.logger.Debug("rate limiter swept idle clients", applogger.Int("removed", n))
			}
		}
	}
}

// shutdown gracefully stops all services.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}
	if a.stream != nil {
		a.stream.Close()
	}
	for _, sub := range a.subscribers {
		if err := sub.Stop(ctx); err != nil {
			a.logger.Warn("subscriber stop error", applogger.Error(err))
		}
	}
	if err := a.publisher.Close(); err != nil {
		a.logger.Warn("publisher close error", applogger.Error(err))
	}
	if a.sink != nil {
		if err := a.sink.Stop(ctx); err != nil {
			a.logger.Error("sink drain error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("signal store close error", applogger.Error(err))
		}
	}
	if err := a.client.Close(); err != nil {
		a.logger.Warn("bus client close error", applogger.Error(err))
	}
	for _, nc := range a.closers {
		if err := nc.c.Close(); err != nil {
			a.logger.Warn("close error", applogger.String("resource", nc.name), applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
