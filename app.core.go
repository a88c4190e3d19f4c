package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"slices"
	"syscall"

	"github.com/boltdb/bolt"
	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type AppProvider interface {
	Run() error
	Serve() func() error
	Stop(context.Context, context.Context) func() error
}

// Backends holds the opened storage clients. The bolt file serves both the
// library items and the archive bucket, the redis client both the items
// and the activity queue.
type Backends struct {
	kv      KVStore
	bolt    *bolt.DB
	redis   *redis.Client
	queue   Queuer
	archive ArchiveStorage
	closers []func() error
}

// OpenBackends connects to the configured storage. The in-process activity
// queue only makes sense for a long running server, so short lived commands
// archive nothing unless the queue lives in redis.
func OpenBackends(config *Config, logger *zap.Logger, serving bool) (*Backends, error) {
	b := &Backends{}
	var err error
	if config.usesBolt() {
		if b.bolt, err = GetBoltDBClient(config); err != nil {
			return nil, fmt.Errorf("failed to open boltDB file: %w", err)
		}
		b.closers = append(b.closers, b.bolt.Close)
	}

	if config.usesRedis() {
		if b.redis, err = GetRedisClient(config); err != nil {
			b.closers = append(b.closers, b.redis.Close)
			_ = b.Close()
			return nil, fmt.Errorf("failed to connect to redis server: %w", err)
		}
		b.closers = append(b.closers, b.redis.Close)
	}

	switch config.Storage.Backend {
	case BackendMemory:
		b.kv, err = NewMemDBKVStore(logger, config.Storage.Capacity)
	case BackendBolt:
		b.kv = NewBoltKVStore(logger, &config.BoltDB, b.bolt, config.Storage.Capacity)
	case BackendSQLite:
		var db *sql.DB
		if db, err = GetSQLiteClient(config); err == nil {
			b.kv = NewSQLiteKVStore(logger, &config.SQLite, db)
			b.closers = append(b.closers, b.kv.Close)
		}
	case BackendRedis:
		b.kv = NewRedisKVStore(logger, b.redis, config.Storage.Capacity)
	}
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to setup %s storage: %w", config.Storage.Backend, err)
	}

	if config.Archive.Enable {
		b.archive = NewBoltArchiveStorage(logger, &config.BoltDB, b.bolt)
		switch {
		case config.Archive.Queue == BackendRedis:
			b.queue = NewRedisQueue(b.redis)
		case serving:
			b.queue = NewMemoryQueue(config.Archive.QueueSize)
		}
	}
	return b, nil
}

// Close releases every client, the last opened first.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// Env bundles the components shared by every command.
type Env struct {
	config   *Config
	logger   *zap.Logger
	clock    *Clock
	backends *Backends
	library  *Library
	service  *LibraryService
	cleanups []func()
}

// Bootstrap loads the configuration, sets up logging, opens the storage and
// loads the library. Logs go to console only when serving, so commands
// output stays machine readable.
func Bootstrap(ctx context.Context, configFile, envFile string, serving bool) (*Env, error) {
	config, err := LoadAndInitConfigs(configFile, envFile, GitCommit, GitTag, BuildTime)
	if err != nil {
		return nil, fmt.Errorf("failed to setup app configuration: %s", err)
	}

	clock := NewClock(config.IsProduction)
	logWriter := NewRSyncWriter(config, clock)
	var console *os.File
	if serving {
		console = os.Stdout
	}
	logger, flusher := SetupLogging(config, logWriter, NewTickClock(clock), console)
	env := &Env{
		config: config,
		logger: logger,
		clock:  clock,
		cleanups: []func(){
			func() { _ = flusher() },
			func() {
				if cerr := logWriter.Close(); cerr != nil {
					fmt.Fprintln(os.Stderr, "error during closing of log file: ", cerr)
				}
			},
		},
	}

	env.backends, err = OpenBackends(config, logger, serving)
	if err != nil {
		env.Clean()
		return nil, err
	}
	env.cleanups = slices.Insert(env.cleanups, 0, func() {
		if cerr := env.backends.Close(); cerr != nil {
			logger.Error("failed to close storage", zap.Error(cerr))
		}
	})

	env.library, err = OpenLibrary(ctx, logger, &config.Library, env.backends.kv, clock, NewIDsHandler(), env.backends.queue)
	if err != nil {
		env.Clean()
		return nil, fmt.Errorf("failed to load the library: %w", err)
	}
	env.service = NewLibraryService(logger, env.library, env.backends.archive)
	return env, nil
}

// Clean calls all registered cleanups functions.
func (env *Env) Clean() {
	for _, f := range env.cleanups {
		f()
	}
	env.cleanups = nil
}

type App struct {
	env            *Env
	logger         *zap.Logger
	config         *Config
	server         *http.Server
	queueConsumers []func(context.Context) error
}

// NewApp provides an instance of App serving the library of env.
func NewApp(env *Env) AppProvider {
	config := env.config
	apiService := NewAPIHandler(
		env.logger,
		config,
		&Statistics{
			version:   config.GitTag,
			container: IsAppRunningInDocker(),
			started:   env.clock.Now(),
			runtime:   runtime.Version(),
			platform:  runtime.GOOS + "/" + runtime.GOARCH,
			backend:   config.Storage.Backend,
		},
		env.clock,
		env.service,
	)

	// Use git commit in case the tag is not set.
	if config.GitTag == "" {
		apiService.stats.version = config.GitCommit
	}

	// Build the map of middlewares stacks.
	middlewaresPublic, middlewaresOps := apiService.MiddlewaresStacks()

	// Configure the endpoints with their handlers and middlewares.
	router := apiService.SetupRoutes(httprouter.New(),
		&MiddlewareMap{
			public: middlewaresPublic.Chain,
			ops:    middlewaresOps.Chain,
		},
	)
	// Wrap the router with the default http timeout handler.
	routerWithTimeout := http.TimeoutHandler(
		router,
		config.Server.RequestTimeout,
		"Timeout. Processing taking too long. Please try again.")

	// Build the api server definition.
	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port),
		Handler:        routerWithTimeout,
		ReadTimeout:    config.Server.ReadTimeout,
		WriteTimeout:   config.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // Max headers size : 1MB
	}

	app := &App{
		env:    env,
		logger: env.logger,
		config: config,
		server: srv,
	}

	if backends := env.backends; backends.queue != nil && backends.archive != nil {
		archiveConsumer := NewArchiveConsumer(env.logger, backends.queue, backends.archive)
		app.queueConsumers = append(app.queueConsumers, func(ctx context.Context) error {
			return archiveConsumer.Consume(ctx, ActivityQueue)
		})
	}
	return app
}

// Run starts the api web server and a goroutine which is responsible to stop it.
func (app *App) Run() error {
	defer app.env.Clean()
	nCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(nCtx)

	g.Go(app.ConsumeQueues(gCtx, g))
	g.Go(app.Serve())
	g.Go(app.Stop(nCtx, gCtx))

	err := g.Wait()
	app.logger.Info("api server stopped",
		zap.String("app.host", app.config.Server.Host),
		zap.String("app.port", app.config.Server.Port),
		zap.Error(err),
	)
	return err
}

// Serve starts the api web server. It returned error
// will be caught by the errorgroup.
func (app *App) Serve() func() error {
	return func() error {
		app.logger.Info("api server starting",
			zap.String("app.host", app.config.Server.Host),
			zap.String("app.port", app.config.Server.Port),
			zap.String("storage.backend", app.config.Storage.Backend),
		)
		err := app.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		return err
	}
}

// Stop listens for the group context and triggers the server graceful shutdown.
// It states the reason of its call. We proceed with a brutal shutdown if the
// the graceful did not complete successfully. We explicitly return `nil` to
// allow the errorgroup catches only the `Serve` method result.
func (app *App) Stop(nCtx, gCtx context.Context) func() error {
	return func() error {
		<-gCtx.Done()

		if nCtx.Err() != nil {
			app.logger.Info("api server stopping. reason: requested to stop")
		} else {
			app.logger.Info("api server stopping. reason: errored at running")
		}

		sCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
		defer cancel()
		err := app.server.Shutdown(sCtx)
		switch {
		case err == nil, errors.Is(err, http.ErrServerClosed):
			app.logger.Info("api server graceful shutdown succeeded")
		case errors.Is(err, context.DeadlineExceeded):
			app.logger.Info("api server graceful shutdown timed out")
		default:
			app.logger.Info("api server graceful shutdown failed", zap.Error(err))
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Info("api server going to force shutdown", zap.Error(app.server.Close()))
		}
		return nil
	}
}

// ConsumeQueues runs all queue consumers into separate controlled goroutines.
func (app *App) ConsumeQueues(gCtx context.Context, g *errgroup.Group) func() error {
	return func() error {
		for _, consume := range app.queueConsumers {
			consume := consume
			f := func() error {
				return consume(gCtx)
			}
			g.Go(f)
		}
		return nil
	}
}
