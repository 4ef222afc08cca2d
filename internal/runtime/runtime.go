// Package runtime assembles a Cortex node from configuration: logging,
// metrics, tracing, stores, the file substrate, providers, pathways,
// the executor, and the HTTP gateway. Everything hangs off the Runtime
// value; there are no package-level singletons.
package runtime

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cortexgw/cortex/internal/config"
	"github.com/cortexgw/cortex/internal/executor"
	"github.com/cortexgw/cortex/internal/filehandler"
	"github.com/cortexgw/cortex/internal/fileset"
	"github.com/cortexgw/cortex/internal/gateway"
	"github.com/cortexgw/cortex/internal/media"
	"github.com/cortexgw/cortex/internal/observability"
	"github.com/cortexgw/cortex/internal/pathway"
	"github.com/cortexgw/cortex/internal/progress"
	"github.com/cortexgw/cortex/internal/providers"
	"github.com/cortexgw/cortex/internal/tokenizer"
)

// Runtime is one fully wired gateway node.
type Runtime struct {
	Config *config.Config

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	Bus      *progress.Bus
	Events   *observability.EventStore
	Files    *fileset.Manager
	Pathways *pathway.Registry
	Executor *executor.Executor
	Server   *gateway.Server

	store         fileset.Store
	watcher       *pathway.Watcher
	gatherer      *prometheus.Registry
	tracerStop    func(context.Context) error
	watcherCancel context.CancelFunc
}

// BuildInfo is stamped at link time by the CLI.
type BuildInfo struct {
	Version string
	Commit  string
}

// New wires a runtime from validated configuration. Close releases
// everything it opens.
func New(ctx context.Context, cfg *config.Config, build BuildInfo) (*Runtime, error) {
	r := &Runtime{Config: cfg}

	r.Logger = observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
	registry := prometheus.NewRegistry()
	r.Metrics = observability.NewMetrics(registry)
	r.gatherer = registry

	if cfg.Observability.Tracing.Enabled {
		r.Tracer, r.tracerStop = observability.NewTracer(observability.TraceConfig{
			ServiceName:    cfg.Observability.Tracing.ServiceName,
			ServiceVersion: build.Version,
			Environment:    cfg.Observability.Tracing.Environment,
			Endpoint:       cfg.Observability.Tracing.Endpoint,
			SamplingRate:   cfg.Observability.Tracing.SamplingRate,
			Attributes:     cfg.Observability.Tracing.Attributes,
			EnableInsecure: cfg.Observability.Tracing.Insecure,
		})
	}

	r.Bus = progress.NewBus(0)

	var recorder *observability.EventRecorder
	if cfg.Server.Debug {
		r.Events = observability.NewEventStore(0)
		recorder = observability.NewEventRecorder(r.Events, r.Logger)
	}

	files, fileHandler, err := r.buildFileSubstrate(ctx, cfg)
	if err != nil {
		r.close(ctx)
		return nil, err
	}
	r.Files = files

	pathways, watcher, err := buildPathways(cfg, r.Logger)
	if err != nil {
		r.close(ctx)
		return nil, err
	}
	r.Pathways = pathways
	r.watcher = watcher
	if watcher != nil {
		wctx, cancel := context.WithCancel(context.Background())
		r.watcherCancel = cancel
		if err := watcher.Start(wctx); err != nil {
			r.close(ctx)
			return nil, fmt.Errorf("start pathway watcher: %w", err)
		}
	}

	shrinker := media.NewShrinker(cfg.Media.MaxImageDimension)
	plugins := providers.NewDefaultRegistry(shrinker)

	tokens, err := buildTokenEngine(cfg, r.Logger)
	if err != nil {
		r.close(ctx)
		return nil, err
	}

	exec, err := executor.New(executor.Options{
		Config:   cfg.Executor,
		Agent:    cfg.Agent,
		Models:   cfg.Models,
		Pathways: pathways,
		Plugins:  plugins,
		Bus:      r.Bus,
		Files:    r.Files,
		Tokens:   tokens,
		Metrics:  r.Metrics,
		Logger:   r.Logger,
		Tracer:   r.Tracer,
		Events:   recorder,
	})
	if err != nil {
		r.close(ctx)
		return nil, fmt.Errorf("build executor: %w", err)
	}
	r.Executor = exec

	server, err := gateway.New(gateway.Options{
		Config:   cfg.Server,
		Executor: exec,
		Bus:      r.Bus,
		Files:    fileHandler,
		Metrics:  r.Metrics,
		Logger:   r.Logger,
		Events:   r.Events,
		Gatherer: r.gatherer,
	})
	if err != nil {
		r.close(ctx)
		return nil, fmt.Errorf("build gateway: %w", err)
	}
	r.Server = server

	r.Logger.Info(ctx, "runtime assembled",
		"version", build.Version,
		"models", len(cfg.Models),
		"pathways", pathways.Len(),
		"storage", cfg.Storage.Backend,
	)
	return r, nil
}

// Run delegates a typed query to the executor. This is the in-process
// equivalent of POST /v1/pathways/<name>.
func (r *Runtime) Run(ctx context.Context, req executor.RunRequest) (*executor.RunResponse, error) {
	return r.Executor.Run(ctx, req)
}

// Serve starts the HTTP gateway and blocks until shutdown.
func (r *Runtime) Serve() error {
	return r.Server.Start()
}

// Shutdown drains the gateway and releases every resource the runtime
// opened, in reverse assembly order.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var firstErr error
	if r.Server != nil {
		if err := r.Server.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.close(ctx)
	return firstErr
}

func (r *Runtime) close(ctx context.Context) {
	if r.Executor != nil {
		r.Executor.Close()
	}
	if r.watcherCancel != nil {
		r.watcherCancel()
	}
	if r.watcher != nil {
		_ = r.watcher.Close()
	}
	if r.store != nil {
		_ = r.store.Close()
	}
	if r.tracerStop != nil {
		_ = r.tracerStop(ctx)
	}
}

// buildFileSubstrate assembles the file store, the uploader, and, when
// configured, the embedded file handler mounted on the gateway.
func (r *Runtime) buildFileSubstrate(ctx context.Context, cfg *config.Config) (*fileset.Manager, *filehandler.Handler, error) {
	store, err := buildStore(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	r.store = store

	var uploader fileset.Uploader
	var handler *filehandler.Handler

	switch {
	case cfg.FileHandler.URL != "":
		uploader = fileset.NewClient(cfg.FileHandler.URL)
	case cfg.FileHandler.Embedded.Enabled:
		blobs, err := buildBlobStore(ctx, cfg.FileHandler.Embedded)
		if err != nil {
			return nil, nil, err
		}
		handler = filehandler.NewHandler(blobs, r.Logger)
		uploader = filehandler.NewDirect(blobs)
	default:
		// No file handler configured: the file substrate stays off and
		// pathways run without the built-in file tools.
		return nil, nil, nil
	}

	manager := fileset.NewManager(fileset.ManagerOptions{
		Store:     store,
		Uploader:  uploader,
		SystemKey: cfg.Storage.EncryptionKey,
		CacheTTL:  cfg.Storage.CacheTTL,
		Metrics:   r.Metrics,
		Logger:    r.Logger,
	})
	return manager, handler, nil
}

func buildStore(ctx context.Context, cfg config.StorageConfig) (fileset.Store, error) {
	switch cfg.Backend {
	case config.StorageBackendRedis:
		store, err := fileset.NewRedisStore(ctx, cfg.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return store, nil
	case config.StorageBackendSQLite:
		store, err := fileset.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.StorageBackendMemory:
		return fileset.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func buildBlobStore(ctx context.Context, cfg config.EmbeddedFileHandlerConfig) (filehandler.BlobStore, error) {
	switch cfg.Backend {
	case config.BlobBackendLocal:
		store, err := filehandler.NewLocalStore(cfg.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("open local blob store: %w", err)
		}
		return store, nil
	case config.BlobBackendS3:
		store, err := filehandler.NewS3Store(ctx, filehandler.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 blob store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}

// buildPathways registers inline specs, loads the pathway directory, and
// prepares the hot-reload watcher when configured.
func buildPathways(cfg *config.Config, logger *observability.Logger) (*pathway.Registry, *pathway.Watcher, error) {
	registry := pathway.NewRegistry(logger)

	for _, spec := range cfg.Pathways.Inline {
		p, err := pathway.Compile(spec)
		if err != nil {
			return nil, nil, fmt.Errorf("compile inline pathway %q: %w", spec.Name, err)
		}
		if err := registry.Register(p); err != nil {
			return nil, nil, err
		}
	}

	if cfg.Pathways.Directory == "" {
		return registry, nil, nil
	}
	loaded, err := pathway.LoadDir(cfg.Pathways.Directory)
	if err != nil {
		return nil, nil, fmt.Errorf("load pathway directory: %w", err)
	}
	for _, p := range loaded {
		if err := registry.Register(p); err != nil {
			return nil, nil, err
		}
	}

	var watcher *pathway.Watcher
	if cfg.Pathways.Watch {
		watcher = pathway.NewWatcher(cfg.Pathways.Directory, registry, logger)
	}
	return registry, watcher, nil
}

// buildTokenEngine prefers the real tiktoken vocabulary of the first
// configured model and degrades to the deterministic estimator when no
// vocabulary can be loaded.
func buildTokenEngine(cfg *config.Config, logger *observability.Logger) (*tokenizer.Engine, error) {
	model := ""
	if len(cfg.Models) > 0 {
		model = cfg.Models[0].Name
	}
	codec, err := tokenizer.NewTiktokenCodec(model)
	if err != nil {
		logger.Warn(context.Background(), "tiktoken unavailable, using approximate token counts",
			"model", model, "error", err)
		codec = tokenizer.NewApproxCodec()
	}
	return tokenizer.NewEngine(codec), nil
}
