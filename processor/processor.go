package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/rampburst/config"
	"github.com/timzifer/rampburst/internal/logging"
	"github.com/timzifer/rampburst/internal/reload"
	"github.com/timzifer/rampburst/service"
	"github.com/timzifer/rampburst/telemetry"
)

// ReloadFunc represents a function that reloads the processor configuration.
type ReloadFunc func(ctx context.Context) error

// Option configures the processor during construction.
type Option func(*settings) error

type settings struct {
	config            *config.Config
	configPath        string
	registerReload    func(ReloadFunc)
	logger            zerolog.Logger
	customLogger      bool
	telemetry         telemetry.Collector
	telemetryProvided bool
	serviceOptions    []service.Option
}

// Processor owns the sequencer service and swaps it for a freshly built one
// when the configuration changes. A swap only happens while the controller is
// idle, so a burst in flight always runs to completion on the old program set.
type Processor struct {
	mu sync.Mutex

	config     *config.Config
	configPath string

	collector      telemetry.Collector
	serviceOptions []service.Option

	customLogger bool
	baseLogger   zerolog.Logger

	watcher      *reload.Watcher
	reloadCh     chan reloadRequest
	pollInterval time.Duration

	current *runtimeState
	running bool
}

type runtimeState struct {
	cfg     *config.Config
	logger  zerolog.Logger
	cleanup func()
	srv     *service.Service
}

type reloadRequest struct {
	done  chan error
	files []string
}

// staged is a validated configuration waiting for the controller to go idle.
type staged struct {
	cfg *config.Config
	req reloadRequest
}

// New constructs a processor with the supplied options.
func New(ctx context.Context, opts ...Option) (*Processor, error) {
	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	cfg := settings{
		logger:    zerolog.Nop(),
		telemetry: telemetry.Noop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		if cfg.configPath == "" {
			return nil, errors.New("configuration path required")
		}
		loaded, err := config.Load(cfg.configPath)
		if err != nil {
			return nil, fmt.Errorf("load configuration: %w", err)
		}
		cfg.config = loaded
	}

	if !cfg.telemetryProvided {
		collector, err := newTelemetryCollector(cfg.config.Telemetry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
			cfg.telemetry = telemetry.Noop()
		} else {
			cfg.telemetry = collector
		}
	}

	proc := &Processor{
		config:         cfg.config,
		configPath:     cfg.configPath,
		collector:      cfg.telemetry,
		serviceOptions: cfg.serviceOptions,
		customLogger:   cfg.customLogger,
		baseLogger:     cfg.logger,
		pollInterval:   time.Second,
	}

	runtime, err := proc.buildRuntime(cfg.config)
	if err != nil {
		return nil, err
	}
	proc.current = runtime

	if cfg.configPath != "" {
		proc.reloadCh = make(chan reloadRequest)
	}

	if err := proc.initWatcher(cfg.config); err != nil {
		proc.release(runtime)
		return nil, err
	}

	if cfg.registerReload != nil {
		cfg.registerReload(proc.Reload)
	}

	return proc, nil
}

// Service returns the currently active sequencer service.
func (p *Processor) Service() *service.Service {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	return p.current.srv
}

// Run executes the processor until the context is cancelled or the service stops with an error.
func (p *Processor) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return errors.New("processor not initialized")
	}
	if p.running {
		p.mu.Unlock()
		return errors.New("processor already running")
	}
	p.running = true
	current := p.current
	watcher := p.watcher
	reloadCh := p.reloadCh
	interval := p.pollInterval
	p.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	defer func() {
		p.mu.Lock()
		p.running = false
		if p.current == current {
			p.current = nil
		}
		p.mu.Unlock()
	}()

	var next *staged
	for {
		runCtx, cancelRun := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func(s *service.Service) {
			errCh <- s.Run(runCtx)
		}(current.srv)

	loop:
		for {
			if next != nil && current.srv.Idle() {
				break loop
			}
			select {
			case <-ctx.Done():
				cancelRun()
				err := <-errCh
				p.release(current)
				if next != nil && next.req.done != nil {
					next.req.done <- ctx.Err()
				}
				if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				return ctx.Err()
			case err := <-errCh:
				cancelRun()
				p.release(current)
				if next != nil && next.req.done != nil {
					next.req.done <- errors.New("service stopped before reload")
				}
				return err
			case req := <-reloadCh:
				cfg, err := p.loadConfig()
				if err == nil {
					err = service.Validate(cfg)
				}
				if err != nil {
					current.logger.Error().Err(err).Msg("reloaded configuration invalid")
					if req.done != nil {
						req.done <- err
					}
					continue
				}
				if next != nil && next.req.done != nil {
					next.req.done <- errors.New("reload superseded")
				}
				next = &staged{cfg: cfg, req: req}
				current.srv.SetDraining(true)
				current.logger.Info().Msg("configuration reload staged until controller is idle")
			case <-ticker.C:
				if next != nil || watcher == nil {
					continue
				}
				changes, err := watcher.Check()
				if err != nil {
					current.logger.Error().Err(err).Msg("failed to check configuration changes")
					continue
				}
				if len(changes) == 0 {
					continue
				}
				jobs := watcher.Jobs(changes)
				cfg, err := p.loadConfig()
				if err == nil {
					err = service.Validate(cfg)
				}
				if err != nil {
					current.logger.Error().Err(err).Strs("files", changes).Strs("jobs", jobs).Msg("reloaded configuration invalid")
					// Snapshot the broken files so the same edit is not reported every poll.
					if uerr := watcher.Update(p.configPath, p.currentConfig()); uerr != nil {
						current.logger.Error().Err(uerr).Msg("failed to update configuration watcher")
					}
					continue
				}
				next = &staged{cfg: cfg, req: reloadRequest{files: changes}}
				current.srv.SetDraining(true)
				current.logger.Info().Strs("files", changes).Strs("jobs", jobs).Msg("configuration reload staged until controller is idle")
			}
		}

		cancelRun()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			current.logger.Error().Err(err).Msg("service stopped during reload")
		}
		// The tick loop may have latched a command between the idle check and
		// the cancel. Resume it and wait for that burst as well.
		if !current.srv.Idle() {
			current.logger.Warn().Str("job", current.srv.Status().Job).Msg("burst started before service stopped, reload deferred")
			continue
		}
		p.release(current)

		runtime, err := p.buildRuntime(next.cfg)
		if err != nil {
			if next.req.done != nil {
				next.req.done <- err
			}
			return err
		}

		p.mu.Lock()
		p.current = runtime
		current = runtime
		p.config = next.cfg
		if err := p.initWatcher(next.cfg); err != nil {
			current.logger.Error().Err(err).Msg("failed to update configuration watcher")
		}
		watcher = p.watcher
		p.mu.Unlock()

		if next.req.done != nil {
			next.req.done <- nil
		}
		files := next.req.files
		if len(files) == 0 {
			files = []string{p.configPath}
		}
		for _, file := range files {
			p.collector.IncHotReload(file)
		}
		current.logger.Info().Strs("files", files).Msg("configuration reloaded")
		next = nil
	}
}

// Reload rebuilds the processor using the latest configuration from disk.
// While running, the call blocks until the controller is idle and the new
// service has replaced the old one.
func (p *Processor) Reload(ctx context.Context) error {
	p.mu.Lock()
	running := p.running
	reloadCh := p.reloadCh
	p.mu.Unlock()

	if !running {
		cfg, err := p.loadConfig()
		if err != nil {
			return err
		}
		if err := service.Validate(cfg); err != nil {
			return err
		}
		return p.swapRuntime(cfg)
	}

	if reloadCh == nil {
		return errors.New("reload not supported without configuration path")
	}

	req := reloadRequest{done: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case reloadCh <- req:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-req.done:
		return err
	}
}

// Close releases resources managed by the processor.
func (p *Processor) Close() {
	p.mu.Lock()
	current := p.current
	p.current = nil
	p.mu.Unlock()

	p.release(current)
}

func (p *Processor) release(rt *runtimeState) {
	if rt == nil {
		return
	}
	if err := rt.srv.Close(); err != nil {
		rt.logger.Warn().Err(err).Msg("failed to close sinks")
	}
	rt.cleanup()
}

func (p *Processor) currentConfig() *config.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config
}

func (p *Processor) swapRuntime(cfg *config.Config) error {
	runtime, err := p.buildRuntime(cfg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	old := p.current
	p.current = runtime
	p.config = cfg
	err = p.initWatcher(cfg)
	p.mu.Unlock()
	if err != nil {
		p.release(runtime)
		return err
	}

	p.release(old)
	return nil
}

func (p *Processor) buildRuntime(cfg *config.Config) (*runtimeState, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	runtime := &runtimeState{cfg: cfg, cleanup: func() {}}
	if p.customLogger {
		runtime.logger = p.baseLogger
	} else {
		logger, cleanup, err := logging.Setup(cfg.Logging)
		if err != nil {
			return nil, err
		}
		runtime.logger = logger
		runtime.cleanup = cleanup
	}
	log.Logger = runtime.logger

	opts := append([]service.Option{service.WithTelemetry(p.collector)}, p.serviceOptions...)
	srv, err := service.New(cfg, runtime.logger, opts...)
	if err != nil {
		runtime.cleanup()
		return nil, err
	}
	runtime.srv = srv
	runtime.logger = logging.Component(runtime.logger, "processor")
	return runtime, nil
}

func (p *Processor) loadConfig() (*config.Config, error) {
	if p.configPath == "" {
		return nil, errors.New("configuration path not configured")
	}
	return config.Load(p.configPath)
}

func (p *Processor) initWatcher(cfg *config.Config) error {
	if p.configPath == "" || !cfg.HotReload {
		p.watcher = nil
		return nil
	}
	if p.watcher == nil {
		watcher, err := reload.NewWatcher(p.configPath, cfg)
		if err != nil {
			return err
		}
		p.watcher = watcher
		return nil
	}
	return p.watcher.Update(p.configPath, cfg)
}
