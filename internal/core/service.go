package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Defaults for ServiceConfig zero values.
const (
	DefaultSessionTTL    = 30 * time.Minute
	DefaultPreviewLimit  = 20
	DefaultJobRetention  = time.Hour
	DefaultSweepInterval = 5 * time.Minute
	DefaultMaxFileSize   = 100 * 1024 * 1024
)

// ContextCheckInterval is how often (in rows) validation checks for
// context cancellation.
var ContextCheckInterval = 100

// ServiceConfig tunes session lifetime, previews and job execution.
// Zero values fall back to the Default* constants.
type ServiceConfig struct {
	SessionTTL        time.Duration
	PreviewLimit      int
	MaxFileSize       int64
	MaxConcurrentJobs int
	MaxWaitTime       time.Duration
	JobTimeout        time.Duration // 0 means no per-job deadline
	JobRetention      time.Duration
	SweepInterval     time.Duration
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.PreviewLimit <= 0 {
		c.PreviewLimit = DefaultPreviewLimit
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = DefaultMaxConcurrentJobs
	}
	if c.MaxWaitTime <= 0 {
		c.MaxWaitTime = DefaultMaxWaitTime
	}
	if c.JobRetention <= 0 {
		c.JobRetention = DefaultJobRetention
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// Service provides the import pipeline: validation sessions, background
// import jobs and their registry.
type Service struct {
	registry Registry
	stores   map[string]RecordStore
	cfg      ServiceConfig
	limiter  *JobLimiter
	logger   *slog.Logger
	now      func() time.Time

	baseCtx context.Context
	stop    context.CancelFunc

	mu       sync.Mutex
	running  map[string]*activeJob // job id -> worker handle
	sessions map[string]string     // session id -> running job id
}

// activeJob is the worker-side handle of a running job.
type activeJob struct {
	cancel context.CancelFunc
	done   chan struct{}

	listenerMu sync.Mutex
	listeners  []chan ImportJob
	latest     ImportJob // last published snapshot
	closed     bool
}

// NewService creates a Service. stores maps entity keys to the record
// store that persists them.
func NewService(registry Registry, stores map[string]RecordStore, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	baseCtx, stop := context.WithCancel(context.Background())

	return &Service{
		registry: registry,
		stores:   stores,
		cfg:      cfg,
		limiter:  NewJobLimiter(cfg.MaxConcurrentJobs, cfg.MaxWaitTime),
		logger:   logger,
		now:      time.Now,
		baseCtx:  baseCtx,
		stop:     stop,
		running:  make(map[string]*activeJob),
		sessions: make(map[string]string),
	}
}

// Config returns the effective configuration.
func (s *Service) Config() ServiceConfig {
	return s.cfg
}

// ListEntities returns information about all registered entities.
func (s *Service) ListEntities() []EntityInfo {
	defs := All()
	infos := make([]EntityInfo, len(defs))
	for i, def := range defs {
		infos[i] = def.Info
	}
	return infos
}

// Template renders the import template for an entity and returns it with
// its download filename.
func (s *Service) Template(entityKey, format string, includeExample bool) ([]byte, string, error) {
	def, err := Lookup(entityKey)
	if err != nil {
		return nil, "", err
	}
	data, err := GenerateTemplate(def, format, includeExample)
	if err != nil {
		return nil, "", err
	}
	return data, TemplateFilename(def, format), nil
}

// LimiterStatus reports job slot usage.
func (s *Service) LimiterStatus() JobLimiterStatus {
	return s.limiter.Status()
}

// Shutdown cancels every running job and waits for workers to exit.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stop()
	return s.WaitForJobs(ctx)
}

// WaitForJobs blocks until no job is running or ctx is done.
func (s *Service) WaitForJobs(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

func (s *Service) storeFor(entityKey string) (RecordStore, error) {
	store, ok := s.stores[entityKey]
	if !ok || store == nil {
		return nil, fmt.Errorf("%w for entity %s", ErrNoRecordStore, entityKey)
	}
	return store, nil
}

// subscribe registers a listener and hands it the latest snapshot, or
// returns false once the job finished. Later snapshots reach ch only
// through notify, so a listener never sees progress go backwards.
func (a *activeJob) subscribe(ch chan ImportJob) bool {
	a.listenerMu.Lock()
	defer a.listenerMu.Unlock()
	if a.closed {
		return false
	}
	ch <- a.latest.Clone()
	a.listeners = append(a.listeners, ch)
	return true
}

// notify sends a snapshot to all listeners. A full listener loses its
// oldest pending snapshot so the latest state always gets through.
func (a *activeJob) notify(job ImportJob) {
	a.listenerMu.Lock()
	defer a.listenerMu.Unlock()

	a.latest = job.Clone()

	for _, ch := range a.listeners {
		select {
		case ch <- job.Clone():
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- job.Clone():
			default:
			}
		}
	}
}

// closeListeners closes all listener channels.
func (a *activeJob) closeListeners() {
	a.listenerMu.Lock()
	defer a.listenerMu.Unlock()

	for _, ch := range a.listeners {
		close(ch)
	}
	a.listeners = nil
	a.closed = true
}
