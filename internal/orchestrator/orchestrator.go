// File: internal/orchestrator/orchestrator.go
// Description: In-process job pool that fans scraping work out over a fixed
// set of workers. It is injected with the searcher and extractor via
// interfaces, making it decoupled and testable.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/factuscan/factuscan/api/schemas"
	"github.com/factuscan/factuscan/internal/config"
	"github.com/factuscan/factuscan/internal/extract"
)

const (
	defaultConcurrency = 4
	defaultJobTimeout  = 10 * time.Minute
)

// Searcher runs one provider recipe against one user service.
type Searcher interface {
	Search(ctx context.Context, cfg schemas.ScrapingConfig, userService schemas.UserService) (schemas.SearchResult, error)
}

// Extractor parses the stored bills of one user service and persists the
// structured fields.
type Extractor interface {
	ProcessBills(ctx context.Context, userServiceID string) (extract.Result, error)
}

// UserServiceLister resolves the user services enrolled for one provider.
type UserServiceLister interface {
	GetUserServicesByService(ctx context.Context, serviceID string) ([]schemas.UserService, error)
}

// Pool distributes scraping jobs across a bounded set of worker goroutines.
// Each job is a full search (and, when the search calls for it, the chained
// extraction) for one user service.
type Pool struct {
	cfg       config.WorkerConfig
	logger    *zap.Logger
	searcher  Searcher
	extractor Extractor

	jobs    chan schemas.JobPayload
	results chan schemas.JobResult
	wg      sync.WaitGroup

	// stateLock protects the running state of the pool.
	stateLock sync.Mutex
	isRunning bool
}

// New creates a new Pool. Dependencies arrive as interfaces so the
// composition root decides the concrete pieces.
func New(cfg config.WorkerConfig, logger *zap.Logger, searcher Searcher, extractor Extractor) (*Pool, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if searcher == nil {
		return nil, errors.New("searcher cannot be nil")
	}
	if extractor == nil {
		return nil, errors.New("extractor cannot be nil")
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	return &Pool{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "orchestrator")),
		searcher:  searcher,
		extractor: extractor,
		jobs:      make(chan schemas.JobPayload, queueSize),
		results:   make(chan schemas.JobResult, queueSize),
	}, nil
}

// Start launches the worker goroutines. Calling Start on a running pool is a
// no-op.
func (p *Pool) Start(ctx context.Context) {
	p.stateLock.Lock()
	if p.isRunning {
		p.stateLock.Unlock()
		p.logger.Warn("Pool.Start called, but pool is already running")
		return
	}
	p.isRunning = true
	p.stateLock.Unlock()

	concurrency := p.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	p.logger.Info("Starting scraping worker pool", zap.Int("concurrency", concurrency))

	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i+1)
	}
}

// Enqueue submits one job. It blocks while the queue is full and fails once
// ctx is cancelled or the queue has been closed.
func (p *Pool) Enqueue(ctx context.Context, job schemas.JobPayload) (err error) {
	defer func() {
		if recover() != nil {
			err = errors.New("job queue is closed")
		}
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- job:
		return nil
	}
}

// EnqueueService fans one provider out into a job per enrolled user service
// and reports how many jobs were queued.
func (p *Pool) EnqueueService(ctx context.Context, service schemas.Service, lister UserServiceLister) (int, error) {
	userServices, err := lister.GetUserServicesByService(ctx, service.ID)
	if err != nil {
		return 0, fmt.Errorf("listing user services for %q: %w", service.Name, err)
	}

	queued := 0
	for _, us := range userServices {
		if err := p.Enqueue(ctx, schemas.JobPayload{Service: service, UserService: us}); err != nil {
			return queued, err
		}
		queued++
	}

	p.logger.Info("Queued service for scraping",
		zap.String("service", service.Name),
		zap.Int("user_services", queued))
	return queued, nil
}

// Close stops accepting new jobs. Workers drain what is already queued.
func (p *Pool) Close() {
	close(p.jobs)
}

// Stop waits for the workers to drain the queue, then closes the results
// channel. Close must have been called first, or ctx cancelled, for the
// workers to return.
func (p *Pool) Stop() {
	p.logger.Info("Stopping worker pool, waiting for in-flight jobs")
	p.wg.Wait()
	close(p.results)

	p.stateLock.Lock()
	p.isRunning = false
	p.stateLock.Unlock()

	p.logger.Info("Worker pool stopped")
}

// Results exposes the per-job outcomes. The channel is closed by Stop.
func (p *Pool) Results() <-chan schemas.JobResult {
	return p.results
}

// runWorker is the main loop for a single worker goroutine.
func (p *Pool) runWorker(ctx context.Context, workerID int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, worker shutting down", zap.Error(ctx.Err()))
			return
		case job, ok := <-p.jobs:
			if !ok {
				logger.Debug("Job queue closed and drained, worker shutting down")
				return
			}
			p.emit(ctx, p.process(ctx, job, logger))
		}
	}
}

// process runs one job under its own timeout. It never panics outward; any
// panic inside the searcher or extractor becomes a failed JobResult.
func (p *Pool) process(ctx context.Context, job schemas.JobPayload, logger *zap.Logger) (result schemas.JobResult) {
	jobID := uuid.NewString()
	result = schemas.JobResult{JobID: jobID}

	logger = logger.With(
		zap.String("job_id", jobID),
		zap.String("service", job.Service.Name),
		zap.String("user_service_id", job.UserService.ID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", zap.Any("panic", r))
			result.Success = false
			result.Message = fmt.Sprintf("job panicked: %v", r)
		}
	}()

	if ctx.Err() != nil {
		result.Message = "cancelled before start"
		return result
	}

	timeout := p.cfg.JobTimeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info("Processing scraping job")

	search, err := p.searcher.Search(jobCtx, job.Service.ScrapingConfig, job.UserService)
	result.Debt = search.Debt
	if err != nil {
		logger.Error("Search failed", zap.Error(err))
		result.Success = false
		result.Message = search.SaveResult.Message
		if result.Message == "" {
			result.Message = err.Error()
		}
		return result
	}

	result.Success = search.SaveResult.Success
	result.Message = search.SaveResult.Message

	if !search.ShouldExtract {
		logger.Info("Search finished, extraction not needed",
			zap.Bool("debt", search.Debt),
			zap.Int("bills", len(search.Bills)))
		return result
	}

	extraction, err := p.extractor.ProcessBills(jobCtx, job.UserService.ID)
	if err != nil {
		logger.Error("Bill extraction failed", zap.Error(err))
		result.Success = false
		result.Message = fmt.Sprintf("%s; extraction failed: %v", result.Message, err)
		return result
	}

	logger.Info("Job finished",
		zap.Bool("debt", search.Debt),
		zap.Int("bills_processed", extraction.BillsProcessed))
	result.Success = result.Success && extraction.Success
	result.Message = fmt.Sprintf("%s; %s", result.Message, extraction.Message)
	return result
}

// emit delivers a result without blocking past cancellation.
func (p *Pool) emit(ctx context.Context, result schemas.JobResult) {
	select {
	case p.results <- result:
	case <-ctx.Done():
	}
}
