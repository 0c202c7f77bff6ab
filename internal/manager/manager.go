// Package manager owns the crawl job lifecycle: creation, admission under a
// global concurrency cap, asynchronous execution, cooperative cancellation,
// and crash recovery from the durable job store.
package manager

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/contentvault/crawld/internal/crawler"
	"github.com/contentvault/crawld/internal/dedup"
	"github.com/contentvault/crawld/internal/telemetry"
)

const (
	defaultMaxConcurrentJobs = 5
	defaultListLimit         = 50
	maxListLimit             = 500
	persistTimeout           = 10 * time.Second
	enrichTimeout            = 30 * time.Second
)

// Config controls Manager behavior.
type Config struct {
	MaxConcurrentJobs int
}

// Manager coordinates crawl jobs end to end. The durable store is the
// source of truth; the manager only keeps the active-execution registry in
// memory.
type Manager struct {
	jobs      crawler.JobStore
	content   crawler.ContentStore
	fetcher   crawler.Fetcher
	dedup     *dedup.Deduplicator
	enrichers []crawler.Enricher
	idGen     crawler.IDGenerator
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger

	// transMu serializes terminal-state writes so that a cancellation and a
	// natural completion racing on the same job resolve to exactly one
	// winner.
	transMu sync.Mutex

	mu         sync.Mutex
	active     map[string]context.CancelFunc
	root       context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// New constructs a Manager.
func New(
	jobs crawler.JobStore,
	content crawler.ContentStore,
	fetcher crawler.Fetcher,
	deduplicator *dedup.Deduplicator,
	enrichers []crawler.Enricher,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = defaultMaxConcurrentJobs
	}
	root, cancel := context.WithCancel(context.Background())
	return &Manager{
		jobs:       jobs,
		content:    content,
		fetcher:    fetcher,
		dedup:      deduplicator,
		enrichers:  enrichers,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
		active:     make(map[string]context.CancelFunc),
		root:       root,
		rootCancel: cancel,
	}
}

// Start performs crash recovery: jobs persisted as running belong to a
// previous process that died mid-execution and are re-fetched from scratch.
// Pending jobs stay pending until a caller starts them.
func (m *Manager) Start(ctx context.Context) error {
	running := crawler.JobStatusRunning
	interrupted, err := m.jobs.ListJobs(ctx, &running, maxListLimit)
	if err != nil {
		return fmt.Errorf("list interrupted jobs: %w", err)
	}
	for _, job := range interrupted {
		if m.tryLaunch(job) {
			m.logger.Info("resumed interrupted job",
				zap.String("job_id", job.ID),
				zap.String("url", job.URL),
			)
			continue
		}
		// Over the cap: park the job back to pending so it is startable
		// rather than stranded as a phantom running row.
		job.Status = crawler.JobStatusPending
		job.UpdatedAt = m.clock.Now()
		if err := m.jobs.UpsertJob(ctx, job); err != nil {
			return fmt.Errorf("park interrupted job %s: %w", job.ID, err)
		}
		m.logger.Warn("interrupted job parked as pending, concurrency cap reached",
			zap.String("job_id", job.ID),
		)
	}
	m.logger.Info("job manager started",
		zap.Int("resumed", len(interrupted)),
		zap.Int("max_concurrent", m.cfg.MaxConcurrentJobs),
	)
	return nil
}

// Stop cancels all active executions and waits for them to settle.
func (m *Manager) Stop() {
	m.rootCancel()
	m.wg.Wait()
	m.logger.Info("job manager stopped")
}

// CreateJob validates the URL, persists a new pending job and returns it.
func (m *Manager) CreateJob(ctx context.Context, rawURL string, cfg crawler.CrawlConfig) (crawler.Job, error) {
	if err := validateURL(rawURL); err != nil {
		return crawler.Job{}, err
	}
	id, err := m.idGen.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	now := m.clock.Now()
	job := crawler.Job{
		ID:        id,
		URL:       rawURL,
		Status:    crawler.JobStatusPending,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.jobs.UpsertJob(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("persist job: %w", err)
	}
	m.logger.Info("job created", zap.String("job_id", id), zap.String("url", rawURL))
	return job, nil
}

// GetJob reads current job state from the durable store.
func (m *Manager) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	return m.jobs.GetJob(ctx, jobID)
}

// ListJobs returns jobs newest-first, optionally filtered by status.
func (m *Manager) ListJobs(ctx context.Context, status *crawler.JobStatus, limit int) ([]crawler.Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return m.jobs.ListJobs(ctx, status, limit)
}

// StartJob schedules execution of a pending job. It returns false without
// error when the job is absent, not pending, or the concurrency cap is
// reached; execution itself is asynchronous.
func (m *Manager) StartJob(ctx context.Context, jobID string) (bool, error) {
	job, err := m.jobs.GetJob(ctx, jobID)
	if errors.Is(err, crawler.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read job: %w", err)
	}
	if job.Status != crawler.JobStatusPending {
		m.logger.Warn("start rejected, job not pending",
			zap.String("job_id", jobID),
			zap.String("status", string(job.Status)),
		)
		return false, nil
	}
	if !m.tryLaunch(job) {
		m.logger.Warn("start rejected, concurrency cap reached", zap.String("job_id", jobID))
		return false, nil
	}
	m.logger.Info("job started", zap.String("job_id", jobID))
	return true, nil
}

// CancelJob cancels a pending or running job. Cancellation of a running
// execution is cooperative; the cancelled status is written immediately and
// the execution observes it as already-terminal.
func (m *Manager) CancelJob(ctx context.Context, jobID string) (bool, error) {
	job, err := m.jobs.GetJob(ctx, jobID)
	if errors.Is(err, crawler.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read job: %w", err)
	}
	if job.Status.IsTerminal() {
		return false, nil
	}

	m.mu.Lock()
	if cancel, running := m.active[jobID]; running {
		cancel()
	}
	m.mu.Unlock()

	won, err := m.transition(ctx, jobID, func(j *crawler.Job) {
		j.Status = crawler.JobStatusCancelled
	})
	if err != nil {
		return false, err
	}
	if won {
		telemetry.ObserveJob(string(crawler.JobStatusCancelled))
		m.logger.Info("job cancelled", zap.String("job_id", jobID))
	}
	return won, nil
}

// ActiveJobs returns the number of currently executing jobs.
func (m *Manager) ActiveJobs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// tryLaunch atomically checks the concurrency cap and registers the job,
// then schedules execution. Two concurrent calls cannot both win the last
// slot.
func (m *Manager) tryLaunch(job crawler.Job) bool {
	m.mu.Lock()
	if len(m.active) >= m.cfg.MaxConcurrentJobs {
		m.mu.Unlock()
		return false
	}
	if _, dup := m.active[job.ID]; dup {
		m.mu.Unlock()
		return false
	}
	jobCtx, cancel := context.WithCancel(m.root)
	m.active[job.ID] = cancel
	m.mu.Unlock()

	telemetry.IncActiveJobs()
	m.wg.Add(1)
	go m.execute(jobCtx, job)
	return true
}

func (m *Manager) deregister(jobID string) {
	m.mu.Lock()
	if cancel, ok := m.active[jobID]; ok {
		cancel()
		delete(m.active, jobID)
	}
	m.mu.Unlock()
	telemetry.DecActiveJobs()
	m.wg.Done()
}

// execute runs one job to a terminal state. Every status write goes through
// transition with a detached context so neither cancellation nor shutdown
// can lose or reorder them.
func (m *Manager) execute(jobCtx context.Context, job crawler.Job) {
	defer m.deregister(job.ID)

	won, err := m.transitionDetached(job.ID, func(j *crawler.Job) {
		j.Status = crawler.JobStatusRunning
	})
	if err != nil {
		m.logger.Error("persist running transition failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return
	}
	if !won {
		// A cancellation landed between admission and the running persist;
		// the job is already terminal and must stay that way.
		return
	}

	fetchCtx, cancel := context.WithTimeout(jobCtx, job.Config.Timeout())
	result, fetchErr := m.fetcher.Fetch(fetchCtx, job.URL, job.Config)
	cancel()

	if jobCtx.Err() != nil {
		m.finalizeTerminal(job.ID, crawler.JobStatusCancelled, func(j *crawler.Job) {
			j.Status = crawler.JobStatusCancelled
		})
		return
	}

	if fetchErr != nil {
		m.finalizeTerminal(job.ID, crawler.JobStatusFailed, func(j *crawler.Job) {
			j.Status = crawler.JobStatusFailed
			j.ErrorText = fetchErr.Error()
		})
		m.logger.Error("job fetch failed",
			zap.String("job_id", job.ID),
			zap.String("url", job.URL),
			zap.Error(fetchErr),
		)
		return
	}

	if err := m.admitContent(jobCtx, job, result); err != nil {
		m.finalizeTerminal(job.ID, crawler.JobStatusFailed, func(j *crawler.Job) {
			j.Status = crawler.JobStatusFailed
			j.ErrorText = err.Error()
		})
		m.logger.Error("job content persistence failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return
	}

	won = m.finalizeTerminal(job.ID, crawler.JobStatusCompleted, func(j *crawler.Job) {
		j.Status = crawler.JobStatusCompleted
		j.Result = &result
	})
	if !won {
		return
	}
	telemetry.ObserveFetch(result.URL, result.ContentSize)
	m.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.String("url", result.URL),
		zap.Int("content_size", result.ContentSize),
		zap.Duration("crawl_time", result.CrawlTime),
	)

	m.runEnrichment(job, result)
}

// admitContent fingerprints the result and inserts the content row unless
// the deduplicator reports a duplicate. The insert itself is idempotent on
// content hash, so two jobs racing on identical content both succeed.
func (m *Manager) admitContent(ctx context.Context, job crawler.Job, result crawler.CrawlResult) error {
	fp := m.dedup.CreateFingerprint(result.URL, result.Content, result.Title)
	if m.dedup.IsDuplicate(ctx, fp) {
		m.logger.Info("duplicate content, skipping store",
			zap.String("job_id", job.ID),
			zap.String("content_hash", fp.ContentHash),
		)
		return nil
	}
	record := crawler.ContentRecord{
		ContentHash: fp.ContentHash,
		JobID:       job.ID,
		URL:         result.URL,
		URLHash:     fp.URLHash,
		Title:       result.Title,
		TitleHash:   fp.TitleHash,
		Content:     result.Content,
		ContentSize: result.ContentSize,
		ExtractedAt: m.clock.Now(),
	}
	if err := m.content.InsertContent(ctx, record); err != nil {
		return fmt.Errorf("insert content: %w", err)
	}
	return nil
}

// runEnrichment invokes the downstream collaborators best-effort. Failures
// are logged and counted, never escalated; job status reflects only the
// fetch.
func (m *Manager) runEnrichment(job crawler.Job, result crawler.CrawlResult) {
	for _, enricher := range m.enrichers {
		ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
		err := enricher.Enrich(ctx, job, result)
		cancel()
		if err != nil {
			telemetry.ObserveEnrichmentFailure(enricher.Name())
			m.logger.Warn("enrichment failed",
				zap.String("job_id", job.ID),
				zap.String("collaborator", enricher.Name()),
				zap.Error(err),
			)
		}
	}
}

// finalizeTerminal applies a terminal transition and records it, reporting
// whether this caller won the terminal write.
func (m *Manager) finalizeTerminal(jobID string, status crawler.JobStatus, apply func(*crawler.Job)) bool {
	won, err := m.transitionDetached(jobID, apply)
	if err != nil {
		m.logger.Error("persist terminal transition failed",
			zap.String("job_id", jobID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return false
	}
	if won {
		telemetry.ObserveJob(string(status))
	}
	return won
}

// transitionDetached runs transition with a bounded background context so
// neither cancellation nor shutdown can lose the write.
func (m *Manager) transitionDetached(jobID string, apply func(*crawler.Job)) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return m.transition(ctx, jobID, apply)
}

// transition re-reads the job under the transition lock and applies the
// mutation only if the job has not already reached a terminal state:
// whichever write arrives first wins, the loser is a no-op. Every status
// persist after admission goes through here, including the running one.
func (m *Manager) transition(ctx context.Context, jobID string, apply func(*crawler.Job)) (bool, error) {
	m.transMu.Lock()
	defer m.transMu.Unlock()

	job, err := m.jobs.GetJob(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("read job: %w", err)
	}
	if job.Status.IsTerminal() {
		return false, nil
	}
	apply(&job)
	now := m.clock.Now()
	job.UpdatedAt = now
	if job.Status.IsTerminal() {
		job.CompletedAt = &now
	}
	if err := m.jobs.UpsertJob(ctx, job); err != nil {
		return false, fmt.Errorf("persist job: %w", err)
	}
	return true, nil
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url host is required")
	}
	return nil
}
