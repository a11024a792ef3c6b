package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mkang/shadowclip/pkg/log"
)

// ErrNotFound is returned for status queries on unknown job IDs.
var ErrNotFound = errors.New("job not found")

// CancelResult reports the outcome of a cancellation request.
type CancelResult string

const (
	CancelOK              CancelResult = "ok"
	CancelNotFound        CancelResult = "not-found"
	CancelAlreadyTerminal CancelResult = "already-terminal"
)

// ProgressFunc receives progress updates while a job renders. completed is
// the number of finished primitive clips.
type ProgressFunc func(progress int, completed int)

// Renderer runs one job end to end and returns the final output path.
type Renderer interface {
	Render(ctx context.Context, job *Job, report ProgressFunc) (string, error)
}

// Coordinator owns the job table and the worker pool. Workers pull pending
// job IDs from a channel; the render slot semaphore caps how many jobs
// encode concurrently, independent of worker count, because each rendering
// job spawns heavyweight encoder processes.
type Coordinator struct {
	workerCount int
	maxJobs     int
	store       Store
	renderer    Renderer
	renderSlots *semaphore.Weighted
	resume      bool

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu         sync.RWMutex
	jobs       map[string]*Job
	dedupe     map[string]string
	cancels    map[string]context.CancelFunc
	started    bool
	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// Options configures a coordinator.
type Options struct {
	// Workers is the worker pool size.
	Workers int
	// RenderSlots caps concurrently rendering jobs.
	RenderSlots int
	// Resume requeues interrupted jobs from their last checkpoint.
	Resume bool
}

// NewCoordinator builds a coordinator and hydrates persisted jobs.
func NewCoordinator(renderer Renderer, store Store, opts Options) *Coordinator {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	slots := opts.RenderSlots
	if slots <= 0 {
		slots = 3
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		workerCount: workers,
		maxJobs:     1000,
		store:       store,
		renderer:    renderer,
		renderSlots: semaphore.NewWeighted(int64(slots)),
		resume:      opts.Resume,
		baseCtx:     ctx,
		baseCancel:  cancel,
		jobs:        make(map[string]*Job),
		dedupe:      make(map[string]string),
		cancels:     make(map[string]context.CancelFunc),
		pendingIDs:  make(chan string, 1024),
		stopCh:      make(chan struct{}),
	}
	c.hydrateFromStore(context.Background())
	return c
}

// Submit registers a job and returns immediately. A request whose DedupeKey
// matches an active job returns that job instead of creating a new one.
func (c *Coordinator) Submit(req Request) (*Job, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	now := time.Now()

	c.mu.Lock()
	if id, ok := c.dedupe[req.DedupeKey]; ok && req.DedupeKey != "" {
		if existing, exists := c.jobs[id]; exists && !existing.Status.Terminal() {
			snapshot := cloneJob(existing)
			c.mu.Unlock()
			log.Debug("duplicate submission for key %q joined job %s", req.DedupeKey, snapshot.ID)
			return snapshot, nil
		}
		delete(c.dedupe, req.DedupeKey)
	}

	job := &Job{
		ID:        uuid.NewString(),
		Request:   req,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.jobs[job.ID] = job
	if req.DedupeKey != "" {
		c.dedupe[req.DedupeKey] = job.ID
	}
	started := c.started
	snapshot := cloneJob(job)
	c.mu.Unlock()

	c.persistJob(snapshot)
	if started {
		c.enqueuePendingID(job.ID)
	}
	return snapshot, nil
}

func validateRequest(req Request) error {
	if req.Source == "" {
		return &JobError{Kind: ErrInputInvalid, PrimitiveIndex: -1, Detail: "source path is empty"}
	}
	if req.TemplateID <= 0 {
		return &JobError{Kind: ErrInputInvalid, PrimitiveIndex: -1, Detail: "template id must be positive"}
	}
	if len(req.Segments) == 0 && (req.Start < 0 || req.End <= req.Start) {
		return &JobError{Kind: ErrInputInvalid, PrimitiveIndex: -1,
			Detail: fmt.Sprintf("invalid segment [%.3f, %.3f]", req.Start, req.End)}
	}
	for i, seg := range req.Segments {
		if seg.Start < 0 || seg.End <= seg.Start {
			return &JobError{Kind: ErrInputInvalid, PrimitiveIndex: -1,
				Detail: fmt.Sprintf("invalid batch segment %d [%.3f, %.3f]", i, seg.Start, seg.End)}
		}
	}
	return nil
}

// Status returns a snapshot of the job.
func (c *Coordinator) Status(id string) (*Job, error) {
	c.mu.RLock()
	job, ok := c.jobs[id]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

// List returns snapshots of all tracked jobs.
func (c *Coordinator) List() []*Job {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ret := make([]*Job, 0, len(c.jobs))
	for _, job := range c.jobs {
		ret = append(ret, cloneJob(job))
	}
	return ret
}

// Cancel requests cooperative cancellation. Pending jobs terminate
// immediately; processing jobs are interrupted at the next primitive
// boundary (or mid-encode via the driver's kill path).
func (c *Coordinator) Cancel(id string) CancelResult {
	c.mu.Lock()
	job, ok := c.jobs[id]
	if !ok {
		c.mu.Unlock()
		return CancelNotFound
	}
	if job.Status.Terminal() {
		c.mu.Unlock()
		return CancelAlreadyTerminal
	}

	if job.Status == StatusPending {
		job.Status = StatusCancelled
		job.UpdatedAt = time.Now()
		c.releaseDedupeLocked(job)
		snapshot := cloneJob(job)
		c.mu.Unlock()
		c.persistJob(snapshot)
		return CancelOK
	}

	cancel := c.cancels[id]
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return CancelOK
}

// Start launches the worker pool and requeues hydrated pending jobs.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true

	pending := make([]string, 0)
	for id, job := range c.jobs {
		if job.Status == StatusPending {
			pending = append(pending, id)
		}
	}
	c.mu.Unlock()

	for _, id := range pending {
		c.enqueuePendingID(id)
	}

	for i := 0; i < c.workerCount; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	log.Info("job coordinator started with %d workers", c.workerCount)
}

// Stop cancels running jobs and waits for the workers to drain.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.baseCancel()
		c.wg.Wait()
	})
}

func (c *Coordinator) worker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		case id := <-c.pendingIDs:
			c.runJob(id)
		}
	}
}

func (c *Coordinator) runJob(id string) {
	jobCtx, cancel := context.WithCancel(c.baseCtx)
	defer cancel()

	c.mu.Lock()
	job, ok := c.jobs[id]
	if !ok || job.Status != StatusPending {
		c.mu.Unlock()
		return
	}
	c.cancels[id] = cancel
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.cancels, id)
		c.mu.Unlock()
	}()

	// Jobs stay pending while waiting for a render slot; the cap bounds
	// encoding concurrency, not queue admission.
	if err := c.renderSlots.Acquire(jobCtx, 1); err != nil {
		c.markCancelled(id)
		return
	}
	defer c.renderSlots.Release(1)

	snapshot, ok := c.markProcessing(id)
	if !ok {
		return
	}

	output, err := c.renderer.Render(jobCtx, snapshot, c.progressFunc(id))
	if err != nil {
		if jobCtx.Err() != nil {
			c.markCancelled(id)
			return
		}
		c.markFailed(id, err)
		return
	}
	c.markCompleted(id, output)
}

// progressFunc publishes progress and persists a checkpoint every five
// completed primitives.
func (c *Coordinator) progressFunc(id string) ProgressFunc {
	return func(progress, completed int) {
		c.mu.Lock()
		job, ok := c.jobs[id]
		if !ok {
			c.mu.Unlock()
			return
		}
		if progress > job.Progress {
			job.Progress = progress
		}
		job.Checkpoint = completed
		job.UpdatedAt = time.Now()
		c.mu.Unlock()

		if c.store != nil && c.resume && completed > 0 && completed%5 == 0 {
			if err := c.store.SaveCheckpoint(context.Background(), id, completed); err != nil {
				log.Error("failed to checkpoint job %s: %v", id, err)
			}
		}
	}
}

func (c *Coordinator) enqueuePendingID(id string) {
	select {
	case c.pendingIDs <- id:
	default:
		go func() { c.pendingIDs <- id }()
	}
}

func (c *Coordinator) markProcessing(id string) (*Job, bool) {
	c.mu.Lock()
	job, ok := c.jobs[id]
	if !ok || job.Status != StatusPending {
		c.mu.Unlock()
		return nil, false
	}
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now()
	snapshot := cloneJob(job)
	c.mu.Unlock()

	c.persistJob(snapshot)
	return snapshot, true
}

func (c *Coordinator) markCompleted(id, output string) {
	c.terminate(id, func(job *Job) {
		job.Status = StatusCompleted
		job.Progress = 100
		job.OutputPath = output
		job.Error = nil
	})
}

func (c *Coordinator) markFailed(id string, err error) {
	jobErr := asJobError(err)
	log.Error("job %s failed: %v", id, jobErr)
	c.terminate(id, func(job *Job) {
		job.Status = StatusFailed
		job.Error = jobErr
	})
}

func (c *Coordinator) markCancelled(id string) {
	c.terminate(id, func(job *Job) {
		job.Status = StatusCancelled
		job.Error = &JobError{Kind: ErrCancelled, PrimitiveIndex: -1, Detail: "cancelled by caller"}
	})
}

func (c *Coordinator) terminate(id string, update func(*Job)) {
	c.mu.Lock()
	job, ok := c.jobs[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	update(job)
	job.UpdatedAt = time.Now()
	c.releaseDedupeLocked(job)
	pruned := c.pruneTerminalJobsLocked()
	snapshot := cloneJob(job)
	c.mu.Unlock()

	c.persistJob(snapshot)
	c.deleteJobsFromStore(pruned)
}

// asJobError normalizes any failure into the structured taxonomy.
func asJobError(err error) *JobError {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr
	}
	return &JobError{Kind: ErrToolFailed, PrimitiveIndex: -1, Detail: truncateDetail(err.Error())}
}

// truncateDetail bounds the user-visible diagnostic.
func truncateDetail(s string) string {
	const maxDetail = 500
	if len(s) <= maxDetail {
		return s
	}
	return s[:maxDetail] + "..."
}

func (c *Coordinator) releaseDedupeLocked(job *Job) {
	if job == nil || job.Request.DedupeKey == "" {
		return
	}
	if id, ok := c.dedupe[job.Request.DedupeKey]; ok && id == job.ID {
		delete(c.dedupe, job.Request.DedupeKey)
	}
}

func (c *Coordinator) pruneTerminalJobsLocked() []string {
	if c.maxJobs <= 0 || len(c.jobs) <= c.maxJobs {
		return nil
	}

	type candidate struct {
		id        string
		updatedAt time.Time
	}
	terminal := make([]candidate, 0, len(c.jobs))
	for id, job := range c.jobs {
		if job == nil || !job.Status.Terminal() {
			continue
		}
		terminal = append(terminal, candidate{id: id, updatedAt: job.UpdatedAt})
	}
	if len(terminal) == 0 {
		return nil
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].updatedAt.Before(terminal[j].updatedAt)
	})

	toRemove := len(c.jobs) - c.maxJobs
	if toRemove > len(terminal) {
		toRemove = len(terminal)
	}

	pruned := make([]string, 0, toRemove)
	for i := 0; i < toRemove; i++ {
		id := terminal[i].id
		if job := c.jobs[id]; job != nil {
			c.releaseDedupeLocked(job)
		}
		delete(c.jobs, id)
		pruned = append(pruned, id)
	}
	return pruned
}

func (c *Coordinator) deleteJobsFromStore(ids []string) {
	if c.store == nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		if err := c.store.DeleteJobData(context.Background(), id); err != nil {
			log.Error("failed to delete data for pruned job %s: %v", id, err)
		}
		if err := c.store.DeleteJob(context.Background(), id); err != nil {
			log.Error("failed to delete pruned job %s from store: %v", id, err)
		}
	}
}

// hydrateFromStore reloads persisted jobs. Interrupted processing jobs go
// back to pending; without resume their checkpoint is discarded so the job
// restarts from the first primitive.
func (c *Coordinator) hydrateFromStore(ctx context.Context) {
	if c.store == nil {
		return
	}
	loaded, err := c.store.LoadJobs(ctx)
	if err != nil {
		log.Error("failed to load jobs from store: %v", err)
		return
	}

	now := time.Now()
	toPersist := make([]*Job, 0)
	c.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		if job.Status == StatusProcessing {
			job.Status = StatusPending
			if !c.resume {
				job.Checkpoint = 0
			}
			job.UpdatedAt = now
			toPersist = append(toPersist, cloneJob(job))
		}
		c.jobs[job.ID] = job
		if !job.Status.Terminal() && job.Request.DedupeKey != "" {
			c.dedupe[job.Request.DedupeKey] = job.ID
		}
	}
	c.mu.Unlock()

	for _, job := range toPersist {
		c.persistJob(job)
	}
}

func (c *Coordinator) persistJob(job *Job) {
	if c.store == nil || job == nil {
		return
	}
	if err := c.store.UpsertJob(context.Background(), job); err != nil {
		log.Error("failed to persist job %s: %v", job.ID, err)
	}
}
