package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config controls the processor's resource and retry behavior.
type Config struct {
	// Process runs one job. Required.
	Process JobProcessor
	// Concurrency is the worker-slot ceiling. Default 3.
	Concurrency int
	// JobTimeout races every job; a timeout follows the same retry path as
	// an error. Default 5m.
	JobTimeout time.Duration
	// MaxRetries per job. Default 2.
	MaxRetries int
	// RetryDelay before a failed job re-enters the queue. Default 2s.
	RetryDelay time.Duration
	// PollInterval of the admission loop. Default 100ms.
	PollInterval time.Duration
	// ContinueOnError keeps the batch going after a job exhausts its
	// retries; when false the first terminal failure cancels the batch.
	ContinueOnError bool
	// PriorityOrder overrides the default urgent>high>normal>low order.
	PriorityOrder []Priority
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if len(c.PriorityOrder) == 0 {
		c.PriorityOrder = defaultPriorityOrder
	}
}

// BatchStatus is a batch's aggregate lifecycle state.
type BatchStatus string

// Batch statuses.
const (
	BatchRunning   BatchStatus = "running"
	BatchPaused    BatchStatus = "paused"
	BatchComplete  BatchStatus = "complete"
	BatchFailed    BatchStatus = "failed"
	BatchCancelled BatchStatus = "cancelled"
)

type batchState struct {
	id        string
	jobIDs    []string
	status    BatchStatus
	createdAt time.Time
	durations []time.Duration
	waiters   []chan struct{}
}

// Processor is the concurrent batch scheduler. Construct one explicitly
// with New and inject it where needed; there is no package-level default
// instance.
type Processor struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	jobs        map[string]*Job
	batches     map[string]*batchState
	queue       []*Job
	running     map[string]context.CancelFunc
	seq         int
	subscribers map[int]func(Event)
	nextSub     int
	closed      bool

	done chan struct{}
	loop sync.WaitGroup // admission loop
	work sync.WaitGroup // in-flight jobs and retry timers
}

// New creates a processor and starts its admission loop.
func New(cfg Config) (*Processor, error) {
	if cfg.Process == nil {
		return nil, fmt.Errorf("batch: Config.Process is required")
	}
	cfg.applyDefaults()

	p := &Processor{
		cfg:         cfg,
		logger:      zap.NewNop(),
		jobs:        make(map[string]*Job),
		batches:     make(map[string]*batchState),
		running:     make(map[string]context.CancelFunc),
		subscribers: make(map[int]func(Event)),
		done:        make(chan struct{}),
	}

	p.loop.Add(1)
	go p.schedule()
	return p, nil
}

// SetLogger sets the logger for scheduler diagnostics.
func (p *Processor) SetLogger(l *zap.Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger = l
}

// CreateBatch enqueues one job per file reference and returns the batch id.
func (p *Processor) CreateBatch(fileRefs []string, priority Priority) (string, error) {
	if len(fileRefs) == 0 {
		return "", fmt.Errorf("batch: no file references")
	}
	if priority == "" {
		priority = PriorityNormal
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrQueueClosed
	}

	b := &batchState{
		id:        uuid.NewString(),
		status:    BatchRunning,
		createdAt: time.Now(),
	}
	for _, ref := range fileRefs {
		job := &Job{
			ID:         uuid.NewString(),
			BatchID:    b.id,
			FileRef:    ref,
			Status:     StatusPending,
			Priority:   priority,
			MaxRetries: p.cfg.MaxRetries,
			CreatedAt:  time.Now(),
			seq:        p.seq,
		}
		p.seq++
		p.jobs[job.ID] = job
		b.jobIDs = append(b.jobIDs, job.ID)
		p.queue = append(p.queue, job)
	}
	p.batches[b.id] = b
	p.mu.Unlock()

	p.emit(event(EventBatchStarted, b.id, ""))
	return b.id, nil
}

// Job returns a copy of the job, or false when the id is unknown.
func (p *Processor) Job(id string) (Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job, ok := p.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// BatchJobs returns copies of every job in the batch, in creation order.
func (p *Processor) BatchJobs(batchID string) []Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.batches[batchID]
	if !ok {
		return nil
	}
	out := make([]Job, 0, len(b.jobIDs))
	for _, id := range b.jobIDs {
		out = append(out, *p.jobs[id])
	}
	return out
}

// BatchState returns the batch's aggregate status.
func (p *Processor) BatchState(batchID string) (BatchStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.batches[batchID]
	if !ok {
		return "", false
	}
	return b.status, true
}

// Pause suspends admission of the batch's pending jobs; in-flight jobs keep
// running.
func (p *Processor) Pause(batchID string) error {
	p.mu.Lock()
	b, ok := p.batches[batchID]
	if !ok || b.status != BatchRunning {
		p.mu.Unlock()
		return fmt.Errorf("batch %s is not running", batchID)
	}
	b.status = BatchPaused
	p.mu.Unlock()

	p.emit(event(EventBatchPaused, batchID, ""))
	return nil
}

// Resume restarts admission for a paused batch.
func (p *Processor) Resume(batchID string) error {
	p.mu.Lock()
	b, ok := p.batches[batchID]
	if !ok || b.status != BatchPaused {
		p.mu.Unlock()
		return fmt.Errorf("batch %s is not paused", batchID)
	}
	b.status = BatchRunning
	p.mu.Unlock()

	p.emit(event(EventBatchResumed, batchID, ""))
	return nil
}

// CancelBatch cancels every pending job in the batch and signals the
// in-flight ones. Cancellation of running jobs is cooperative.
func (p *Processor) CancelBatch(batchID string) error {
	p.mu.Lock()
	b, ok := p.batches[batchID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("unknown batch %s", batchID)
	}
	events := p.cancelBatchLocked(b)
	p.mu.Unlock()

	p.emit(events...)
	return nil
}

// cancelBatchLocked marks pending jobs cancelled, signals running workers
// and returns the events to emit after unlocking.
func (p *Processor) cancelBatchLocked(b *batchState) []Event {
	if b.status.terminal() {
		return nil
	}
	b.status = BatchCancelled
	events := []Event{event(EventBatchCancelled, b.id, "")}

	for _, id := range b.jobIDs {
		job := p.jobs[id]
		if job.Status.Terminal() {
			continue
		}
		// A job with a worker slot (queued or beyond) is signalled and left
		// to its worker; anything else settles immediately.
		if cancel, running := p.running[id]; running {
			cancel()
			continue
		}
		p.removeFromQueue(id)
		job.Status = StatusCancelled
		job.Err = ErrCancelled
		job.CompletedAt = time.Now()
	}

	p.signalWaitersLocked(b)
	return events
}

func (b BatchStatus) terminal() bool {
	switch b {
	case BatchComplete, BatchFailed, BatchCancelled:
		return true
	}
	return false
}

// CancelJob cancels one pending or in-flight job.
func (p *Processor) CancelJob(jobID string) error {
	p.mu.Lock()
	job, ok := p.jobs[jobID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("unknown job %s", jobID)
	}

	var events []Event
	if !job.Status.Terminal() {
		if cancel, running := p.running[jobID]; running {
			cancel()
		} else {
			p.removeFromQueue(jobID)
			job.Status = StatusCancelled
			job.Err = ErrCancelled
			job.CompletedAt = time.Now()
			events = p.checkBatchDoneLocked(p.batches[job.BatchID])
		}
	}
	p.mu.Unlock()

	p.emit(events...)
	return nil
}

// Wait blocks until the batch reaches a terminal state and returns it.
func (p *Processor) Wait(batchID string) (BatchStatus, error) {
	p.mu.Lock()
	b, ok := p.batches[batchID]
	if !ok {
		p.mu.Unlock()
		return "", fmt.Errorf("unknown batch %s", batchID)
	}
	if b.status.terminal() {
		status := b.status
		p.mu.Unlock()
		return status, nil
	}
	ch := make(chan struct{})
	b.waiters = append(b.waiters, ch)
	p.mu.Unlock()

	<-ch

	p.mu.Lock()
	status := b.status
	p.mu.Unlock()
	return status, nil
}

// Close stops admission, signals every in-flight job and waits for workers
// and retry timers to settle.
func (p *Processor) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var events []Event
	for _, b := range p.batches {
		events = append(events, p.cancelBatchLocked(b)...)
	}
	p.mu.Unlock()

	close(p.done)
	p.emit(events...)
	p.loop.Wait()
	p.work.Wait()
	return nil
}

// schedule is the single admission loop: one decision pass per poll tick.
func (p *Processor) schedule() {
	defer p.loop.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.admit()
		}
	}
}

// admit moves up to (concurrency - running) jobs from the front of the
// priority queue into worker slots.
func (p *Processor) admit() {
	var started []Event

	p.mu.Lock()
	for len(p.running) < p.cfg.Concurrency {
		job := p.dequeueLocked()
		if job == nil {
			break
		}
		job.StartedAt = time.Now()

		ctx, cancel := context.WithCancel(context.Background())
		p.running[job.ID] = cancel

		p.work.Add(1)
		go p.runJob(ctx, *job)

		started = append(started, event(EventJobStarted, job.BatchID, job.ID))
	}
	p.mu.Unlock()

	p.emit(started...)
}

// dequeueLocked pops the best job and marks it queued: highest configured
// priority first, insertion order within a priority. Jobs of paused batches
// stay pending.
func (p *Processor) dequeueLocked() *Job {
	bestIdx := -1
	bestRank := len(p.cfg.PriorityOrder)

	for i, job := range p.queue {
		if b := p.batches[job.BatchID]; b == nil || b.status != BatchRunning {
			continue
		}
		rank := p.priorityRank(job.Priority)
		if rank < bestRank {
			bestRank = rank
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return nil
	}

	job := p.queue[bestIdx]
	p.queue = append(p.queue[:bestIdx], p.queue[bestIdx+1:]...)
	job.Status = StatusQueued
	return job
}

func (p *Processor) priorityRank(pr Priority) int {
	for i, candidate := range p.cfg.PriorityOrder {
		if candidate == pr {
			return i
		}
	}
	return len(p.cfg.PriorityOrder) - 1
}

func (p *Processor) removeFromQueue(jobID string) {
	for i, job := range p.queue {
		if job.ID == jobID {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			return
		}
	}
}

// runJob races the processing function against the per-job timeout and the
// cancellation signal. Once dispatched, the job is owned by this worker
// until it reports back.
func (p *Processor) runJob(ctx context.Context, snapshot Job) {
	defer p.work.Done()

	p.markParsing(snapshot.ID)

	type outcome struct {
		res *Result
		err error
	}
	resCh := make(chan outcome, 1)

	// Progress reports carry the attempt they belong to, so a superseded
	// attempt that outlives its timeout cannot touch the re-queued job.
	attempt := snapshot.RetryCount

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- outcome{nil, fmt.Errorf("job panicked: %v", r)}
			}
		}()
		res, err := p.cfg.Process(ctx, snapshot, func(pct int) {
			p.reportProgress(snapshot.ID, attempt, pct)
		})
		resCh <- outcome{res, err}
	}()

	timer := time.NewTimer(p.cfg.JobTimeout)
	defer timer.Stop()

	select {
	case out := <-resCh:
		if ctx.Err() != nil {
			// Cancelled while finishing: cancellation wins over whatever
			// the processing function returned.
			p.finishJob(snapshot.ID, nil, ErrCancelled)
			return
		}
		p.finishJob(snapshot.ID, out.res, out.err)
	case <-timer.C:
		p.finishJob(snapshot.ID, nil, ErrTimeout)
	case <-ctx.Done():
		p.finishJob(snapshot.ID, nil, ErrCancelled)
	}
}

// markParsing moves a freshly admitted job from queued to parsing. The
// worker calls it before invoking the processing function; a job cancelled
// in between keeps its terminal state.
func (p *Processor) markParsing(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if job, ok := p.jobs[jobID]; ok && job.Status == StatusQueued {
		job.Status = StatusParsing
	}
}

// reportProgress records caller-driven progress; crossing 50% moves a
// parsing job into the analyzing phase. Reports from a superseded attempt
// are dropped.
func (p *Processor) reportProgress(jobID string, attempt, pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	p.mu.Lock()
	job, ok := p.jobs[jobID]
	if !ok || job.Status.Terminal() || job.RetryCount != attempt {
		p.mu.Unlock()
		return
	}
	job.Progress = pct
	if job.Status == StatusParsing && pct >= 50 {
		job.Status = StatusAnalyzing
	}
	batchID := job.BatchID
	p.mu.Unlock()

	ev := event(EventJobProgress, batchID, jobID)
	ev.Progress = pct
	p.emit(ev)
}

// finishJob settles one attempt: success completes the job, cancellation is
// terminal, and errors retry until retries are exhausted.
func (p *Processor) finishJob(jobID string, res *Result, err error) {
	var events []Event

	p.mu.Lock()
	if cancel, ok := p.running[jobID]; ok {
		cancel()
		delete(p.running, jobID)
	}
	job, ok := p.jobs[jobID]
	if !ok || job.Status.Terminal() {
		p.mu.Unlock()
		return
	}
	b := p.batches[job.BatchID]

	switch {
	case err == nil:
		job.Status = StatusComplete
		job.Progress = 100
		job.Result = res
		job.CompletedAt = time.Now()
		b.durations = append(b.durations, job.CompletedAt.Sub(job.StartedAt))
		events = append(events, event(EventJobCompleted, job.BatchID, job.ID))
		events = append(events, p.checkBatchDoneLocked(b)...)

	case err == ErrCancelled:
		job.Status = StatusCancelled
		job.Err = err
		job.CompletedAt = time.Now()
		events = append(events, p.checkBatchDoneLocked(b)...)

	case job.RetryCount < job.MaxRetries && p.cfg.ContinueOnError && !b.status.terminal():
		job.RetryCount++
		job.Status = StatusPending
		job.Progress = 0
		job.Err = err
		ev := event(EventJobRetrying, job.BatchID, job.ID)
		ev.Err = err
		events = append(events, ev)
		p.scheduleRetryLocked(job)

	default:
		job.Status = StatusFailed
		job.Err = err
		job.CompletedAt = time.Now()
		ev := event(EventJobFailed, job.BatchID, job.ID)
		ev.Err = err
		events = append(events, ev)
		if !p.cfg.ContinueOnError {
			events = append(events, p.cancelBatchLocked(b)...)
		}
		events = append(events, p.checkBatchDoneLocked(b)...)
	}
	p.mu.Unlock()

	p.emit(events...)
}

// scheduleRetryLocked re-enqueues the job after the retry delay, unless the
// batch went terminal in the meantime.
func (p *Processor) scheduleRetryLocked(job *Job) {
	p.work.Add(1)
	jobID := job.ID
	time.AfterFunc(p.cfg.RetryDelay, func() {
		defer p.work.Done()

		var events []Event
		p.mu.Lock()
		j, ok := p.jobs[jobID]
		if ok && j.Status == StatusPending {
			if b := p.batches[j.BatchID]; b != nil && !b.status.terminal() && !p.closed {
				p.queue = append(p.queue, j)
			} else {
				j.Status = StatusCancelled
				j.Err = ErrCancelled
				j.CompletedAt = time.Now()
				events = p.checkBatchDoneLocked(p.batches[j.BatchID])
			}
		}
		p.mu.Unlock()
		p.emit(events...)
	})
}

// checkBatchDoneLocked settles the batch once no job remains active:
// failed when any job failed, complete otherwise. Cancelled batches only
// get their waiters signalled.
func (p *Processor) checkBatchDoneLocked(b *batchState) []Event {
	if b == nil {
		return nil
	}

	anyFailed := false
	for _, id := range b.jobIDs {
		job := p.jobs[id]
		if !job.Status.Terminal() {
			return nil
		}
		if job.Status == StatusFailed {
			anyFailed = true
		}
	}

	if b.status.terminal() {
		p.signalWaitersLocked(b)
		return nil
	}

	var events []Event
	if anyFailed {
		b.status = BatchFailed
		events = append(events, event(EventBatchFailed, b.id, ""))
	} else {
		b.status = BatchComplete
		events = append(events, event(EventBatchCompleted, b.id, ""))
	}
	p.signalWaitersLocked(b)
	return events
}

func (p *Processor) signalWaitersLocked(b *batchState) {
	for _, ch := range b.waiters {
		close(ch)
	}
	b.waiters = nil
}
