// Package worker runs image extraction jobs on a bounded pool so
// uploads can return immediately.
package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petvet/biometry/internal/config"
)

// JobStatus represents the lifecycle state of an extraction job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ErrQueueFull indicates the pending buffer is saturated. The caller
// should surface backpressure rather than block the upload.
var ErrQueueFull = errors.New("extraction queue full")

// Job is the record of one extraction request.
type Job struct {
	ID           string     `json:"id"`
	ImageID      int64      `json:"image_id"`
	SubjectID    int64      `json:"subject_id"`
	Status       JobStatus  `json:"status"`
	EmbeddingIDs []int64    `json:"embedding_ids,omitempty"`
	Error        string     `json:"error,omitempty"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ProcessFunc extracts embeddings for one image and returns their IDs.
type ProcessFunc func(ctx context.Context, imageID int64) ([]int64, error)

// Pool dispatches extraction jobs to a fixed number of workers.
type Pool struct {
	process     ProcessFunc
	concurrency int
	queue       chan string

	mu   sync.RWMutex
	jobs map[string]*Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a stopped pool. Call Start before enqueueing.
func NewPool(cfg config.WorkerConfig, process ProcessFunc) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		process:     process,
		concurrency: cfg.Concurrency,
		queue:       make(chan string, cfg.QueueSize),
		jobs:        make(map[string]*Job),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	log.Printf("worker: started %d extraction workers (queue %d)", p.concurrency, cap(p.queue))
}

// Stop drains no further work and waits for in-flight jobs.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Enqueue registers a pending job for the image. Returns ErrQueueFull
// when the buffer is saturated.
func (p *Pool) Enqueue(imageID, subjectID int64) (*Job, error) {
	job := &Job{
		ID:         uuid.NewString(),
		ImageID:    imageID,
		SubjectID:  subjectID,
		Status:     JobStatusPending,
		EnqueuedAt: time.Now(),
	}

	p.mu.Lock()
	p.jobs[job.ID] = job
	p.mu.Unlock()

	select {
	case p.queue <- job.ID:
		snapshot := *job
		return &snapshot, nil
	default:
		p.mu.Lock()
		delete(p.jobs, job.ID)
		p.mu.Unlock()
		return nil, ErrQueueFull
	}
}

// Get returns a snapshot of a job by ID.
func (p *Pool) Get(id string) (Job, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	job, ok := p.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case id := <-p.queue:
			p.run(id)
		}
	}
}

func (p *Pool) run(id string) {
	p.mu.Lock()
	job, ok := p.jobs[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	now := time.Now()
	job.Status = JobStatusRunning
	job.StartedAt = &now
	imageID := job.ImageID
	p.mu.Unlock()

	embeddingIDs, err := p.process(p.ctx, imageID)

	p.mu.Lock()
	defer p.mu.Unlock()
	done := time.Now()
	job.CompletedAt = &done
	if err != nil {
		job.Status = JobStatusFailed
		job.Error = err.Error()
		log.Printf("worker: job %s for image %d failed: %v", id, imageID, err)
		return
	}
	job.Status = JobStatusCompleted
	job.EmbeddingIDs = embeddingIDs
}
