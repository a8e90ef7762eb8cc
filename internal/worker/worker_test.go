package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/petvet/biometry/internal/config"
)

func waitForStatus(t *testing.T, p *Pool, id string, want JobStatus) Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := p.Get(id)
		if !ok {
			t.Fatalf("job %s disappeared", id)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := p.Get(id)
	t.Fatalf("job %s never reached %s, stuck at %s", id, want, job.Status)
	return Job{}
}

func TestPoolCompletesJob(t *testing.T) {
	p := NewPool(config.WorkerConfig{Concurrency: 2, QueueSize: 8}, func(ctx context.Context, imageID int64) ([]int64, error) {
		return []int64{imageID * 10, imageID*10 + 1}, nil
	})
	p.Start()
	defer p.Stop()

	job, err := p.Enqueue(7, 1)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if job.Status != JobStatusPending {
		t.Errorf("new job should be pending, got %s", job.Status)
	}

	done := waitForStatus(t, p, job.ID, JobStatusCompleted)
	if len(done.EmbeddingIDs) != 2 || done.EmbeddingIDs[0] != 70 {
		t.Errorf("unexpected embedding IDs: %v", done.EmbeddingIDs)
	}
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Error("timestamps not set on completed job")
	}
}

func TestPoolRecordsFailure(t *testing.T) {
	p := NewPool(config.WorkerConfig{Concurrency: 1, QueueSize: 8}, func(ctx context.Context, imageID int64) ([]int64, error) {
		return nil, errors.New("extraction backend down")
	})
	p.Start()
	defer p.Stop()

	job, err := p.Enqueue(1, 1)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	failed := waitForStatus(t, p, job.ID, JobStatusFailed)
	if failed.Error == "" {
		t.Error("failed job should carry the error message")
	}
}

func TestPoolQueueFull(t *testing.T) {
	block := make(chan struct{})
	p := NewPool(config.WorkerConfig{Concurrency: 1, QueueSize: 1}, func(ctx context.Context, imageID int64) ([]int64, error) {
		<-block
		return nil, nil
	})
	p.Start()
	defer func() {
		close(block)
		p.Stop()
	}()

	// First job occupies the worker, second fills the buffer. Give the
	// worker a moment to pick up the first.
	if _, err := p.Enqueue(1, 1); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := p.Enqueue(2, 1); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if _, err := p.Enqueue(3, 1); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestPoolGetUnknownJob(t *testing.T) {
	p := NewPool(config.WorkerConfig{Concurrency: 1, QueueSize: 1}, func(ctx context.Context, imageID int64) ([]int64, error) {
		return nil, nil
	})
	if _, ok := p.Get("nope"); ok {
		t.Error("unknown job should not be found")
	}
}
