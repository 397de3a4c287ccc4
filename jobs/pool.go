package jobs

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultPoolSize bounds concurrently executing migrations.
const DefaultPoolSize = 4

type task struct {
	id  string
	run func(ctx context.Context)
}

// Pool executes migration jobs with bounded concurrency. Excess
// submissions queue; each running job has its own cancellable context
// so a DELETE can unwind it.
type Pool struct {
	logger *slog.Logger
	queue  chan task
	wg     sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	stopped bool
}

// NewPool creates and starts a pool of size workers.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		logger:  logger,
		queue:   make(chan task, 256),
		cancels: make(map[string]context.CancelFunc),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		ctx, cancel := context.WithCancel(context.Background())

		p.mu.Lock()
		p.cancels[t.id] = cancel
		p.mu.Unlock()

		t.run(ctx)

		p.mu.Lock()
		delete(p.cancels, t.id)
		p.mu.Unlock()
		cancel()
	}
}

// Submit queues a job for execution. Returns false after Stop.
func (p *Pool) Submit(id string, run func(ctx context.Context)) bool {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	select {
	case p.queue <- task{id: id, run: run}:
		return true
	default:
		p.logger.Error("job queue full, rejecting submission", "migration_id", id)
		return false
	}
}

// Cancel unwinds a running job. Returns whether the job was running.
func (p *Pool) Cancel(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cancel, ok := p.cancels[id]
	if ok {
		cancel()
	}
	return ok
}

// Stop drains the queue and waits for running jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.queue)
	p.wg.Wait()
}
