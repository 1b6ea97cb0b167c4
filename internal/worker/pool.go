// Package worker runs submitted tasks on a fixed number of goroutines.
package worker

import (
	"context"
	"sync"
)

// Task represents a unit of work to be processed by a worker
type Task func(ctx context.Context)

// Pool manages a pool of workers sharing one queue.
type Pool struct {
	tasks  chan Task
	wg     sync.WaitGroup
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool starts size workers; queue bounds how many tasks may wait.
func NewPool(size, queue int) *Pool {
	if size <= 0 {
		size = 1
	}
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{tasks: make(chan Task, queue), ctx: ctx, cancel: cancel}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			task(p.ctx)
		}
	}
}

// Submit queues task, giving up when ctx ends or the pool stops first.
func (p *Pool) Submit(ctx context.Context, task Task) bool {
	select {
	case <-p.ctx.Done():
		return false
	default:
	}
	select {
	case p.tasks <- task:
		return true
	case <-ctx.Done():
		return false
	case <-p.ctx.Done():
		return false
	}
}

// Stop cancels running tasks' context and waits for workers to exit.
func (p *Pool) Stop() {
	p.once.Do(p.cancel)
	p.wg.Wait()
}
