// Package queue 提供固定 worker 数量的内存任务池，用于运行结束后的并行收尾任务。
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrClosed = errors.New("queue is closed")
	ErrFull   = errors.New("queue is full")
)

// Job 是一个带名称的任务，名称只用于日志与错误归因。
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// ErrorHandler 在任务失败（含 panic）时调用。
type ErrorHandler func(name string, err error)

// Pool 是固定 worker 的任务池。Submit 不阻塞，队列满时拒绝。
type Pool struct {
	logger       *slog.Logger
	workers      int
	jobs         chan Job
	errorHandler ErrorHandler

	wg     sync.WaitGroup
	closed atomic.Bool
	stats  poolStats
}

type poolStats struct {
	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// Stats 是统计信息的快照。
type Stats struct {
	Submitted int64
	Succeeded int64
	Failed    int64 // 包括 panic
	Dropped   int64
	Panics    int64
}

// NewPool 创建任务池。workers 与 capacity 至少为 1。
func NewPool(logger *slog.Logger, workers, capacity int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		logger:  logger,
		workers: workers,
		jobs:    make(chan Job, capacity),
	}
}

// SetErrorHandler 必须在 Start 之前调用。
func (p *Pool) SetErrorHandler(h ErrorHandler) {
	p.errorHandler = h
}

// Start 启动 worker，直到 ctx 结束或调用 Shutdown。
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.execute(ctx, job, id)
		}
	}
}

func (p *Pool) execute(ctx context.Context, job Job, workerID int) {
	start := time.Now()
	err := p.safeRun(ctx, job, workerID)
	if err != nil {
		p.stats.failed.Add(1)
		p.logger.Warn("job failed",
			slog.String("job", job.Name),
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))
		if p.errorHandler != nil {
			p.errorHandler(job.Name, err)
		}
		return
	}
	p.stats.succeeded.Add(1)
	p.logger.Debug("job done",
		slog.String("job", job.Name),
		slog.Duration("elapsed", time.Since(start)))
}

// safeRun 把 panic 转成错误返回。
func (p *Pool) safeRun(ctx context.Context, job Job, workerID int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.stats.panics.Add(1)
			p.logger.Error("job panic recovered",
				slog.String("job", job.Name),
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(ctx)
}

// Submit 非阻塞入队。
func (p *Pool) Submit(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %q has no func", job.Name)
	}
	if p.closed.Load() {
		return ErrClosed
	}
	select {
	case p.jobs <- job:
		p.stats.submitted.Add(1)
		return nil
	default:
		p.stats.dropped.Add(1)
		p.logger.Warn("queue full, drop job",
			slog.String("job", job.Name),
			slog.Int("capacity", cap(p.jobs)))
		return ErrFull
	}
}

// Shutdown 拒绝新任务并等待已入队任务完成，超过 timeout 返回错误。
// timeout <= 0 表示一直等待。
func (p *Pool) Shutdown(timeout time.Duration) error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	close(p.jobs)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		p.logger.Error("queue shutdown timeout", slog.Duration("timeout", timeout))
		return fmt.Errorf("shutdown timeout after %s", timeout)
	}
}

func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.stats.submitted.Load(),
		Succeeded: p.stats.succeeded.Load(),
		Failed:    p.stats.failed.Load(),
		Dropped:   p.stats.dropped.Load(),
		Panics:    p.stats.panics.Load(),
	}
}

// Len 返回待处理的任务数。
func (p *Pool) Len() int { return len(p.jobs) }
