package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"kimhanh/internal/pkg/metrics"
)

var (
	// ErrClosed 队列已关闭。
	ErrClosed = errors.New("queue is closed")
	// ErrFull 队列已满。
	ErrFull = errors.New("queue is full")
	// ErrPanic 任务执行中发生 panic。
	ErrPanic = errors.New("job panicked")
)

// Job 表示一个可执行的异步任务。
type Job func(ctx context.Context) error

// Queue 内存任务队列与固定 worker 池，用于目录与金价等后台拉取。
type Queue struct {
	logger  *slog.Logger
	workers int
	jobs    chan Job

	wg        sync.WaitGroup
	closed    atomic.Bool
	stopping  atomic.Bool  // ctx 已取消，worker 正在退出
	mu        sync.RWMutex // 保护 jobs 的关闭与发送
	startOnce sync.Once
	done      chan struct{} // 全部 worker 退出后关闭

	stats queueStats
}

type queueStats struct {
	enqueued  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// Stats 队列统计快照。
type Stats struct {
	Enqueued  int64 `json:"enqueued"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Panics    int64 `json:"panics"`
	Pending   int   `json:"pending"`
}

// NewQueue 创建任务队列。
//
// 参数:
//   - logger: 日志记录器
//   - workers: worker 数量（至少为 1）
//   - capacity: 队列容量（至少为 1）
func NewQueue(logger *slog.Logger, workers int, capacity int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		logger:  logger,
		workers: workers,
		jobs:    make(chan Job, capacity),
		done:    make(chan struct{}),
	}
}

// Workers worker 数量。
func (q *Queue) Workers() int {
	return q.workers
}

// Start 启动 worker 池，直到 ctx 被取消或调用 Shutdown。重复调用无效。
//
// ctx 取消后队列不再接受新任务，通道中尚未执行的任务不会再被执行。
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.worker(ctx, i)
		}
		go func() {
			q.wg.Wait()
			close(q.done)
		}()
	})
}

// Done 全部 worker 退出后关闭；未调用 Start 时永不关闭。
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			q.stopping.Store(true)
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.run(ctx, job, id)
		}
	}
}

// run 执行单个任务并恢复 panic。
func (q *Queue) run(ctx context.Context, job Job, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			q.stats.panics.Add(1)
			metrics.QueueJobsTotal.WithLabelValues("panic").Inc()
			q.logger.Error("job panic recovered",
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if err := job(ctx); err != nil {
		q.stats.failed.Add(1)
		metrics.QueueJobsTotal.WithLabelValues("failed").Inc()
		q.logger.Warn("job failed", slog.Int("worker_id", workerID), slog.String("error", err.Error()))
		return
	}
	q.stats.succeeded.Add(1)
	metrics.QueueJobsTotal.WithLabelValues("succeeded").Inc()
}

// Enqueue 非阻塞入队，队列已满返回 ErrFull。
func (q *Queue) Enqueue(job Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed.Load() || q.stopping.Load() {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		q.stats.enqueued.Add(1)
		return nil
	default:
		q.stats.dropped.Add(1)
		metrics.QueueJobsTotal.WithLabelValues("dropped").Inc()
		q.logger.Warn("queue full, drop job", slog.Int("capacity", cap(q.jobs)))
		return ErrFull
	}
}

// EnqueueBlocking 阻塞式入队，直到成功或 ctx 被取消。ctx 已取消时不入队。
func (q *Queue) EnqueueBlocking(ctx context.Context, job Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed.Load() || q.stopping.Load() {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		q.stats.enqueued.Add(1)
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown 拒绝新任务，关闭通道并等待 worker 处理完已入队的任务。
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if !q.closed.CompareAndSwap(false, true) {
		q.mu.Unlock()
		return
	}
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("queue shutdown completed")
}

// Stats 获取统计快照。
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.stats.enqueued.Load(),
		Succeeded: q.stats.succeeded.Load(),
		Failed:    q.stats.failed.Load(),
		Dropped:   q.stats.dropped.Load(),
		Panics:    q.stats.panics.Load(),
		Pending:   len(q.jobs),
	}
}

// Group 把一组任务提交到队列并等待它们各自的结果。
//
// 每个任务的错误单独记录，一个失败不影响其他任务。
// worker 退出后仍未执行的任务记为 ErrClosed，Wait 不会因此永久阻塞。
type Group struct {
	q     *Queue
	wg    sync.WaitGroup
	mu    sync.Mutex
	errs  map[string]error
	tasks []*groupTask
}

// groupTask 保证一个任务只完成一次：要么被 worker 执行，要么在队列停止后被放弃。
type groupTask struct {
	name    string
	claimed atomic.Bool
}

// NewGroup 创建任务组。
func (q *Queue) NewGroup() *Group {
	return &Group{q: q, errs: make(map[string]error)}
}

// Go 以 name 提交任务。ctx 已取消或入队失败时直接记为该任务的错误。
func (g *Group) Go(ctx context.Context, name string, job Job) {
	task := &groupTask{name: name}
	g.wg.Add(1)
	wrapped := func(ctx context.Context) (err error) {
		if !task.claimed.CompareAndSwap(false, true) {
			return nil
		}
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.set(name, fmt.Errorf("%w: %v", ErrPanic, r))
				panic(r)
			}
		}()
		err = job(ctx)
		g.set(name, err)
		return err
	}
	if err := g.q.EnqueueBlocking(ctx, wrapped); err != nil {
		g.set(name, fmt.Errorf("enqueue %s: %w", name, err))
		g.wg.Done()
		return
	}
	g.mu.Lock()
	g.tasks = append(g.tasks, task)
	g.mu.Unlock()
}

// Wait 等待全部任务结束，返回每个任务的错误（成功为 nil）。
func (g *Group) Wait() map[string]error {
	finished := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-g.q.Done():
		// worker 已全部退出：正在执行的任务都已结束，剩下的不会再执行。
		g.abandonPending()
		<-finished
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]error, len(g.errs))
	for k, v := range g.errs {
		out[k] = v
	}
	return out
}

func (g *Group) abandonPending() {
	g.mu.Lock()
	tasks := append([]*groupTask(nil), g.tasks...)
	g.mu.Unlock()
	for _, t := range tasks {
		if t.claimed.CompareAndSwap(false, true) {
			g.set(t.name, fmt.Errorf("run %s: %w", t.name, ErrClosed))
			g.wg.Done()
		}
	}
}

func (g *Group) set(name string, err error) {
	g.mu.Lock()
	g.errs[name] = err
	g.mu.Unlock()
}
