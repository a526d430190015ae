// Package poller 驱动扫描状态轮询：每个在飞的扫描对应一个排队任务，
// 由固定规模的 worker 池消费，请求处理路径只负责入队。
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"scangate/internal/scanner"

	"github.com/google/uuid"
)

// Job 是一个待轮询的扫描。
type Job struct {
	Digest string
	Handle string
}

// VerdictApplier 处理终态判定（发布 + 记录更新）。
type VerdictApplier interface {
	ApplyVerdict(ctx context.Context, digest string, stats scanner.Stats) error
}

// Config 控制轮询节奏与并发度。
type Config struct {
	Interval    time.Duration // 两次查询之间的固定间隔
	MaxAttempts int           // 每个扫描的查询次数预算
	Workers     int
	QueueSize   int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 60
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	return c
}

// Pool 管理固定数量的轮询 worker。
type Pool struct {
	cfg     Config
	scanner scanner.Client
	applier VerdictApplier
	jobs    chan Job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
}

// New 创建轮询池，调用 Start 启动 worker。
func New(cfg Config, scan scanner.Client, applier VerdictApplier, logger *slog.Logger) *Pool {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:     cfg,
		scanner: scan,
		applier: applier,
		jobs:    make(chan Job, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With(slog.String("component", "scan_poller")),
	}
}

// Start 启动 worker goroutine。
func (p *Pool) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Enqueue 入队一个轮询任务。队列满时阻塞（背压），池已停止时返回 false。
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.jobs <- job:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// Shutdown 停止所有 worker 并等待退出。在飞的扫描保持 pending，
// 下次启动由 Recover 重新挂上。
func (p *Pool) Shutdown() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobs:
			p.pollOne(job)
		case <-p.ctx.Done():
			p.logger.Info("poll worker exiting", slog.Int("worker_id", id))
			return
		}
	}
}

// pollOne 以固定间隔查询一个 analysis handle，直到终态或预算耗尽。
//
// 瞬时错误（网络、5xx、限流）只消耗一次尝试，绝不判定记录失败；
// 预算耗尽时记录保持 pending，等待人工或恢复任务处理。
func (p *Pool) pollOne(job Job) {
	scansInFlight.Inc()
	defer scansInFlight.Dec()

	log := p.logger.With(
		slog.String("digest", job.Digest),
		slog.String("analysis_handle", job.Handle),
		slog.String("poll_id", uuid.NewString()),
	)

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		report, err := p.scanner.Analysis(p.ctx, job.Handle)

		switch {
		case err == nil && report.Completed():
			scanPollsTotal.WithLabelValues("completed").Inc()
			if applyErr := p.applier.ApplyVerdict(p.ctx, job.Digest, report.Stats); applyErr != nil {
				// 发布或记录更新失败：记录仍是 pending，下一次尝试会重新
				// 查询 handle 并幂等地重试这一步
				scanPollsTotal.WithLabelValues("apply_error").Inc()
				log.Error("apply verdict failed",
					slog.Int("attempt", attempt),
					slog.String("error", applyErr.Error()),
				)
				break
			}
			verdict := "clean"
			if report.Stats.Flagged() {
				verdict = "dangerous"
			}
			scanVerdictsTotal.WithLabelValues(verdict).Inc()
			log.Info("scan completed",
				slog.Int("attempt", attempt),
				slog.String("verdict", verdict),
			)
			return

		case err == nil:
			scanPollsTotal.WithLabelValues("pending").Inc()
			log.Debug("scan still pending",
				slog.Int("attempt", attempt),
				slog.String("provider_status", report.Status),
			)

		case errors.Is(err, context.Canceled):
			log.Info("polling stopped by shutdown", slog.Int("attempt", attempt))
			return

		case errors.Is(err, scanner.ErrTransient):
			scanPollsTotal.WithLabelValues("transient_error").Inc()
			log.Warn("transient provider error, will retry",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)

		default:
			scanPollsTotal.WithLabelValues("provider_error").Inc()
			log.Error("provider error, will retry",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}

		if attempt == p.cfg.MaxAttempts {
			break
		}
		if !p.wait() {
			log.Info("polling stopped by shutdown", slog.Int("attempt", attempt))
			return
		}
	}

	scanPollTimeoutsTotal.Inc()
	log.Error("analysis timed out, record left pending",
		slog.Int("attempts", p.cfg.MaxAttempts),
		slog.Duration("interval", p.cfg.Interval),
	)
}

// wait 挂起一个轮询间隔，可被 Shutdown 打断。
func (p *Pool) wait() bool {
	timer := time.NewTimer(p.cfg.Interval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-p.ctx.Done():
		return false
	}
}
