package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kimhanh"

var (
	// CanvasMutationsTotal 画布变更次数，按操作与结果区分。
	CanvasMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "canvas_mutations_total",
		Help:      "Canvas mutations by operation and outcome.",
	}, []string{"op", "result"})

	// PricingRecomputeTotal 价格汇总实际重算次数（命中缓存不计）。
	PricingRecomputeTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pricing_recompute_total",
		Help:      "Pricing summaries recomputed after a canvas or price change.",
	})

	// CollectionSavesTotal 收藏集保存次数，按触发方式与结果区分。
	CollectionSavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "collection_saves_total",
		Help:      "Collection snapshot writes by trigger and outcome.",
	}, []string{"trigger", "result"})

	// CMSFetchTotal 内容后台请求次数，按资源与结果区分。
	CMSFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cms_fetch_total",
		Help:      "CMS fetches by resource and outcome.",
	}, []string{"resource", "result"})

	// CMSFetchDuration 内容后台请求耗时。
	CMSFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cms_fetch_duration_seconds",
		Help:      "CMS fetch latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"resource"})

	// ChatRepliesTotal AI 顾问回复次数，按类型与结果区分。
	ChatRepliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chat_replies_total",
		Help:      "Advisor replies by kind (initial, reply, nudge) and outcome.",
	}, []string{"kind", "result"})

	// NudgeDuplicatePreventedTotal 被去重拦截的空闲提醒。
	NudgeDuplicatePreventedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "nudge_duplicate_prevented_total",
		Help:      "Idle nudges skipped because one was sent within the window.",
	})

	// RateLimitWaitDuration 限流等待耗时。
	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ratelimit_wait_seconds",
		Help:      "Time spent waiting for a rate limit token.",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})

	// RateLimitTimeoutTotal 限流等待超时次数。
	RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_timeout_total",
		Help:      "Rate limit waits that ended with a timeout.",
	})

	// ActiveSessions 当前活跃会话数。
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Sessions currently held in memory.",
	})

	// WorkerPoolSize 刷新任务 worker 数量。
	WorkerPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_pool_size",
		Help:      "Configured refresh worker pool size.",
	})

	// QueueJobsTotal 刷新队列任务统计。
	QueueJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_jobs_total",
		Help:      "Refresh queue jobs by outcome.",
	}, []string{"result"})

	// OutboxDeliveriesTotal 通知发件箱投递结果。
	OutboxDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_deliveries_total",
		Help:      "Outbox notification deliveries by outcome (delivered, retry, dlq).",
	}, []string{"result"})

	// OutboxAutoClaimTotal 通过 XAUTOCLAIM 接管的超时消息。
	OutboxAutoClaimTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_autoclaim_total",
		Help:      "Pending outbox messages reclaimed from idle consumers.",
	})
)

// InitMetrics 初始化静态指标的初始值。
func InitMetrics(workers int) {
	WorkerPoolSize.Set(float64(workers))
}
