package outbox

import (
	"context"
	"log/slog"

	"kimhanh/internal/pkg/notify"

	"github.com/redis/go-redis/v9"
)

// Producer 把通知写入发件箱，实现 notify.Notifier。
//
// 保存请求只负责入队，实际发送由 Consumer 异步完成。
type Producer struct {
	stream *stream
	logger *slog.Logger
}

// NewProducer 创建发件箱生产者。
//
// 参数:
//   - rdb: Redis 客户端
//   - logger: 日志记录器
//   - streamName: Stream 名称（为空时使用 DefaultStream）
func NewProducer(rdb *redis.Client, logger *slog.Logger, streamName string) *Producer {
	return &Producer{stream: newStream(rdb, logger, streamName), logger: logger}
}

// NotifyCollectionSaved 入队一条收藏集保存通知。
func (p *Producer) NotifyCollectionSaved(ctx context.Context, n notify.CollectionNotice) error {
	if err := p.stream.publish(ctx, newCollectionMessage(n)); err != nil {
		p.logger.Error("enqueue notification failed",
			slog.String("phone", n.Identity.Phone),
			slog.String("error", err.Error()))
		return err
	}
	p.logger.Info("notification enqueued",
		slog.String("phone", n.Identity.Phone),
		slog.Int("items", len(n.Items)))
	return nil
}

// Len 发件箱中的消息数（含已确认但未裁剪的）。
func (p *Producer) Len(ctx context.Context) (int64, error) {
	return p.stream.length(ctx)
}
