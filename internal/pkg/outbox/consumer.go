package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kimhanh/internal/pkg/metrics"
	"kimhanh/internal/pkg/notify"

	"github.com/redis/go-redis/v9"
)

// FailureAction 发送失败后的处理方式。
type FailureAction string

const (
	FailureActionNone  FailureAction = "none"
	FailureActionRetry FailureAction = "retry"
	FailureActionDLQ   FailureAction = "dlq"
)

const readErrorBackoff = time.Second

// Consumer 从发件箱读取通知并交给真正的通知器发送。
type Consumer struct {
	stream           *stream
	logger           *slog.Logger
	groupName        string
	consumerID       string
	blockTime        time.Duration
	batchSize        int64
	pendingIdle      time.Duration
	pendingStart     string
	deadLetterStream string
	maxRetry         int
}

// ConsumerOption 消费者配置选项。
type ConsumerOption func(*Consumer)

// WithBlockTime 设置阻塞等待时间。
func WithBlockTime(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.blockTime = d }
}

// WithBatchSize 设置每次读取的消息数量。
func WithBatchSize(size int64) ConsumerOption {
	return func(c *Consumer) { c.batchSize = size }
}

// WithPendingIdle 设置接管 Pending 消息前的最小空闲时间。
func WithPendingIdle(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.pendingIdle = d }
}

// WithDeadLetterStream 设置死信 Stream 名称。
func WithDeadLetterStream(name string) ConsumerOption {
	return func(c *Consumer) { c.deadLetterStream = name }
}

// WithMaxRetry 设置最大重试次数。
func WithMaxRetry(n int) ConsumerOption {
	return func(c *Consumer) { c.maxRetry = n }
}

// NewConsumer 创建发件箱消费者，并确保消费者组存在。
//
// 参数:
//   - ctx: 上下文
//   - rdb: Redis 客户端
//   - logger: 日志记录器
//   - streamName: Stream 名称（为空时使用 DefaultStream）
//   - groupName: 消费者组名称
//   - consumerID: 消费者标识（为空时自动生成）
//   - opts: 可选配置
//
// 返回值:
//   - *Consumer: 消费者实例
//   - error: 创建消费者组失败时返回错误
func NewConsumer(ctx context.Context, rdb *redis.Client, logger *slog.Logger, streamName, groupName, consumerID string, opts ...ConsumerOption) (*Consumer, error) {
	if groupName == "" {
		return nil, fmt.Errorf("group name is required")
	}
	if consumerID == "" {
		consumerID = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}

	s := newStream(rdb, logger, streamName)
	c := &Consumer{
		stream:           s,
		logger:           logger,
		groupName:        groupName,
		consumerID:       consumerID,
		blockTime:        time.Second,
		batchSize:        10,
		pendingIdle:      time.Minute,
		pendingStart:     "0-0",
		deadLetterStream: s.name + ":dlq",
		maxRetry:         3,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := s.createGroup(ctx, groupName); err != nil {
		return nil, err
	}
	c.logger.Info("outbox consumer ready",
		slog.String("stream", s.name),
		slog.String("group", groupName),
		slog.String("consumer_id", consumerID))
	return c, nil
}

// Delivery 读取到的一条消息及其 Stream ID。
type Delivery struct {
	ID      string
	Message *Message
}

// Read 先接管超时未确认的消息，没有时再读取新消息。
func (c *Consumer) Read(ctx context.Context) ([]*Delivery, error) {
	pending, err := c.readPending(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return pending, nil
	}
	return c.readNew(ctx)
}

func (c *Consumer) readPending(ctx context.Context) ([]*Delivery, error) {
	messages, next, err := c.stream.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream.name,
		Group:    c.groupName,
		Consumer: c.consumerID,
		MinIdle:  c.pendingIdle,
		Start:    c.pendingStart,
		Count:    c.batchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim failed: %w", err)
	}
	if next != "" {
		c.pendingStart = next
	}
	if len(messages) > 0 {
		metrics.OutboxAutoClaimTotal.Add(float64(len(messages)))
	}
	return c.parseMessages(ctx, messages), nil
}

func (c *Consumer) readNew(ctx context.Context) ([]*Delivery, error) {
	streams, err := c.stream.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.groupName,
		Consumer: c.consumerID,
		Streams:  []string{c.stream.name, ">"},
		Count:    c.batchSize,
		Block:    c.blockTime,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup failed: %w", err)
	}

	var messages []redis.XMessage
	for _, st := range streams {
		messages = append(messages, st.Messages...)
	}
	return c.parseMessages(ctx, messages), nil
}

// parseMessages 解析消息，无法解析的直接进入死信队列。
func (c *Consumer) parseMessages(ctx context.Context, messages []redis.XMessage) []*Delivery {
	if len(messages) == 0 {
		return nil
	}
	out := make([]*Delivery, 0, len(messages))
	for _, msg := range messages {
		data, ok := msg.Values["data"].(string)
		if !ok || data == "" {
			c.handlePoisonMessage(ctx, msg.ID, fmt.Sprintf("%v", msg.Values["data"]), "invalid message format")
			continue
		}
		parsed, err := parseMessage(data)
		if err != nil {
			c.handlePoisonMessage(ctx, msg.ID, data, err.Error())
			continue
		}
		out = append(out, &Delivery{ID: msg.ID, Message: parsed})
	}
	return out
}

// Ack 确认消息已处理。
func (c *Consumer) Ack(ctx context.Context, msgID string) error {
	acked, err := c.stream.rdb.XAck(ctx, c.stream.name, c.groupName, msgID).Result()
	if err != nil {
		return fmt.Errorf("xack failed: %w", err)
	}
	if acked == 0 {
		c.logger.Warn("message not acked (may already be acked)", slog.String("msg_id", msgID))
	}
	return nil
}

// HandleFailure 未超过重试次数时重新入队，否则写入死信队列；两种情况都会确认原消息。
func (c *Consumer) HandleFailure(ctx context.Context, d *Delivery, cause error) (FailureAction, error) {
	if d == nil || d.Message == nil {
		return FailureActionNone, fmt.Errorf("message is nil")
	}

	d.Message.Retry++
	if d.Message.Retry > c.maxRetry {
		if err := c.publishDeadLetter(ctx, d.ID, d.Message, cause); err != nil {
			return FailureActionDLQ, err
		}
		return FailureActionDLQ, c.Ack(ctx, d.ID)
	}

	if err := c.stream.publish(ctx, d.Message); err != nil {
		return FailureActionRetry, err
	}
	return FailureActionRetry, c.Ack(ctx, d.ID)
}

// Pending 已读取但未确认的消息数。
func (c *Consumer) Pending(ctx context.Context) (int64, error) {
	info, err := c.stream.rdb.XPending(ctx, c.stream.name, c.groupName).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending failed: %w", err)
	}
	return info.Count, nil
}

// Run 持续消费发件箱并调用 target 发送，直到 ctx 结束。
func (c *Consumer) Run(ctx context.Context, target notify.Notifier) {
	for {
		if ctx.Err() != nil {
			return
		}
		deliveries, err := c.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("outbox read failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(readErrorBackoff):
			}
			continue
		}
		for _, d := range deliveries {
			c.deliver(ctx, target, d)
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, target notify.Notifier, d *Delivery) {
	err := target.NotifyCollectionSaved(ctx, d.Message.Notice)
	if err == nil {
		metrics.OutboxDeliveriesTotal.WithLabelValues("delivered").Inc()
		if ackErr := c.Ack(ctx, d.ID); ackErr != nil {
			c.logger.Error("ack delivered message failed", slog.String("msg_id", d.ID), slog.String("error", ackErr.Error()))
		}
		return
	}

	action, herr := c.HandleFailure(ctx, d, err)
	metrics.OutboxDeliveriesTotal.WithLabelValues(string(action)).Inc()
	attrs := []any{
		slog.String("msg_id", d.ID),
		slog.String("action", string(action)),
		slog.Int("retry", d.Message.Retry),
		slog.String("error", err.Error()),
	}
	if herr != nil {
		attrs = append(attrs, slog.String("handle_error", herr.Error()))
	}
	c.logger.Warn("notification delivery failed", attrs...)
}

func (c *Consumer) handlePoisonMessage(ctx context.Context, msgID, payload, reason string) {
	c.logger.Warn("poison outbox message", slog.String("msg_id", msgID), slog.String("reason", reason))
	if err := c.publishDeadLetter(ctx, msgID, payload, errors.New(reason)); err != nil {
		c.logger.Error("publish dead letter failed", slog.String("msg_id", msgID), slog.String("error", err.Error()))
	}
	metrics.OutboxDeliveriesTotal.WithLabelValues(string(FailureActionDLQ)).Inc()
	if err := c.Ack(ctx, msgID); err != nil {
		c.logger.Error("ack poison message failed", slog.String("msg_id", msgID), slog.String("error", err.Error()))
	}
}

func (c *Consumer) publishDeadLetter(ctx context.Context, msgID string, payload interface{}, cause error) error {
	raw := payload
	if msg, ok := payload.(*Message); ok {
		if data, err := json.Marshal(msg); err == nil {
			raw = string(data)
		}
	}
	return c.stream.publishRaw(ctx, c.deadLetterStream, map[string]interface{}{
		"original_id": msgID,
		"payload":     raw,
		"reason":      cause.Error(),
		"failed_at":   time.Now().UTC().Format(time.RFC3339Nano),
	})
}
