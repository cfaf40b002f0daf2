package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultStream 通知发件箱默认使用的 Stream。
const DefaultStream = "kimhanh:notify:outbox"

const streamMaxLen = 10000

// stream 封装 Redis Streams 的发布、建组与长度查询。
type stream struct {
	rdb    *redis.Client
	logger *slog.Logger
	name   string
}

func newStream(rdb *redis.Client, logger *slog.Logger, name string) *stream {
	if name == "" {
		name = DefaultStream
	}
	return &stream{rdb: rdb, logger: logger, name: name}
}

// publish 追加一条消息。
func (s *stream) publish(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return s.publishRaw(ctx, s.name, map[string]interface{}{"data": string(data)})
}

func (s *stream) publishRaw(ctx context.Context, name string, values map[string]interface{}) error {
	msgID, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: name,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	s.logger.Debug("outbox message published",
		slog.String("stream", name),
		slog.String("msg_id", msgID))
	return nil
}

// createGroup 创建消费者组（已存在时忽略），从 Stream 起点开始消费。
func (s *stream) createGroup(ctx context.Context, group string) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.name, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (s *stream) length(ctx context.Context) (int64, error) {
	n, err := s.rdb.XLen(ctx, s.name).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen failed: %w", err)
	}
	return n, nil
}

func parseMessage(data string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	if msg.Kind != KindCollectionSaved {
		return nil, fmt.Errorf("unknown message kind %q", msg.Kind)
	}
	return &msg, nil
}
