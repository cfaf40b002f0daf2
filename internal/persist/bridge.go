package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"kimhanh/internal/canvas"
	"kimhanh/internal/model"
)

// Bridge 在画布实例与持久化记录之间转换。
type Bridge struct {
	store  Store
	logger *slog.Logger
}

// NewBridge 创建桥接器。
func NewBridge(store Store, logger *slog.Logger) *Bridge {
	return &Bridge{store: store, logger: logger}
}

// Load 读取身份键对应的画布实例。
//
// 记录不存在、数据损坏或存储不可用时均返回空列表，只记录日志，不返回错误。
func (b *Bridge) Load(ctx context.Context, identityKey string) []canvas.PlacedItem {
	key := strings.TrimSpace(identityKey)
	if b == nil || b.store == nil || key == "" {
		return nil
	}
	rec, err := b.store.Find(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		b.logger.Warn("load collection failed", slog.String("identity", key), slog.String("error", err.Error()))
		return nil
	}
	if len(rec.Items) == 0 {
		return nil
	}
	var items []canvas.PlacedItem
	if err := json.Unmarshal(rec.Items, &items); err != nil {
		b.logger.Warn("saved collection is corrupt, starting empty", slog.String("identity", key), slog.String("error", err.Error()))
		return nil
	}
	return items
}

// Save 以身份键为键整体覆盖保存画布实例。
//
// 参数:
//
//	ctx: 上下文
//	identityKey: 身份键，为空时返回 ErrNoIdentity
//	items: 当前画布实例
//
// 返回值:
//
//	error: 存储失败时返回包装后的错误
func (b *Bridge) Save(ctx context.Context, identityKey string, items []canvas.PlacedItem) error {
	key := strings.TrimSpace(identityKey)
	if key == "" {
		return ErrNoIdentity
	}
	if b == nil || b.store == nil {
		return fmt.Errorf("save collection: no store configured")
	}
	if items == nil {
		items = []canvas.PlacedItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	rec := &model.SavedCollection{
		IdentityKey: key,
		Items:       raw,
		ItemCount:   len(items),
	}
	if err := b.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("save collection: %w", err)
	}
	return nil
}
