package notify

import (
	"context"
	"time"

	"kimhanh/internal/canvas"
	"kimhanh/internal/identity"
	"kimhanh/internal/pricing"
)

// CollectionNotice 一次显式保存的内容。
type CollectionNotice struct {
	Identity identity.Identity  `json:"identity"`
	Items    []canvas.PlacedItem `json:"items"`
	Summary  pricing.Summary     `json:"summary"`
	SavedAt  time.Time           `json:"saved_at"`
}

// Notifier 定义通知接口。
type Notifier interface {
	// NotifyCollectionSaved 通知店员客户保存了收藏集。
	//
	// 参数:
	//   ctx: 上下文
	//   n: 客户身份、实例与价格汇总
	NotifyCollectionSaved(ctx context.Context, n CollectionNotice) error
}
