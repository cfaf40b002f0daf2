package persist

import (
	"context"
	"errors"

	"kimhanh/internal/model"
)

var (
	// ErrNotFound 身份键下没有保存过收藏集。
	ErrNotFound = errors.New("collection not found")
	// ErrNoIdentity 尚未提交身份信息，无法保存。
	ErrNoIdentity = errors.New("identity required before saving")
)

// Store 收藏集的持久化存储，按身份键查找与覆盖。
//
// 同一身份键的并发写入不做保护，后写者覆盖前者。
type Store interface {
	Find(ctx context.Context, identityKey string) (*model.SavedCollection, error)
	Upsert(ctx context.Context, c *model.SavedCollection) error
}

// CustomerStore 客户资料存储，按电话覆盖。
type CustomerStore interface {
	UpsertCustomer(ctx context.Context, c *model.Customer) error
}
