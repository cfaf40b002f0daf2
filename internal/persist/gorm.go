package persist

import (
	"context"
	"errors"
	"fmt"

	"kimhanh/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore 基于 GORM 的收藏集与客户存储（生产环境使用 MySQL）。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建存储实例。
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate 自动迁移收藏集与客户表。
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&model.SavedCollection{}, &model.Customer{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Find 按身份键查找收藏集，不存在时返回 ErrNotFound。
func (s *GormStore) Find(ctx context.Context, identityKey string) (*model.SavedCollection, error) {
	var c model.SavedCollection
	err := s.db.WithContext(ctx).Where("identity_key = ?", identityKey).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find collection: %w", err)
	}
	return &c, nil
}

// Upsert 按身份键插入或整体覆盖收藏集。
//
// 要求 saved_collections.identity_key 上有唯一索引。
func (s *GormStore) Upsert(ctx context.Context, c *model.SavedCollection) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"items", "item_count", "updated_at"}),
	}).Create(c).Error; err != nil {
		return fmt.Errorf("upsert collection: %w", err)
	}
	return nil
}

// UpsertCustomer 按电话插入或更新客户资料。
func (s *GormStore) UpsertCustomer(ctx context.Context, c *model.Customer) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone"}},
		DoUpdates: clause.AssignmentColumns([]string{"purchase_type", "name", "dob", "partner_name", "partner_dob", "updated_at"}),
	}).Create(c).Error; err != nil {
		return fmt.Errorf("upsert customer: %w", err)
	}
	return nil
}
