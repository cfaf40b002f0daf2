package model

import (
	"time"

	"gorm.io/datatypes"
)

// SavedCollection 表示一位客户保存的收藏集快照。
//
// IdentityKey 是客户身份键（电话号码），每个身份最多一条记录，保存时整体覆盖。
// Items 以 JSON 形式保存画布上的全部实例（包含商品、数量、位置与宽度）。
type SavedCollection struct {
	ID        uint      `gorm:"primaryKey"` // 内部 ID
	CreatedAt time.Time // 首次保存时间
	UpdatedAt time.Time // 最近保存时间

	IdentityKey string         `gorm:"type:varchar(32);uniqueIndex;not null"` // 身份键（唯一索引）
	Items       datatypes.JSON // 画布实例列表
	ItemCount   int            `gorm:"default:0"` // 实例数量，便于后台列表展示
}
