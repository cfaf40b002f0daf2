package model

import "time"

// Customer 表示提交过身份信息的客户。
type Customer struct {
	ID           uint      `gorm:"primaryKey"`                            // 客户 ID
	Phone        string    `gorm:"type:varchar(32);uniqueIndex;not null"` // 电话（唯一）
	PurchaseType string    `gorm:"type:varchar(16);default:regular"`      // 购买类型: regular / wedding
	Name         string    `gorm:"type:varchar(128)"`                     // 姓名
	DOB          string    `gorm:"type:varchar(16)"`                      // 出生日期 YYYY-MM-DD
	PartnerName  string    `gorm:"type:varchar(128)"`                     // 配偶姓名（仅婚嫁）
	PartnerDOB   string    `gorm:"type:varchar(16)"`                      // 配偶出生日期（仅婚嫁）
	CreatedAt    time.Time // 首次提交时间
	UpdatedAt    time.Time // 最近提交时间
}
