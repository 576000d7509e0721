package fleet

import "time"

// Manufacturer 厂商表 GORM 模型。name 为自然键（唯一）。
type Manufacturer struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Name      string    `gorm:"uniqueIndex;size:64;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// ManufacturerModel 厂商车系表（Manufacturer 的直接子级）。
// 外键 RESTRICT：级联删除自身保证叶到根的顺序，约束兜底的是
// 执行事务之外的并发插入——父级已删的插入直接失败而不是静默成为孤儿。
type ManufacturerModel struct {
	ID             int64         `gorm:"primaryKey;autoIncrement"`
	Name           string        `gorm:"size:64;not null"`
	ManufacturerID int64         `gorm:"index;not null"`
	Manufacturer   *Manufacturer `gorm:"constraint:OnDelete:RESTRICT"`
	CreatedAt      time.Time     `gorm:"autoCreateTime"`
	UpdatedAt      time.Time     `gorm:"autoUpdateTime"`
}

// CarModel 具体车型表。
// 自然键为 (manufacturer_model_id, production_year, is_manual_gear) 三元组。
// 金额单位：分。
type CarModel struct {
	ID                  int64              `gorm:"primaryKey;autoIncrement"`
	ManufacturerModelID int64              `gorm:"index;not null"`
	ManufacturerModel   *ManufacturerModel `gorm:"constraint:OnDelete:RESTRICT"`
	ProductionYear      int                `gorm:"not null"`
	IsManualGear        bool               `gorm:"not null"`
	DailyPrice          int64              `gorm:"not null;default:0"` // 日租金
	DayDelayPrice       int64              `gorm:"not null;default:0"` // 逾期日罚金
	CreatedAt           time.Time          `gorm:"autoCreateTime"`
	UpdatedAt           time.Time          `gorm:"autoUpdateTime"`
}

// FleetCar 车队实车表，主键为车牌号。
type FleetCar struct {
	LicensePlate string    `gorm:"primaryKey;size:32"`
	CarModelID   int64     `gorm:"index;not null"`
	CarModel     *CarModel `gorm:"constraint:OnDelete:RESTRICT"`
	ImagePath    string    `gorm:"size:255"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}
