package rental

import (
	"time"

	"github.com/FleetRentDesk/FleetRentDesk/internal/fleet"
)

// Rental 租约表 GORM 模型。
// 生命周期只有一次流转：Active --[归还]--> Closed；Closed 为终态。
// actual_return_date 为空即 Active，非空即 Closed。
type Rental struct {
	ID  int64  `gorm:"primaryKey;autoIncrement"`
	Ref string `gorm:"uniqueIndex;size:36;not null"` // 对外预订参考号（uuid）

	// 外键 RESTRICT 兜底执行事务之外的并发插入：车辆已删则插入失败，
	// 不会留下指向不存在车辆的孤儿租约
	LicensePlate string          `gorm:"index;size:32;not null"`
	Car          *fleet.FleetCar `gorm:"foreignKey:LicensePlate;constraint:OnDelete:RESTRICT"`
	UserID       int64           `gorm:"index;not null"`

	// 时间信息：[pick_up_date, return_date) 为请求区间（左闭右开）
	PickUpDate       time.Time  `gorm:"not null"`
	ReturnDate       time.Time  `gorm:"index;not null"` // 请求归还日
	ActualReturnDate *time.Time // 实际归还日；非空即终态

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Active 租约是否仍占用车辆。
func (r *Rental) Active() bool {
	return r != nil && r.ActualReturnDate == nil
}

// applyReturn 闭合租约并写入实际归还日。仅允许从 Active 流转一次。
// 实际归还日不早于取车日（提前退租按取车日记账）。
func (r *Rental) applyReturn(now time.Time) error {
	if r == nil {
		return ErrNotFound
	}
	if r.ActualReturnDate != nil {
		return ErrAlreadyReturned
	}
	if now.Before(r.PickUpDate) {
		now = r.PickUpDate
	}
	t := now
	r.ActualReturnDate = &t
	return nil
}

// Overlaps 半开区间重叠判定：existing.pickUp < end && start < existing.return。
// 首尾相接（上一单归还日 == 下一单取车日）不算冲突。
func (r *Rental) Overlaps(start, end time.Time) bool {
	if r == nil {
		return false
	}
	return r.PickUpDate.Before(end) && start.Before(r.ReturnDate)
}
