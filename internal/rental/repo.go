package rental

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Repo 租约数据访问层。事务内使用时用事务句柄构造（NewRepo(tx)）。
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) withCtx(ctx context.Context) *gorm.DB {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.WithContext(ctx)
}

func (r *Repo) Create(ctx context.Context, rt *Rental) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Create(rt).Error
}

func (r *Repo) Update(ctx context.Context, rt *Rental) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Save(rt).Error
}

func (r *Repo) GetByID(ctx context.Context, id int64) (*Rental, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var rt Rental
	if err := db.Where("id = ?", id).First(&rt).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rt, nil
}

// ActiveOverlapExists 指定车牌的活跃租约中是否存在与 [start, end) 重叠者。
// 已归还的租约（actual_return_date 非空）无论历史区间如何都不阻塞可用性。
func (r *Repo) ActiveOverlapExists(ctx context.Context, plate string, start, end time.Time) (bool, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return false, fmt.Errorf("repo db is nil")
	}
	var n int64
	err := db.Model(&Rental{}).
		Where("license_plate = ?", plate).
		Where("actual_return_date IS NULL").
		Where("pick_up_date < ? AND ? < return_date", end, start).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListPendingReturns 全部活跃租约，按请求归还日升序（逾期最久的排最前）。
func (r *Repo) ListPendingReturns(ctx context.Context) ([]Rental, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var out []Rental
	err := db.Where("actual_return_date IS NULL").
		Order("return_date ASC").
		Find(&out).Error
	return out, err
}

// GraphStore 供 fleet 包的级联删除触达 rentals 表（实现 fleet.RentalStore）。
// 方法显式接收事务句柄，遍历与删除都落在调用方的事务边界内。
type GraphStore struct{}

func (GraphStore) IDsByPlates(ctx context.Context, db *gorm.DB, plates []string) ([]int64, error) {
	if len(plates) == 0 {
		return nil, nil
	}
	if db == nil {
		return nil, fmt.Errorf("graph store db is nil")
	}
	var ids []int64
	err := db.WithContext(ctx).Model(&Rental{}).
		Where("license_plate IN ?", plates).
		Order("id").Pluck("id", &ids).Error
	return ids, err
}

func (GraphStore) DeleteByIDs(ctx context.Context, db *gorm.DB, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if db == nil {
		return fmt.Errorf("graph store db is nil")
	}
	return db.WithContext(ctx).Where("id IN ?", ids).Delete(&Rental{}).Error
}
