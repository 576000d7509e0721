package rental

import (
	"context"
	"fmt"
	"time"

	"github.com/FleetRentDesk/FleetRentDesk/internal/fleet"
	"gorm.io/gorm"
)

// Detector 可用性冲突检测（纯读，不落任何写）。
//
// 区间语义为左闭右开 [start, end)：上一单的归还日与下一单的取车日相同不算冲突。
type Detector struct {
	repo  *Repo
	fleet *fleet.Repo
}

func NewDetector(db *gorm.DB) *Detector {
	return &Detector{repo: NewRepo(db), fleet: fleet.NewRepo(db)}
}

// IsAvailable 车辆在 [start, end) 是否可租。
//   - 车牌不存在：ErrNotFound
//   - start 不早于 end：ErrInvalidRange
func (d *Detector) IsAvailable(ctx context.Context, plate string, start, end time.Time) (bool, error) {
	if d == nil || d.repo == nil || d.fleet == nil {
		return false, fmt.Errorf("detector not initialized")
	}
	if !start.Before(end) {
		return false, ErrInvalidRange
	}
	if _, err := d.fleet.GetFleetCar(ctx, plate); err != nil {
		if err == fleet.ErrNotFound {
			return false, ErrNotFound
		}
		return false, err
	}
	busy, err := d.repo.ActiveOverlapExists(ctx, plate, start, end)
	if err != nil {
		return false, err
	}
	return !busy, nil
}

// ListPendingReturns 待归还租约，按请求归还日升序，供归还流程优先处理逾期车辆。
func (d *Detector) ListPendingReturns(ctx context.Context) ([]Rental, error) {
	if d == nil || d.repo == nil {
		return nil, fmt.Errorf("detector not initialized")
	}
	return d.repo.ListPendingReturns(ctx)
}
