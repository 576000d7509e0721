package rental

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/FleetRentDesk/FleetRentDesk/internal/common/logger"
	"github.com/FleetRentDesk/FleetRentDesk/internal/fleet"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service 预订/归还引擎（不依赖传输层）。
//
// 并发约定：预订的可用性判定与写入在同一事务内完成，事务先对目标车辆行加锁
// 再复检重叠，双发请求中后到者观察到 ErrAlreadyBooked。进程内不保存任何
// 预订决策状态，协调完全交给存储的事务隔离。
type Service struct {
	db       *gorm.DB
	detector *Detector
	log      logger.Logger
}

func NewService(db *gorm.DB, log logger.Logger) *Service {
	return &Service{db: db, detector: NewDetector(db), log: log}
}

// lockForUpdate 对读取加行级写锁（SELECT ... FOR UPDATE）。
// sqlite（测试环境）没有行锁语法，依赖其单写事务串行化达到同等保证。
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// CheckAvailability 查询车辆在 [start, end) 是否可租（纯读入口）。
func (s *Service) CheckAvailability(ctx context.Context, plate string, start, end time.Time) (bool, error) {
	if s == nil || s.detector == nil {
		return false, fmt.Errorf("service not initialized")
	}
	return s.detector.IsAvailable(ctx, strings.TrimSpace(plate), start, end)
}

// ListPendingReturns 待归还租约，按请求归还日升序。
func (s *Service) ListPendingReturns(ctx context.Context) ([]Rental, error) {
	if s == nil || s.detector == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	return s.detector.ListPendingReturns(ctx)
}

// BookVehicle 预订车辆。
// 先做一次预检（ErrUnavailable 直接拒绝），再开事务：锁定车辆行、复检重叠、
// 插入租约。事务内复检失败返回 ErrAlreadyBooked 且不写入任何行。
// 提交开始前响应 ctx 取消；提交一旦开始则整体生效或整体回滚。
func (s *Service) BookVehicle(ctx context.Context, plate string, start, end time.Time, userID int64) (*Rental, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	plate = strings.TrimSpace(plate)
	if plate == "" {
		return nil, ErrNotFound
	}
	if !start.Before(end) {
		return nil, ErrInvalidRange
	}
	if userID <= 0 {
		return nil, fmt.Errorf("user_id required")
	}

	free, err := s.detector.IsAvailable(ctx, plate, start, end)
	if err != nil {
		return nil, err
	}
	if !free {
		return nil, ErrUnavailable
	}

	rt := &Rental{
		Ref:          uuid.NewString(),
		LicensePlate: plate,
		UserID:       userID,
		PickUpDate:   start,
		ReturnDate:   end,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 行锁挡住同车并发预订；车辆可能在预检后被级联删除，复查存在性
		var car fleet.FleetCar
		if err := lockForUpdate(tx).Where("license_plate = ?", plate).First(&car).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return err
		}

		// 事务内复检：关闭 check-then-act 竞态
		busy, err := NewRepo(tx).ActiveOverlapExists(ctx, plate, start, end)
		if err != nil {
			return err
		}
		if busy {
			return ErrAlreadyBooked
		}

		if err := NewRepo(tx).Create(ctx, rt); err != nil {
			return err
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	if s.log != nil {
		s.log.WithFields(map[string]interface{}{
			"ref":   rt.Ref,
			"plate": plate,
			"user":  userID,
		}).Info("vehicle booked")
	}
	return rt, nil
}

// ReturnReceipt 归还回执。金额单位：分。
type ReturnReceipt struct {
	RentalID   int64
	Ref        string
	Plate      string
	ReturnedAt time.Time
	RentalDays int64 // 请求区间天数（不足一天按一天）
	DaysLate   int64 // 逾期天数（不足一天按一天）
	BaseCharge int64 // RentalDays × 日租金
	LateFee    int64 // DaysLate × 逾期日罚金
}

// ReturnVehicle 归还车辆：Active → Closed 的唯一一次流转。
//   - 租约不存在：ErrNotFound
//   - 已归还：ErrAlreadyReturned（重复调用被拒绝，不是被静默接受）
//
// 回执内按车型计价计算基础租金与逾期罚金。
func (s *Service) ReturnVehicle(ctx context.Context, rentalID int64, now time.Time) (*ReturnReceipt, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("service not initialized")
	}

	var receipt *ReturnReceipt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rt Rental
		if err := lockForUpdate(tx).Where("id = ?", rentalID).First(&rt).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return err
		}
		if err := rt.applyReturn(now); err != nil {
			return err
		}
		if err := NewRepo(tx).Update(ctx, &rt); err != nil {
			return err
		}

		fleetRepo := fleet.NewRepo(tx)
		car, err := fleetRepo.GetFleetCar(ctx, rt.LicensePlate)
		if err != nil {
			return err
		}
		model, err := fleetRepo.GetCarModel(ctx, car.CarModelID)
		if err != nil {
			return err
		}

		days := ceilDays(rt.PickUpDate, rt.ReturnDate)
		late := ceilDays(rt.ReturnDate, *rt.ActualReturnDate)
		receipt = &ReturnReceipt{
			RentalID:   rt.ID,
			Ref:        rt.Ref,
			Plate:      rt.LicensePlate,
			ReturnedAt: *rt.ActualReturnDate,
			RentalDays: days,
			DaysLate:   late,
			BaseCharge: days * model.DailyPrice,
			LateFee:    late * model.DayDelayPrice,
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	if s.log != nil {
		s.log.WithFields(map[string]interface{}{
			"rental_id": receipt.RentalID,
			"plate":     receipt.Plate,
			"late_days": receipt.DaysLate,
			"late_fee":  receipt.LateFee,
		}).Info("vehicle returned")
	}
	return receipt, nil
}

// ceilDays from 到 to 的天数，向上取整；to 不晚于 from 时为 0。
func ceilDays(from, to time.Time) int64 {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	days := int64(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}
