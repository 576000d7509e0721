package fleet

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 目标实体不存在（或 id/车牌无法解析）。
	ErrNotFound = errors.New("fleet: entity not found")
	// ErrConflict 并发写导致删除计划失效，且一次重新规划后仍不一致。
	ErrConflict = errors.New("fleet: concurrent mutation conflict")
	// ErrDuplicate 自然键冲突（厂商名 / 车型三元组 / 车牌）。
	ErrDuplicate = errors.New("fleet: duplicate natural key")
)

// DependentSummary 各层级依赖数量统计，用于 Strict 删除被拒时向调用方说明。
type DependentSummary struct {
	ManufacturerModels int64
	CarModels          int64
	FleetCars          int64
	Rentals            int64
}

// Total 依赖总数。
func (s DependentSummary) Total() int64 {
	return s.ManufacturerModels + s.CarModels + s.FleetCars + s.Rentals
}

// BlockedError Strict 模式删除被依赖记录阻塞。
// 调用方确认后可改用 ModeCollective 重新提交。
type BlockedError struct {
	Kind    Kind
	Key     string
	Summary DependentSummary
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("fleet: delete %s %s blocked by %d dependents (models=%d car_models=%d cars=%d rentals=%d)",
		e.Kind, e.Key, e.Summary.Total(),
		e.Summary.ManufacturerModels, e.Summary.CarModels, e.Summary.FleetCars, e.Summary.Rentals)
}

// IsBlocked 判断 err 是否为 BlockedError，并取出明细。
func IsBlocked(err error) (*BlockedError, bool) {
	var be *BlockedError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
