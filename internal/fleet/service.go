package fleet

import (
	"context"
	"fmt"
	"strings"

	"github.com/FleetRentDesk/FleetRentDesk/internal/common/logger"
	"gorm.io/gorm"
)

// Service 车队目录管理 + 级联删除引擎的对外用例层（不依赖传输层，便于复用和测试）。
type Service struct {
	repo     *Repo
	planner  *Planner
	executor *Executor
	log      logger.Logger
}

func NewService(db *gorm.DB, rentals RentalStore, sink EventSink, log logger.Logger) *Service {
	return &Service{
		repo:     NewRepo(db),
		planner:  NewPlanner(db, rentals),
		executor: NewExecutor(db, rentals, sink),
		log:      log,
	}
}

// DeleteEntity 统一的删除入口：先规划、后执行。
//   - Strict 模式存在依赖：返回 *BlockedError，不落任何写
//   - 执行期发现计划过期：Executor 内部重规划一次，仍冲突则 ErrConflict
func (s *Service) DeleteEntity(ctx context.Context, kind Kind, key string, mode Mode) error {
	if s == nil || s.planner == nil || s.executor == nil {
		return fmt.Errorf("service not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrNotFound
	}

	plan, err := s.planner.Plan(ctx, kind, key, mode)
	if err != nil {
		return err
	}
	if err := s.executor.Execute(ctx, plan); err != nil {
		return err
	}
	if s.log != nil {
		s.log.WithFields(map[string]interface{}{
			"kind":    string(kind),
			"key":     key,
			"mode":    string(mode),
			"deleted": len(plan.Items),
		}).Info("cascade delete done")
	}
	return nil
}

// CatalogSummary 目录规模概览（后台首页与启动自检用）。
func (s *Service) CatalogSummary(ctx context.Context) (CatalogCounts, error) {
	if s == nil || s.repo == nil {
		return CatalogCounts{}, fmt.Errorf("service not initialized")
	}
	return s.repo.CountCatalog(ctx)
}

func (s *Service) CreateManufacturer(ctx context.Context, name string) (*Manufacturer, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("name required")
	}
	exists, err := s.repo.ManufacturerNameExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicate
	}
	m := &Manufacturer{Name: name}
	if err := s.repo.CreateManufacturer(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) CreateManufacturerModel(ctx context.Context, manufacturerID int64, name string) (*ManufacturerModel, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("name required")
	}
	// 父级必须存在（引用完整性由写入侧保证）
	if _, err := s.repo.GetManufacturer(ctx, manufacturerID); err != nil {
		return nil, err
	}
	m := &ManufacturerModel{Name: name, ManufacturerID: manufacturerID}
	if err := s.repo.CreateManufacturerModel(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// CreateCarModelInput 新建车型的入参。金额单位：分。
type CreateCarModelInput struct {
	ManufacturerModelID int64
	ProductionYear      int
	IsManualGear        bool
	DailyPrice          int64
	DayDelayPrice       int64
}

func (s *Service) CreateCarModel(ctx context.Context, in CreateCarModelInput) (*CarModel, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	if in.ProductionYear <= 0 {
		return nil, fmt.Errorf("production_year required")
	}
	if in.DailyPrice < 0 || in.DayDelayPrice < 0 {
		return nil, fmt.Errorf("price must not be negative")
	}
	if _, err := s.repo.GetManufacturerModel(ctx, in.ManufacturerModelID); err != nil {
		return nil, err
	}
	exists, err := s.repo.CarModelTripleExists(ctx, in.ManufacturerModelID, in.ProductionYear, in.IsManualGear)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicate
	}
	m := &CarModel{
		ManufacturerModelID: in.ManufacturerModelID,
		ProductionYear:      in.ProductionYear,
		IsManualGear:        in.IsManualGear,
		DailyPrice:          in.DailyPrice,
		DayDelayPrice:       in.DayDelayPrice,
	}
	if err := s.repo.CreateCarModel(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) CreateFleetCar(ctx context.Context, plate string, carModelID int64, imagePath string) (*FleetCar, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	plate = strings.TrimSpace(plate)
	if plate == "" {
		return nil, fmt.Errorf("license_plate required")
	}
	if _, err := s.repo.GetCarModel(ctx, carModelID); err != nil {
		return nil, err
	}
	exists, err := s.repo.PlateExists(ctx, plate)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicate
	}
	c := &FleetCar{
		LicensePlate: plate,
		CarModelID:   carModelID,
		ImagePath:    strings.TrimSpace(imagePath),
	}
	if err := s.repo.CreateFleetCar(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateCarModelPrices 调整车型计价（日租金 / 逾期日罚金）。
func (s *Service) UpdateCarModelPrices(ctx context.Context, carModelID, dailyPrice, dayDelayPrice int64) (*CarModel, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	if dailyPrice < 0 || dayDelayPrice < 0 {
		return nil, fmt.Errorf("price must not be negative")
	}
	m, err := s.repo.GetCarModel(ctx, carModelID)
	if err != nil {
		return nil, err
	}
	m.DailyPrice = dailyPrice
	m.DayDelayPrice = dayDelayPrice
	if err := s.repo.UpdateCarModel(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) UpdateFleetCarImage(ctx context.Context, plate, imagePath string) (*FleetCar, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	c, err := s.repo.GetFleetCar(ctx, strings.TrimSpace(plate))
	if err != nil {
		return nil, err
	}
	c.ImagePath = strings.TrimSpace(imagePath)
	if err := s.repo.UpdateFleetCar(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
