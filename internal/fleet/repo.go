package fleet

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Repo 车队实体图的数据访问层。
// 事务内使用时用事务句柄构造（NewRepo(tx)），与独立调用共用同一套方法。
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

func notFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *Repo) GetManufacturer(ctx context.Context, id int64) (*Manufacturer, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var m Manufacturer
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &m, nil
}

func (r *Repo) GetManufacturerModel(ctx context.Context, id int64) (*ManufacturerModel, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var m ManufacturerModel
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &m, nil
}

func (r *Repo) GetCarModel(ctx context.Context, id int64) (*CarModel, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var m CarModel
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &m, nil
}

func (r *Repo) GetFleetCar(ctx context.Context, plate string) (*FleetCar, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var c FleetCar
	if err := db.Where("license_plate = ?", plate).First(&c).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &c, nil
}

func (r *Repo) CreateManufacturer(ctx context.Context, m *Manufacturer) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Create(m).Error
}

func (r *Repo) CreateManufacturerModel(ctx context.Context, m *ManufacturerModel) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Create(m).Error
}

func (r *Repo) CreateCarModel(ctx context.Context, m *CarModel) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Create(m).Error
}

func (r *Repo) CreateFleetCar(ctx context.Context, c *FleetCar) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Create(c).Error
}

func (r *Repo) UpdateCarModel(ctx context.Context, m *CarModel) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Save(m).Error
}

func (r *Repo) UpdateFleetCar(ctx context.Context, c *FleetCar) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Save(c).Error
}

// ManufacturerNameExists 厂商名自然键查重。
func (r *Repo) ManufacturerNameExists(ctx context.Context, name string) (bool, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return false, fmt.Errorf("repo db is nil")
	}
	var n int64
	if err := db.Model(&Manufacturer{}).Where("name = ?", name).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// CarModelTripleExists (车系, 年份, 手动挡) 三元组查重。
func (r *Repo) CarModelTripleExists(ctx context.Context, modelID int64, year int, manual bool) (bool, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return false, fmt.Errorf("repo db is nil")
	}
	var n int64
	err := db.Model(&CarModel{}).
		Where("manufacturer_model_id = ? AND production_year = ? AND is_manual_gear = ?", modelID, year, manual).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Repo) PlateExists(ctx context.Context, plate string) (bool, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return false, fmt.Errorf("repo db is nil")
	}
	var n int64
	if err := db.Model(&FleetCar{}).Where("license_plate = ?", plate).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// CatalogCounts 目录各层级的数量统计。
type CatalogCounts struct {
	Manufacturers      int64
	ManufacturerModels int64
	CarModels          int64
	FleetCars          int64
}

func (r *Repo) CountCatalog(ctx context.Context) (CatalogCounts, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return CatalogCounts{}, fmt.Errorf("repo db is nil")
	}
	var c CatalogCounts
	if err := db.Model(&Manufacturer{}).Count(&c.Manufacturers).Error; err != nil {
		return CatalogCounts{}, err
	}
	if err := db.Model(&ManufacturerModel{}).Count(&c.ManufacturerModels).Error; err != nil {
		return CatalogCounts{}, err
	}
	if err := db.Model(&CarModel{}).Count(&c.CarModels).Error; err != nil {
		return CatalogCounts{}, err
	}
	if err := db.Model(&FleetCar{}).Count(&c.FleetCars).Error; err != nil {
		return CatalogCounts{}, err
	}
	return c, nil
}

// ModelIDsByManufacturer 按父级 id 做显式邻接查询（不走导航属性/懒加载）。
func (r *Repo) ModelIDsByManufacturer(ctx context.Context, manufacturerID int64) ([]int64, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var ids []int64
	err := db.Model(&ManufacturerModel{}).
		Where("manufacturer_id = ?", manufacturerID).
		Order("id").Pluck("id", &ids).Error
	return ids, err
}

func (r *Repo) CarModelIDsByModelIDs(ctx context.Context, modelIDs []int64) ([]int64, error) {
	if len(modelIDs) == 0 {
		return nil, nil
	}
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var ids []int64
	err := db.Model(&CarModel{}).
		Where("manufacturer_model_id IN ?", modelIDs).
		Order("id").Pluck("id", &ids).Error
	return ids, err
}

func (r *Repo) PlatesByCarModelIDs(ctx context.Context, carModelIDs []int64) ([]string, error) {
	if len(carModelIDs) == 0 {
		return nil, nil
	}
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var plates []string
	err := db.Model(&FleetCar{}).
		Where("car_model_id IN ?", carModelIDs).
		Order("license_plate").Pluck("license_plate", &plates).Error
	return plates, err
}

func (r *Repo) DeleteManufacturer(ctx context.Context, id int64) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Where("id = ?", id).Delete(&Manufacturer{}).Error
}

func (r *Repo) DeleteManufacturerModels(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Where("id IN ?", ids).Delete(&ManufacturerModel{}).Error
}

func (r *Repo) DeleteCarModels(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Where("id IN ?", ids).Delete(&CarModel{}).Error
}

func (r *Repo) DeleteFleetCars(ctx context.Context, plates []string) error {
	if len(plates) == 0 {
		return nil
	}
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Where("license_plate IN ?", plates).Delete(&FleetCar{}).Error
}
