package fleet_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/FleetRentDesk/FleetRentDesk/internal/fleet"
	"github.com/FleetRentDesk/FleetRentDesk/internal/rental"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "fleet.db") + "?_txlock=immediate&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&fleet.Manufacturer{}, &fleet.ManufacturerModel{}, &fleet.CarModel{}, &fleet.FleetCar{},
		&rental.Rental{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type sinkRecorder struct {
	events []fleet.Event
}

func (s *sinkRecorder) EntityDeleted(_ context.Context, ev fleet.Event) {
	s.events = append(s.events, ev)
}

// seedTree 搭一棵完整四层树：厂商 → 车系 → 车型 → 实车（+ 一条租约）。
func seedTree(t *testing.T, svc *fleet.Service, db *gorm.DB) (manufacturerID, modelID, carModelID int64, plate string) {
	t.Helper()
	ctx := context.Background()

	m, err := svc.CreateManufacturer(ctx, "Volvo")
	if err != nil {
		t.Fatalf("CreateManufacturer: %v", err)
	}
	mm, err := svc.CreateManufacturerModel(ctx, m.ID, "XC60")
	if err != nil {
		t.Fatalf("CreateManufacturerModel: %v", err)
	}
	cm, err := svc.CreateCarModel(ctx, fleet.CreateCarModelInput{
		ManufacturerModelID: mm.ID,
		ProductionYear:      2022,
		DailyPrice:          10000,
		DayDelayPrice:       5000,
	})
	if err != nil {
		t.Fatalf("CreateCarModel: %v", err)
	}
	car, err := svc.CreateFleetCar(ctx, "ABC-123", cm.ID, "cars/abc123.jpg")
	if err != nil {
		t.Fatalf("CreateFleetCar: %v", err)
	}

	rt := &rental.Rental{
		Ref:          "ref-seed-1",
		LicensePlate: car.LicensePlate,
		UserID:       7,
		PickUpDate:   time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		ReturnDate:   time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}
	if err := rental.NewRepo(db).Create(ctx, rt); err != nil {
		t.Fatalf("seed rental: %v", err)
	}
	return m.ID, mm.ID, cm.ID, car.LicensePlate
}

func newService(db *gorm.DB, sink fleet.EventSink) *fleet.Service {
	return fleet.NewService(db, rental.GraphStore{}, sink, nil)
}

func TestStrictDeleteBlockedByDependents(t *testing.T) {
	db := openTestDB(t)
	svc := newService(db, nil)
	ctx := context.Background()

	manufacturerID, _, _, _ := seedTree(t, svc, db)

	err := svc.DeleteEntity(ctx, fleet.KindManufacturer, itoa(manufacturerID), fleet.ModeStrict)
	be, ok := fleet.IsBlocked(err)
	if !ok {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if be.Summary.ManufacturerModels != 1 || be.Summary.CarModels != 1 || be.Summary.FleetCars != 1 || be.Summary.Rentals != 1 {
		t.Fatalf("unexpected summary: %+v", be.Summary)
	}

	// Blocked 不得有任何副作用
	if _, err := fleet.NewRepo(db).GetManufacturer(ctx, manufacturerID); err != nil {
		t.Fatalf("manufacturer should be untouched: %v", err)
	}
	var rentals int64
	if err := db.Model(&rental.Rental{}).Count(&rentals).Error; err != nil || rentals != 1 {
		t.Fatalf("rentals should be untouched: n=%d err=%v", rentals, err)
	}
}

func TestCollectiveDeleteRemovesSubtreeLeafFirst(t *testing.T) {
	db := openTestDB(t)
	sink := &sinkRecorder{}
	svc := newService(db, sink)
	ctx := context.Background()

	manufacturerID, modelID, carModelID, plate := seedTree(t, svc, db)

	if err := svc.DeleteEntity(ctx, fleet.KindManufacturer, itoa(manufacturerID), fleet.ModeCollective); err != nil {
		t.Fatalf("collective delete: %v", err)
	}

	repo := fleet.NewRepo(db)
	if _, err := repo.GetManufacturer(ctx, manufacturerID); !errors.Is(err, fleet.ErrNotFound) {
		t.Fatalf("manufacturer lookup: want ErrNotFound, got %v", err)
	}
	if _, err := repo.GetManufacturerModel(ctx, modelID); !errors.Is(err, fleet.ErrNotFound) {
		t.Fatalf("model lookup: want ErrNotFound, got %v", err)
	}
	if _, err := repo.GetCarModel(ctx, carModelID); !errors.Is(err, fleet.ErrNotFound) {
		t.Fatalf("car model lookup: want ErrNotFound, got %v", err)
	}
	if _, err := repo.GetFleetCar(ctx, plate); !errors.Is(err, fleet.ErrNotFound) {
		t.Fatalf("fleet car lookup: want ErrNotFound, got %v", err)
	}
	var rentals int64
	if err := db.Model(&rental.Rental{}).Count(&rentals).Error; err != nil || rentals != 0 {
		t.Fatalf("expected no rentals left: n=%d err=%v", rentals, err)
	}

	// 每个被删实体一条事件，且严格叶到根
	wantKinds := []fleet.Kind{
		fleet.KindRental, fleet.KindFleetCar, fleet.KindCarModel,
		fleet.KindManufacturerModel, fleet.KindManufacturer,
	}
	if len(sink.events) != len(wantKinds) {
		t.Fatalf("expected %d events, got %d", len(wantKinds), len(sink.events))
	}
	for i, want := range wantKinds {
		if sink.events[i].Kind != want {
			t.Fatalf("event %d: want %s, got %s", i, want, sink.events[i].Kind)
		}
	}
}

func TestDeleteWithoutDependentsBothModes(t *testing.T) {
	db := openTestDB(t)
	svc := newService(db, nil)
	ctx := context.Background()

	_, _, carModelID, plate := seedTree(t, svc, db)

	// 先清掉租约，让实车成为真正的叶子
	if err := db.Where("license_plate = ?", plate).Delete(&rental.Rental{}).Error; err != nil {
		t.Fatalf("clear rentals: %v", err)
	}

	if err := svc.DeleteEntity(ctx, fleet.KindFleetCar, plate, fleet.ModeStrict); err != nil {
		t.Fatalf("strict delete of leaf: %v", err)
	}

	if _, err := svc.CreateFleetCar(ctx, plate, carModelID, ""); err != nil {
		t.Fatalf("recreate fleet car: %v", err)
	}
	if err := svc.DeleteEntity(ctx, fleet.KindFleetCar, plate, fleet.ModeCollective); err != nil {
		t.Fatalf("collective delete of leaf: %v", err)
	}
}

func TestDeleteNotFound(t *testing.T) {
	db := openTestDB(t)
	svc := newService(db, nil)
	ctx := context.Background()

	if err := svc.DeleteEntity(ctx, fleet.KindManufacturer, "99999", fleet.ModeStrict); !errors.Is(err, fleet.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := svc.DeleteEntity(ctx, fleet.KindFleetCar, "NO-SUCH-PLATE", fleet.ModeCollective); !errors.Is(err, fleet.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	// 非数字 key 按不存在处理
	if err := svc.DeleteEntity(ctx, fleet.KindCarModel, "abc", fleet.ModeCollective); !errors.Is(err, fleet.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestStalePlanIsReplannedOnce(t *testing.T) {
	db := openTestDB(t)
	sink := &sinkRecorder{}
	svc := newService(db, sink)
	ctx := context.Background()

	manufacturerID, _, carModelID, _ := seedTree(t, svc, db)

	planner := fleet.NewPlanner(db, rental.GraphStore{})
	plan, err := planner.Plan(ctx, fleet.KindManufacturer, itoa(manufacturerID), fleet.ModeCollective)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	// 规划后插入新依赖：执行时应判定计划过期并重新规划
	if _, err := svc.CreateFleetCar(ctx, "LATE-999", carModelID, ""); err != nil {
		t.Fatalf("insert late dependent: %v", err)
	}

	executor := fleet.NewExecutor(db, rental.GraphStore{}, sink)
	if err := executor.Execute(ctx, plan); err != nil {
		t.Fatalf("execute stale plan: %v", err)
	}

	if _, err := fleet.NewRepo(db).GetFleetCar(ctx, "LATE-999"); !errors.Is(err, fleet.ErrNotFound) {
		t.Fatalf("late dependent should be gone, got %v", err)
	}
	// 重规划后的计划多了一台实车，事件数应为 6
	if len(sink.events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(sink.events))
	}
}

// churningRentalStore 每次成员遍历都往目标车辆下塞一条新租约，
// 模拟规划与执行之间持续不断的并发写入。
type churningRentalStore struct {
	rental.GraphStore
	plate string
	seq   int
}

func (m *churningRentalStore) IDsByPlates(ctx context.Context, db *gorm.DB, plates []string) ([]int64, error) {
	m.seq++
	rt := &rental.Rental{
		Ref:          fmt.Sprintf("ref-churn-%d", m.seq),
		LicensePlate: m.plate,
		UserID:       1,
		PickUpDate:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		ReturnDate:   time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC),
	}
	if err := db.WithContext(ctx).Create(rt).Error; err != nil {
		return nil, err
	}
	return m.GraphStore.IDsByPlates(ctx, db, plates)
}

func TestConflictAfterSecondStalePlan(t *testing.T) {
	db := openTestDB(t)
	sink := &sinkRecorder{}
	svc := newService(db, nil)
	ctx := context.Background()

	manufacturerID, _, _, plate := seedTree(t, svc, db)

	store := &churningRentalStore{plate: plate}
	planner := fleet.NewPlanner(db, store)
	plan, err := planner.Plan(ctx, fleet.KindManufacturer, itoa(manufacturerID), fleet.ModeCollective)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	// 执行期重算、重规划后的再次重算都会发现新租约：放弃并报冲突
	executor := fleet.NewExecutor(db, store, sink)
	if err := executor.Execute(ctx, plan); !errors.Is(err, fleet.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}

	// 两轮都失败后整棵树必须原样保留
	repo := fleet.NewRepo(db)
	if _, err := repo.GetManufacturer(ctx, manufacturerID); err != nil {
		t.Fatalf("manufacturer should survive: %v", err)
	}
	if _, err := repo.GetFleetCar(ctx, plate); err != nil {
		t.Fatalf("fleet car should survive: %v", err)
	}
	var seed int64
	if err := db.Model(&rental.Rental{}).Where("ref = ?", "ref-seed-1").Count(&seed).Error; err != nil || seed != 1 {
		t.Fatalf("seed rental should survive: n=%d err=%v", seed, err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("aborted delete must not emit events, got %d", len(sink.events))
	}
}

func TestCancelledContextAbortsDelete(t *testing.T) {
	db := openTestDB(t)
	svc := newService(db, nil)

	manufacturerID, _, _, _ := seedTree(t, svc, db)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.DeleteEntity(cancelled, fleet.KindManufacturer, itoa(manufacturerID), fleet.ModeCollective)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}

	// 取消即回滚，不允许删掉一半
	ctx := context.Background()
	if _, err := fleet.NewRepo(db).GetManufacturer(ctx, manufacturerID); err != nil {
		t.Fatalf("manufacturer should survive cancelled delete: %v", err)
	}
	var rentals int64
	if err := db.Model(&rental.Rental{}).Count(&rentals).Error; err != nil || rentals != 1 {
		t.Fatalf("rentals should survive cancelled delete: n=%d err=%v", rentals, err)
	}
}

func TestForeignKeysRejectOrphans(t *testing.T) {
	// 打开 sqlite 外键强制，验证 RESTRICT 约束兜住执行事务之外的孤儿插入
	dsn := "file:" + filepath.Join(t.TempDir(), "fleet-fk.db") + "?_foreign_keys=1&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&fleet.Manufacturer{}, &fleet.ManufacturerModel{}, &fleet.CarModel{}, &fleet.FleetCar{},
		&rental.Rental{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc := newService(db, nil)
	ctx := context.Background()

	manufacturerID, _, _, _ := seedTree(t, svc, db)

	if err := db.Create(&fleet.ManufacturerModel{Name: "Ghost", ManufacturerID: 99999}).Error; err == nil {
		t.Fatalf("expected FK violation for missing manufacturer")
	}
	orphan := &rental.Rental{
		Ref:          "ref-orphan-1",
		LicensePlate: "NO-SUCH",
		UserID:       1,
		PickUpDate:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		ReturnDate:   time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
	}
	if err := db.Create(orphan).Error; err == nil {
		t.Fatalf("expected FK violation for missing fleet car")
	}

	// 叶到根的删除顺序与 RESTRICT 不冲突
	if err := svc.DeleteEntity(ctx, fleet.KindManufacturer, itoa(manufacturerID), fleet.ModeCollective); err != nil {
		t.Fatalf("collective delete under enforced FKs: %v", err)
	}
}

func TestCatalogSummaryCountsAllLevels(t *testing.T) {
	db := openTestDB(t)
	svc := newService(db, nil)
	ctx := context.Background()

	seedTree(t, svc, db)

	sum, err := svc.CatalogSummary(ctx)
	if err != nil {
		t.Fatalf("catalog summary: %v", err)
	}
	if sum.Manufacturers != 1 || sum.ManufacturerModels != 1 || sum.CarModels != 1 || sum.FleetCars != 1 {
		t.Fatalf("unexpected counts: %+v", sum)
	}
}

func TestCreateValidatesNaturalKeys(t *testing.T) {
	db := openTestDB(t)
	svc := newService(db, nil)
	ctx := context.Background()

	_, modelID, carModelID, plate := seedTree(t, svc, db)

	if _, err := svc.CreateManufacturer(ctx, "Volvo"); !errors.Is(err, fleet.ErrDuplicate) {
		t.Fatalf("duplicate manufacturer name: want ErrDuplicate, got %v", err)
	}
	if _, err := svc.CreateCarModel(ctx, fleet.CreateCarModelInput{
		ManufacturerModelID: modelID,
		ProductionYear:      2022,
	}); !errors.Is(err, fleet.ErrDuplicate) {
		t.Fatalf("duplicate car model triple: want ErrDuplicate, got %v", err)
	}
	// 同车系不同年份不算重复
	if _, err := svc.CreateCarModel(ctx, fleet.CreateCarModelInput{
		ManufacturerModelID: modelID,
		ProductionYear:      2023,
	}); err != nil {
		t.Fatalf("different year should pass: %v", err)
	}
	if _, err := svc.CreateFleetCar(ctx, plate, carModelID, ""); !errors.Is(err, fleet.ErrDuplicate) {
		t.Fatalf("duplicate plate: want ErrDuplicate, got %v", err)
	}
	if _, err := svc.CreateManufacturerModel(ctx, 99999, "Ghost"); !errors.Is(err, fleet.ErrNotFound) {
		t.Fatalf("missing parent: want ErrNotFound, got %v", err)
	}
}

// itoa 十进制 key，与 DeleteEntity 的寻址约定一致。
func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
