package rental_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
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
	// _txlock=immediate：写事务从 BEGIN 起持写锁，拿不到行锁语法的 sqlite
	// 也能让并发预订事务彼此串行
	dsn := "file:" + filepath.Join(t.TempDir(), "rental.db") + "?_txlock=immediate&_busy_timeout=5000"
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

// seedCar 建一台可租车辆：日租金 100 元、逾期日罚金 50 元（单位分）。
func seedCar(t *testing.T, db *gorm.DB, plate string) {
	t.Helper()
	ctx := context.Background()
	svc := fleet.NewService(db, rental.GraphStore{}, nil, nil)

	m, err := svc.CreateManufacturer(ctx, "Skoda-"+plate)
	if err != nil {
		t.Fatalf("CreateManufacturer: %v", err)
	}
	mm, err := svc.CreateManufacturerModel(ctx, m.ID, "Octavia")
	if err != nil {
		t.Fatalf("CreateManufacturerModel: %v", err)
	}
	cm, err := svc.CreateCarModel(ctx, fleet.CreateCarModelInput{
		ManufacturerModelID: mm.ID,
		ProductionYear:      2021,
		DailyPrice:          10000,
		DayDelayPrice:       5000,
	})
	if err != nil {
		t.Fatalf("CreateCarModel: %v", err)
	}
	if _, err := svc.CreateFleetCar(ctx, plate, cm.ID, ""); err != nil {
		t.Fatalf("CreateFleetCar: %v", err)
	}
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestCheckAvailability(t *testing.T) {
	db := openTestDB(t)
	seedCar(t, db, "ABC-123")
	svc := rental.NewService(db, nil)
	ctx := context.Background()

	if _, err := svc.CheckAvailability(ctx, "ABC-123", day(15), day(10)); !errors.Is(err, rental.ErrInvalidRange) {
		t.Fatalf("want ErrInvalidRange, got %v", err)
	}
	if _, err := svc.CheckAvailability(ctx, "NO-SUCH", day(10), day(15)); !errors.Is(err, rental.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	rt, err := svc.BookVehicle(ctx, "ABC-123", day(12), day(18), 7)
	if err != nil {
		t.Fatalf("BookVehicle: %v", err)
	}

	free, err := svc.CheckAvailability(ctx, "ABC-123", day(10), day(15))
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if free {
		t.Fatalf("expected unavailable while reservation [12,18) is active")
	}

	// 归还后即可再租，历史区间不再阻塞
	if _, err := svc.ReturnVehicle(ctx, rt.ID, day(18)); err != nil {
		t.Fatalf("ReturnVehicle: %v", err)
	}
	free, err = svc.CheckAvailability(ctx, "ABC-123", day(10), day(15))
	if err != nil {
		t.Fatalf("CheckAvailability after return: %v", err)
	}
	if !free {
		t.Fatalf("expected available after return")
	}
}

func TestBookVehicleRejectsOverlapAllowsBackToBack(t *testing.T) {
	db := openTestDB(t)
	seedCar(t, db, "XYZ-001")
	svc := rental.NewService(db, nil)
	ctx := context.Background()

	if _, err := svc.BookVehicle(ctx, "XYZ-001", day(1), day(5), 1); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if _, err := svc.BookVehicle(ctx, "XYZ-001", day(4), day(8), 2); !errors.Is(err, rental.ErrUnavailable) {
		t.Fatalf("overlapping booking: want ErrUnavailable, got %v", err)
	}
	// 左闭右开：归还日当天即可交接
	if _, err := svc.BookVehicle(ctx, "XYZ-001", day(5), day(9), 2); err != nil {
		t.Fatalf("back-to-back booking: %v", err)
	}
	if _, err := svc.BookVehicle(ctx, "NO-SUCH", day(1), day(2), 1); !errors.Is(err, rental.ErrNotFound) {
		t.Fatalf("unknown plate: want ErrNotFound, got %v", err)
	}
	if _, err := svc.BookVehicle(ctx, "XYZ-001", day(9), day(9), 1); !errors.Is(err, rental.ErrInvalidRange) {
		t.Fatalf("empty range: want ErrInvalidRange, got %v", err)
	}
}

func TestConcurrentBookingExactlyOneWinner(t *testing.T) {
	db := openTestDB(t)
	seedCar(t, db, "XYZ-999")
	svc := rental.NewService(db, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.BookVehicle(context.Background(), "XYZ-999", day(1), day(5), int64(i+1))
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, rental.ErrAlreadyBooked) || errors.Is(err, rental.ErrUnavailable):
			losses++
		default:
			t.Fatalf("unexpected booking error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("want exactly one winner, got wins=%d losses=%d (errs=%v)", wins, losses, errs)
	}

	// 不变式：同车活跃租约两两不重叠 —— 这里收敛为只剩一条活跃租约
	var active int64
	if err := db.Model(&rental.Rental{}).Where("actual_return_date IS NULL").Count(&active).Error; err != nil {
		t.Fatalf("count active: %v", err)
	}
	if active != 1 {
		t.Fatalf("expected exactly 1 active rental, got %d", active)
	}
}

func TestBookVehicleCancelledContextWritesNothing(t *testing.T) {
	db := openTestDB(t)
	seedCar(t, db, "CXL-001")
	svc := rental.NewService(db, nil)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.BookVehicle(cancelled, "CXL-001", day(1), day(5), 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}

	// 取消即回滚，不允许留下半成品租约
	var n int64
	if err := db.Model(&rental.Rental{}).Count(&n).Error; err != nil || n != 0 {
		t.Fatalf("expected no rentals written: n=%d err=%v", n, err)
	}

	// 同一辆车随后可正常预订
	if _, err := svc.BookVehicle(context.Background(), "CXL-001", day(1), day(5), 1); err != nil {
		t.Fatalf("booking after cancelled attempt: %v", err)
	}
}

func TestReturnVehicleTwiceRejected(t *testing.T) {
	db := openTestDB(t)
	seedCar(t, db, "RET-001")
	svc := rental.NewService(db, nil)
	ctx := context.Background()

	rt, err := svc.BookVehicle(ctx, "RET-001", day(1), day(4), 3)
	if err != nil {
		t.Fatalf("BookVehicle: %v", err)
	}
	if _, err := svc.ReturnVehicle(ctx, rt.ID, day(4)); err != nil {
		t.Fatalf("first return: %v", err)
	}
	if _, err := svc.ReturnVehicle(ctx, rt.ID, day(5)); !errors.Is(err, rental.ErrAlreadyReturned) {
		t.Fatalf("second return: want ErrAlreadyReturned, got %v", err)
	}
	if _, err := svc.ReturnVehicle(ctx, 99999, day(5)); !errors.Is(err, rental.ErrNotFound) {
		t.Fatalf("unknown rental: want ErrNotFound, got %v", err)
	}
}

func TestReturnReceiptLateFee(t *testing.T) {
	db := openTestDB(t)
	seedCar(t, db, "FEE-001")
	svc := rental.NewService(db, nil)
	ctx := context.Background()

	// 租 5 天，晚还 2 天半（不足一天按一天计罚）
	rt, err := svc.BookVehicle(ctx, "FEE-001", day(10), day(15), 4)
	if err != nil {
		t.Fatalf("BookVehicle: %v", err)
	}
	late := day(17).Add(12 * time.Hour)
	receipt, err := svc.ReturnVehicle(ctx, rt.ID, late)
	if err != nil {
		t.Fatalf("ReturnVehicle: %v", err)
	}
	if receipt.RentalDays != 5 {
		t.Fatalf("rental days: want 5, got %d", receipt.RentalDays)
	}
	if receipt.BaseCharge != 5*10000 {
		t.Fatalf("base charge: want 50000, got %d", receipt.BaseCharge)
	}
	if receipt.DaysLate != 3 {
		t.Fatalf("days late: want 3, got %d", receipt.DaysLate)
	}
	if receipt.LateFee != 3*5000 {
		t.Fatalf("late fee: want 15000, got %d", receipt.LateFee)
	}

	// 准点归还不产生罚金
	rt2, err := svc.BookVehicle(ctx, "FEE-001", day(20), day(22), 4)
	if err != nil {
		t.Fatalf("BookVehicle: %v", err)
	}
	receipt2, err := svc.ReturnVehicle(ctx, rt2.ID, day(22))
	if err != nil {
		t.Fatalf("ReturnVehicle: %v", err)
	}
	if receipt2.DaysLate != 0 || receipt2.LateFee != 0 {
		t.Fatalf("on-time return: want no late fee, got days=%d fee=%d", receipt2.DaysLate, receipt2.LateFee)
	}
}

func TestListPendingReturnsOrderedByDueDate(t *testing.T) {
	db := openTestDB(t)
	seedCar(t, db, "ORD-001")
	seedCar(t, db, "ORD-002")
	seedCar(t, db, "ORD-003")
	svc := rental.NewService(db, nil)
	ctx := context.Background()

	late, err := svc.BookVehicle(ctx, "ORD-002", day(1), day(3), 1)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := svc.BookVehicle(ctx, "ORD-003", day(1), day(9), 2); err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := svc.BookVehicle(ctx, "ORD-001", day(1), day(6), 3); err != nil {
		t.Fatalf("book: %v", err)
	}
	closed, err := svc.BookVehicle(ctx, "ORD-002", day(10), day(11), 1)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := svc.ReturnVehicle(ctx, closed.ID, day(11)); err != nil {
		t.Fatalf("return: %v", err)
	}

	pending, err := svc.ListPendingReturns(ctx)
	if err != nil {
		t.Fatalf("ListPendingReturns: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	wantPlates := []string{"ORD-002", "ORD-001", "ORD-003"}
	for i, want := range wantPlates {
		if pending[i].LicensePlate != want {
			t.Fatalf("pending[%d]: want %s, got %s", i, want, pending[i].LicensePlate)
		}
	}
	if pending[0].ID != late.ID {
		t.Fatalf("most overdue should come first")
	}
}
