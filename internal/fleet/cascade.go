package fleet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
)

// Kind 实体层级枚举（自上而下）。
type Kind string

const (
	KindManufacturer      Kind = "manufacturer"
	KindManufacturerModel Kind = "manufacturer_model"
	KindCarModel          Kind = "car_model"
	KindFleetCar          Kind = "fleet_car"
	KindRental            Kind = "rental"
)

// Mode 删除模式。
type Mode string

const (
	// ModeStrict 仅当目标无任何依赖时允许删除。
	ModeStrict Mode = "strict"
	// ModeCollective 连同整棵依赖子树一并删除（单事务）。
	ModeCollective Mode = "collective"
)

// RentalStore 让级联删除触达 rentals 表。
// rentals 属于 rental 包，通过接口注入避免包环依赖；方法显式接收事务句柄，
// 保证规划与执行都在调用方给定的事务边界内。
type RentalStore interface {
	IDsByPlates(ctx context.Context, db *gorm.DB, plates []string) ([]int64, error)
	DeleteByIDs(ctx context.Context, db *gorm.DB, ids []int64) error
}

// PlanItem 删除计划中的一项。FleetCar 用 Plate 寻址，其余实体用 ID。
type PlanItem struct {
	Kind  Kind
	ID    int64
	Plate string
}

func (it PlanItem) key() string {
	if it.Kind == KindFleetCar {
		return string(it.Kind) + ":" + it.Plate
	}
	return string(it.Kind) + ":" + strconv.FormatInt(it.ID, 10)
}

// Plan 一次级联删除的有序计划：Items 严格按叶到根排列，目标自身在最后。
type Plan struct {
	TargetKind Kind
	TargetKey  string
	Mode       Mode
	Items      []PlanItem
}

// subtree 目标向下各层的成员集合。
type subtree struct {
	modelIDs    []int64
	carModelIDs []int64
	plates      []string
	rentalIDs   []int64
}

func (s subtree) summary() DependentSummary {
	return DependentSummary{
		ManufacturerModels: int64(len(s.modelIDs)),
		CarModels:          int64(len(s.carModelIDs)),
		FleetCars:          int64(len(s.plates)),
		Rentals:            int64(len(s.rentalIDs)),
	}
}

// Planner 计算级联删除计划。Plan 本身不产生任何写操作。
type Planner struct {
	repo    *Repo
	rentals RentalStore
}

func NewPlanner(db *gorm.DB, rentals RentalStore) *Planner {
	return &Planner{repo: NewRepo(db), rentals: rentals}
}

// parseID key 为十进制 id（FleetCar 之外的实体）。解析失败按"不存在"处理。
func parseID(key string) (int64, error) {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return 0, ErrNotFound
	}
	return id, nil
}

// Plan 计算 kind/key 的删除计划。
//   - Strict 模式且存在依赖：返回 *BlockedError（含各层级数量），不改任何状态
//   - Collective 模式：返回叶到根的有序删除集
//   - 目标无依赖：两种模式产出同一个单项计划
//   - 目标不存在：ErrNotFound
func (p *Planner) Plan(ctx context.Context, kind Kind, key string, mode Mode) (*Plan, error) {
	if p == nil || p.repo == nil || p.rentals == nil {
		return nil, fmt.Errorf("planner not initialized")
	}
	if mode != ModeStrict && mode != ModeCollective {
		return nil, fmt.Errorf("unknown delete mode: %s", mode)
	}

	target, sub, err := p.walk(ctx, p.repo.db, kind, key)
	if err != nil {
		return nil, err
	}

	if mode == ModeStrict && sub.summary().Total() > 0 {
		return nil, &BlockedError{Kind: kind, Key: key, Summary: sub.summary()}
	}

	return &Plan{
		TargetKind: kind,
		TargetKey:  key,
		Mode:       mode,
		Items:      buildItems(target, sub),
	}, nil
}

// walk 从目标实体出发向下做显式邻接遍历，逐层收集依赖成员。
// db 参数决定遍历发生在哪个事务边界内（执行期重算时传事务句柄）。
func (p *Planner) walk(ctx context.Context, db *gorm.DB, kind Kind, key string) (PlanItem, subtree, error) {
	repo := NewRepo(db)
	var (
		target PlanItem
		sub    subtree
		err    error
	)

	switch kind {
	case KindManufacturer:
		id, perr := parseID(key)
		if perr != nil {
			return target, sub, perr
		}
		if _, err = repo.GetManufacturer(ctx, id); err != nil {
			return target, sub, err
		}
		target = PlanItem{Kind: kind, ID: id}
		if sub.modelIDs, err = repo.ModelIDsByManufacturer(ctx, id); err != nil {
			return target, sub, err
		}
		if sub.carModelIDs, err = repo.CarModelIDsByModelIDs(ctx, sub.modelIDs); err != nil {
			return target, sub, err
		}
		if sub.plates, err = repo.PlatesByCarModelIDs(ctx, sub.carModelIDs); err != nil {
			return target, sub, err
		}

	case KindManufacturerModel:
		id, perr := parseID(key)
		if perr != nil {
			return target, sub, perr
		}
		if _, err = repo.GetManufacturerModel(ctx, id); err != nil {
			return target, sub, err
		}
		target = PlanItem{Kind: kind, ID: id}
		if sub.carModelIDs, err = repo.CarModelIDsByModelIDs(ctx, []int64{id}); err != nil {
			return target, sub, err
		}
		if sub.plates, err = repo.PlatesByCarModelIDs(ctx, sub.carModelIDs); err != nil {
			return target, sub, err
		}

	case KindCarModel:
		id, perr := parseID(key)
		if perr != nil {
			return target, sub, perr
		}
		if _, err = repo.GetCarModel(ctx, id); err != nil {
			return target, sub, err
		}
		target = PlanItem{Kind: kind, ID: id}
		if sub.plates, err = repo.PlatesByCarModelIDs(ctx, []int64{id}); err != nil {
			return target, sub, err
		}

	case KindFleetCar:
		if _, err = repo.GetFleetCar(ctx, key); err != nil {
			return target, sub, err
		}
		target = PlanItem{Kind: kind, Plate: key}
		// 目标自身不算依赖；FleetCar 的依赖只有其名下租约
		if sub.rentalIDs, err = p.rentals.IDsByPlates(ctx, db.WithContext(ctx), []string{key}); err != nil {
			return target, sub, err
		}
		return target, sub, nil

	default:
		return target, sub, fmt.Errorf("kind %s is not deletable", kind)
	}

	if sub.rentalIDs, err = p.rentals.IDsByPlates(ctx, db.WithContext(ctx), sub.plates); err != nil {
		return target, sub, err
	}
	return target, sub, nil
}

// buildItems 叶到根排序：Rental → FleetCar → CarModel → ManufacturerModel → 目标。
func buildItems(target PlanItem, sub subtree) []PlanItem {
	items := make([]PlanItem, 0, 1+len(sub.rentalIDs)+len(sub.plates)+len(sub.carModelIDs)+len(sub.modelIDs))
	for _, id := range sub.rentalIDs {
		items = append(items, PlanItem{Kind: KindRental, ID: id})
	}
	for _, plate := range sub.plates {
		items = append(items, PlanItem{Kind: KindFleetCar, Plate: plate})
	}
	for _, id := range sub.carModelIDs {
		items = append(items, PlanItem{Kind: KindCarModel, ID: id})
	}
	for _, id := range sub.modelIDs {
		items = append(items, PlanItem{Kind: KindManufacturerModel, ID: id})
	}
	return append(items, target)
}

// errStalePlan 执行期重算发现计划外的新依赖（规划后有并发插入）。
var errStalePlan = errors.New("fleet: deletion plan is stale")

// Executor 在单事务内按计划顺序执行删除。
type Executor struct {
	db      *gorm.DB
	planner *Planner
	rentals RentalStore
	sink    EventSink
}

func NewExecutor(db *gorm.DB, rentals RentalStore, sink EventSink) *Executor {
	return &Executor{
		db:      db,
		planner: NewPlanner(db, rentals),
		rentals: rentals,
		sink:    sink,
	}
}

// Execute 执行删除计划。
// 成员关系在事务内重算：若规划后出现了新依赖，则重新规划一次再执行；
// 第二次仍不一致时向调用方返回 ErrConflict（由调用方决定是否整体重试）。
// 事件在事务提交成功后逐实体发出，回滚不产生事件。
func (e *Executor) Execute(ctx context.Context, plan *Plan) error {
	if e == nil || e.db == nil {
		return fmt.Errorf("executor not initialized")
	}
	if plan == nil || len(plan.Items) == 0 {
		return fmt.Errorf("plan is empty")
	}

	err := e.executeOnce(ctx, plan)
	if !errors.Is(err, errStalePlan) {
		return err
	}

	// 重新规划一次（Strict 计划过期说明依赖已出现，重规划会转为 Blocked）
	fresh, perr := e.planner.Plan(ctx, plan.TargetKind, plan.TargetKey, plan.Mode)
	if perr != nil {
		return perr
	}
	if err := e.executeOnce(ctx, fresh); err != nil {
		if errors.Is(err, errStalePlan) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (e *Executor) executeOnce(ctx context.Context, plan *Plan) error {
	var deleted []PlanItem

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 事务内重算成员：与计划不一致即判定计划过期并回滚
		_, sub, err := e.planner.walk(ctx, tx, plan.TargetKind, plan.TargetKey)
		if err != nil {
			return err
		}
		target := plan.Items[len(plan.Items)-1]
		fresh := buildItems(target, sub)
		if !sameItems(plan.Items, fresh) {
			return errStalePlan
		}

		repo := NewRepo(tx)
		var (
			rentalIDs   []int64
			plates      []string
			carModelIDs []int64
			modelIDs    []int64
		)
		for _, it := range plan.Items[:len(plan.Items)-1] {
			switch it.Kind {
			case KindRental:
				rentalIDs = append(rentalIDs, it.ID)
			case KindFleetCar:
				plates = append(plates, it.Plate)
			case KindCarModel:
				carModelIDs = append(carModelIDs, it.ID)
			case KindManufacturerModel:
				modelIDs = append(modelIDs, it.ID)
			}
		}

		// 叶到根逐层删除，保证不出现指向已删祖先的引用
		if err := e.rentals.DeleteByIDs(ctx, tx, rentalIDs); err != nil {
			return err
		}
		if err := repo.DeleteFleetCars(ctx, plates); err != nil {
			return err
		}
		if err := repo.DeleteCarModels(ctx, carModelIDs); err != nil {
			return err
		}
		if err := repo.DeleteManufacturerModels(ctx, modelIDs); err != nil {
			return err
		}

		switch target.Kind {
		case KindManufacturer:
			err = repo.DeleteManufacturer(ctx, target.ID)
		case KindManufacturerModel:
			err = repo.DeleteManufacturerModels(ctx, []int64{target.ID})
		case KindCarModel:
			err = repo.DeleteCarModels(ctx, []int64{target.ID})
		case KindFleetCar:
			err = repo.DeleteFleetCars(ctx, []string{target.Plate})
		default:
			err = fmt.Errorf("kind %s is not deletable", target.Kind)
		}
		if err != nil {
			return err
		}

		// 提交前响应取消；提交一旦开始则整体生效或整体回滚
		if err := ctx.Err(); err != nil {
			return err
		}
		deleted = plan.Items
		return nil
	})
	if err != nil {
		return err
	}

	if e.sink != nil {
		now := time.Now()
		for _, it := range deleted {
			e.sink.EntityDeleted(ctx, Event{Kind: it.Kind, ID: it.ID, Plate: it.Plate, At: now})
		}
	}
	return nil
}

func sameItems(a, b []PlanItem) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, it := range a {
		set[it.key()] = struct{}{}
	}
	for _, it := range b {
		if _, ok := set[it.key()]; !ok {
			return false
		}
	}
	return true
}
