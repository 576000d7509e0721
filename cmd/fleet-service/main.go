package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/FleetRentDesk/FleetRentDesk/internal/common/config"
	"github.com/FleetRentDesk/FleetRentDesk/internal/common/db"
	"github.com/FleetRentDesk/FleetRentDesk/internal/common/logger"
	"github.com/FleetRentDesk/FleetRentDesk/internal/common/server"
	"github.com/FleetRentDesk/FleetRentDesk/internal/common/tracing"
	"github.com/FleetRentDesk/FleetRentDesk/internal/fleet"
	"github.com/FleetRentDesk/FleetRentDesk/internal/rental"
	"google.golang.org/grpc"
)

var (
	configPath   = flag.String("config", "configs/fleet-service.json", "配置文件路径")
	consulKVKey  = flag.String("consul-config-key", "", "从 Consul KV 加载配置的 key（设置后优先于 -config）")
	consulKVAddr = flag.String("consul-addr", "localhost", "KV 配置引导用的 Consul 地址")
	consulKVPort = flag.Int("consul-port", 8500, "KV 配置引导用的 Consul 端口")
)

func main() {
	flag.Parse()

	// 加载配置：优先 Consul KV，其次本地文件
	var (
		cfg *config.Config
		err error
	)
	if *consulKVKey != "" {
		cfg, err = config.LoadConfigFromConsulKV(*consulKVAddr, *consulKVPort, *consulKVKey)
	} else {
		cfg, err = config.LoadConfig(*configPath)
	}
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output, cfg.Log.Path)
	if err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}

	// 初始化链路追踪
	tracer, closer, err := tracing.InitTracer(
		cfg.Server.Name,
		cfg.Jaeger.Endpoint,
		cfg.Jaeger.Sampler,
	)
	if err != nil {
		log.Warnf("failed to init tracer: %v", err)
	} else {
		defer closer.Close()
	}
	_ = tracer

	// 初始化数据库
	gormDB, err := db.NewMySQL(
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Database,
		cfg.Database.MaxIdle,
		cfg.Database.MaxOpen,
	)
	if err != nil {
		log.Fatalf("failed to init mysql: %v", err)
	}
	if err := gormDB.AutoMigrate(
		&fleet.Manufacturer{},
		&fleet.ManufacturerModel{},
		&fleet.CarModel{},
		&fleet.FleetCar{},
		&rental.Rental{},
	); err != nil {
		log.Fatalf("failed to migrate mysql schema: %v", err)
	}

	// 目录管理 + 级联删除引擎（进程内接口，由后台展示层直接调用）
	fleetSvc := fleet.NewService(gormDB, rental.GraphStore{}, fleet.NewLogSink(log), log)

	// 启动自检：报一眼目录规模，顺带验证引擎到存储的链路
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 5*time.Second)
	if sum, err := fleetSvc.CatalogSummary(startupCtx); err != nil {
		log.Warnf("failed to read catalog summary: %v", err)
	} else {
		log.Infof("catalog at startup: manufacturers=%d models=%d car_models=%d cars=%d",
			sum.Manufacturers, sum.ManufacturerModels, sum.CarModels, sum.FleetCars)
	}
	cancelStartup()

	// 启动统一的 gRPC 服务模板（health + 注册 + 优雅退出；
	// 业务面按规划通过进程内接口暴露，不在此注册 wire 服务）
	if err := server.RunGRPCServer(cfg, log, func(s *grpc.Server) error {
		return nil
	}); err != nil {
		log.Fatalf("fleet-service exited with error: %v", err)
	}
}
