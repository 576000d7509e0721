package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FleetRentDesk/FleetRentDesk/internal/common/config"
	"github.com/FleetRentDesk/FleetRentDesk/internal/common/discovery"
	"github.com/FleetRentDesk/FleetRentDesk/internal/common/logger"
	"github.com/FleetRentDesk/FleetRentDesk/internal/common/middleware"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCRegisterFunc 用于注册业务 gRPC 服务（pb.RegisterXxxServer 等）。
type GRPCRegisterFunc func(s *grpc.Server) error

type RunGRPCOptions struct {
	EnableReflection bool
	ShutdownTimeout  time.Duration
}

func defaultRunGRPCOptions() RunGRPCOptions {
	return RunGRPCOptions{
		EnableReflection: true,
		ShutdownTimeout:  5 * time.Second,
	}
}

// WithShutdownTimeout 修改优雅退出等待时间。
func WithShutdownTimeout(d time.Duration) func(*RunGRPCOptions) {
	return func(o *RunGRPCOptions) {
		if d > 0 {
			o.ShutdownTimeout = d
		}
	}
}

// WithReflection 控制是否启用 gRPC reflection。
func WithReflection(enable bool) func(*RunGRPCOptions) {
	return func(o *RunGRPCOptions) {
		o.EnableReflection = enable
	}
}

// buildInterceptorChain 统一的 Unary 拦截器链（按顺序执行）：
// 恢复 → 限流 → 熔断 → 追踪 → 访问日志 → JWT 鉴权 → RBAC。
func buildInterceptorChain(cfg *config.Config, log logger.Logger) grpc.UnaryServerInterceptor {
	return UnaryChain(
		UnaryRecoveryInterceptor(log),
		UnaryRateLimitInterceptor(middleware.NewTokenBucket(200, 100)),
		UnaryCircuitBreakerInterceptor(middleware.NewCircuitBreaker(cfg.Server.Name, 10, 30*time.Second)),
		UnaryTracingInterceptor(cfg.Server.Name),
		UnaryAccessLogInterceptor(log),
		UnaryJWTAuthInterceptor(cfg.Auth, log),
		UnaryRBACInterceptor(cfg.Auth),
	)
}

// registerWithConsul 注册服务实例；返回注销函数（注册失败时为空操作）。
func registerWithConsul(cfg *config.Config, log logger.Logger) func() {
	client, err := discovery.NewConsulClient(cfg.Consul.Host, cfg.Consul.Port)
	if err != nil {
		log.Warnf("failed to connect to Consul: %v", err)
		return func() {}
	}

	serviceID := fmt.Sprintf("%s-%s", cfg.Server.Name, uuid.New().String())
	registry := discovery.NewServiceRegistry(
		client,
		serviceID,
		cfg.Server.Name,
		cfg.Server.Host,
		cfg.Server.GRPCPort,
		[]string{"grpc"},
	)
	if err := registry.Register(); err != nil {
		log.Warnf("failed to register service to Consul: %v", err)
		return func() {}
	}

	log.Infof("Service registered to Consul: %s", serviceID)
	return func() {
		if err := registry.Deregister(); err != nil {
			log.Warnf("failed to deregister service from Consul: %v", err)
		}
	}
}

// RunGRPCServer 统一的 gRPC 服务启动模板：
// listener + 拦截器链 + health/reflection + 业务注册 + Consul 注册 + 优雅退出。
// 阻塞到进程收到 SIGINT/SIGTERM 或 Serve 出错。
func RunGRPCServer(cfg *config.Config, log logger.Logger, register GRPCRegisterFunc, opts ...func(*RunGRPCOptions)) error {
	if cfg == nil {
		return fmt.Errorf("cfg is nil")
	}
	if log == nil {
		return fmt.Errorf("log is nil")
	}

	o := defaultRunGRPCOptions()
	for _, apply := range opts {
		if apply != nil {
			apply(&o)
		}
	}

	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s := grpc.NewServer(
		grpc.UnaryInterceptor(buildInterceptorChain(cfg, log)),
	)

	// gRPC 健康检查（供 Consul 的 GRPC check 探测）
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	if o.EnableReflection {
		reflection.Register(s)
	}

	if register != nil {
		if err := register(s); err != nil {
			return fmt.Errorf("failed to register grpc services: %w", err)
		}
	}

	deregister := registerWithConsul(cfg, log)
	defer deregister()

	log.Infof("%s starting on %s:%d", cfg.Server.Name, cfg.Server.Host, cfg.Server.GRPCPort)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(lis)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Infof("received signal %v, shutting down...", sig)
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("grpc serve failed: %w", err)
		}
		return nil
	}

	// 优雅关闭：等待存量请求，超时则强停
	ctx, cancel := context.WithTimeout(context.Background(), o.ShutdownTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		log.Warn("grpc shutdown timeout, forcing stop...")
		s.Stop()
	case <-stopped:
		log.Info("grpc server stopped gracefully")
	}

	return nil
}
