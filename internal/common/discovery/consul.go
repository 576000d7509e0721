package discovery

import (
	"fmt"
	"time"

	"github.com/hashicorp/consul/api"
	"google.golang.org/grpc/resolver"
)

const consulScheme = "consul"

// NewConsulClient 创建 Consul 客户端。
func NewConsulClient(host string, port int) (*api.Client, error) {
	cfg := api.DefaultConfig()
	cfg.Address = fmt.Sprintf("%s:%d", host, port)
	return api.NewClient(cfg)
}

// ServiceRegistry 把本服务实例注册到 Consul，带 gRPC 健康检查。
// 检查失败超过 30s 的实例由 Consul 自动注销，避免僵尸节点。
type ServiceRegistry struct {
	client       *api.Client
	registration *api.AgentServiceRegistration
}

func NewServiceRegistry(client *api.Client, serviceID, service, address string, port int, tags []string) *ServiceRegistry {
	return &ServiceRegistry{
		client: client,
		registration: &api.AgentServiceRegistration{
			ID:      serviceID,
			Name:    service,
			Tags:    tags,
			Address: address,
			Port:    port,
			Check: &api.AgentServiceCheck{
				GRPC:                           fmt.Sprintf("%s:%d", address, port),
				Interval:                       "10s",
				Timeout:                        "5s",
				DeregisterCriticalServiceAfter: "30s",
			},
		},
	}
}

func (r *ServiceRegistry) Register() error {
	return r.client.Agent().ServiceRegister(r.registration)
}

func (r *ServiceRegistry) Deregister() error {
	return r.client.Agent().ServiceDeregister(r.registration.ID)
}

// ConsulResolver consul:///<service> 形式的 gRPC 解析器。
// 以健康实例列表为准，轮询 Consul health API 刷新地址。
type ConsulResolver struct {
	client  *api.Client
	service string
}

// NewConsulResolver 创建并注册解析器（进程级，Register 全局生效）。
func NewConsulResolver(client *api.Client, service string) *ConsulResolver {
	r := &ConsulResolver{client: client, service: service}
	resolver.Register(r)
	return r
}

func (r *ConsulResolver) Scheme() string {
	return consulScheme
}

func (r *ConsulResolver) Build(target resolver.Target, cc resolver.ClientConn, opts resolver.BuildOptions) (resolver.Resolver, error) {
	w := &consulWatcher{
		client:  r.client,
		service: r.service,
		cc:      cc,
		stop:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

type consulWatcher struct {
	client    *api.Client
	service   string
	cc        resolver.ClientConn
	lastIndex uint64
	stop      chan struct{}
}

func (w *consulWatcher) run() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	w.refresh()
	for {
		select {
		case <-ticker.C:
			w.refresh()
		case <-w.stop:
			return
		}
	}
}

func (w *consulWatcher) refresh() {
	entries, meta, err := w.client.Health().Service(w.service, "", true, &api.QueryOptions{
		WaitIndex: w.lastIndex,
	})
	if err != nil {
		return
	}
	w.lastIndex = meta.LastIndex

	addrs := make([]resolver.Address, 0, len(entries))
	for _, e := range entries {
		addrs = append(addrs, resolver.Address{
			Addr: fmt.Sprintf("%s:%d", e.Service.Address, e.Service.Port),
		})
	}
	if len(addrs) > 0 {
		_ = w.cc.UpdateState(resolver.State{Addresses: addrs})
	}
}

func (w *consulWatcher) ResolveNow(resolver.ResolveNowOptions) {
	w.refresh()
}

func (w *consulWatcher) Close() {
	close(w.stop)
}
