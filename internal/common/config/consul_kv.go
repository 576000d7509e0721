package config

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/consul/api"
)

// KVLoad 从 Consul KV 读出 key 对应的 JSON 并解析为 Config。
// 只做读取与解析，动态 watch 由上层自行决定。
func KVLoad(client *api.Client, key string) (*Config, error) {
	if client == nil {
		return nil, fmt.Errorf("consul client is nil")
	}
	if key == "" {
		return nil, fmt.Errorf("consul kv key is empty")
	}

	pair, _, err := client.KV().Get(key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get consul kv key=%s: %w", key, err)
	}
	if pair == nil || len(pair.Value) == 0 {
		return nil, fmt.Errorf("consul kv key=%s is empty or not found", key)
	}

	cfg := &Config{}
	if err := json.Unmarshal(pair.Value, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal consul kv json key=%s: %w", key, err)
	}
	return cfg, nil
}

// LoadConfigFromConsulKV 便捷入口：用地址直连 Consul 再走 KVLoad。
// 服务启动用 -consul-config-key 指定 key 时走这条路径。
func LoadConfigFromConsulKV(consulHost string, consulPort int, key string) (*Config, error) {
	c, err := api.NewClient(&api.Config{
		Address: fmt.Sprintf("%s:%d", consulHost, consulPort),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return KVLoad(c, key)
}
