package server

import (
	"testing"
	"time"

	"github.com/any-hub/dirmark/internal/config"
)

func TestHubRegistryLookupNormalizesHost(t *testing.T) {
	registry, err := NewHubRegistry(registryConfig())
	if err != nil {
		t.Fatalf("构建注册表失败: %v", err)
	}

	for _, host := range []string{"gateway.local", "GATEWAY.local:5000", "gateway.local."} {
		route, ok := registry.Lookup(host)
		if !ok {
			t.Fatalf("host %s 应命中", host)
		}
		if route.Config.Name != "gateway" {
			t.Fatalf("host %s 命中错误的 hub: %s", host, route.Config.Name)
		}
	}
	if _, ok := registry.Lookup("unknown.local"); ok {
		t.Fatalf("未知 host 不应命中")
	}
}

func TestHubRegistryDerivesTTLAndURLs(t *testing.T) {
	registry, err := NewHubRegistry(registryConfig())
	if err != nil {
		t.Fatalf("构建注册表失败: %v", err)
	}

	gateway, _ := registry.ByName("gateway")
	if gateway.CacheTTL != time.Hour {
		t.Fatalf("gateway 应回退全局 TTL，得到 %s", gateway.CacheTTL)
	}
	if gateway.UpstreamURL.Host != "ipfs.io" {
		t.Fatalf("upstream 解析错误: %s", gateway.UpstreamURL)
	}

	mirror, ok := registry.ByName("mirror")
	if !ok {
		t.Fatalf("mirror 应可通过名称查找")
	}
	if mirror.CacheTTL != 5*time.Minute {
		t.Fatalf("mirror TTL 覆盖未生效: %s", mirror.CacheTTL)
	}
	if mirror.ProxyURL == nil || mirror.ProxyURL.Host != "proxy.internal:3128" {
		t.Fatalf("proxy 解析错误: %v", mirror.ProxyURL)
	}

	list := registry.List()
	if len(list) != 2 || list[0].Config.Name != "gateway" || list[1].Config.Name != "mirror" {
		t.Fatalf("List 应保持配置顺序: %+v", list)
	}
}

func TestHubRegistryRejectsDuplicateDomain(t *testing.T) {
	cfg := registryConfig()
	cfg.Hubs[1].Domain = "Gateway.Local"
	if _, err := NewHubRegistry(cfg); err == nil {
		t.Fatalf("重复域名应报错")
	}
}

func registryConfig() *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{
			ListenPort: 5000,
			CacheTTL:   config.Duration(time.Hour),
		},
		Hubs: []config.HubConfig{
			{
				Name:     "gateway",
				Domain:   "gateway.local",
				Upstream: "https://ipfs.io",
				Annotate: true,
			},
			{
				Name:     "mirror",
				Domain:   "mirror.local",
				Upstream: "https://dweb.link",
				Proxy:    "http://proxy.internal:3128",
				CacheTTL: config.Duration(5 * time.Minute),
			},
		},
	}
}
