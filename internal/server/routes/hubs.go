package routes

import (
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/dirmark/internal/server"
)

// hubsPrefix 是 Hub 诊断接口的路由前缀。
const hubsPrefix = "/-/hubs"

// Prefixes 返回本包注册的诊断路由前缀，供 server.AppOptions 跳过 Host 解析。
func Prefixes() []string {
	return []string{hubsPrefix, listingPrefix}
}

// RegisterHubRoutes 暴露 /-/hubs 诊断接口，供 SRE 查询 Hub 与域名、上游的绑定关系。
func RegisterHubRoutes(app *fiber.App, registry *server.HubRegistry) {
	if app == nil || registry == nil {
		return
	}

	app.Get(hubsPrefix, func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"hubs": encodeHubBindings(registry.List()),
		})
	})

	app.Get(hubsPrefix+"/:name", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "hub_name_required"})
		}
		route, ok := registry.ByName(name)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "hub_not_found"})
		}
		return c.JSON(encodeHubBinding(*route))
	})
}

type hubBindingPayload struct {
	HubName    string `json:"hub_name"`
	Domain     string `json:"domain"`
	Port       int    `json:"port"`
	Upstream   string `json:"upstream"`
	Proxy      string `json:"proxy,omitempty"`
	AuthMode   string `json:"auth_mode"`
	TTLSeconds int64  `json:"ttl_seconds"`
	Annotate   bool   `json:"annotate"`
}

func encodeHubBindings(routes []server.HubRoute) []hubBindingPayload {
	if len(routes) == 0 {
		return nil
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Config.Name < routes[j].Config.Name
	})
	result := make([]hubBindingPayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, encodeHubBinding(route))
	}
	return result
}

func encodeHubBinding(route server.HubRoute) hubBindingPayload {
	payload := hubBindingPayload{
		HubName:    route.Config.Name,
		Domain:     route.Config.Domain,
		Port:       route.ListenPort,
		AuthMode:   route.Config.AuthMode(),
		TTLSeconds: int64(route.CacheTTL / time.Second),
		Annotate:   route.Config.Annotate,
	}
	if route.UpstreamURL != nil {
		payload.Upstream = route.UpstreamURL.String()
	}
	if route.ProxyURL != nil {
		payload.Proxy = route.ProxyURL.Redacted()
	}
	return payload
}
