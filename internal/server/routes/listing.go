package routes

import (
	"bytes"
	"errors"
	"path"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/dirmark/internal/cache"
	"github.com/any-hub/dirmark/internal/dirindex"
	"github.com/any-hub/dirmark/internal/server"
)

// queryMarkerDir 是 query 缓存条目所在的子目录名，不在目录页中展示。
const queryMarkerDir = "__qs"

// ListingOptions 控制 /-/listing 目录页的渲染。
type ListingOptions struct {
	Registry    *server.HubRegistry
	Store       cache.Store
	Logger      *logrus.Logger
	MarkerClass string
}

// listingPrefix 是缓存目录页的路由前缀。
const listingPrefix = "/-/listing"

// RegisterListingRoutes 暴露 /-/listing/:hub/* ，把 Hub 的本地缓存树渲染为目录页。
// 页面内嵌的 Listing 与占位节点满足标注器的约定；面包屑与子目录链接带
// /-/listing/<hub> 前缀以便继续浏览缓存树，文件链接指向内容路径。
func RegisterListingRoutes(app *fiber.App, opts ListingOptions) {
	if app == nil || opts.Registry == nil || opts.Store == nil {
		return
	}

	app.Get(listingPrefix+"/:hub/*", func(c fiber.Ctx) error {
		route, ok := opts.Registry.ByName(c.Params("hub"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "hub_not_found"})
		}

		dir := path.Clean("/" + c.Params("*"))
		items, err := opts.Store.List(c.Context(), cache.Locator{HubName: route.Config.Name, Path: dir})
		if err != nil {
			if errors.Is(err, cache.ErrNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "directory_not_cached"})
			}
			if opts.Logger != nil {
				opts.Logger.WithError(err).WithFields(logrus.Fields{
					"action": "listing",
					"hub":    route.Config.Name,
					"path":   dir,
				}).Error("listing_failed")
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "listing_failed"})
		}

		var buf bytes.Buffer
		err = dirindex.RenderListing(&buf, dirindex.Page{
			Hub:         route.Config.Name,
			Path:        dir,
			Entries:     toListingEntries(items),
			MarkerClass: opts.MarkerClass,
			LinkPrefix:  listingPrefix + "/" + route.Config.Name,
		})
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "listing_failed"})
		}
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.Send(buf.Bytes())
	})
}

func toListingEntries(items []cache.DirEntry) []dirindex.Entry {
	entries := make([]dirindex.Entry, 0, len(items))
	for _, item := range items {
		if item.IsDir && item.Name == queryMarkerDir {
			continue
		}
		if strings.HasPrefix(item.Name, ".") {
			continue
		}
		entries = append(entries, dirindex.Entry{
			Name:  item.Name,
			Path:  item.Path,
			Size:  item.SizeBytes,
			IsDir: item.IsDir,
		})
	}
	return entries
}
