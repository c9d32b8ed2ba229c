package proxy

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/dirmark/internal/cache"
	"github.com/any-hub/dirmark/internal/dirindex"
	"github.com/any-hub/dirmark/internal/logging"
	"github.com/any-hub/dirmark/internal/server"
	"github.com/any-hub/dirmark/internal/version"
)

// maxAnnotateBytes 限制单个目录页读入内存的大小，超出时原样透传。
const maxAnnotateBytes = 8 << 20

// Handler 负责 orchestrate “cache-local 探测 → 缓存命中 → revalidate → 回源写缓存”
// 的全流程，并在开启标注的 Hub 上对 HTML 目录页执行缓存存在性标注。
type Handler struct {
	client    *http.Client
	logger    *logrus.Logger
	store     cache.Store
	annotator dirindex.Options
	etags     sync.Map // key: hub+path, value: etag string
}

// NewHandler constructs a proxy handler with shared HTTP client/logger/store.
func NewHandler(client *http.Client, logger *logrus.Logger, store cache.Store, opts dirindex.Options) *Handler {
	return &Handler{
		client:    client,
		logger:    logger,
		store:     store,
		annotator: opts,
	}
}

// Handle 执行 cache-local 应答、缓存查找、条件回源和最终 streaming 逻辑，
// 任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx, route *server.HubRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)
	rawQuery := append([]byte(nil), c.Request().URI().QueryString()...)
	cleanPath := normalizeRequestPath(string(c.Request().URI().Path()))
	locator := buildLocator(route.Config.Name, cleanPath, rawQuery)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if wantsCacheLocal(c.Get(fiber.HeaderAccept)) {
		return h.serveCacheLocal(c, route, locator, requestID, started, ctx)
	}

	policy := determineCachePolicy(c.Method())
	ttl := cache.NewTTLPolicy(h.store, route.CacheTTL)

	var cached *cache.ReadResult
	if ttl.Enabled() && policy.allowCache {
		result, err := h.store.Get(ctx, locator)
		switch {
		case err == nil:
			cached = result
		case errors.Is(err, cache.ErrNotFound):
			// miss, continue
		default:
			h.logger.WithError(err).
				WithFields(logrus.Fields{"hub": route.Config.Name}).
				Warn("cache_get_failed")
		}
	}

	if cached != nil {
		serve := ttl.Fresh(cached.Entry)
		if !serve {
			fresh, err := h.isCacheFresh(c, route, locator, cached.Entry)
			if err != nil {
				h.logger.WithError(err).
					WithFields(logrus.Fields{"hub": route.Config.Name}).
					Warn("cache_revalidate_failed")
			}
			serve = err == nil && fresh
		}
		if serve {
			return h.serveCache(c, route, cached, requestID, started)
		}
		cached.Reader.Close()
	}

	return h.fetchAndStream(c, route, locator, policy, ttl, requestID, started, ctx)
}

// serveCacheLocal 只读取本地缓存，绝不回源：命中返回 200，未命中返回 404。
func (h *Handler) serveCacheLocal(
	c fiber.Ctx,
	route *server.HubRoute,
	locator cache.Locator,
	requestID string,
	started time.Time,
	ctx context.Context,
) error {
	c.Set(fiber.HeaderVary, fiber.HeaderAccept)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}

	method := c.Method()
	if method != http.MethodGet && method != http.MethodHead {
		return h.writeError(c, fiber.StatusMethodNotAllowed, "method_not_allowed")
	}

	if h.store == nil {
		h.logCacheLocal(route, locator, requestID, fiber.StatusNotFound, started)
		return h.writeError(c, fiber.StatusNotFound, "not_cached_locally")
	}

	if method == http.MethodHead {
		entry, err := h.store.Stat(ctx, locator)
		if err != nil {
			return h.cacheLocalMiss(c, route, locator, requestID, started, err)
		}
		c.Set("X-Dirmark-Cache-Hit", "true")
		c.Response().Header.SetContentLength(int(entry.SizeBytes))
		c.Status(fiber.StatusOK)
		h.logCacheLocal(route, locator, requestID, fiber.StatusOK, started)
		return nil
	}

	result, err := h.store.Get(ctx, locator)
	if err != nil {
		return h.cacheLocalMiss(c, route, locator, requestID, started, err)
	}
	defer result.Reader.Close()

	if ct := inferCachedContentType(locator); ct != "" {
		c.Set(fiber.HeaderContentType, ct)
	}
	c.Set("X-Dirmark-Cache-Hit", "true")
	c.Response().Header.SetContentLength(int(result.Entry.SizeBytes))
	c.Status(fiber.StatusOK)
	_, err = io.Copy(c.Response().BodyWriter(), result.Reader)
	h.logCacheLocal(route, locator, requestID, fiber.StatusOK, started)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("read cache failed: %v", err))
	}
	return nil
}

func (h *Handler) cacheLocalMiss(
	c fiber.Ctx,
	route *server.HubRoute,
	locator cache.Locator,
	requestID string,
	started time.Time,
	err error,
) error {
	if !errors.Is(err, cache.ErrNotFound) {
		h.logger.WithError(err).
			WithFields(logrus.Fields{"hub": route.Config.Name, "path": locator.Path}).
			Warn("cache_local_lookup_failed")
	}
	c.Set("X-Dirmark-Cache-Hit", "false")
	h.logCacheLocal(route, locator, requestID, fiber.StatusNotFound, started)
	return h.writeError(c, fiber.StatusNotFound, "not_cached_locally")
}

func (h *Handler) serveCache(
	c fiber.Ctx,
	route *server.HubRoute,
	result *cache.ReadResult,
	requestID string,
	started time.Time,
) error {
	defer result.Reader.Close()
	_, _ = result.Reader.Seek(0, io.SeekStart)

	if ct := inferCachedContentType(result.Entry.Locator); ct != "" {
		c.Set(fiber.HeaderContentType, ct)
	} else {
		c.Response().Header.Del(fiber.HeaderContentType)
	}

	length := result.Entry.SizeBytes
	if length > 0 {
		c.Response().Header.SetContentLength(int(length))
	} else {
		c.Response().Header.Del(fiber.HeaderContentLength)
	}

	c.Set("X-Dirmark-Upstream", route.UpstreamURL.String())
	c.Set("X-Dirmark-Cache-Hit", "true")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}

	status := fiber.StatusOK
	c.Status(status)

	if c.Method() == http.MethodHead {
		h.logResult(route, route.UpstreamURL.String(), requestID, status, true, started, nil)
		return nil
	}

	_, err := io.Copy(c.Response().BodyWriter(), result.Reader)
	h.logResult(route, route.UpstreamURL.String(), requestID, status, true, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("read cache failed: %v", err))
	}
	return nil
}

func (h *Handler) fetchAndStream(
	c fiber.Ctx,
	route *server.HubRoute,
	locator cache.Locator,
	policy cachePolicy,
	ttl cache.TTLPolicy,
	requestID string,
	started time.Time,
	ctx context.Context,
) error {
	upstreamURL := resolveUpstreamURL(route.UpstreamURL, c)
	req, err := h.buildUpstreamRequest(c, upstreamURL, route, c.Method(), bytesReader(c.Body()))
	if err != nil {
		h.logResult(route, upstreamURL.String(), requestID, 0, false, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	resp, err := h.doRequest(req, route)
	if err != nil {
		h.logResult(route, upstreamURL.String(), requestID, 0, false, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && h.store != nil {
		_ = h.store.Remove(ctx, locator)
		h.forgetETag(route, locator)
	}

	if shouldAnnotate(route, c.Method(), resp) {
		return h.annotateAndSend(c, route, resp, requestID, started, ctx)
	}

	shouldStore := policy.allowStore && ttl.Enabled() && isCacheableResponse(resp, locator) &&
		c.Method() == http.MethodGet
	if shouldStore {
		return h.cacheAndStream(c, route, locator, resp, ttl, requestID, started, ctx)
	}

	h.writeUpstreamHeaders(c, resp, requestID)
	if c.Method() == http.MethodHead {
		h.logResult(route, resp.Request.URL.String(), requestID, resp.StatusCode, false, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(route, resp.Request.URL.String(), requestID, resp.StatusCode, false, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

// annotateAndSend 读入上游目录页，按本地缓存状态标注后下发。标注失败或页面过大时
// 退回原始正文；标注后的页面不会写入缓存。
func (h *Handler) annotateAndSend(
	c fiber.Ctx,
	route *server.HubRoute,
	resp *http.Response,
	requestID string,
	started time.Time,
	ctx context.Context,
) error {
	upstreamURL := resp.Request.URL.String()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAnnotateBytes+1))
	if err != nil {
		h.logResult(route, upstreamURL, requestID, resp.StatusCode, false, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	h.writeUpstreamHeaders(c, resp, requestID)
	c.Response().Header.Del(fiber.HeaderContentLength)

	if len(body) > maxAnnotateBytes {
		h.logger.WithFields(logrus.Fields{
			"action": "annotate",
			"hub":    route.Config.Name,
			"path":   resp.Request.URL.Path,
		}).Warn("annotate_skipped_oversize")
		_, err = io.Copy(c.Response().BodyWriter(), io.MultiReader(bytes.NewReader(body), resp.Body))
		h.logResult(route, upstreamURL, requestID, resp.StatusCode, false, started, err)
		return err
	}

	annotator := dirindex.New(storeProber{store: h.store, hub: route.Config.Name}, h.annotator, h.logger)
	var out bytes.Buffer
	report, annotateErr := annotator.AnnotatePage(ctx, bytes.NewReader(body), &out)
	if annotateErr != nil {
		h.logger.WithError(annotateErr).WithFields(logrus.Fields{
			"action": "annotate",
			"hub":    route.Config.Name,
			"path":   resp.Request.URL.Path,
		}).Warn("annotate_failed")
		h.logResult(route, upstreamURL, requestID, resp.StatusCode, false, started, nil)
		return c.Send(body)
	}

	// 正文已改变，上游校验值不再适用
	c.Response().Header.Del(fiber.HeaderETag)
	c.Set("X-Dirmark-Annotated", strconv.Itoa(report.Count(dirindex.OutcomeAbsent)))
	h.logger.WithFields(logging.AnnotateFields(route.Config.Name, resp.Request.URL.Path, report)).Info("annotate_complete")
	h.logResult(route, upstreamURL, requestID, resp.StatusCode, false, started, nil)
	return c.Send(out.Bytes())
}

func (h *Handler) cacheAndStream(
	c fiber.Ctx,
	route *server.HubRoute,
	locator cache.Locator,
	resp *http.Response,
	ttl cache.TTLPolicy,
	requestID string,
	started time.Time,
	ctx context.Context,
) error {
	upstreamURL := resp.Request.URL.String()
	h.writeUpstreamHeaders(c, resp, requestID)

	reader := io.TeeReader(resp.Body, c.Response().BodyWriter())
	_, err := ttl.Put(ctx, locator, reader, cache.PutOptions{ModTime: time.Now().UTC()})
	h.logResult(route, upstreamURL, requestID, resp.StatusCode, false, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("cache_write_failed: %v", err))
	}
	h.rememberETag(route, locator, resp)
	return nil
}

func (h *Handler) writeUpstreamHeaders(c fiber.Ctx, resp *http.Response, requestID string) {
	copyResponseHeaders(c, resp.Header)
	c.Set("X-Dirmark-Upstream", resp.Request.URL.String())
	c.Set("X-Dirmark-Cache-Hit", "false")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)
}

func (h *Handler) buildUpstreamRequest(
	c fiber.Ctx,
	upstream *url.URL,
	route *server.HubRoute,
	method string,
	body io.Reader,
) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if body == nil {
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(ctx, method, upstream.String(), body)
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Host = upstream.Host
	req.Header.Set("Host", upstream.Host)
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())
	req.Header.Set("X-Forwarded-Port", routePort(route))
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", version.UserAgent())
	}

	if authHeader := buildCredentialHeader(route.Config.Username, route.Config.Password); authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	return req, nil
}

func (h *Handler) doRequest(req *http.Request, route *server.HubRoute) (*http.Response, error) {
	if route.ProxyURL == nil {
		return h.client.Do(req)
	}
	transport := http.Transport{}
	if base, ok := h.client.Transport.(*http.Transport); ok && base != nil {
		transport = *base.Clone()
	}
	transport.Proxy = http.ProxyURL(route.ProxyURL)
	client := *h.client
	client.Transport = &transport
	return client.Do(req)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.HubRoute,
	upstream string,
	requestID string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(
		route.Config.Name,
		route.Config.Domain,
		route.Config.AuthMode(),
		route.Config.Annotate,
		cacheHit,
	)
	fields["action"] = "proxy"
	fields["upstream"] = upstream
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func (h *Handler) logCacheLocal(route *server.HubRoute, locator cache.Locator, requestID string, status int, started time.Time) {
	fields := logging.RequestFields(
		route.Config.Name,
		route.Config.Domain,
		route.Config.AuthMode(),
		route.Config.Annotate,
		status == fiber.StatusOK,
	)
	fields["action"] = "cache_local"
	fields["path"] = locator.Path
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	h.logger.WithFields(fields).Debug("cache_local_probe")
}

// wantsCacheLocal 判断请求是否只接受本地缓存表示。
func wantsCacheLocal(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == dirindex.AcceptCacheLocal {
			return true
		}
	}
	return false
}

func shouldAnnotate(route *server.HubRoute, method string, resp *http.Response) bool {
	if route == nil || !route.Config.Annotate {
		return false
	}
	if method != http.MethodGet || resp.StatusCode != http.StatusOK {
		return false
	}
	return isHTML(resp.Header.Get("Content-Type"))
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/html"
}

func inferCachedContentType(locator cache.Locator) string {
	clean := stripQueryMarker(locator.Path)
	switch {
	case strings.HasSuffix(clean, ".car"):
		return "application/vnd.ipld.car"
	case strings.HasSuffix(clean, ".tar.gz"), strings.HasSuffix(clean, ".tgz"):
		return "application/gzip"
	case strings.HasSuffix(clean, ".md"):
		return "text/markdown; charset=utf-8"
	}
	if ext := path.Ext(clean); ext != "" {
		return mime.TypeByExtension(ext)
	}
	return ""
}

func buildLocator(hub, clean string, rawQuery []byte) cache.Locator {
	if len(rawQuery) > 0 {
		sum := sha1.Sum(rawQuery)
		clean = fmt.Sprintf("%s/__qs/%s", clean, hex.EncodeToString(sum[:]))
	}
	return cache.Locator{
		HubName: hub,
		Path:    clean,
	}
}

func stripQueryMarker(p string) string {
	if idx := strings.Index(p, "/__qs/"); idx >= 0 {
		return p[:idx]
	}
	return p
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	return path.Clean("/" + raw)
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

func resolveUpstreamURL(base *url.URL, c fiber.Ctx) *url.URL {
	uri := c.Request().URI()
	raw := string(uri.Path())
	if raw == "" {
		raw = "/"
	}
	clean := normalizeRequestPath(raw)
	// 目录页依赖结尾斜杠生成相对链接
	if strings.HasSuffix(raw, "/") && clean != "/" {
		clean += "/"
	}
	relative := &url.URL{Path: clean}
	if query := uri.QueryString(); len(query) > 0 {
		relative.RawQuery = string(query)
	}
	return base.ResolveReference(relative)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}

func routePort(route *server.HubRoute) string {
	if route == nil || route.ListenPort <= 0 {
		return "0"
	}
	return strconv.Itoa(route.ListenPort)
}

type cachePolicy struct {
	allowCache bool
	allowStore bool
}

func determineCachePolicy(method string) cachePolicy {
	if method != http.MethodGet && method != http.MethodHead {
		return cachePolicy{}
	}
	return cachePolicy{allowCache: true, allowStore: method == http.MethodGet}
}

// isCacheableResponse 只缓存 200；无扩展名的 HTML 视为目录页，不写入缓存，
// 否则会占住子路径所需的目录。
func isCacheableResponse(resp *http.Response, locator cache.Locator) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if isHTML(resp.Header.Get("Content-Type")) && path.Ext(stripQueryMarker(locator.Path)) == "" {
		return false
	}
	return true
}

func (h *Handler) isCacheFresh(
	c fiber.Ctx,
	route *server.HubRoute,
	locator cache.Locator,
	entry cache.Entry,
) (bool, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	upstreamURL := resolveUpstreamURL(route.UpstreamURL, c)
	req, err := h.buildUpstreamRequest(c, upstreamURL, route, http.MethodHead, http.NoBody)
	if err != nil {
		return false, err
	}
	if etag := h.cachedETag(route, locator); etag != "" {
		req.Header.Set("If-None-Match", `"`+etag+`"`)
	}
	resp, err := h.doRequest(req, route)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return true, nil
	case http.StatusOK:
		h.rememberETag(route, locator, resp)
		remote := extractModTime(resp.Header)
		if remote.IsZero() || !remote.After(entry.ModTime.Add(time.Second)) {
			return true, nil
		}
		return false, nil
	case http.StatusNotFound:
		if h.store != nil {
			_ = h.store.Remove(ctx, locator)
		}
		h.forgetETag(route, locator)
		return false, nil
	default:
		return false, nil
	}
}

func extractModTime(header http.Header) time.Time {
	if last := header.Get("Last-Modified"); last != "" {
		if parsed, err := http.ParseTime(last); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

func buildCredentialHeader(username, password string) string {
	if username == "" || password == "" {
		return ""
	}
	token := username + ":" + password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(token))
}

func (h *Handler) rememberETag(route *server.HubRoute, locator cache.Locator, resp *http.Response) {
	if resp == nil {
		return
	}
	etag := normalizeETag(resp.Header.Get("Etag"))
	if etag == "" {
		return
	}
	h.etags.Store(h.locatorKey(route, locator), etag)
}

func (h *Handler) cachedETag(route *server.HubRoute, locator cache.Locator) string {
	if value, ok := h.etags.Load(h.locatorKey(route, locator)); ok {
		if etag, ok := value.(string); ok {
			return etag
		}
	}
	return ""
}

func (h *Handler) forgetETag(route *server.HubRoute, locator cache.Locator) {
	h.etags.Delete(h.locatorKey(route, locator))
}

func (h *Handler) locatorKey(route *server.HubRoute, locator cache.Locator) string {
	hub := locator.HubName
	if route != nil && route.Config.Name != "" {
		hub = route.Config.Name
	}
	return hub + "::" + locator.Path
}

func normalizeETag(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return strings.Trim(value, "\"")
}
