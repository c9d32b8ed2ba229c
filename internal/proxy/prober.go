package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/any-hub/dirmark/internal/cache"
)

// storeProber 在进程内回答与 cache-local 端点相同的状态码：
// 命中 200，未命中 404，其余错误原样返回。
type storeProber struct {
	store cache.Store
	hub   string
}

func (p storeProber) Probe(ctx context.Context, rawPath string) (int, error) {
	if p.store == nil {
		return 0, cache.ErrStoreUnavailable
	}
	ref, err := url.Parse(rawPath)
	if err != nil {
		return 0, err
	}
	locator := buildLocator(p.hub, normalizeRequestPath(ref.Path), []byte(ref.RawQuery))

	_, err = p.store.Stat(ctx, locator)
	switch {
	case err == nil:
		return http.StatusOK, nil
	case errors.Is(err, cache.ErrNotFound):
		return http.StatusNotFound, nil
	default:
		return 0, err
	}
}
