package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrStoreUnavailable 表示当前 Hub 未注入缓存存储实例。
var ErrStoreUnavailable = errors.New("cache store unavailable")

// TTLPolicy 绑定 Hub 生效的 TTL，提供新鲜度判断与写入封装。
type TTLPolicy struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewTTLPolicy 构造 TTL 感知的写入器，默认使用 time.Now 作为时钟。
func NewTTLPolicy(store Store, ttl time.Duration) TTLPolicy {
	return TTLPolicy{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Enabled 返回当前是否具备缓存写入能力。
func (p TTLPolicy) Enabled() bool {
	return p.store != nil
}

// Put 写入缓存正文，并保持与 Store 相同的语义。
func (p TTLPolicy) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	if p.store == nil {
		return nil, ErrStoreUnavailable
	}
	return p.store.Put(ctx, locator, body, opts)
}

// Fresh 判断条目是否仍在 TTL 内，可跳过上游再验证。
func (p TTLPolicy) Fresh(entry Entry) bool {
	if p.ttl <= 0 {
		return false
	}
	return p.now().Before(entry.ModTime.Add(p.ttl))
}
