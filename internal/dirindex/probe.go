package dirindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// AcceptCacheLocal 要求端点只回答本地缓存中的表示。
const AcceptCacheLocal = "application/vnd.ipfs.cache.local"

// Prober 对单个路径发起存在性探测，只关心状态码。
type Prober interface {
	Probe(ctx context.Context, path string) (int, error)
}

// ProbeFunc adapts a function to the Prober interface.
type ProbeFunc func(ctx context.Context, path string) (int, error)

// Probe makes ProbeFunc satisfy Prober.
func (f ProbeFunc) Probe(ctx context.Context, path string) (int, error) {
	return f(ctx, path)
}

// HTTPProber 向 Base 下的路径发送只读 GET，请求仅携带 Accept 头，不重试。
type HTTPProber struct {
	Client *http.Client
	Base   *url.URL
}

// NewHTTPProber 解析 base 并构造 HTTPProber；client 为空时使用 http.DefaultClient。
func NewHTTPProber(client *http.Client, base string) (*HTTPProber, error) {
	parsed, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return nil, fmt.Errorf("parse probe base: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("probe base must be http/https: %s", base)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("probe base missing host: %s", base)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProber{Client: client, Base: parsed}, nil
}

func (p *HTTPProber) Probe(ctx context.Context, path string) (int, error) {
	if p == nil || p.Base == nil {
		return 0, errors.New("probe base required")
	}
	ref, err := url.Parse(path)
	if err != nil {
		return 0, fmt.Errorf("parse probe path %q: %w", path, err)
	}
	target := p.Base.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", AcceptCacheLocal)

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	return resp.StatusCode, nil
}

// Outcome 描述单个条目的探测结果。
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeCached
	OutcomeAbsent
	OutcomeIndeterminate
	OutcomeUnbound
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeCached:
		return "cached"
	case OutcomeAbsent:
		return "absent"
	case OutcomeIndeterminate:
		return "indeterminate"
	case OutcomeUnbound:
		return "unbound"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Classify 将探测结果归类。只有精确的 404 才会触发标记；网络错误与
// 其它失败状态归为 Indeterminate，与 Cached 一样不做任何修改。
func Classify(status int, err error) Outcome {
	switch {
	case err != nil:
		return OutcomeIndeterminate
	case status == http.StatusNotFound:
		return OutcomeAbsent
	case status >= 200 && status < 400:
		return OutcomeCached
	default:
		return OutcomeIndeterminate
	}
}
