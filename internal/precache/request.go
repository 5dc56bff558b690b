package precache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// CacheMode 对应请求的 HTTP 缓存语义。
type CacheMode string

const (
	CacheModeDefault CacheMode = "default"
	CacheModeNoCache CacheMode = "no-cache"
)

// Mode 对应跨域容忍度。
type Mode string

const (
	ModeCORS   Mode = "cors"
	ModeNoCORS Mode = "no-cors"
)

// ErrCrossOriginRejected 表示 cors 模式下跨域响应未携带允许访问的头部。
var ErrCrossOriginRejected = errors.New("cross-origin response rejected")

// RequestOptions 是调用方意图。
type RequestOptions struct {
	BypassHTTPCache     bool
	CrossOriginTolerant bool
}

// RequestDescriptor 描述一次出站请求，用完即弃。
type RequestDescriptor struct {
	Method    string
	URL       *url.URL
	Canonical string
	CacheMode CacheMode
	Mode      Mode
}

// RequestBuilder 根据解析后的 URL 与调用方意图构造 RequestDescriptor。
type RequestBuilder struct {
	resolver *Resolver
}

// NewRequestBuilder 构造 RequestBuilder，resolver 用于判定同源。
func NewRequestBuilder(resolver *Resolver) *RequestBuilder {
	return &RequestBuilder{resolver: resolver}
}

// Build 生成 GET 请求描述。BypassHTTPCache 总是转换为 no-cache，与是否追加击穿参数无关。
func (b *RequestBuilder) Build(target *url.URL, canonical string, opts RequestOptions) RequestDescriptor {
	desc := RequestDescriptor{
		Method:    http.MethodGet,
		URL:       target,
		Canonical: canonical,
		CacheMode: CacheModeDefault,
		Mode:      ModeCORS,
	}
	if opts.BypassHTTPCache {
		desc.CacheMode = CacheModeNoCache
	}
	if opts.CrossOriginTolerant {
		desc.Mode = ModeNoCORS
	}
	return desc
}

// NewHTTPRequest 将描述转换为 *http.Request。
func (b *RequestBuilder) NewHTTPRequest(ctx context.Context, desc RequestDescriptor) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, desc.Method, desc.URL.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	if desc.CacheMode == CacheModeNoCache {
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}
	if !b.resolver.SameOrigin(desc.URL) {
		req.Header.Set("Origin", b.resolver.Origin())
		if desc.Mode == ModeNoCORS {
			req.Header.Set("Sec-Fetch-Mode", string(ModeNoCORS))
		} else {
			req.Header.Set("Sec-Fetch-Mode", string(ModeCORS))
		}
	}
	return req, nil
}

// Accept 判断响应能否交给调用方。跨域 + no-cors 的响应被视为 opaque，
// 状态码不可检查；跨域 + cors 的响应需要匹配的 Access-Control-Allow-Origin。
func (b *RequestBuilder) Accept(desc RequestDescriptor, resp *http.Response) (opaque bool, err error) {
	if b.resolver.SameOrigin(desc.URL) {
		return false, nil
	}
	if desc.Mode == ModeNoCORS {
		return true, nil
	}
	allow := strings.TrimSpace(resp.Header.Get("Access-Control-Allow-Origin"))
	if allow == "*" || strings.EqualFold(allow, b.resolver.Origin()) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %s", ErrCrossOriginRejected, desc.URL.Redacted())
}
