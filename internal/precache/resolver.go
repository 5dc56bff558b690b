package precache

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// BustParam 是追加到查询串中的缓存击穿参数名。
const BustParam = "cache-bust"

// BustStamp 是一个批次共享的时间戳，零值表示不击穿。
type BustStamp struct {
	value string
}

// NewBustStamp 捕获毫秒级时间戳，整个批次只调用一次。
func NewBustStamp(now time.Time) BustStamp {
	return BustStamp{value: strconv.FormatInt(now.UnixMilli(), 10)}
}

// IsZero 表示没有捕获时间戳。
func (s BustStamp) IsZero() bool {
	return s.value == ""
}

func (s BustStamp) String() string {
	return s.value
}

// Resolver 将资源标识解析为绝对 URL，并在需要时追加 cache-bust 参数。
type Resolver struct {
	base *url.URL
	caps Capabilities
}

// NewResolver 以 base 作为相对标识的解析基准。
func NewResolver(base string, caps Capabilities) (*Resolver, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return nil, errors.New("base url must be absolute")
	}
	return &Resolver{base: parsed, caps: caps}, nil
}

// Base 返回解析基准的副本。
func (r *Resolver) Base() *url.URL {
	clone := *r.base
	return &clone
}

// Resolve 返回 id 相对 base 的绝对 URL。
func (r *Resolver) Resolve(id string) (*url.URL, error) {
	ref, err := url.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid resource %q: %w", id, err)
	}
	return r.base.ResolveReference(ref), nil
}

// Canonical 返回用作缓存键的绝对 URL（不含击穿参数，不含 fragment）。
func (r *Resolver) Canonical(id string) (string, error) {
	u, err := r.Resolve(id)
	if err != nil {
		return "", err
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// NeedsBusting 表示本环境下请求击穿时是否需要改写 URL。
func (r *Resolver) NeedsBusting(requested bool) bool {
	return requested && !r.caps.CacheDirective
}

// Bust 在 stamp 非零且环境不支持声明式 no-cache 时追加 cache-bust=<stamp>；
// 否则原样返回 id。
func (r *Resolver) Bust(id string, stamp BustStamp) (string, error) {
	if stamp.IsZero() || r.caps.CacheDirective {
		return id, nil
	}
	u, err := r.Resolve(id)
	if err != nil {
		return "", err
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery += "&"
	}
	u.RawQuery += BustParam + "=" + stamp.String()
	return u.String(), nil
}

// SameOrigin 判断 u 是否与 base 同源（scheme + host + port）。
func (r *Resolver) SameOrigin(u *url.URL) bool {
	return u.Scheme == r.base.Scheme && u.Host == r.base.Host
}

// Origin 返回 base 的 origin 字符串。
func (r *Resolver) Origin() string {
	return r.base.Scheme + "://" + r.base.Host
}
