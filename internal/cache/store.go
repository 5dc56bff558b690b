package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Storage 管理全部 generation，进程内共享一份实例。
type Storage interface {
	// Open 打开指定 generation，不存在时创建。
	Open(ctx context.Context, name string) (Cache, error)

	// Lookup 打开已存在的 generation，不存在时返回 ErrNotFound，从不创建。
	Lookup(ctx context.Context, name string) (Cache, error)

	// Has 判断 generation 是否存在。
	Has(ctx context.Context, name string) (bool, error)

	// Delete 整体删除 generation，返回删除前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Names 返回所有可见 generation 名称，按字典序排列。
	Names(ctx context.Context) ([]string, error)

	// Close 释放底层资源。
	Close() error
}

// Cache 是单个 generation 内的键值视图，键为 canonical URL。
type Cache interface {
	Name() string

	// Put 写入一条响应，同键覆盖。
	Put(ctx context.Context, key string, resp *Response) error

	// Match 返回 key 对应的响应；不存在时返回 ErrNotFound。
	Match(ctx context.Context, key string) (*Response, error)

	// Keys 返回当前 generation 中的所有键。
	Keys(ctx context.Context) ([]string, error)
}

// Response 是一次被记录下来的网络响应，回放时原样返回。
type Response struct {
	Key      string      `json:"key"`
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	Opaque   bool        `json:"opaque"`
	StoredAt time.Time   `json:"stored_at"`
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidName 表示 generation 名称不可用作存储键。
var ErrInvalidName = errors.New("invalid generation name")

// Record 读取完整响应体并生成可存储的 Response，调用方负责关闭 resp.Body。
func Record(key string, resp *http.Response, opaque bool) (*Response, error) {
	if resp == nil {
		return nil, errors.New("nil response")
	}
	var body []byte
	if resp.Body != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		body = data
	}
	rawURL := ""
	if resp.Request != nil && resp.Request.URL != nil {
		rawURL = resp.Request.URL.String()
	}
	return &Response{
		Key:      key,
		URL:      rawURL,
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		Opaque:   opaque,
		StoredAt: time.Now().UTC(),
	}, nil
}

// HTTPResponse 将记录的响应还原为 *http.Response，每次调用都得到独立的 Body。
func (r *Response) HTTPResponse(req *http.Request) *http.Response {
	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.Status, http.StatusText(r.Status)),
		StatusCode:    r.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

// Size 返回正文字节数。
func (r *Response) Size() int64 {
	if r == nil {
		return 0
	}
	return int64(len(r.Body))
}

// MatchAny 依次在 names 中查找 key，返回第一个命中的响应及其 generation 名称。
func MatchAny(ctx context.Context, storage Storage, names []string, key string) (*Response, string, error) {
	for _, name := range names {
		c, err := storage.Lookup(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		resp, err := c.Match(ctx, key)
		switch {
		case err == nil:
			return resp, name, nil
		case errors.Is(err, ErrNotFound):
			continue
		default:
			return nil, "", err
		}
	}
	return nil, "", ErrNotFound
}

// ValidateName 拒绝包含路径分隔符或控制字符的名称，所有后端共用。
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, r := range name {
		if r < 0x20 {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}
