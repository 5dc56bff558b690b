package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/generation"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/precache"
	"github.com/any-hub/offline-hub/internal/server"
)

// Result 是一次拦截的结果。Response 的 Body 由调用方关闭。
type Result struct {
	Response   *http.Response
	CacheHit   bool
	Generation string
}

// Interceptor 实现只读的 cache-first 策略。
type Interceptor struct {
	storage  cache.Storage
	network  precache.Fetcher
	resolver *precache.Resolver
	current  *generation.Set
	logger   *logrus.Logger
}

// NewInterceptor 构造 Interceptor，current 决定哪些 family 参与查找。
func NewInterceptor(storage cache.Storage, network precache.Fetcher, resolver *precache.Resolver, current []generation.Generation, logger *logrus.Logger) (*Interceptor, error) {
	set, err := generation.NewSet(current...)
	if err != nil {
		return nil, err
	}
	return &Interceptor{
		storage:  storage,
		network:  network,
		resolver: resolver,
		current:  set,
		logger:   logger,
	}, nil
}

// Intercept 对 GET 请求先查缓存，命中则原样返回存储的响应且不触网；
// 未命中或非 GET 时转发到源站并原样返回网络响应（包括错误状态码）。
// 网络层失败以 error 返回。
func (i *Interceptor) Intercept(ctx context.Context, req *http.Request) (*Result, error) {
	if req.Method == http.MethodGet {
		if result, ok := i.lookup(ctx, req); ok {
			return result, nil
		}
	}
	resp, err := i.Forward(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Result{Response: resp}, nil
}

func (i *Interceptor) lookup(ctx context.Context, req *http.Request) (*Result, bool) {
	key, err := i.resolver.Canonical(req.URL.String())
	if err != nil {
		return nil, false
	}
	names, err := i.storage.Names(ctx)
	if err != nil {
		i.logger.WithError(err).WithField("action", "intercept").Warn("cache_list_failed")
		return nil, false
	}
	stored, name, err := cache.MatchAny(ctx, i.storage, i.current.LookupOrder(names), key)
	switch {
	case err == nil:
		return &Result{Response: stored.HTTPResponse(req), CacheHit: true, Generation: name}, true
	case errors.Is(err, cache.ErrNotFound):
		return nil, false
	default:
		i.logger.WithError(err).WithFields(logging.RequestFields(req.Method, key, "", false)).Warn("cache_get_failed")
		return nil, false
	}
}

// Forward 将请求发往源站，不查缓存也不写缓存。
func (i *Interceptor) Forward(ctx context.Context, req *http.Request) (*http.Response, error) {
	target, err := i.resolver.Resolve(req.URL.String())
	if err != nil {
		return nil, err
	}
	body := req.Body
	if body == nil {
		body = http.NoBody
	}
	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	server.CopyHeaders(out.Header, req.Header)
	out.ContentLength = req.ContentLength

	started := time.Now()
	resp, err := i.network.Do(out)
	if err != nil {
		return nil, fmt.Errorf("forward %s: %w", target.Redacted(), err)
	}
	i.logger.WithFields(logrus.Fields{
		"action":          "forward",
		"upstream":        target.Redacted(),
		"upstream_status": resp.StatusCode,
		"elapsed_ms":      time.Since(started).Milliseconds(),
	}).Debug("forward_complete")
	return resp, nil
}
