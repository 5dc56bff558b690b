package precache

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/generation"
	"github.com/any-hub/offline-hub/internal/logging"
)

// Fetcher 是网络原语，*http.Client 直接满足。
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options 控制单个批次的行为。
type Options struct {
	// CacheBust 要求绕过中间 HTTP 缓存。
	CacheBust bool
	// CrossOrigin 允许跨域资源以 opaque 形式入库。
	CrossOrigin bool
}

// Manager 负责把一组资源预取进指定 generation。
type Manager struct {
	storage        cache.Storage
	network        Fetcher
	resolver       *Resolver
	builder        *RequestBuilder
	logger         *logrus.Logger
	now            func() time.Time
	maxConcurrency int
}

// NewManager 构造 Manager，默认使用 time.Now 作为时钟。
func NewManager(storage cache.Storage, network Fetcher, resolver *Resolver, logger *logrus.Logger) *Manager {
	return &Manager{
		storage:  storage,
		network:  network,
		resolver: resolver,
		builder:  NewRequestBuilder(resolver),
		logger:   logger,
		now:      time.Now,
	}
}

// WithMaxConcurrency 限制单批次并发抓取数，n <= 0 表示不限制。
func (m *Manager) WithMaxConcurrency(n int) *Manager {
	m.maxConcurrency = n
	return m
}

// Precache 是必需批次的入口：等待所有资源结束，任一失败都会以 *BatchError 返回。
func (m *Manager) Precache(ctx context.Context, gen generation.Generation, ids []string, opts Options) error {
	return m.run(ctx, gen, ids, opts, true)
}

// Preload 是尽力而为的入口：失败只记日志，不向调用方传播。
func (m *Manager) Preload(ctx context.Context, gen generation.Generation, ids []string, opts Options) {
	_ = m.run(ctx, gen, ids, opts, false)
}

func (m *Manager) run(ctx context.Context, gen generation.Generation, ids []string, opts Options, essential bool) error {
	started := time.Now()
	name := gen.Name()

	var stamp BustStamp
	if m.resolver.NeedsBusting(opts.CacheBust) {
		stamp = NewBustStamp(m.now())
	}

	c, err := m.storage.Open(ctx, name)
	if err != nil {
		err = fmt.Errorf("open generation %s: %w", name, err)
		m.logger.WithFields(logging.BatchFields(name, essential)).WithError(err).Error("precache_open_failed")
		if essential {
			return err
		}
		return nil
	}

	var (
		mu       sync.Mutex
		failures []*ResourceError
		stored   atomic.Int64
		size     atomic.Int64
	)

	p := pool.New()
	if m.maxConcurrency > 0 {
		p = p.WithMaxGoroutines(m.maxConcurrency)
	}
	for _, id := range ids {
		p.Go(func() {
			n, err := m.fetchOne(ctx, c, id, stamp, opts)
			if err != nil {
				fields := logging.BatchFields(name, essential)
				fields["resource"] = id
				m.logger.WithFields(fields).Warn(err.Error())
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
				return
			}
			stored.Add(1)
			size.Add(n)
		})
	}
	p.Wait()

	fields := logging.BatchFields(name, essential)
	fields["resources"] = len(ids)
	fields["stored"] = stored.Load()
	fields["failed"] = len(failures)
	fields["stored_bytes"] = humanize.Bytes(uint64(size.Load()))
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if !stamp.IsZero() {
		fields["cache_bust"] = stamp.String()
	}

	if len(failures) == 0 {
		m.logger.WithFields(fields).Info("precache_complete")
		return nil
	}

	sort.Slice(failures, func(i, j int) bool { return failures[i].Resource < failures[j].Resource })
	batchErr := &BatchError{Generation: name, Total: len(ids), Failures: failures}
	if !essential {
		m.logger.WithFields(fields).Warn("preload_partial")
		return nil
	}
	m.logger.WithFields(fields).Error("precache_failed")
	return batchErr
}

// fetchOne 抓取单个资源并以 canonical URL 作为键写入缓存。
func (m *Manager) fetchOne(ctx context.Context, c cache.Cache, id string, stamp BustStamp, opts Options) (int64, *ResourceError) {
	fail := func(err error) (int64, *ResourceError) {
		return 0, &ResourceError{Resource: id, Err: err}
	}

	canonical, err := m.resolver.Canonical(id)
	if err != nil {
		return fail(err)
	}
	target, err := m.resolver.Bust(id, stamp)
	if err != nil {
		return fail(err)
	}
	targetURL, err := m.resolver.Resolve(target)
	if err != nil {
		return fail(err)
	}

	desc := m.builder.Build(targetURL, canonical, RequestOptions{
		BypassHTTPCache:     opts.CacheBust,
		CrossOriginTolerant: opts.CrossOrigin,
	})
	req, err := m.builder.NewHTTPRequest(ctx, desc)
	if err != nil {
		return fail(err)
	}

	resp, err := m.network.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	opaque, err := m.builder.Accept(desc, resp)
	if err != nil {
		return fail(err)
	}
	if !opaque && resp.StatusCode >= http.StatusBadRequest {
		return 0, &ResourceError{Resource: id, Status: resp.StatusCode}
	}

	entry, err := cache.Record(canonical, resp, opaque)
	if err != nil {
		return fail(err)
	}
	if err := c.Put(ctx, canonical, entry); err != nil {
		return fail(fmt.Errorf("store: %w", err))
	}
	return entry.Size(), nil
}
