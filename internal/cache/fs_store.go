package cache

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	bodySuffix = ".body"
	metaSuffix = ".json"
)

// NewFileStorage 以 basePath 为根目录构建磁盘缓存，布局为：
//
//	<StoragePath>/<generation>/<sha1(key)>.body   # 响应正文
//	<StoragePath>/<generation>/<sha1(key)>.json   # 状态码、头部、原始 key
//
// 元数据文件最后落盘，存在即代表条目完整。
func NewFileStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStorage{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStorage 通过 entryLock 避免同一条目并发写入，同时复用 basePath。
type fileStorage struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type fileCache struct {
	storage *fileStorage
	name    string
	dir     string
}

type fileMeta struct {
	Key      string              `json:"key"`
	URL      string              `json:"url"`
	Status   int                 `json:"status"`
	Header   map[string][]string `json:"header"`
	Opaque   bool                `json:"opaque"`
	StoredAt int64               `json:"stored_at"`
}

func (s *fileStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.generationDir(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create generation %s: %w", name, err)
	}
	return &fileCache{storage: s, name: name, dir: dir}, nil
}

func (s *fileStorage) Lookup(ctx context.Context, name string) (Cache, error) {
	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("generation %s: %w", name, ErrNotFound)
	}
	dir, _ := s.generationDir(name)
	return &fileCache{storage: s, name: name, dir: dir}, nil
}

func (s *fileStorage) Has(ctx context.Context, name string) (bool, error) {
	dir, err := s.generationDir(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *fileStorage) Delete(ctx context.Context, name string) (bool, error) {
	ok, err := s.Has(ctx, name)
	if err != nil || !ok {
		return false, err
	}
	dir, _ := s.generationDir(name)
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("delete generation %s: %w", name, err)
	}
	return true, nil
}

func (s *fileStorage) Names(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStorage) Close() error {
	return nil
}

func (s *fileStorage) generationDir(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	dir := filepath.Join(s.basePath, name)
	if filepath.Dir(dir) != s.basePath {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return dir, nil
}

func (c *fileCache) Name() string {
	return c.name
}

func (c *fileCache) Put(ctx context.Context, key string, resp *Response) error {
	if resp == nil {
		return errors.New("nil response")
	}
	unlock := c.storage.lockEntry(c.name, key)
	defer unlock()

	base := c.entryPath(key)
	if err := writeAtomic(ctx, base+bodySuffix, bytes.NewReader(resp.Body)); err != nil {
		return err
	}

	meta := fileMeta{
		Key:      key,
		URL:      resp.URL,
		Status:   resp.Status,
		Header:   resp.Header,
		Opaque:   resp.Opaque,
		StoredAt: resp.StoredAt.UnixNano(),
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return writeAtomic(ctx, base+metaSuffix, bytes.NewReader(raw))
}

func (c *fileCache) Match(ctx context.Context, key string) (*Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	base := c.entryPath(key)
	meta, err := readMeta(base + metaSuffix)
	if err != nil {
		return nil, err
	}
	if meta.Key != key {
		return nil, ErrNotFound
	}
	body, err := os.ReadFile(base + bodySuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return meta.response(body), nil
}

func (c *fileCache) Keys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), metaSuffix) {
			continue
		}
		meta, err := readMeta(filepath.Join(c.dir, entry.Name()))
		if err != nil {
			continue
		}
		keys = append(keys, meta.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *fileCache) entryPath(key string) string {
	sum := sha1.Sum([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:]))
}

func (m fileMeta) response(body []byte) *Response {
	resp := &Response{
		Key:    m.Key,
		URL:    m.URL,
		Status: m.Status,
		Header: m.Header,
		Body:   body,
		Opaque: m.Opaque,
	}
	if m.StoredAt > 0 {
		resp.StoredAt = unixNano(m.StoredAt)
	}
	return resp
}

func readMeta(path string) (fileMeta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fileMeta{}, ErrNotFound
		}
		return fileMeta{}, err
	}
	var meta fileMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return fileMeta{}, fmt.Errorf("decode entry meta %s: %w", filepath.Base(path), err)
	}
	return meta, nil
}

// writeAtomic 通过临时文件 + rename 保证写入原子性，失败时清理临时文件。
func writeAtomic(ctx context.Context, filePath string, body io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStorage) lockEntry(name, key string) func() {
	lockKey := name + "::" + key
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
