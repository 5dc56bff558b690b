package cache

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Backend 名称与配置中的 StorageBackend 对应。
const (
	BackendFS      = "fs"
	BackendLevelDB = "leveldb"
	BackendValkey  = "valkey"
)

// Options 汇总构建 Storage 所需的参数。
type Options struct {
	Backend string
	Path    string
	Valkey  ValkeyOptions
}

// NewStorage 根据 Backend 选择具体实现，空值默认使用文件系统。
func NewStorage(opts Options) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendFS:
		return NewFileStorage(opts.Path)
	case BackendLevelDB:
		return NewLevelDBStorage(filepath.Join(opts.Path, "leveldb"))
	case BackendValkey:
		return NewValkeyStorage(opts.Valkey)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", opts.Backend)
	}
}
