package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// leveldb 键布局：
//
//	g:<generation>               -> 创建时间（unix 秒）
//	e:<generation>\x00<key>      -> gob(Response)
const (
	levelGenPrefix   = "g:"
	levelEntryPrefix = "e:"
)

// NewLevelDBStorage 在 path 下打开（或创建）leveldb 数据库作为 generation 存储。
func NewLevelDBStorage(path string) (Storage, error) {
	if path == "" {
		return nil, errors.New("storage path required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &levelStorage{db: db}, nil
}

type levelStorage struct {
	db *leveldb.DB
}

type levelCache struct {
	db   *leveldb.DB
	name string
}

func (s *levelStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	marker := []byte(levelGenPrefix + name)
	ok, err := s.db.Has(marker, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		stamp := strconv.FormatInt(time.Now().Unix(), 10)
		if err := s.db.Put(marker, []byte(stamp), nil); err != nil {
			return nil, fmt.Errorf("create generation %s: %w", name, err)
		}
	}
	return &levelCache{db: s.db, name: name}, nil
}

func (s *levelStorage) Lookup(ctx context.Context, name string) (Cache, error) {
	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("generation %s: %w", name, ErrNotFound)
	}
	return &levelCache{db: s.db, name: name}, nil
}

func (s *levelStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	return s.db.Has([]byte(levelGenPrefix+name), nil)
}

func (s *levelStorage) Delete(ctx context.Context, name string) (bool, error) {
	ok, err := s.Has(ctx, name)
	if err != nil || !ok {
		return false, err
	}

	batch := new(leveldb.Batch)
	batch.Delete([]byte(levelGenPrefix + name))

	it := s.db.NewIterator(util.BytesPrefix(entryPrefix(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}

	if err := s.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("delete generation %s: %w", name, err)
	}
	return true, nil
}

func (s *levelStorage) Names(ctx context.Context) ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(levelGenPrefix)), nil)
	defer it.Release()

	var names []string
	for it.Next() {
		names = append(names, string(bytes.TrimPrefix(it.Key(), []byte(levelGenPrefix))))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *levelStorage) Close() error {
	return s.db.Close()
}

func (c *levelCache) Name() string {
	return c.name
}

func (c *levelCache) Put(ctx context.Context, key string, resp *Response) error {
	if resp == nil {
		return errors.New("nil response")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := encodeGob(*resp)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return c.db.Put(c.entryKey(key), b, nil)
}

func (c *levelCache) Match(ctx context.Context, key string) (*Response, error) {
	b, err := c.db.Get(c.entryKey(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var resp Response
	if err := decodeGob(b, &resp); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &resp, nil
}

func (c *levelCache) Keys(ctx context.Context) ([]string, error) {
	prefix := entryPrefix(c.name)
	it := c.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var keys []string
	for it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (c *levelCache) entryKey(key string) []byte {
	return append(entryPrefix(c.name), key...)
}

func entryPrefix(name string) []byte {
	return []byte(levelEntryPrefix + name + "\x00")
}
