package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"
)

const defaultValkeyConnectTimeout = 5 * time.Second

// ValkeyOptions 描述共享 valkey 存储的连接参数。
type ValkeyOptions struct {
	Address        string
	Password       string
	DB             int
	KeyPrefix      string
	ConnectTimeout time.Duration
}

// NewValkeyStorage 连接 valkey 并在启动时 ping 一次，键布局：
//
//	<prefix>generations          SET  所有 generation 名称
//	<prefix>gen:<generation>     HASH key -> JSON(Response)
func NewValkeyStorage(opts ValkeyOptions) (Storage, error) {
	if strings.TrimSpace(opts.Address) == "" {
		return nil, errors.New("valkey address required")
	}
	clientOpts := valkeylib.ClientOption{
		InitAddress: []string{opts.Address},
		SelectDB:    opts.DB,
	}
	if opts.Password != "" {
		clientOpts.Password = opts.Password
	}

	client, err := valkeylib.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	timeout := opts.ConnectTimeout
	if timeout == 0 {
		timeout = defaultValkeyConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping valkey (timeout: %v): %w", timeout, err)
	}

	prefix := opts.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &valkeyStorage{client: client, prefix: prefix}, nil
}

type valkeyStorage struct {
	client valkeylib.Client
	prefix string
}

type valkeyCache struct {
	storage *valkeyStorage
	name    string
}

func (s *valkeyStorage) setKey() string {
	return s.prefix + "generations"
}

func (s *valkeyStorage) hashKey(name string) string {
	return s.prefix + "gen:" + name
}

func (s *valkeyStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	cmd := s.client.B().Sadd().Key(s.setKey()).Member(name).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return nil, fmt.Errorf("create generation %s: %w", name, err)
	}
	return &valkeyCache{storage: s, name: name}, nil
}

func (s *valkeyStorage) Lookup(ctx context.Context, name string) (Cache, error) {
	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("generation %s: %w", name, ErrNotFound)
	}
	return &valkeyCache{storage: s, name: name}, nil
}

func (s *valkeyStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	cmd := s.client.B().Sismember().Key(s.setKey()).Member(name).Build()
	return s.client.Do(ctx, cmd).AsBool()
}

func (s *valkeyStorage) Delete(ctx context.Context, name string) (bool, error) {
	ok, err := s.Has(ctx, name)
	if err != nil || !ok {
		return false, err
	}
	results := s.client.DoMulti(ctx,
		s.client.B().Del().Key(s.hashKey(name)).Build(),
		s.client.B().Srem().Key(s.setKey()).Member(name).Build(),
	)
	for _, res := range results {
		if err := res.Error(); err != nil {
			return false, fmt.Errorf("delete generation %s: %w", name, err)
		}
	}
	return true, nil
}

func (s *valkeyStorage) Names(ctx context.Context) ([]string, error) {
	cmd := s.client.B().Smembers().Key(s.setKey()).Build()
	names, err := s.client.Do(ctx, cmd).AsStrSlice()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *valkeyStorage) Close() error {
	s.client.Close()
	return nil
}

func (c *valkeyCache) Name() string {
	return c.name
}

func (c *valkeyCache) Put(ctx context.Context, key string, resp *Response) error {
	if resp == nil {
		return errors.New("nil response")
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	client := c.storage.client
	cmd := client.B().Hset().Key(c.storage.hashKey(c.name)).FieldValue().FieldValue(key, string(data)).Build()
	if err := client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}
	return nil
}

func (c *valkeyCache) Match(ctx context.Context, key string) (*Response, error) {
	client := c.storage.client
	cmd := client.B().Hget().Key(c.storage.hashKey(c.name)).Field(key).Build()
	data, err := client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &resp, nil
}

func (c *valkeyCache) Keys(ctx context.Context) ([]string, error) {
	client := c.storage.client
	cmd := client.B().Hkeys().Key(c.storage.hashKey(c.name)).Build()
	keys, err := client.Do(ctx, cmd).AsStrSlice()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
