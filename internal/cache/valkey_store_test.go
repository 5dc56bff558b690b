package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	valkeylib "github.com/valkey-io/valkey-go"
	"github.com/valkey-io/valkey-go/mock"
	"go.uber.org/mock/gomock"
)

const testValkeyPrefix = "offline-hub:"

func newMockValkeyStorage(t *testing.T) (*valkeyStorage, *mock.Client) {
	t.Helper()
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)
	return &valkeyStorage{client: client, prefix: testValkeyPrefix}, client
}

func TestValkeyStoragePutAndMatch(t *testing.T) {
	storage, client := newMockValkeyStorage(t)
	ctx := context.Background()
	entry := &Response{
		Key:    "http://origin.local/a.css",
		Status: http.StatusOK,
		Header: http.Header{"Link": []string{"<a>; rel=preload", "<b>; rel=preload"}},
		Body:   []byte("body{}"),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	gomock.InOrder(
		client.EXPECT().Do(gomock.Any(), mock.Match("SADD", testValkeyPrefix+"generations", "site-v1")).
			Return(mock.Result(mock.ValkeyInt64(1))),
		client.EXPECT().Do(gomock.Any(), mock.Match("HSET", testValkeyPrefix+"gen:site-v1", entry.Key, string(data))).
			Return(mock.Result(mock.ValkeyInt64(1))),
		client.EXPECT().Do(gomock.Any(), mock.Match("HGET", testValkeyPrefix+"gen:site-v1", entry.Key)).
			Return(mock.Result(mock.ValkeyBlobString(string(data)))),
		client.EXPECT().Do(gomock.Any(), mock.Match("HKEYS", testValkeyPrefix+"gen:site-v1")).
			Return(mock.Result(mock.ValkeyArray(mock.ValkeyBlobString(entry.Key)))),
	)

	c, err := storage.Open(ctx, "site-v1")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	if err := c.Put(ctx, entry.Key, entry); err != nil {
		t.Fatalf("put error: %v", err)
	}
	got, err := c.Match(ctx, entry.Key)
	if err != nil {
		t.Fatalf("match error: %v", err)
	}
	if string(got.Body) != "body{}" || len(got.Header.Values("Link")) != 2 {
		t.Fatalf("cached entry mismatch: %+v", got)
	}
	keys, err := c.Keys(ctx)
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(keys) != 1 || keys[0] != entry.Key {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestValkeyStorageMatchMissing(t *testing.T) {
	storage, client := newMockValkeyStorage(t)
	client.EXPECT().Do(gomock.Any(), mock.Match("HGET", testValkeyPrefix+"gen:site-v1", "k")).
		Return(mock.Result(mock.ValkeyNil()))

	c := &valkeyCache{storage: storage, name: "site-v1"}
	if _, err := c.Match(context.Background(), "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestValkeyStorageDeleteGeneration(t *testing.T) {
	storage, client := newMockValkeyStorage(t)
	ctx := context.Background()

	gomock.InOrder(
		client.EXPECT().Do(gomock.Any(), mock.Match("SISMEMBER", testValkeyPrefix+"generations", "site-v1")).
			Return(mock.Result(mock.ValkeyInt64(1))),
		client.EXPECT().DoMulti(gomock.Any(),
			mock.Match("DEL", testValkeyPrefix+"gen:site-v1"),
			mock.Match("SREM", testValkeyPrefix+"generations", "site-v1"),
		).Return([]valkeylib.ValkeyResult{
			mock.Result(mock.ValkeyInt64(1)),
			mock.Result(mock.ValkeyInt64(1)),
		}),
		client.EXPECT().Do(gomock.Any(), mock.Match("SISMEMBER", testValkeyPrefix+"generations", "site-v1")).
			Return(mock.Result(mock.ValkeyInt64(0))),
	)

	deleted, err := storage.Delete(ctx, "site-v1")
	if err != nil || !deleted {
		t.Fatalf("expected delete, got %v %v", deleted, err)
	}
	deleted, err = storage.Delete(ctx, "site-v1")
	if err != nil || deleted {
		t.Fatalf("second delete should be a no-op, got %v %v", deleted, err)
	}
}

func TestValkeyStorageLookupDoesNotCreate(t *testing.T) {
	storage, client := newMockValkeyStorage(t)
	// 只允许 SISMEMBER，出现 SADD 会被 gomock 判定为意外调用。
	client.EXPECT().Do(gomock.Any(), mock.Match("SISMEMBER", testValkeyPrefix+"generations", "site-v0")).
		Return(mock.Result(mock.ValkeyInt64(0)))

	if _, err := storage.Lookup(context.Background(), "site-v0"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestValkeyStorageNamesSorted(t *testing.T) {
	storage, client := newMockValkeyStorage(t)
	client.EXPECT().Do(gomock.Any(), mock.Match("SMEMBERS", testValkeyPrefix+"generations")).
		Return(mock.Result(mock.ValkeyArray(
			mock.ValkeyBlobString("site-v2"),
			mock.ValkeyBlobString("images-v1"),
		)))

	names, err := storage.Names(context.Background())
	if err != nil {
		t.Fatalf("names error: %v", err)
	}
	if len(names) != 2 || names[0] != "images-v1" || names[1] != "site-v2" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestValkeyStorageRejectsInvalidNames(t *testing.T) {
	storage, _ := newMockValkeyStorage(t)
	if _, err := storage.Open(context.Background(), "a/b"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}
