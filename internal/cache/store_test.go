package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"
)

func TestStorePutAndGet(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{HubName: "gateway", Path: "/ipfs/bafy/readme.md"}

	modTime := time.Now().Add(-time.Hour).UTC()
	payload := []byte("payload")
	if _, err := store.Put(context.Background(), locator, bytes.NewReader(payload), PutOptions{ModTime: modTime}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	result, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
	if result.Entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", result.Entry.SizeBytes)
	}
	if !result.Entry.ModTime.Equal(modTime) {
		t.Fatalf("modtime mismatch: expected %v got %v", modTime, result.Entry.ModTime)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), Locator{HubName: "gateway", Path: "/missing"})
	if err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRemove(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{HubName: "gateway", Path: "/cache/remove"}
	if _, err := store.Put(context.Background(), locator, bytes.NewReader([]byte("data")), PutOptions{}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := store.Remove(context.Background(), locator); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, err := store.Get(context.Background(), locator); err == nil || err != ErrNotFound {
		t.Fatalf("expected not found after remove, got %v", err)
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{HubName: "gateway", Path: "/ipfs"}

	fs, ok := store.(*fileStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}

	filePath, err := fs.entryPath(locator)
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if err := os.MkdirAll(filePath, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, err := store.Get(context.Background(), locator); err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestStoreStat(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{HubName: "gateway", Path: "/ipfs/bafy/a.txt"}
	if _, err := store.Stat(context.Background(), locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before put, got %v", err)
	}
	if _, err := store.Put(context.Background(), locator, bytes.NewReader([]byte("abc")), PutOptions{}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	entry, err := store.Stat(context.Background(), locator)
	if err != nil {
		t.Fatalf("stat error: %v", err)
	}
	if entry.SizeBytes != 3 {
		t.Fatalf("size mismatch: %d", entry.SizeBytes)
	}
	if _, err := store.Stat(context.Background(), Locator{HubName: "gateway", Path: "/ipfs/bafy"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("目录不应视为缓存条目, got %v", err)
	}
}

func TestStoreTreatsPathBelowFileAsMissing(t *testing.T) {
	store := newTestStore(t)
	file := Locator{HubName: "gateway", Path: "/ipfs/bafy/a.txt"}
	if _, err := store.Put(context.Background(), file, bytes.NewReader([]byte("abc")), PutOptions{}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	below := Locator{HubName: "gateway", Path: "/ipfs/bafy/a.txt/__qs/7caf"}
	if _, err := store.Stat(context.Background(), below); !errors.Is(err, ErrNotFound) {
		t.Fatalf("文件之下的路径应视为未缓存 (Stat), got %v", err)
	}
	if _, err := store.Get(context.Background(), below); !errors.Is(err, ErrNotFound) {
		t.Fatalf("文件之下的路径应视为未缓存 (Get), got %v", err)
	}
	if err := store.Remove(context.Background(), below); err != nil {
		t.Fatalf("删除不存在的条目不应报错: %v", err)
	}
}

func TestStoreList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, p := range []string{"/ipfs/root/b.txt", "/ipfs/root/a.txt", "/ipfs/root/sub/c.txt"} {
		if _, err := store.Put(ctx, Locator{HubName: "gateway", Path: p}, bytes.NewReader([]byte(p)), PutOptions{}); err != nil {
			t.Fatalf("put %s error: %v", p, err)
		}
	}

	items, err := store.List(ctx, Locator{HubName: "gateway", Path: "/ipfs/root/"})
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].Name != "a.txt" || items[0].Path != "/ipfs/root/a.txt" || items[0].IsDir {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if items[2].Name != "sub" || !items[2].IsDir {
		t.Fatalf("expected sub directory last, got %+v", items[2])
	}

	if _, err := store.List(ctx, Locator{HubName: "gateway", Path: "/nope"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing dir, got %v", err)
	}
	if _, err := store.List(ctx, Locator{HubName: "gateway", Path: "/ipfs/root/a.txt"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound when listing a file, got %v", err)
	}
}

func TestTTLPolicyFresh(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	policy := NewTTLPolicy(newTestStore(t), time.Hour)
	policy.now = func() time.Time { return now }

	if !policy.Fresh(Entry{ModTime: now.Add(-30 * time.Minute)}) {
		t.Fatalf("TTL 内的条目应视为新鲜")
	}
	if policy.Fresh(Entry{ModTime: now.Add(-2 * time.Hour)}) {
		t.Fatalf("超过 TTL 的条目应需要再验证")
	}
	if NewTTLPolicy(nil, 0).Fresh(Entry{ModTime: now}) {
		t.Fatalf("TTL 为 0 时不应跳过再验证")
	}
	if _, err := NewTTLPolicy(nil, time.Hour).Put(context.Background(), Locator{}, nil, PutOptions{}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
