package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"metagraph/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStore_PutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	info, err := store.Put(ctx, "docs/scene.json", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"k": "v"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "docs/scene.json" || info.Size != 5 {
		t.Fatalf("unexpected info %+v", info)
	}
	h, err := store.Head(ctx, "docs/scene.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	g, rc, err := store.Get(ctx, "docs/scene.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(b) != "hello" || g.ETag != h.ETag || g.Metadata["k"] != "v" {
		t.Fatalf("unexpected get artifacts %+v", g)
	}
	list, err := store.List(ctx, "docs/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "docs/scene.json" {
		t.Fatalf("unexpected list %+v", list)
	}
	ok, err := store.Delete(ctx, "docs/scene.json")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = store.Delete(ctx, "docs/scene.json")
	if err != nil || ok {
		t.Fatalf("second delete should be false")
	}
	if _, err := store.Head(ctx, "docs/scene.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_PutReplacesAndIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	first, err := store.Put(ctx, "k.txt", bytes.NewReader([]byte("one")), core.PutOptions{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	second, err := store.Put(ctx, "k.txt", bytes.NewReader([]byte("two!")), core.PutOptions{})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if first.ETag == second.ETag || second.Size != 4 {
		t.Fatalf("expected replaced blob: %+v", second)
	}
	if _, err := store.Put(ctx, "k.txt", bytes.NewReader([]byte("x")), core.PutOptions{IfAbsent: true}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

type errorReader struct{}

func (errorReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestStore_PutCopyErrorLeavesNothing(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, err := store.Put(ctx, "bad.bin", errorReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected copy error")
	}
	if list, err := store.List(ctx, ""); err != nil || len(list) != 0 {
		t.Fatalf("expected empty store: %v %v", list, err)
	}
}

func TestStore_ListOrderAndPrefix(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for i := 2; i >= 0; i-- {
		k := "folder/f" + strconv.Itoa(i) + ".txt"
		if _, err := store.Put(ctx, k, bytes.NewReader([]byte("data")), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	if _, err := store.Put(ctx, "elsewhere.txt", bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	list, err := store.List(ctx, "folder/")
	if err != nil || len(list) != 3 {
		t.Fatalf("list: %v len=%d", err, len(list))
	}
	for i, info := range list {
		if info.Key != "folder/f"+strconv.Itoa(i)+".txt" {
			t.Fatalf("unexpected order %+v", list)
		}
	}
}

func TestStore_MissingSidecar(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, err := store.Put(ctx, "a.txt", bytes.NewReader([]byte("a")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, metaPath, _ := store.pathFor("a.txt")
	if err := os.Remove(metaPath); err != nil {
		t.Fatalf("rm meta: %v", err)
	}
	if _, _, err := store.Get(ctx, "a.txt"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
}

func TestStore_CorruptSidecarFailsList(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	data := filepath.Join(dir, "bad.txt")
	if err := os.WriteFile(data, []byte("data"), 0o644); err != nil {
		t.Fatalf("write data: %v", err)
	}
	if err := os.WriteFile(data+metaSuffix, []byte("{"), 0o644); err != nil {
		t.Fatalf("write meta: %v", err)
	}
	if _, err := store.List(context.Background(), ""); err == nil {
		t.Fatalf("expected list error on corrupt meta")
	}
}

func TestSanitizeKeyErrors(t *testing.T) {
	for _, key := range []string{"", "  ", "../escape", "/abs", "a/../b", "x.meta"} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
	if got, err := sanitizeKey("a//b/./c"); err != nil || got != "a/b/c" {
		t.Fatalf("unexpected clean key %q %v", got, err)
	}
}

func TestNewRejectsFileRoot(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "afile")
	if err := os.WriteFile(filePath, []byte("x"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := New(filePath); err == nil {
		t.Fatalf("expected error when root is file")
	}
}
