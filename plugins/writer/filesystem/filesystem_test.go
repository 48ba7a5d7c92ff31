package filesystem

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rawi/pkg/contract"
)

func noTemps(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), partialPrefix) {
			t.Fatalf("tmp file not cleaned: %s", e.Name())
		}
	}
}

// TestWriteAtomicReplace 原子写入，已存在的目标被替换
func TestWriteAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, body := range []string{"v1", `{"line_id":0}` + "\n"} {
		if err := w.Write(context.Background(), "2b6fdf9d.jsonl", bytes.NewBufferString(body)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	b, err := os.ReadFile(filepath.Join(dir, "2b6fdf9d.jsonl"))
	if err != nil || string(b) != `{"line_id":0}`+"\n" {
		t.Fatalf("unexpected file %v %q", err, b)
	}
	noTemps(t, dir)
}

// TestFlatDropsDirs 扁平模式仅保留文件名
func TestFlatDropsDirs(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	if err := w.Write(context.Background(), "a/b/x.jsonl", strings.NewReader("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "x.jsonl")); err != nil {
		t.Fatalf("flat file missing: %v", err)
	}
}

// TestWritePathInvalid 路径越界
func TestWritePathInvalid(t *testing.T) {
	flat := false
	w, _ := New(&Options{OutputDir: t.TempDir(), Flat: &flat})
	for _, id := range []string{"../bad", "..", "."} {
		if err := w.Write(context.Background(), contract.ArtifactID(id), strings.NewReader("x")); !errors.Is(err, contract.ErrPathInvalid) {
			t.Fatalf("%s: expect path invalid, got %v", id, err)
		}
	}
}

// TestWriteNonAtomic 非原子写入保留子目录
func TestWriteNonAtomic(t *testing.T) {
	dir := t.TempDir()
	flat, atomic := false, false
	w, _ := New(&Options{OutputDir: dir, Flat: &flat, Atomic: &atomic})
	if err := w.Write(context.Background(), "sub/out.jsonl", strings.NewReader("v")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if b, err := os.ReadFile(filepath.Join(dir, "sub", "out.jsonl")); err != nil || string(b) != "v" {
		t.Fatalf("file not created: %v %q", err, b)
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	ctx := context.Background()
	ok, err := w.Exists(ctx, "faadc49a.jsonl")
	if err != nil || ok {
		t.Fatalf("before write: %v %v", ok, err)
	}
	if err := w.Write(ctx, "faadc49a.jsonl", strings.NewReader("")); err != nil {
		t.Fatalf("write: %v", err)
	}
	ok, err = w.Exists(ctx, "faadc49a.jsonl")
	if err != nil || !ok {
		t.Fatalf("after write: %v %v", ok, err)
	}
	flat := false
	nf, _ := New(&Options{OutputDir: dir, Flat: &flat})
	if _, err := nf.Exists(ctx, "../x"); !errors.Is(err, contract.ErrPathInvalid) {
		t.Fatalf("expect path invalid, got %v", err)
	}
}

// TestWriteCtxCancel 上下文取消
func TestWriteCtxCancel(t *testing.T) {
	w, _ := New(&Options{OutputDir: t.TempDir()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Write(ctx, "a.jsonl", strings.NewReader("data")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expect ctx error, got %v", err)
	}
}

// TestNewInvalid 参数缺失
func TestNewInvalid(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expect error for nil opts")
	}
	if _, err := New(&Options{OutputDir: "  "}); err == nil {
		t.Fatalf("expect error for empty output dir")
	}
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) { return 0, errors.New("boom") }

// TestWriteAtomicCopyError 拷贝失败时不留下目标与临时文件
func TestWriteAtomicCopyError(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	if err := w.Write(context.Background(), "a.jsonl", errReader{}); err == nil {
		t.Fatalf("expect copy error")
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Fatalf("files left %v", entries)
	}
}

// TestReaderWithCtxCancel reader 在读取前取消
func TestReaderWithCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &ctxReader{ctx: ctx, r: strings.NewReader("data")}
	cancel()
	if _, err := r.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expect ctx error")
	}
}

// TestNewSweepsStalePartials 仅清理过期的临时文件
func TestNewSweepsStalePartials(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, partialPrefix+"old")
	fresh := filepath.Join(dir, partialPrefix+"fresh")
	keep := filepath.Join(dir, "2b6fdf9d.jsonl")
	for _, p := range []string{old, fresh, keep} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	past := time.Now().Add(-2 * staleAfter)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if _, err := New(&Options{OutputDir: dir}); err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := os.Stat(old); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stale partial kept: %v", err)
	}
	for _, p := range []string{fresh, keep} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s removed: %v", filepath.Base(p), err)
		}
	}
}

// TestNewMissingDir 输出目录尚不存在时不报错，首次写入时创建
func TestNewMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sections")
	w, err := New(&Options{OutputDir: dir})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := w.Write(context.Background(), "x.jsonl", strings.NewReader("v")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if w.Root() != dir {
		t.Fatalf("root = %s", w.Root())
	}
}
