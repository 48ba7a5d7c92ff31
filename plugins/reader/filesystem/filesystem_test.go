package filesystem

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rawi/pkg/contract"
)

func collect(t *testing.T, r *FileSystem, roots []string) []string {
	t.Helper()
	var ids []string
	err := r.Iterate(context.Background(), roots, func(id contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		ids = append(ids, string(id))
		return nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	return ids
}

func write(t *testing.T, p, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// TestIterateSingleFile 读取单文件
func TestIterateSingleFile(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "novel.txt")
	write(t, fp, "مها: مرحبا")
	var got []byte
	err := New(nil).Iterate(context.Background(), []string{fp}, func(id contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		if id != contract.NormalizeFileID(fp) {
			t.Fatalf("file id mismatch %s", id)
		}
		got, _ = io.ReadAll(rc)
		return nil
	})
	if err != nil || string(got) != "مها: مرحبا" {
		t.Fatalf("iterate: %v %q", err, got)
	}
}

// TestWalkOrder 目录先于文件、字典序稳定。
func TestWalkOrder(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "b.txt"), "b")
	write(t, filepath.Join(dir, "a.txt"), "a")
	write(t, filepath.Join(dir, "z", "c.txt"), "c")
	var names []string
	for _, id := range collect(t, New(nil), []string{dir}) {
		names = append(names, filepath.Base(id))
	}
	if strings.Join(names, ",") != "c.txt,a.txt,b.txt" {
		t.Fatalf("unexpected order %v", names)
	}
}

// TestExtensionsAndHidden 扩展名过滤、跳过隐藏文件，单文件 root 不受过滤影响。
func TestExtensionsAndHidden(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "keep.TXT"), "k")
	write(t, filepath.Join(dir, "notes.md"), "n")
	write(t, filepath.Join(dir, ".partial-123"), "t")
	write(t, filepath.Join(dir, ".cache", "x.txt"), "x")

	r := New(&Options{Extensions: []string{"txt"}})
	ids := collect(t, r, []string{dir})
	if len(ids) != 1 || !strings.HasSuffix(ids[0], "keep.TXT") {
		t.Fatalf("filter failed: %v", ids)
	}
	ids = collect(t, r, []string{filepath.Join(dir, "notes.md")})
	if len(ids) != 1 {
		t.Fatalf("explicit root should bypass filter: %v", ids)
	}
	ids = collect(t, New(&Options{IncludeHidden: true}), []string{dir})
	if len(ids) != 4 {
		t.Fatalf("include hidden: %v", ids)
	}
}

// TestExcludeDir 跳过目录
func TestExcludeDir(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "keep.txt"), "k")
	write(t, filepath.Join(dir, "Skip", "bad.txt"), "b")
	ids := collect(t, New(&Options{ExcludeDirNames: []string{"skip"}}), []string{dir})
	if len(ids) != 1 || !strings.Contains(ids[0], "keep.txt") {
		t.Fatalf("exclude failed: %#v", ids)
	}
}

// TestIterateDashMix 混用 '-' 返回错误
func TestIterateDashMix(t *testing.T) {
	err := New(nil).Iterate(context.Background(), []string{"-", "a"}, func(contract.FileID, io.ReadCloser) error { return nil })
	if err == nil {
		t.Fatalf("expect error for dash mix")
	}
}

// TestIterateStdin roots 为空或为 '-' 时读取 STDIN
func TestIterateStdin(t *testing.T) {
	for _, roots := range [][]string{nil, {"-"}} {
		old := os.Stdin
		pr, pw, _ := os.Pipe()
		os.Stdin = pr
		go func() {
			pw.Write([]byte("hi"))
			pw.Close()
		}()
		var data []byte
		err := New(nil).Iterate(context.Background(), roots, func(id contract.FileID, rc io.ReadCloser) error {
			defer rc.Close()
			if id != "stdin" {
				t.Fatalf("id=%s", id)
			}
			data, _ = io.ReadAll(rc)
			return nil
		})
		os.Stdin = old
		if err != nil || string(data) != "hi" {
			t.Fatalf("stdin %v: %v %q", roots, err, data)
		}
	}
}

// TestYieldErrorStops yield 返回错误时中止遍历并透传错误
func TestYieldErrorStops(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "a.txt"), "a")
	write(t, filepath.Join(dir, "b.txt"), "b")
	boom := errors.New("boom")
	n := 0
	err := New(nil).Iterate(context.Background(), []string{dir}, func(contract.FileID, io.ReadCloser) error {
		n++
		return boom
	})
	if !errors.Is(err, boom) || n != 1 {
		t.Fatalf("want boom after 1 call, got %v after %d", err, n)
	}
}

// TestIterateCtxCancel 上下文取消
func TestIterateCtxCancel(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "a.txt")
	write(t, fp, "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(nil).Iterate(ctx, []string{fp}, func(contract.FileID, io.ReadCloser) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expect ctx cancel, got %v", err)
	}
}

func TestIterateMissingRoot(t *testing.T) {
	err := New(nil).Iterate(context.Background(), []string{filepath.Join(t.TempDir(), "none")}, func(contract.FileID, io.ReadCloser) error { return nil })
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expect not exist, got %v", err)
	}
}

// TestNewBufferedCloserDefault bufSize<=0 时使用默认
func TestNewBufferedCloserDefault(t *testing.T) {
	bc := newBufferedCloser(io.NopCloser(strings.NewReader("")), 0)
	if bc.Reader == nil || bc.Size() != defaultBuf {
		t.Fatalf("unexpected buffer")
	}
	bc.Close()
}
