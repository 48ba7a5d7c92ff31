//go:build !windows

package filesystem

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"rawi/pkg/contract"
)

// TestWalkDirNonRegular 管道等非常规文件被忽略
func TestWalkDirNonRegular(t *testing.T) {
	root := t.TempDir()
	if err := syscall.Mkfifo(filepath.Join(root, "fifo.txt"), 0o644); err != nil {
		t.Fatalf("mkfifo: %v", err)
	}
	if ids := collect(t, New(nil), []string{root}); len(ids) != 0 {
		t.Fatalf("non-regular should skip, visited %#v", ids)
	}
}

// TestSymlinks 文件符号链接被跟随，目录符号链接被忽略。
func TestSymlinks(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "real", "novel.txt")
	write(t, target, "ok")
	if err := os.Symlink(target, filepath.Join(root, "link.txt")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "dirlink")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	ids := collect(t, New(nil), []string{filepath.Join(root, "link.txt")})
	if len(ids) != 1 || filepath.Base(ids[0]) != "link.txt" {
		t.Fatalf("file symlink not visited: %v", ids)
	}
	if ids := collect(t, New(nil), []string{filepath.Join(root, "dirlink")}); len(ids) != 0 {
		t.Fatalf("dir symlink root visited: %v", ids)
	}
	// real/novel.txt 与 link.txt 各一次；dirlink 不展开
	if ids := collect(t, New(nil), []string{root}); len(ids) != 2 {
		t.Fatalf("walk: %v", ids)
	}
}

// TestIterateSymlinkDangling 符号链接失效返回错误
func TestIterateSymlinkDangling(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "dangling")
	os.Symlink(filepath.Join(dir, "no"), link)
	err := New(nil).Iterate(context.Background(), []string{link}, func(contract.FileID, io.ReadCloser) error { return nil })
	if err == nil {
		t.Fatalf("expect error for dangling symlink")
	}
}
