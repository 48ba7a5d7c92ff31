// Package filesystem 将产物写入本地目录：每个产物一个文件，默认经临时文件 + fsync + rename 原子落盘。
//
// 中断的运行会在输出目录留下 ".partial-" 前缀的临时文件；New 会清理其中超过
// staleAfter 的残留，较新的可能属于仍在运行的进程，保留不动。
package filesystem

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"rawi/pkg/contract"
)

const (
	partialPrefix = ".partial-"
	staleAfter    = 10 * time.Minute
	defaultBuf    = 64 << 10
)

// Options: 写入选项。
type Options struct {
	// OutputDir: 输出根目录（必需）。
	OutputDir string `json:"output_dir"`
	// Atomic: 默认 true；false 时直接截断写目标文件。
	Atomic *bool `json:"atomic,omitempty"`
	// Flat: 默认 true，只保留 ArtifactID 的文件名部分。
	Flat *bool `json:"flat,omitempty"`
	// PermFile/PermDir: 0 表示 0644/0755。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用 64KiB。
	BufSize int `json:"buf_size,omitempty"`
}

// FS 为文件系统 Writer，同时实现 contract.Stater。
type FS struct {
	root    string
	atomic  bool
	flat    bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

var (
	_ contract.Writer = (*FS)(nil)
	_ contract.Stater = (*FS)(nil)
)

// New 创建文件系统 Writer，并清理根目录下过期的临时文件。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, os.ErrInvalid
	}
	w := &FS{
		root:    opts.OutputDir,
		atomic:  opts.Atomic == nil || *opts.Atomic,
		flat:    opts.Flat == nil || *opts.Flat,
		permF:   orMode(opts.PermFile, 0o644),
		permD:   orMode(opts.PermDir, 0o755),
		bufSize: opts.BufSize,
	}
	if w.bufSize <= 0 {
		w.bufSize = defaultBuf
	}
	w.sweep(time.Now().Add(-staleAfter))
	return w, nil
}

func orMode(m, def os.FileMode) os.FileMode {
	if m == 0 {
		return def
	}
	return m
}

// Root 返回输出根目录。
func (w *FS) Root() string { return w.root }

// Write 将 r 的全部内容写到 id 对应的文件。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := w.resolve(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return err
	}
	src := &ctxReader{ctx: ctx, r: r}
	if !w.atomic {
		return w.overwrite(dest, src)
	}
	return w.replace(dest, src)
}

// Exists 只看目标是否存在（断点续跑的完成标记），不校验内容。
func (w *FS) Exists(ctx context.Context, id contract.ArtifactID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dest, err := w.resolve(id)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dest); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// resolve 将 ArtifactID 映射到 root 下的路径；越界返回 ErrPathInvalid。
func (w *FS) resolve(id contract.ArtifactID) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(string(id)))
	if w.flat {
		rel = filepath.Base(rel)
	}
	sep := string(filepath.Separator)
	switch {
	case rel == ".", rel == "..", rel == sep:
		return "", contract.ErrPathInvalid
	case filepath.IsAbs(rel), filepath.VolumeName(rel) != "":
		return "", contract.ErrPathInvalid
	case strings.HasPrefix(rel, ".."+sep):
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

func (w *FS) overwrite(dest string, src io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return err
	}
	if err := w.fill(f, src); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// replace: 同目录临时文件写满并 fsync 后 rename 覆盖目标。任一步失败都不留下临时文件。
func (w *FS) replace(dest string, src io.Reader) (err error) {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, partialPrefix+"*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = tmp.Chmod(w.permF); err != nil && runtime.GOOS != "windows" {
		return err
	}
	if err = w.fill(tmp, src); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), dest); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

func (w *FS) fill(f *os.File, src io.Reader) error {
	bw := bufio.NewWriterSize(f, w.bufSize)
	if _, err := io.Copy(bw, src); err != nil {
		return err
	}
	return bw.Flush()
}

// sweep 删除 root 下修改时间早于 cutoff 的临时文件；目录不存在或不可读时静默返回。
func (w *FS) sweep(cutoff time.Time) int {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), partialPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(w.root, e.Name())) == nil {
			n++
		}
	}
	return n
}

// syncDir: 尽力同步父目录，使 rename 在崩溃后可见。
func syncDir(dir string) {
	if runtime.GOOS == "windows" {
		return
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
}

// ctxReader 每次 Read 前检查 ctx，使大文件写入可被取消。
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
