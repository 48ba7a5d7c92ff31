package filesystem

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rawi/pkg/contract"
)

const defaultBuf = 64 * 1024

// Options 为 FileSystem Reader 的可选配置。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size,omitempty"`
	// ExcludeDirNames: 递归目录时跳过这些目录名（基名匹配，大小写不敏感）。
	ExcludeDirNames []string `json:"exclude_dir_names,omitempty"`
	// Extensions: 递归目录时仅接受这些扩展名（如 [".txt"]，大小写不敏感）；为空接受全部。
	// 显式给出的单文件 root 不受限制。
	Extensions []string `json:"extensions,omitempty"`
	// IncludeHidden: 是否接受以 '.' 开头的文件与目录（默认跳过，如写入中的 .partial-* 临时文件）。
	IncludeHidden bool `json:"include_hidden,omitempty"`
}

// FileSystem 实现基于文件系统与 STDIN 的 Reader。
type FileSystem struct {
	bufSize       int
	excludeDir    map[string]struct{}
	exts          map[string]struct{}
	includeHidden bool
}

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	r := &FileSystem{bufSize: defaultBuf, excludeDir: map[string]struct{}{}, exts: map[string]struct{}{}}
	if opts == nil {
		return r
	}
	if opts.BufSize > 0 {
		r.bufSize = opts.BufSize
	}
	for _, name := range opts.ExcludeDirNames {
		if name != "" {
			r.excludeDir[strings.ToLower(name)] = struct{}{}
		}
	}
	for _, ext := range opts.Extensions {
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.exts[strings.ToLower(ext)] = struct{}{}
	}
	r.includeHidden = opts.IncludeHidden
	return r
}

// Iterate 遍历 roots，按稳定顺序对每个常规文件调用 yield。
// roots 为空或仅包含 "-" 时读取 STDIN。yield 负责关闭 ReadCloser。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		return yield(contract.FileID("stdin"), newBufferedCloser(os.Stdin, r.bufSize))
	}
	for _, s := range roots {
		if s == "-" {
			return errors.New("stdin '-' cannot be mixed with other roots")
		}
	}
	for _, root := range roots {
		if err := r.iterateOne(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) iterateOne(ctx context.Context, root string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Lstat(root)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		// 仅跟随到常规文件；目录符号链接忽略
		t, err := os.Stat(root)
		if err != nil {
			return err
		}
		if !t.Mode().IsRegular() {
			return nil
		}
		return r.emit(root, yield)
	}
	if info.IsDir() {
		return r.walkDir(ctx, root, yield)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return r.emit(root, yield)
}

func (r *FileSystem) walkDir(ctx context.Context, dir string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	// 先目录后文件，保证输出顺序稳定
	for _, e := range entries {
		if !e.IsDir() || r.hidden(e.Name()) {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		if err := r.walkDir(ctx, filepath.Join(dir, e.Name()), yield); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() || r.hidden(e.Name()) || !r.accept(e.Name()) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				return err
			}
			if !t.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			// 设备、管道等
			continue
		}
		if err := r.emit(p, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) emit(p string, yield func(contract.FileID, io.ReadCloser) error) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	brc := newBufferedCloser(f, r.bufSize)
	if err := yield(contract.NormalizeFileID(p), brc); err != nil {
		_ = brc.Close()
		return err
	}
	return nil
}

func (r *FileSystem) hidden(name string) bool {
	return !r.includeHidden && strings.HasPrefix(name, ".")
}

func (r *FileSystem) accept(name string) bool {
	if len(r.exts) == 0 {
		return true
	}
	_, ok := r.exts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = defaultBuf
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
