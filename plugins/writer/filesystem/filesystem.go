package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"htmldedup/pkg/contract"
)

// BackupExt 为覆盖前备份文件的后缀。
const BackupExt = ".bak.xz"

// Options 为文件系统 Writer 的配置。
type Options struct {
	// OutputDir: 输出根目录；为空表示原地写回（目标即 FileID 对应的路径）。
	OutputDir string `json:"output_dir"`
	// Atomic: 同目录临时文件 + rename。默认 true，显式 false 关闭。
	Atomic *bool `json:"atomic,omitempty"`
	// Flat: 仅在 OutputDir 非空时生效，只保留文件名。默认 true。
	Flat *bool `json:"flat,omitempty"`
	// Backup: 覆盖已有文件前，将原内容以 xz 压缩写到 <dest>.bak.xz。
	Backup bool `json:"backup"`
	// PermFile/PermDir: 0 表示默认（原地写回时沿用原文件权限）。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用默认 64KiB。
	BufSize int `json:"buf_size,omitempty"`
}

// FS 实现 contract.Writer。
type FS struct {
	root    string
	atomic  bool
	flat    bool
	backup  bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
	// stdout 接收 FileID 为 stdin 的文档（原地模式下无文件可写回）。
	stdout io.Writer
}

// New 创建文件系统 Writer。
func New(opts *Options) (*FS, error) {
	if opts == nil {
		opts = &Options{}
	}
	w := &FS{
		root:    strings.TrimSpace(opts.OutputDir),
		atomic:  true,
		flat:    true,
		backup:  opts.Backup,
		permF:   opts.PermFile,
		permD:   opts.PermDir,
		bufSize: opts.BufSize,
		stdout:  os.Stdout,
	}
	if w.bufSize <= 0 {
		w.bufSize = 64 * 1024
	}
	if w.permD == 0 {
		w.permD = 0o755
	}
	if opts.Flat != nil {
		w.flat = *opts.Flat
	}
	if opts.Atomic != nil {
		w.atomic = *opts.Atomic
	}
	return w, nil
}

var _ contract.Writer = (*FS)(nil)

// InPlace 报告是否原地写回。
func (w *FS) InPlace() bool { return w.root == "" }

// Write 将 r 的全部字节写入 id 映射的目标路径。
func (w *FS) Write(ctx context.Context, id contract.FileID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == contract.StdinID && w.InPlace() {
		_, err := io.Copy(w.stdout, readerWithCtx(ctx, r))
		return err
	}
	dest, err := w.mapPath(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return err
	}
	perm := w.permF
	if info, err := os.Stat(dest); err == nil {
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%s: not a regular file: %w", dest, contract.ErrPathInvalid)
		}
		if perm == 0 {
			perm = info.Mode().Perm()
		}
		if w.backup {
			if err := writeBackup(dest, w.permOr(perm)); err != nil {
				return fmt.Errorf("backup %s: %w", dest, err)
			}
		}
	}
	perm = w.permOr(perm)
	if w.atomic {
		return w.writeAtomic(ctx, dest, perm, r)
	}
	return w.writeOverwrite(ctx, dest, perm, r)
}

func (w *FS) permOr(p os.FileMode) os.FileMode {
	if p == 0 {
		return 0o644
	}
	return p
}

// mapPath: 原地模式直接使用 FileID；输出目录模式 Clean + Join + 越界校验。
func (w *FS) mapPath(id contract.FileID) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(string(id)))
	if rel == "." || rel == "" {
		return "", contract.ErrPathInvalid
	}
	if w.InPlace() {
		return rel, nil
	}
	if w.flat {
		rel = filepath.Base(rel)
		if rel == "." || rel == ".." || rel == string(filepath.Separator) {
			return "", contract.ErrPathInvalid
		}
		return filepath.Join(w.root, rel), nil
	}
	// 非扁平：禁止绝对路径、父级逃逸、Windows 卷名
	if filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", contract.ErrPathInvalid
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

// writeBackup 将 dest 当前内容压缩为 dest+BackupExt（覆盖旧备份）。
func writeBackup(dest string, perm os.FileMode) error {
	src, err := os.Open(dest)
	if err != nil {
		return err
	}
	defer src.Close()
	out, err := os.OpenFile(dest+BackupExt, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	xw, err := xz.NewWriter(out)
	if err != nil {
		_ = out.Close()
		return err
	}
	if _, err := io.Copy(xw, src); err != nil {
		_ = xw.Close()
		_ = out.Close()
		return err
	}
	if err := xw.Close(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func (w *FS) writeOverwrite(ctx context.Context, dest string, perm os.FileMode, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriterSize(f, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return err
	}
	return bw.Flush()
}

func (w *FS) writeAtomic(ctx context.Context, dest string, perm os.FileMode, r io.Reader) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".htmldedup-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	_ = os.Chmod(tmpPath, perm)

	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := osReplace(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 最佳努力：同步父目录元数据
	_ = syncDir(dir)
	return nil
}

// readerWithCtx: 每次 Read 前检查 ctx。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

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
