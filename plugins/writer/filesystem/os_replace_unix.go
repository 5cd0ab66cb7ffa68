//go:build !windows

package filesystem

import "os"

// osReplace: POSIX 下 rename 同目录内原子替换目标。
func osReplace(tmpPath, dest string) error { return os.Rename(tmpPath, dest) }

// syncDir: fsync 父目录，使 rename 的元数据落盘。
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	err = d.Sync()
	if cerr := d.Close(); err == nil {
		err = cerr
	}
	return err
}
