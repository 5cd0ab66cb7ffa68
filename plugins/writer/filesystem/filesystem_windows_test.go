//go:build windows

package filesystem

import (
	"testing"

	"htmldedup/pkg/contract"
)

// TestMapPathInvalidWindows 非扁平输出目录模式下拒绝卷名路径与逃逸
func TestMapPathInvalidWindows(t *testing.T) {
	dir := t.TempDir()
	flat := false
	w, _ := New(&Options{OutputDir: dir, Flat: &flat})
	cases := []string{"C:\\abs\\lp.html", "..", ".", "..\\x.html"}
	for _, id := range cases {
		if _, err := w.mapPath(contract.FileID(id)); err != contract.ErrPathInvalid {
			t.Fatalf("id %s expect invalid", id)
		}
	}
}