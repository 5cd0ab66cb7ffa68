package diag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"htmldedup/pkg/contract"
)

// 日志轮转写入
func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 30)
	if _, err := w.Write([]byte("first line that is very long\n")); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if _, err := w.Write([]byte("second\n")); err != nil {
		t.Fatalf("第二次写入失败: %v", err)
	}
	defer w.Close()
	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("读取目录失败: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("应存在轮转文件, got %d", len(files))
	}
}

func TestRotatingFileRotateFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 10)
	defer w.Close()
	for i := 0; i < 5; i++ {
		if _, err := w.Write([]byte("xxxxxxxxxxxxxxxxxx\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	hasCurrent, hasRotated := false, false
	for _, e := range ents {
		if e.Name() == "htmldedup-current.txt" {
			hasCurrent = true
		}
		if strings.HasPrefix(e.Name(), "htmldedup-") && strings.HasSuffix(e.Name(), ".txt") && !strings.Contains(e.Name(), "current") {
			hasRotated = true
		}
	}
	if !hasCurrent || !hasRotated {
		t.Fatalf("expect both current and rotated files, got current=%v rotated=%v", hasCurrent, hasRotated)
	}
	// 单行不被拆分：当前文件仅含完整行
	b, err := os.ReadFile(w.CurrentPath())
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if string(b) != "xxxxxxxxxxxxxxxxxx\n" {
		t.Fatalf("current file = %q", b)
	}
}

func TestRotatingFileEnsureAndRotate(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 1024)
	if err := w.ensureOpen(); err != nil {
		t.Fatalf("ensureOpen: %v", err)
	}
	if w.f == nil {
		t.Fatalf("file should be opened")
	}
	if err := w.rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(ents) < 2 {
		t.Fatalf("expect rotated + current, got %d", len(ents))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// 关闭后再写会重新打开
	if _, err := w.Write([]byte("again\n")); err != nil {
		t.Fatalf("write after close: %v", err)
	}
	_ = w.Close()
}

func TestRotatingFileDefaultsAndRotateNoOpen(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 0)
	if w.maxBytes != 10*1024*1024 {
		t.Fatalf("default maxBytes = %d", w.maxBytes)
	}
	if _, err := w.Write([]byte("a\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()
	if err := w.rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	_ = w.Close()
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, CodeUnknown},
		{context.Canceled, CodeCancel},
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), CodeCancel},
		{fmt.Errorf("p: %w", contract.ErrPatternInvalid), CodePattern},
		{contract.ErrUnbalancedMarkers, CodePattern},
		{contract.ErrUnterminatedBlock, CodePattern},
		{contract.ErrInvariantViolation, CodeInvariant},
		{contract.ErrInvalidInput, CodeInvariant},
		{contract.ErrPathInvalid, CodeInvariant},
		{&fs.PathError{Op: "open", Path: "x", Err: fs.ErrNotExist}, CodeIO},
		{errors.New("other"), CodeUnknown},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Fatalf("Classify(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestNowUTC(t *testing.T) {
	if _, err := time.Parse(time.RFC3339, NowUTC()); err != nil {
		t.Fatalf("NowUTC not RFC3339: %v", err)
	}
}

func decodeLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ln := range bytes.Split(bytes.TrimSpace(b), []byte("\n")) {
		if len(ln) == 0 {
			continue
		}
		m := map[string]any{}
		if err := json.Unmarshal(ln, &m); err != nil {
			t.Fatalf("invalid json line %q: %v", ln, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := New("corr-1", Options{Level: "info", Writer: &buf})
	tm := l.StartWithKV("pass", "apply", "a.html", "modal", map[string]string{"z": "1", "a": "2"})
	tm.Finish("apply", 3)
	l.Warn("pass", "pattern", "unbalanced", "a.html", "", nil)

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 3 {
		t.Fatalf("want 3 lines, got %d: %s", len(lines), buf.String())
	}
	start := lines[0]
	if start["corr_id"] != "corr-1" || start["comp"] != "pass" || start["stage"] != "start" {
		t.Fatalf("start fields: %v", start)
	}
	if start["file_id"] != "a.html" || start["pass"] != "modal" {
		t.Fatalf("ids: %v", start)
	}
	kv, ok := start["kv"].(map[string]any)
	if !ok || kv["a"] != "2" || kv["z"] != "1" {
		t.Fatalf("kv: %v", start["kv"])
	}
	if lines[1]["stage"] != "finish" || lines[1]["count"] != float64(3) {
		t.Fatalf("finish: %v", lines[1])
	}
	if lines[2]["level"] != "warn" || lines[2]["code"] != "pattern" {
		t.Fatalf("warn: %v", lines[2])
	}
}

func TestLoggerLevelsAndFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New("c", Options{Level: "warn", Writer: &buf})
	l.Start("comp", "msg").Finish("msg", 0)
	l.Debug("comp", "msg", "f", "b", nil)
	if buf.Len() != 0 {
		t.Fatalf("info/debug should be filtered at warn: %s", buf.String())
	}
	start := time.Now().Add(-10 * time.Millisecond)
	l.Error("comp", "code", "msg", &start)
	l.ErrorWith("comp", "code", "msg", &start, "f", "b")
	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 2 {
		t.Fatalf("want 2 error lines, got %d", len(lines))
	}
	if d, _ := lines[0]["dur_ms"].(float64); d < 10 {
		t.Fatalf("dur_ms = %v", lines[0]["dur_ms"])
	}

	var dbg bytes.Buffer
	New("c", Options{Level: "debug", Writer: &dbg}).Debug("comp", "spans", "f", "", map[string]string{"n": "2"})
	if !strings.Contains(dbg.String(), `"stage":"debug"`) {
		t.Fatalf("debug line missing: %s", dbg.String())
	}

	var tnil *Timer
	tnil.Finish("x", 0)
	(&Timer{}).Finish("x", 0)
	var lnil *Logger
	lnil.Start("x", "y").Finish("z", 0)
	if lnil.CorrID() != "" || lnil.Close() != nil {
		t.Fatalf("nil logger should be inert")
	}
}

func TestLoggerConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New("c", Options{Format: "console", Writer: &buf})
	l.InfoFinish("run", "done", time.Now(), 2)
	out := buf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Fatalf("console format should not be json: %q", out)
	}
	if !strings.Contains(out, "done") {
		t.Fatalf("message missing: %q", out)
	}
}

func TestLoggerWithSink(t *testing.T) {
	dir := t.TempDir()
	l := New("corr", Options{Dir: dir})
	l.Start("comp", "msg").Finish("ok", 1)
	l.Error("comp", "code", "msg", nil)
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "htmldedup-current.txt"))
	if err != nil {
		t.Fatalf("log file not found: %v", err)
	}
	if n := len(decodeLines(t, b)); n != 3 {
		t.Fatalf("want 3 lines, got %d", n)
	}
}

func TestMetricsSnapshot(t *testing.T) {
	ResetMetrics()
	IncOp("pass", "apply", "success")
	IncOp("pass", "apply", "success")
	IncError("writer", string(CodeIO))
	ObserveDuration("run", "total", 7)
	got := map[string]int64{}
	for _, m := range Snapshot() {
		got[m.Name] = m.Value
	}
	if got["op_total{pass,apply,success}"] != 2 {
		t.Fatalf("op_total: %v", got)
	}
	if got["error_total{writer,io}"] != 1 || got["op_duration_ms{run,total}"] != 7 {
		t.Fatalf("metrics: %v", got)
	}
	snap := Snapshot()
	for i := 1; i < len(snap); i++ {
		if snap[i-1].Name > snap[i].Name {
			t.Fatalf("snapshot not sorted")
		}
	}
	ResetMetrics()
	if len(Snapshot()) != 0 {
		t.Fatalf("reset should clear counters")
	}
}

// 终端（非 TTY）关键节点输出
func TestTerminalNonTTYFlow(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	if term.isTTY {
		t.Fatalf("expect non-tty")
	}
	term.RunStart(3, true)
	term.FileStart("site/landing.html")
	term.PassDone("modal", 2) // 非 TTY：不输出进度
	term.PassDone("stage", 1)
	term.FileFinish("done", 5100*time.Millisecond)
	term.RunFinish(true, 41300*time.Millisecond)

	out := sb.String()
	if strings.Contains(out, "\r") {
		t.Fatalf("non-tty should not contain carriage returns: %q", out)
	}
	for _, want := range []string{
		"[run] passes=3 | mode=dry-run",
		"[file] landing.html",
		"[done] landing.html | 删除 3 | 用时 5.1s",
		"[ok] 全部完成 | 文件 1 | 删除 3 | 总用时 41.3s",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

// 终端（TTY）进度节流与清尾
func TestTerminalTTYProgressThrottleAndClear(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true
	term.RunStart(3, false)
	term.FileStart("/a/b/c/longfilename.html")

	term.PassDone("modal", 0)
	first := sb.String()
	if !strings.Contains(first, "\r[file] longfilename.html | pass 1/3") {
		t.Fatalf("first progress should be inline with CR: %q", first)
	}
	term.PassDone("stage", 1)
	if sb.String() != first {
		t.Fatalf("second progress should be throttled")
	}
	time.Sleep(120 * time.Millisecond)
	term.PassDone("progress-bar", 1)
	third := sb.String()
	if len(third) <= len(first) {
		t.Fatalf("third progress should append output")
	}
	term.FileFinish("fail", 2200*time.Millisecond)
	final := sb.String()
	idx := strings.LastIndex(final, "[fail]")
	if idx < 0 {
		t.Fatalf("finish should include fail line: %q", final)
	}
	seg := final[:idx]
	cr := strings.LastIndex(seg, "\r")
	if cr < 0 || !strings.Contains(seg[cr+1:], " ") {
		t.Fatalf("clear tail should write spaces after CR: %q", seg)
	}
	if !strings.Contains(final, "删除 2") {
		t.Fatalf("removed count should accumulate throttled passes: %q", final)
	}
}

type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, fmt.Errorf("boom")
	}
	return len(p), nil
}

func TestTerminalDisableOnWriteError(t *testing.T) {
	fw := &flakyWriter{fail: true}
	term := NewTerminal(fw, true)
	term.isTTY = false
	term.RunStart(1, false)
	if term.enabled {
		t.Fatalf("terminal should be disabled after write error")
	}
	term.FileStart("a")
	term.PassDone("p", 1)
	term.FileFinish("done", 0)
	term.RunFinish(true, 0)
}

func TestTerminalInlineWriteError(t *testing.T) {
	fw := &flakyWriter{fail: true}
	term := NewTerminal(fw, true)
	term.isTTY = true
	term.FileStart("f.html")
	term.PassDone("p", 0)
	if term.enabled {
		t.Fatalf("terminal should be disabled after inline error")
	}
}

func TestNewTerminalCIEnv(t *testing.T) {
	t.Setenv("CI", "true")
	var sb strings.Builder
	if NewTerminal(&sb, true).isTTY {
		t.Fatalf("CI env should force non-tty")
	}
	if NewTerminal(os.Stderr, true) == nil {
		t.Fatalf("nil term")
	}
}

func TestTerminalNilReceiverNoop(t *testing.T) {
	var tn *Terminal
	tn.RunStart(1, false)
	tn.FileStart("a")
	tn.PassDone("p", 0)
	tn.FileFinish("done", 0)
	tn.RunFinish(true, 0)
}

func TestHelpers(t *testing.T) {
	if got := shortenBase("/x/y/这是一个很长的文件名用于截断测试abcdefghijk.html", 10); len([]rune(got)) != 10 {
		t.Fatalf("shortenBase = %q", got)
	}
	if shortenBase("x", 0) != "" {
		t.Fatalf("shortenBase max<=0 should be empty")
	}
	if safe("a\nb\rc") != "a b c" {
		t.Fatalf("safe replace failed")
	}
	if formatDur(0) != "0ms" {
		t.Fatalf("formatDur 0ms failed")
	}
	if formatDur(1500*time.Millisecond) != "1.5s" {
		t.Fatalf("formatDur 1.5s failed: %s", formatDur(1500*time.Millisecond))
	}
	SetTerminal(nil)
	if GetTerminal() != nil {
		t.Fatalf("expected nil terminal")
	}
	SetTerminal(NewTerminal(os.Stderr, false))
	if GetTerminal() == nil {
		t.Fatalf("expected non-nil terminal")
	}
	SetTerminal(nil)
}
