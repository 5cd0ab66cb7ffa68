package diag

import (
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options 为日志器配置。
type Options struct {
	// Level: debug|info|warn|error，未知值按 info。
	Level string
	// Format: json（默认）或 console（人类可读）。
	Format string
	// Dir: 轮转文件目录；Writer 非空时忽略。默认 "logs"。
	Dir string
	// Writer: 自定义输出（测试或 --log-stderr）。
	Writer io.Writer
}

// Logger 输出单行结构化事件（zerolog），字段沿用 comp/stage/code/dur_ms/count/file_id/pass/kv。
// 方法对 nil 接收者安全。
type Logger struct {
	corrID string
	zl     zerolog.Logger
	sink   *RotatingFile
	mu     sync.Mutex
}

// NewLogger 使用默认轮转文件 logs/htmldedup-current.txt（10MiB 轮转）。
func NewLogger(corrID, level string) *Logger {
	return New(corrID, Options{Level: level})
}

// New 按 Options 构造日志器。
func New(corrID string, opt Options) *Logger {
	l := &Logger{corrID: corrID}
	var w io.Writer = opt.Writer
	if w == nil {
		dir := opt.Dir
		if dir == "" {
			dir = "logs"
		}
		l.sink = NewRotatingFile(dir, 10*1024*1024)
		w = fallbackWriter{l.sink}
	}
	if strings.EqualFold(strings.TrimSpace(opt.Format), "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	}
	l.zl = zerolog.New(w).Level(parseLevel(opt.Level)).With().Str("corr_id", corrID).Logger()
	return l
}

// fallbackWriter: 轮转文件写失败时回退到 stderr，保证事件不丢。
type fallbackWriter struct{ f *RotatingFile }

func (w fallbackWriter) Write(p []byte) (int, error) {
	if n, err := w.f.Write(p); err == nil {
		return n, nil
	}
	return os.Stderr.Write(p)
}

// CorrID 返回本次运行的关联 ID。
func (l *Logger) CorrID() string {
	if l == nil {
		return ""
	}
	return l.corrID
}

// Close 关闭底层轮转文件（如有）。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Event 为标准事件结构。
type Event struct {
	Comp   string
	Stage  string // start|finish|warn|error
	Code   string
	DurMS  int64
	Count  int64
	FileID string
	Pass   string
	Msg    string
	KV     map[string]string
}

func (l *Logger) log(lv zerolog.Level, ev Event) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.zl.WithLevel(lv)
	if e == nil {
		// 低于级别，已过滤
		return
	}
	e = e.Str("ts", NowUTC()).Str("comp", ev.Comp).Str("stage", ev.Stage)
	if ev.Code != "" {
		e = e.Str("code", ev.Code)
	}
	if ev.DurMS > 0 {
		e = e.Int64("dur_ms", ev.DurMS)
	}
	if ev.Count != 0 {
		e = e.Int64("count", ev.Count)
	}
	if ev.FileID != "" {
		e = e.Str("file_id", ev.FileID)
	}
	if ev.Pass != "" {
		e = e.Str("pass", ev.Pass)
	}
	if len(ev.KV) > 0 {
		keys := make([]string, 0, len(ev.KV))
		for k := range ev.KV {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := zerolog.Dict()
		for _, k := range keys {
			d = d.Str(k, ev.KV[k])
		}
		e = e.Dict("kv", d)
	}
	e.Msg(ev.Msg)
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWithKV(comp, msg, "", "", nil)
}

// StartWith 记录带 file_id/pass 的 start。
func (l *Logger) StartWith(comp, msg, fileID, pass string) *Timer {
	return l.StartWithKV(comp, msg, fileID, pass, nil)
}

// StartWithKV 记录带 file_id/pass 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID, pass string, kv map[string]string) *Timer {
	l.log(zerolog.InfoLevel, Event{Comp: comp, Stage: "start", FileID: fileID, Pass: pass, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, fileID: fileID, pass: pass, t0: time.Now()}
}

// Debug 输出调试事件（仅 level=debug 时生效）。
func (l *Logger) Debug(comp, msg, fileID, pass string, kv map[string]string) {
	l.log(zerolog.DebugLevel, Event{Comp: comp, Stage: "debug", FileID: fileID, Pass: pass, Msg: msg, KV: kv})
}

// Warn 记录可恢复异常（例如标记不平衡）。
func (l *Logger) Warn(comp, code, msg, fileID, pass string, kv map[string]string) {
	l.log(zerolog.WarnLevel, Event{Comp: comp, Stage: "warn", Code: code, FileID: fileID, Pass: pass, Msg: msg, KV: kv})
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", "", nil)
}

// ErrorWith 支持 file_id/pass。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID, pass string) {
	l.ErrorWithKV(comp, code, msg, durSince, fileID, pass, nil)
}

// ErrorWithKV 支持附带键值对（例如底层错误文本）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID, pass string, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(zerolog.ErrorLevel, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, FileID: fileID, Pass: pass, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(zerolog.InfoLevel, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	pass   string
	t0     time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) { t.FinishKV(msg, count, nil) }

// FinishKV 记录带键值的 finish，并上报阶段耗时。
func (t *Timer) FinishKV(msg string, count int64, kv map[string]string) {
	if t == nil || t.l == nil {
		return
	}
	dur := time.Since(t.t0).Milliseconds()
	ObserveDuration(t.comp, msg, dur)
	t.l.log(zerolog.InfoLevel, Event{Comp: t.comp, Stage: "finish", DurMS: dur, Count: count, FileID: t.fileID, Pass: t.pass, Msg: msg, KV: kv})
}
