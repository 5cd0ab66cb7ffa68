package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	cfgpkg "htmldedup/internal/config"
	"htmldedup/internal/diag"
	"htmldedup/internal/ledger"
	"htmldedup/internal/pipeline"
)

var pipelineRun = pipeline.Run

// version 由构建时 -ldflags "-X main.version=..." 注入。
var version = "dev"

// 退出码
const (
	exitOK     = 0
	exitRun    = 1
	exitStrict = 2
	exitConfig = 3
)

// cli: 默认子命令 run；位置参数为 roots（文件/目录 或 "-" 表示 STDIN）。
type cli struct {
	Run        runCmd        `cmd:"" default:"withargs" help:"清理 HTML 文件中的重复片段（默认命令）"`
	InitConfig initConfigCmd `cmd:"" name:"init-config" help:"生成默认配置与 .env 模板（已存在则不覆盖）"`
	Presets    presetsCmd    `cmd:"" help:"列出内置预设及其 Pass"`
	History    historyCmd    `cmd:"" help:"查看台账中最近的运行记录"`
	Version    versionCmd    `cmd:"" help:"打印版本"`
}

// app 为子命令共享的运行状态。
type app struct {
	code   int
	corrID string
	start  time.Time
}

func main() {
	os.Exit(run(os.Args[1:]))
}

type exitSignal int

func run(args []string) (code int) {
	// kong 在 --help 等场景调用 Exit；此处转为返回码
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(exitSignal); ok {
				code = int(e)
				return
			}
			panic(r)
		}
	}()

	var c cli
	parser, err := kong.New(&c,
		kong.Name("htmldedup"),
		kong.Description("删除生成型落地页 HTML 中重复的模板片段"),
		kong.UsageOnError(),
		kong.Exit(func(n int) { panic(exitSignal(n)) }),
	)
	if err != nil {
		fprintf(os.Stderr, "CLI 初始化失败: %v\n", err)
		return exitConfig
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		fprintf(os.Stderr, "参数错误: %v\n", err)
		return exitConfig
	}
	a := &app{code: exitOK, corrID: uuid.NewString(), start: time.Now()}
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")
	if err := kctx.Run(a); err != nil {
		fprintf(os.Stderr, "%v\n", err)
		if a.code == exitOK {
			a.code = exitConfig
		}
	}
	return a.code
}

type runCmd struct {
	Inputs    []string `arg:"" optional:"" help:"输入根：文件、目录或 - (STDIN)"`
	Config    string   `short:"c" help:"配置文件（.json/.yaml/.yml）；缺省依次查找 htmldedup.json/.yaml/.yml"`
	Preset    string   `help:"Pass 预设名（配置未声明 passes 时生效）"`
	DryRun    bool     `name:"dry-run" help:"只统计与报告，不写回"`
	Strict    bool     `help:"有告警的文件不写回，并以退出码 2 结束"`
	Level     string   `help:"日志等级 debug|info|warn|error"`
	LogFormat string   `name:"log-format" help:"日志格式 json|console"`
	LogDir    string   `name:"log-dir" help:"日志目录"`
	Status    bool     `default:"true" negatable:"" help:"终端状态提示（stderr）。TTY 动态刷新；非 TTY 逐行输出"`
	Report    string   `help:"JSON 报告输出：- 为 stdout，否则为文件路径"`
	Ledger    string   `help:"SQLite 台账路径；为空则不记录"`
	Backup    bool     `help:"覆盖前保存 .bak.xz 备份"`
	OutputDir string   `name:"output-dir" help:"输出目录；为空则原地写回"`
	AuditIDs  bool     `name:"audit-ids" help:"统计输出中重复的 id 属性"`
}

func (r *runCmd) Run(a *app) error {
	start := a.start
	logger := diag.NewLogger(a.corrID, "info")
	fail := func(msg string, err error) error {
		fprintf(os.Stderr, "%s: %v\n", msg, err)
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		_ = logger.Close()
		a.code = exitConfig
		return nil
	}

	cfg, err := r.loadConfig()
	if err != nil {
		return fail("配置解析失败", err)
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		// 打印有效配置，便于诊断
		_ = dumpConfig(cfg)
		return fail("配置校验失败", err)
	}
	if strings.TrimSpace(cfg.Report) == "-" && hasDash(cfg.Inputs) {
		return fail("配置校验失败", errors.New("report '-' conflicts with stdin input"))
	}

	// 使用最终配置重建 logger
	_ = logger.Close()
	logger = diag.New(a.corrID, diag.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Dir:    cfg.Logging.Dir,
	})
	defer logger.Close()

	// 预检：若使用文件系统 Writer，检查输出目录的可写性
	if err := preflightCheckOutputDir(cfg); err != nil {
		return fail("输出目录不可写或无法创建", err)
	}

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return fail("装配失败", err)
	}

	names := make([]string, 0, len(comp.Passes))
	for _, p := range comp.Passes {
		names = append(names, p.Name())
	}
	logger.Debug("config", "effective", "", "", map[string]string{
		"inputs_count": fmt.Sprintf("%d", len(cfg.Inputs)),
		"passes":       strings.Join(names, ","),
		"reader":       cfg.Components.Reader,
		"writer":       cfg.Components.Writer,
		"dry_run":      fmt.Sprintf("%t", cfg.DryRun),
		"strict":       fmt.Sprintf("%t", cfg.Strict),
		"ledger":       cfg.Ledger.Path,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 台账失败不影响清理本身
	var lrun *ledger.Run
	if p := strings.TrimSpace(cfg.Ledger.Path); p != "" {
		l, err := ledger.Open(p)
		if err != nil {
			logger.Warn("ledger", string(diag.Classify(err)), "open failed", "", "", map[string]string{"err": err.Error()})
			fprintf(os.Stderr, "提示：台账不可用（已跳过）：%v\n", err)
		} else {
			defer l.Close()
			lrun, err = l.BeginRun(ctx, a.corrID, cfg.DryRun, cfg.Strict, names)
			if err != nil {
				logger.Warn("ledger", string(diag.Classify(err)), "begin failed", "", "", map[string]string{"err": err.Error()})
			} else {
				set.Recorder = lrun
			}
		}
	}

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	term := diag.NewTerminal(os.Stderr, r.Status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(len(comp.Passes), cfg.DryRun)

	diag.ResetMetrics()
	t := logger.Start("pipeline", "run")
	rep, err := pipelineRun(ctx, comp, set, logger)
	if err == nil {
		t.Finish("run", int64(len(rep.Files)))
		diag.IncOp("pipeline", "finish", "success")
	} else {
		code := string(diag.Classify(err))
		logger.Error("pipeline", code, "first error", &start)
		diag.IncOp("pipeline", "error", "error")
		if code != string(diag.CodeUnknown) {
			diag.IncError("pipeline", code)
		}
	}
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	rep.Metrics = diag.Snapshot()

	status := "ok"
	switch {
	case errors.Is(err, pipeline.ErrWarningsEscalated):
		status = "held"
		a.code = exitStrict
	case err != nil:
		status = "fail"
		a.code = exitRun
		if !errors.Is(err, context.Canceled) {
			fprintf(os.Stderr, "运行失败: %v\n", err)
		}
	}
	if lrun != nil {
		// 取消后仍需落地结束状态
		if ferr := lrun.Finish(context.WithoutCancel(ctx), status, rep); ferr != nil {
			logger.Warn("ledger", string(diag.Classify(ferr)), "finish failed", "", "", map[string]string{"err": ferr.Error()})
		}
	}
	if werr := writeReport(cfg.Report, rep); werr != nil {
		fprintf(os.Stderr, "报告写出失败: %v\n", werr)
		logger.ErrorWithKV("report", string(diag.Classify(werr)), "write failed", nil, "", "", map[string]string{"err": werr.Error()})
		if a.code == exitOK {
			a.code = exitRun
		}
	}
	term.RunFinish(a.code == exitOK, time.Since(start))
	if a.code == exitStrict {
		fprintf(os.Stderr, "严格模式：%d 个文件因告警未写回\n", rep.Held)
	}
	return nil
}

// loadConfig 按 Defaults < 文件 < ENV < CLI 合并。
func (r *runCmd) loadConfig() (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()

	path := r.Config
	var raw []byte
	if path == "" {
		if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE"); s != "" {
			path = s
		}
	}
	if path == "" {
		if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
			raw = []byte(s)
		}
	}
	// 默认读取工作目录下的配置（若存在）
	if path == "" && len(raw) == 0 {
		for _, name := range defaultConfigNames {
			if _, err := os.Stat(name); err == nil {
				path = name
				break
			}
		}
	}
	switch {
	case len(raw) > 0:
		base, err := cfgpkg.LoadJSON("", raw)
		if err != nil {
			return cfg, err
		}
		cfg = cfgpkg.Merge(cfg, base)
	case path != "":
		base, err := cfgpkg.LoadFile(path)
		if err != nil {
			return cfg, err
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, err
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	over := cfgpkg.Config{
		Inputs:   r.Inputs,
		Preset:   r.Preset,
		DryRun:   r.DryRun,
		Strict:   r.Strict,
		AuditIDs: r.AuditIDs,
		Logging:  cfgpkg.Logging{Level: r.Level, Format: r.LogFormat, Dir: r.LogDir},
		Ledger:   cfgpkg.Ledger{Path: r.Ledger},
		Report:   r.Report,
	}
	cfg = cfgpkg.Merge(cfg, over)

	// Writer 选项的单键覆盖
	if r.Backup {
		if cfg.Options.Writer, err = cfgpkg.PatchRaw(cfg.Options.Writer, "backup", true); err != nil {
			return cfg, err
		}
	}
	if d := strings.TrimSpace(r.OutputDir); d != "" {
		if cfg.Options.Writer, err = cfgpkg.PatchRaw(cfg.Options.Writer, "output_dir", d); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

var defaultConfigNames = []string{"htmldedup.json", "htmldedup.yaml", "htmldedup.yml"}

type initConfigCmd struct {
	Dir  string `arg:"" optional:"" default:"." help:"目标目录（默认当前目录）"`
	YAML bool   `name:"yaml" help:"生成 htmldedup.yaml 而非 htmldedup.json"`
}

func (c *initConfigCmd) Run(a *app) error {
	dir := strings.TrimSpace(c.Dir)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		a.code = exitConfig
		return fmt.Errorf("生成默认配置失败: %w", err)
	}
	cfg := cfgpkg.DefaultTemplateConfig()
	name := "htmldedup.json"
	if c.YAML {
		name = "htmldedup.yaml"
	}
	if err := writeConfig(filepath.Join(dir, name), cfg); err != nil {
		a.code = exitConfig
		return fmt.Errorf("生成默认配置失败: %w", err)
	}
	// .env 模板失败只提示
	if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
		fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	return nil
}

type presetsCmd struct{}

func (presetsCmd) Run(a *app) error {
	all := cfgpkg.Presets()
	for _, name := range cfgpkg.PresetNames() {
		mark := ""
		if name == cfgpkg.DefaultPreset {
			mark = " (default)"
		}
		fmt.Fprintf(os.Stdout, "%s%s\n", name, mark)
		for _, p := range all[name] {
			if p.Verify != "" {
				fmt.Fprintf(os.Stdout, "  - %s [%s] verify=%s\n", p.Name, p.Kind, p.Verify)
			} else {
				fmt.Fprintf(os.Stdout, "  - %s [%s]\n", p.Name, p.Kind)
			}
		}
	}
	return nil
}

type historyCmd struct {
	Ledger string `help:"SQLite 台账路径（缺省读取 HTMLDEDUP_LEDGER）"`
	Limit  int    `default:"20" help:"最多显示条数"`
	JSON   bool   `name:"json" help:"以 JSON 输出"`
	File   string `help:"只显示该文件最近一次写出后的 BLAKE3 摘要"`
}

func (h *historyCmd) Run(a *app) error {
	path := strings.TrimSpace(h.Ledger)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(cfgpkg.EnvPrefix + "LEDGER"))
	}
	if path == "" {
		a.code = exitConfig
		return errors.New("history: 未指定台账路径（--ledger 或 HTMLDEDUP_LEDGER）")
	}
	if _, err := os.Stat(path); err != nil {
		a.code = exitConfig
		return fmt.Errorf("history: %w", err)
	}
	l, err := ledger.Open(path)
	if err != nil {
		a.code = exitRun
		return err
	}
	defer l.Close()
	if h.File != "" {
		return h.lastDigest(a, l)
	}
	runs, err := l.Recent(context.Background(), h.Limit)
	if err != nil {
		a.code = exitRun
		return err
	}
	if h.JSON {
		b, err := json.MarshalIndent(runs, "", "  ")
		if err != nil {
			a.code = exitRun
			return err
		}
		_, _ = os.Stdout.Write(append(b, '\n'))
		return nil
	}
	for _, s := range runs {
		mode := "write"
		if s.DryRun {
			mode = "dry-run"
		}
		fmt.Fprintf(os.Stdout, "%s  %-7s %-7s 文件 %d | 删除 %d | 告警 %d  %s\n",
			s.StartedAt, s.Status, mode, s.Files, s.Removed, s.Warnings, s.ID)
	}
	return nil
}

// lastDigest 输出 --file 的最近写出摘要；无记录时退出码 1。
func (h *historyCmd) lastDigest(a *app, l *ledger.Ledger) error {
	d, ok, err := l.LastDigest(context.Background(), h.File)
	if err != nil {
		a.code = exitRun
		return err
	}
	if !ok {
		a.code = exitRun
		return fmt.Errorf("history: %s 无写出记录", h.File)
	}
	if h.JSON {
		b, err := json.Marshal(map[string]string{"file_id": h.File, "digest": d})
		if err != nil {
			a.code = exitRun
			return err
		}
		_, _ = os.Stdout.Write(append(b, '\n'))
		return nil
	}
	fmt.Fprintf(os.Stdout, "%s  %s\n", d, h.File)
	return nil
}

type versionCmd struct{}

func (versionCmd) Run(a *app) error {
	fmt.Fprintf(os.Stdout, "htmldedup %s\n", version)
	return nil
}

func fprintf(w *os.File, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = os.Stderr.Write(append([]byte("有效配置:\n"), b...))
	_, _ = os.Stderr.Write([]byte("\n"))
	return nil
}

func hasDash(ss []string) bool {
	for _, s := range ss {
		if strings.TrimSpace(s) == "-" {
			return true
		}
	}
	return false
}

// writeReport: "-" 写 stdout；空串跳过；其余写文件（覆盖）。
func writeReport(dest string, rep pipeline.Report) error {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return nil
	}
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if dest == "-" {
		_, err = os.Stdout.Write(b)
		return err
	}
	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(dest, b, 0o644)
}
