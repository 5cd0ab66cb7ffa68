package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"htmldedup/internal/audit"
	"htmldedup/internal/diag"
	"htmldedup/pkg/contract"
)

// - 逐文件顺序处理：Reader 的稳定顺序即输出顺序；Pass 为同步纯计算，不起并发。
// - 每个文件一次载入、逐 Pass 变换、最终一次写出；中间状态不落盘。
// - 首错中止：读/写/不变量错误立即结束运行并上抛。
// - Strict：有告警的文件不写出，运行结束后返回 ErrWarningsEscalated。
// - Pass 级 strict 报出的标记不平衡只搁置当前文件（held），其余文件照常处理。

// ErrWarningsEscalated: 至少一个文件因告警被搁置（全局 Strict 或 Pass 级 strict）。
var ErrWarningsEscalated = errors.New("strict: warnings escalated")

// errPassHeld: applyPass 内部信号，表示 Pass 拒绝修改文档，当前文件搁置。
var errPassHeld = errors.New("pass held document")

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader contract.Reader
	Passes []contract.Pass
	Writer contract.Writer
}

// Recorder: 可选的逐文件结果落地（例如 SQLite 台账）。
type Recorder interface {
	RecordFile(ctx context.Context, f FileReport) error
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	Inputs []string
	DryRun bool
	Strict bool
	// Verify: 与 Passes 一一对应的 CSS 选择器；空串表示不核对。
	Verify []string
	// AuditIDs: 在最终输出上统计重复 id。
	AuditIDs bool
	Recorder Recorder
}

// Run 执行完整流水线：Reader → Pass… → Writer。
// 返回的 Report 在出错时也包含已处理文件的结果。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Report, error) {
	rep := Report{CorrID: logger.CorrID(), DryRun: set.DryRun, Strict: set.Strict}
	if err := sanity(comp, set); err != nil {
		return rep, fmt.Errorf("sanity: %w", err)
	}
	for _, sel := range set.Verify {
		if sel == "" {
			continue
		}
		if err := audit.ValidateSelector(sel); err != nil {
			return rep, fmt.Errorf("sanity: %w", err)
		}
	}

	rtimer := logger.Start("reader", "iterate")
	err := comp.Reader.Iterate(ctx, set.Inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		fr, err := processFile(ctx, comp, set, logger, fid, rc)
		rep.add(fr)
		if set.Recorder != nil {
			if rerr := set.Recorder.RecordFile(ctx, fr); rerr != nil {
				logger.Warn("ledger", string(diag.Classify(rerr)), "record failed", string(fid), "", map[string]string{"err": rerr.Error()})
				diag.IncError("ledger", string(diag.Classify(rerr)))
			}
		}
		return err
	})
	if err != nil {
		code := diag.Classify(err)
		logger.ErrorWithKV("reader", string(code), "iterate failed", nil, "", "", map[string]string{"err": err.Error()})
		diag.IncOp("reader", "iterate", "error")
		diag.IncError("reader", string(code))
		return rep, err
	}
	rtimer.Finish("iterate", int64(len(rep.Files)))
	diag.IncOp("reader", "iterate", "success")
	if rep.Held > 0 {
		return rep, fmt.Errorf("%d file(s) held: %w", rep.Held, ErrWarningsEscalated)
	}
	return rep, nil
}

// processFile 处理单个文件；rc 在返回前关闭。
func processFile(ctx context.Context, comp Components, set Settings, logger *diag.Logger, fid contract.FileID, rc io.ReadCloser) (fr FileReport, err error) {
	t0 := time.Now()
	fr = FileReport{FileID: fid, Status: StatusFailed}
	term := diag.GetTerminal()
	term.FileStart(string(fid))
	defer func() {
		fr.DurMS = time.Since(t0).Milliseconds()
		if err != nil {
			fr.Status = StatusFailed
			fr.Error = err.Error()
		}
		term.FileFinish(fr.Status, time.Since(t0))
	}()

	b, err := io.ReadAll(rc)
	if cerr := rc.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fr, fail(logger, "reader", "read failed", fid, "", fmt.Errorf("read %s: %w", fid, err))
	}
	if !utf8.Valid(b) {
		return fr, fail(logger, "reader", "invalid utf-8", fid, "", fmt.Errorf("read %s: not valid UTF-8: %w", fid, contract.ErrInvalidInput))
	}
	fr.BytesBefore, fr.DigestBefore = len(b), Digest(b)
	doc := contract.Document{ID: fid, Text: string(b)}

	var cur *audit.Doc // 当前文本的解析缓存（仅核对时使用）
	held := false
	for i, p := range comp.Passes {
		if err := ctx.Err(); err != nil {
			return fr, err
		}
		sel := ""
		if i < len(set.Verify) {
			sel = set.Verify[i]
		}
		var vc *VerifyCount
		if sel != "" {
			if cur == nil {
				if cur, err = audit.Parse(doc.Text); err != nil {
					return fr, fail(logger, "audit", "parse failed", fid, p.Name(), err)
				}
			}
			vc = &VerifyCount{Selector: sel, Before: cur.Count(sel)}
		}

		pr, res, err := applyPass(ctx, p, doc, logger)
		if errors.Is(err, errPassHeld) {
			held = true
			fr.Passes = append(fr.Passes, pr)
			fr.Warnings += len(pr.Warnings)
			break
		}
		if err != nil {
			return fr, err
		}
		if len(res.Removed) > 0 {
			doc.Text = res.Output
			cur = nil
		}
		if vc != nil {
			if cur == nil {
				if cur, err = audit.Parse(doc.Text); err != nil {
					return fr, fail(logger, "audit", "parse failed", fid, p.Name(), err)
				}
			}
			vc.After = cur.Count(sel)
			pr.Verify = vc
			logger.Debug("audit", "verify", string(fid), p.Name(), map[string]string{
				"selector": sel, "before": strconv.Itoa(vc.Before), "after": strconv.Itoa(vc.After),
			})
		}
		fr.Passes = append(fr.Passes, pr)
		fr.Removed += pr.Removed
		fr.Warnings += len(pr.Warnings)
		term.PassDone(p.Name(), pr.Removed)
	}

	out := []byte(doc.Text)
	fr.BytesAfter, fr.DigestAfter = len(out), Digest(out)
	if set.AuditIDs {
		if cur == nil {
			if cur, err = audit.Parse(doc.Text); err != nil {
				return fr, fail(logger, "audit", "parse failed", fid, "", err)
			}
		}
		fr.DuplicateIDs = cur.DuplicateIDs()
	}

	switch {
	case held || (set.Strict && fr.Warnings > 0):
		fr.Status = StatusHeld
		logger.Warn("writer", string(diag.CodePattern), "held by strict mode", string(fid), "", map[string]string{"warnings": strconv.Itoa(fr.Warnings)})
		diag.IncOp("writer", "write", "skip")
		return fr, nil
	case set.DryRun:
		fr.Status = StatusDryRun
		diag.IncOp("writer", "write", "skip")
		return fr, nil
	case fr.DigestAfter == fr.DigestBefore && fid != contract.StdinID:
		// STDIN 仍需输出到 stdout
		fr.Status = StatusUnchanged
		diag.IncOp("writer", "write", "skip")
		return fr, nil
	}

	wtimer := logger.StartWith("writer", "write", string(fid), "")
	if werr := comp.Writer.Write(ctx, fid, strings.NewReader(doc.Text)); werr != nil {
		return fr, fail(logger, "writer", "write failed", fid, "", fmt.Errorf("write %s: %w", fid, werr))
	}
	wtimer.Finish("write", int64(fr.BytesAfter))
	diag.IncOp("writer", "write", "success")
	fr.Status = StatusWritten
	return fr, nil
}

// applyPass 执行单个 Pass 并校验其输出。
func applyPass(ctx context.Context, p contract.Pass, doc contract.Document, logger *diag.Logger) (PassReport, contract.PassResult, error) {
	name := p.Name()
	fid := string(doc.ID)
	ptimer := logger.StartWith("pass", "apply", fid, name)
	res, err := p.Apply(ctx, doc)
	if err != nil && errors.Is(err, contract.ErrUnbalancedMarkers) {
		code := diag.Classify(err)
		logger.Warn("pass", string(code), err.Error(), fid, name, map[string]string{"strict": "true"})
		diag.IncError("pass", string(code))
		pr := PassReport{Name: name, Found: res.Found, Warnings: []string{err.Error()}, Meta: res.Meta}
		return pr, contract.PassResult{Output: doc.Text}, errPassHeld
	}
	if err != nil {
		return PassReport{Name: name}, res, fail(logger, "pass", "apply failed", doc.ID, name, err)
	}
	if verr := contract.ValidateSpans(res.Removed, len(doc.Text)); verr != nil {
		return PassReport{Name: name}, res, fail(logger, "pass", "invalid spans", doc.ID, name,
			fmt.Errorf("pass %s on %s: %w: %v", name, doc.ID, contract.ErrInvariantViolation, verr))
	}
	if res.Found < len(res.Removed) {
		return PassReport{Name: name}, res, fail(logger, "pass", "found below removed", doc.ID, name,
			fmt.Errorf("pass %s on %s: %w: found %d < removed %d", name, doc.ID, contract.ErrInvariantViolation, res.Found, len(res.Removed)))
	}
	if len(res.Removed) == 0 && res.Output != doc.Text {
		return PassReport{Name: name}, res, fail(logger, "pass", "output changed without removals", doc.ID, name,
			fmt.Errorf("pass %s on %s: %w: output changed without removals", name, doc.ID, contract.ErrInvariantViolation))
	}

	pr := PassReport{
		Name:    name,
		Found:   res.Found,
		Removed: res.RemovedCount(),
		Spans:   contract.CloneSpans(res.Removed),
		Meta:    res.Meta,
	}
	for _, s := range res.Removed {
		logger.Debug("pass", "removed", fid, name, map[string]string{
			"start": strconv.Itoa(s.Start), "end": strconv.Itoa(s.End),
		})
	}
	for _, w := range res.Warnings {
		code := diag.Classify(w)
		logger.Warn("pass", string(code), w.Error(), fid, name, nil)
		diag.IncError("pass", string(code))
		pr.Warnings = append(pr.Warnings, w.Error())
	}
	ptimer.FinishKV("apply", int64(pr.Removed), map[string]string{"found": strconv.Itoa(pr.Found)})
	diag.IncOp("pass", "apply", "success")
	return pr, res, nil
}

// fail 记录错误事件与指标并原样返回 err。
func fail(logger *diag.Logger, comp, msg string, fid contract.FileID, pass string, err error) error {
	code := diag.Classify(err)
	logger.ErrorWithKV(comp, string(code), msg, nil, string(fid), pass, map[string]string{"err": err.Error()})
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
	return err
}

func sanity(c Components, s Settings) error {
	if c.Reader == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if len(c.Passes) == 0 {
		return errors.New("pipeline: no passes")
	}
	for i, p := range c.Passes {
		if p == nil {
			return fmt.Errorf("pipeline: pass %d is nil", i)
		}
	}
	if len(s.Inputs) == 0 {
		return errors.New("pipeline: empty inputs")
	}
	if len(s.Verify) > len(c.Passes) {
		return errors.New("pipeline: more verify selectors than passes")
	}
	return nil
}
