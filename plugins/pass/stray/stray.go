package stray

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"htmldedup/pkg/contract"
	"htmldedup/pkg/dedup"
)

// Nesting: 嵌套跟踪配置。Trigger 只在深度为 0 时生效。
type Nesting struct {
	Open  string `json:"open"`
	Close string `json:"close"`
	// Confirm: 闭合行需包含的容器标识（可空）。
	Confirm string `json:"confirm"`
	// Sibling: depth==1 时在回看窗口内查找的兄弟标识（可空）。
	Sibling string `json:"sibling"`
	// Window: 回看窗口行数；<=0 使用默认值 5。
	Window int `json:"window"`
}

// Options 为按行跳过-重同步 Pass 的配置。
type Options struct {
	Name    string `json:"name"`
	Trigger string `json:"trigger"`
	Resync  string `json:"resync"`
	// Regex: Trigger/Resync 按正则解释（否则为字面量子串）。
	Regex   bool     `json:"regex"`
	Nesting *Nesting `json:"nesting,omitempty"`
	// KeepUnterminated: 末尾仍在跳过时恢复被缓冲的行（默认丢弃）。
	KeepUnterminated bool `json:"keep_unterminated"`
}

type pass struct {
	name    string
	trigger dedup.LineMatcher
	resync  dedup.LineMatcher
	nesting *Nesting
	keep    bool
}

// New 校验选项并创建 Pass。
func New(opts *Options) (contract.Pass, error) {
	if opts == nil {
		return nil, fmt.Errorf("stray: options required: %w", contract.ErrPatternInvalid)
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "stray"
	}
	if opts.Trigger == "" || opts.Resync == "" {
		return nil, fmt.Errorf("stray %s: trigger and resync required: %w", name, contract.ErrPatternInvalid)
	}
	p := &pass{name: name, keep: opts.KeepUnterminated}
	if opts.Regex {
		tr, err := regexp.Compile(opts.Trigger)
		if err != nil {
			return nil, fmt.Errorf("stray %s: trigger: %v: %w", name, err, contract.ErrPatternInvalid)
		}
		rs, err := regexp.Compile(opts.Resync)
		if err != nil {
			return nil, fmt.Errorf("stray %s: resync: %v: %w", name, err, contract.ErrPatternInvalid)
		}
		p.trigger, p.resync = tr, rs
	} else {
		p.trigger, p.resync = dedup.Contains(opts.Trigger), dedup.Contains(opts.Resync)
	}
	if n := opts.Nesting; n != nil {
		if n.Open == "" || n.Close == "" {
			return nil, fmt.Errorf("stray %s: nesting open and close required: %w", name, contract.ErrPatternInvalid)
		}
		cp := *n
		p.nesting = &cp
	}
	return p, nil
}

func (p *pass) Name() string { return p.name }

// Apply 逐行扫描；每次调用使用新的跟踪器，Pass 本身无状态。
func (p *pass) Apply(ctx context.Context, doc contract.Document) (contract.PassResult, error) {
	select {
	case <-ctx.Done():
		return contract.PassResult{Output: doc.Text}, ctx.Err()
	default:
	}
	var tr *dedup.Tracker
	if n := p.nesting; n != nil {
		tr = dedup.NewTracker(n.Open, n.Close, n.Confirm, n.Sibling, n.Window)
	}
	res := dedup.ScanStray(dedup.SplitLines(doc.Text), dedup.StrayOptions{
		Trigger:          p.trigger,
		Resync:           p.resync,
		Tracker:          tr,
		KeepUnterminated: p.keep,
	})
	out := contract.PassResult{
		Output:  doc.Text,
		Found:   res.Blocks,
		Removed: res.Removed,
		Meta:    contract.Meta{"mode": "stray", "dropped_lines": strconv.Itoa(res.Dropped)},
	}
	if len(res.Removed) > 0 {
		out.Output = dedup.JoinLines(res.Lines)
	}
	if res.Unterminated {
		if p.keep {
			out.Found++
		}
		out.Warnings = append(out.Warnings, fmt.Errorf("pass %s on %s: %w", p.name, doc.ID, contract.ErrUnterminatedBlock))
	}
	return out, nil
}
