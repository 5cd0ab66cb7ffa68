package fragment

import (
	"context"
	"fmt"
	"strings"

	"htmldedup/pkg/contract"
	"htmldedup/pkg/dedup"
)

// Options 为整段去重 Pass 的配置。
// 二选一：Start+End（字面量起止标记，非贪婪）或 Pattern（单个正则，自动 (?s)）。
type Options struct {
	// Name: 日志与报告中使用的名称；为空时取 "fragment"。
	Name    string `json:"name"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Pattern string `json:"pattern"`
	// AnchorStart/AnchorEnd: Pattern 模式下平衡校验用的起止正则（可空）。
	// AnchorStart 为空时取 Pattern 的字面量前缀；仅有起始锚点时要求每个锚点恰好开启一个匹配。
	AnchorStart string `json:"anchor_start,omitempty"`
	AnchorEnd   string `json:"anchor_end,omitempty"`
	// Strict: 起止标记不平衡时报错并保持文档不变（默认仅告警）。
	Strict bool `json:"strict"`
}

type pass struct {
	name   string
	mode   string
	m      dedup.Matcher
	strict bool
}

// New 校验选项并创建 Pass；规则无效返回 ErrPatternInvalid。
func New(opts *Options) (contract.Pass, error) {
	if opts == nil {
		return nil, fmt.Errorf("fragment: options required: %w", contract.ErrPatternInvalid)
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "fragment"
	}
	hasMarkers := opts.Start != "" || opts.End != ""
	hasPattern := strings.TrimSpace(opts.Pattern) != ""
	hasAnchors := opts.AnchorStart != "" || opts.AnchorEnd != ""
	switch {
	case hasAnchors && !hasPattern:
		return nil, fmt.Errorf("fragment %s: anchors require pattern: %w", name, contract.ErrPatternInvalid)
	case hasMarkers && hasPattern:
		return nil, fmt.Errorf("fragment %s: start/end and pattern are mutually exclusive: %w", name, contract.ErrPatternInvalid)
	case hasPattern:
		p, err := dedup.CompilePattern(opts.Pattern)
		if err != nil {
			return nil, fmt.Errorf("fragment %s: %w", name, err)
		}
		if p, err = p.WithAnchors(opts.AnchorStart, opts.AnchorEnd); err != nil {
			return nil, fmt.Errorf("fragment %s: %w", name, err)
		}
		return &pass{name: name, mode: "pattern", m: p, strict: opts.Strict}, nil
	case opts.Start != "" && opts.End != "":
		return &pass{name: name, mode: "delimiters", m: dedup.Delimiters{Start: opts.Start, End: opts.End}, strict: opts.Strict}, nil
	default:
		return nil, fmt.Errorf("fragment %s: both start and end markers required: %w", name, contract.ErrPatternInvalid)
	}
}

func (p *pass) Name() string { return p.name }

// Apply 保留第一个匹配，删除其余匹配。
func (p *pass) Apply(ctx context.Context, doc contract.Document) (contract.PassResult, error) {
	select {
	case <-ctx.Done():
		return contract.PassResult{Output: doc.Text}, ctx.Err()
	default:
	}
	res, err := dedup.Remove(doc.Text, p.m, dedup.Options{Strict: p.strict})
	out := contract.PassResult{
		Output:   res.Output,
		Found:    res.Found(),
		Removed:  res.Removed,
		Warnings: res.Warnings,
		Meta:     contract.Meta{"mode": p.mode},
	}
	if err != nil {
		return out, fmt.Errorf("pass %s on %s: %w", p.name, doc.ID, err)
	}
	return out, nil
}
