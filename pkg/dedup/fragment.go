package dedup

import (
	"strings"

	"htmldedup/pkg/contract"
)

// Options 控制整段删除的策略。
type Options struct {
	// Strict: 前置条件（如标记平衡）不满足时返回错误且不修改文档；
	// 默认 false：继续按非贪婪匹配删除，并把异常放入 Result.Warnings。
	Strict bool
}

// Result: 整段删除的结果。
type Result struct {
	Output string
	// Spans: 输入文档中的全部匹配（含保留的第一个）。
	Spans []contract.Span
	// Removed: 被删除的匹配（Spans[1:]），偏移基于输入文档。
	Removed  []contract.Span
	Warnings []error
}

// Found 返回匹配数。
func (r Result) Found() int { return len(r.Spans) }

// RemoveDuplicateFragments 删除 start…end 片段的第二次及以后的出现，保留第一次。
// 返回新文档与删除数 max(0, 匹配数-1)。匹配数 <2 时原样返回。
func RemoveDuplicateFragments(document, startMarker, endMarker string) (string, int) {
	res, err := Remove(document, Delimiters{Start: startMarker, End: endMarker}, Options{})
	if err != nil {
		return document, 0
	}
	return res.Output, len(res.Removed)
}

// Remove 使用任意 Matcher 执行整段删除。
// 先在不可变的输入上计算全部区间，再一次性重建输出：
// 前缀 + 第一个匹配 + 各匹配之间的间隙（跳过第二个起的匹配本身）+ 尾部。
func Remove(document string, m Matcher, opts Options) (Result, error) {
	res := Result{Output: document}
	if m == nil {
		return res, contract.ErrPatternInvalid
	}
	if c, ok := m.(Checker); ok {
		if err := c.Check(document); err != nil {
			if opts.Strict {
				return res, err
			}
			res.Warnings = append(res.Warnings, err)
		}
	}
	spans := m.FindAll(document)
	res.Spans = spans
	if len(spans) < 2 {
		return res, nil
	}
	if err := contract.ValidateSpans(spans, len(document)); err != nil {
		return Result{Output: document, Warnings: res.Warnings}, err
	}
	res.Removed = spans[1:]
	res.Output = cut(document, res.Removed)
	return res, nil
}

// cut 删除 drop 中的全部区间；drop 必须已通过 ValidateSpans。
func cut(doc string, drop []contract.Span) string {
	if len(drop) == 0 {
		return doc
	}
	n := len(doc)
	for _, s := range drop {
		n -= s.Len()
	}
	var b strings.Builder
	b.Grow(n)
	last := 0
	for _, s := range drop {
		b.WriteString(doc[last:s.Start])
		last = s.End
	}
	b.WriteString(doc[last:])
	return b.String()
}
