// Package dedup 删除文档中重复出现的标记片段，只保留第一份。
// 提供两种模式：整段片段删除（Remove）与按行扫描的跳过-重同步删除（ScanStray）。
package dedup

import (
	"fmt"
	"regexp"
	"strings"

	"htmldedup/pkg/contract"
)

// Matcher: 在文档中自左向右查找互不重叠的片段区间。
// 约束：返回的 Span 按 Start 严格升序，下一次查找从上一次匹配的 End 之后开始。
type Matcher interface {
	FindAll(doc string) []contract.Span
}

// Checker: 可选扩展。实现方在匹配前校验前置条件（例如起止标记平衡）。
type Checker interface {
	Check(doc string) error
}

// Delimiters: 字面量起止标记（非贪婪：起始标记之后遇到的第一个结束标记即终止片段）。
type Delimiters struct {
	Start string
	End   string
}

var (
	_ Matcher = Delimiters{}
	_ Checker = Delimiters{}
	_ Matcher = Pattern{}
	_ Checker = Pattern{}
)

// FindAll 返回全部非重叠的 start…end 区间。任一标记为空时不匹配。
func (d Delimiters) FindAll(doc string) []contract.Span {
	if d.Start == "" || d.End == "" {
		return nil
	}
	var spans []contract.Span
	pos := 0
	for pos < len(doc) {
		i := strings.Index(doc[pos:], d.Start)
		if i < 0 {
			break
		}
		start := pos + i
		body := start + len(d.Start)
		j := strings.Index(doc[body:], d.End)
		if j < 0 {
			// 剩余部分再无结束标记：不构成片段
			break
		}
		end := body + j + len(d.End)
		spans = append(spans, contract.Span{Start: start, End: end})
		pos = end
	}
	return spans
}

// Check 统计非重叠的起止标记出现次数；数量不一致返回 *UnbalancedError。
// 落在起始标记内部的结束标记（如 Start="<!-- m -->"、End="-->"）不计入。
// 起止标记相同时要求出现次数为偶数。
func (d Delimiters) Check(doc string) error {
	if d.Start == "" || d.End == "" {
		return nil
	}
	starts := indexAll(doc, d.Start)
	if d.Start == d.End {
		if len(starts)%2 != 0 {
			return &UnbalancedError{Start: d.Start, End: d.End, Starts: len(starts), Ends: len(starts)}
		}
		return nil
	}
	ends := 0
	k := 0
	for _, e := range indexAll(doc, d.End) {
		for k < len(starts) && starts[k]+len(d.Start) <= e {
			k++
		}
		if k < len(starts) && starts[k] < e+len(d.End) {
			continue
		}
		ends++
	}
	if len(starts) != ends {
		return &UnbalancedError{Start: d.Start, End: d.End, Starts: len(starts), Ends: ends}
	}
	return nil
}

// indexAll 返回 sub 在 s 中全部非重叠出现的起始偏移（升序）。
func indexAll(s, sub string) []int {
	var out []int
	for pos := 0; pos <= len(s); {
		i := strings.Index(s[pos:], sub)
		if i < 0 {
			break
		}
		out = append(out, pos+i)
		pos += i + len(sub)
	}
	return out
}

// Pattern: 单个正则同时覆盖起止（例如 `<div class="demo-stage">.*?</div>\s*</div>`）。
// 语义为 RE2 的最左优先；非贪婪由表达式自身的 `*?` 决定。
//
// 平衡校验（Check）：
//   - Start 与 End 均设置：两者出现次数须相等；
//   - 仅有起始锚点（Start，缺省取 Re 的字面量前缀）：每个起始锚点须恰好开启一个匹配。
//     截断的片段会让非贪婪匹配越过下一个起始锚点，使锚点数多于匹配数；
//   - 无任何锚点：不校验。
type Pattern struct {
	Re    *regexp.Regexp
	Start *regexp.Regexp
	End   *regexp.Regexp
}

// CompilePattern 编译片段正则；默认开启 (?s) 使 `.` 可跨行。
// 失败返回包装了 ErrPatternInvalid 的错误。
func CompilePattern(expr string) (Pattern, error) {
	if strings.TrimSpace(expr) == "" {
		return Pattern{}, fmt.Errorf("%w: empty pattern", contract.ErrPatternInvalid)
	}
	re, err := regexp.Compile("(?s)" + expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("%w: %v", contract.ErrPatternInvalid, err)
	}
	return Pattern{Re: re}, nil
}

// WithAnchors 设置平衡校验用的起止锚点正则；空串表示不设置。
func (p Pattern) WithAnchors(start, end string) (Pattern, error) {
	var err error
	if start != "" {
		if p.Start, err = regexp.Compile(start); err != nil {
			return p, fmt.Errorf("%w: start anchor: %v", contract.ErrPatternInvalid, err)
		}
	}
	if end != "" {
		if p.End, err = regexp.Compile(end); err != nil {
			return p, fmt.Errorf("%w: end anchor: %v", contract.ErrPatternInvalid, err)
		}
		if p.Start == nil && p.startLiteral() == "" {
			return p, fmt.Errorf("%w: end anchor requires a start anchor", contract.ErrPatternInvalid)
		}
	}
	return p, nil
}

// startLiteral 返回 Re 的字面量前缀（无则为空串）。
func (p Pattern) startLiteral() string {
	if p.Re == nil {
		return ""
	}
	prefix, _ := p.Re.LiteralPrefix()
	return prefix
}

// Check 实现 Checker；规则见 Pattern。
func (p Pattern) Check(doc string) error {
	if p.Re == nil {
		return nil
	}
	var starts int
	startName := ""
	switch {
	case p.Start != nil:
		starts, startName = countMatches(p.Start, doc), p.Start.String()
	default:
		lit := p.startLiteral()
		if lit == "" {
			return nil
		}
		starts, startName = len(indexAll(doc, lit)), lit
	}
	if p.End != nil {
		if ends := countMatches(p.End, doc); ends != starts {
			return &UnbalancedError{Start: startName, End: p.End.String(), Starts: starts, Ends: ends}
		}
		return nil
	}
	if n := len(p.FindAll(doc)); n != starts {
		return &UnbalancedError{Start: startName, End: p.Re.String(), Starts: starts, Ends: n}
	}
	return nil
}

// countMatches 统计非零长度的非重叠匹配数。
func countMatches(re *regexp.Regexp, doc string) int {
	n := 0
	for _, m := range re.FindAllStringIndex(doc, -1) {
		if m[1] > m[0] {
			n++
		}
	}
	return n
}

// FindAll 返回全部非重叠匹配；零长度匹配忽略（删除空区间无意义）。
func (p Pattern) FindAll(doc string) []contract.Span {
	if p.Re == nil {
		return nil
	}
	idx := p.Re.FindAllStringIndex(doc, -1)
	if len(idx) == 0 {
		return nil
	}
	spans := make([]contract.Span, 0, len(idx))
	for _, m := range idx {
		if m[1] <= m[0] {
			continue
		}
		spans = append(spans, contract.Span{Start: m[0], End: m[1]})
	}
	return spans
}

// UnbalancedError: 起止标记数量不一致。此时非贪婪匹配可能把一个片段延伸到远处的结束标记。
type UnbalancedError struct {
	Start  string
	End    string
	Starts int
	Ends   int
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("unbalanced markers: %d x %q vs %d x %q", e.Starts, e.Start, e.Ends, e.End)
}

// Unwrap 使 errors.Is(err, contract.ErrUnbalancedMarkers) 成立。
func (e *UnbalancedError) Unwrap() error { return contract.ErrUnbalancedMarkers }
