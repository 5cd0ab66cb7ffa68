package contract

import "fmt"

// ValidateSpans 校验区间序列：每个区间 Start<=End 且位于 [0,docLen]，
// 整体按 Start 严格升序且互不重叠（允许首尾相接）。
// 违规返回包装了 ErrSeqInvalid 的错误。
func ValidateSpans(spans []Span, docLen int) error {
	prevEnd := 0
	for i, s := range spans {
		if s.Start < 0 || s.Start > s.End || s.End > docLen {
			return fmt.Errorf("%w: span %d [%d,%d) out of range 0..%d", ErrSeqInvalid, i, s.Start, s.End, docLen)
		}
		if i > 0 && s.Start < prevEnd {
			return fmt.Errorf("%w: span %d [%d,%d) overlaps previous end %d", ErrSeqInvalid, i, s.Start, s.End, prevEnd)
		}
		prevEnd = s.End
	}
	return nil
}

// CloneSpans 复制区间切片，避免调用方共享底层数组。
func CloneSpans(in []Span) []Span {
	if len(in) == 0 {
		return nil
	}
	out := make([]Span, len(in))
	copy(out, in)
	return out
}

// cloneMeta: 复制 Meta 映射，避免引用共享导致意外修改。
func cloneMeta(m Meta) Meta {
	if m == nil {
		return nil
	}
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Clone 深拷贝 PassResult（Output 为不可变字符串，无需拷贝）。
func (r PassResult) Clone() PassResult {
	out := r
	out.Removed = CloneSpans(r.Removed)
	if len(r.Warnings) > 0 {
		out.Warnings = append([]error(nil), r.Warnings...)
	}
	out.Meta = cloneMeta(r.Meta)
	return out
}
