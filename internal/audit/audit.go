// Package audit 用 CSS 选择器统计 HTML 中的元素数量，用于核对去重前后的结果。
// 只读，不修改文档。
package audit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"htmldedup/pkg/contract"
)

// ValidateSelector 校验选择器语法；非法时返回包裹 ErrPatternInvalid 的错误。
func ValidateSelector(sel string) error {
	if strings.TrimSpace(sel) == "" {
		return fmt.Errorf("%w: empty selector", contract.ErrPatternInvalid)
	}
	if _, err := cascadia.Compile(sel); err != nil {
		return fmt.Errorf("%w: selector %q: %v", contract.ErrPatternInvalid, sel, err)
	}
	return nil
}

// Doc 为解析后的文档快照。
type Doc struct {
	d *goquery.Document
}

// Parse 解析 HTML（容错解析，残缺标记不会失败）。
func Parse(html string) (*Doc, error) {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("audit parse: %w", err)
	}
	return &Doc{d: d}, nil
}

// Count 返回匹配 sel 的元素数；调用方需先 ValidateSelector。
func (d *Doc) Count(sel string) int {
	if d == nil || d.d == nil {
		return 0
	}
	return d.d.Find(sel).Length()
}

// DuplicateIDs 返回出现超过一次的 id 及其次数，按 id 排序。
// 重复生成的片段通常带着相同的 id，可作为残留重复的信号。
func (d *Doc) DuplicateIDs() []IDCount {
	if d == nil || d.d == nil {
		return nil
	}
	seen := map[string]int{}
	d.d.Find("[id]").Each(func(_ int, s *goquery.Selection) {
		if id, ok := s.Attr("id"); ok && id != "" {
			seen[id]++
		}
	})
	var out []IDCount
	for id, n := range seen {
		if n > 1 {
			out = append(out, IDCount{ID: id, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDCount 为重复 id 统计。
type IDCount struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}
