package contract

import (
	"errors"
	"path/filepath"
	"testing"
)

// TestNormalizeFileID 验证路径规范化逻辑。
func TestNormalizeFileID(t *testing.T) {
	wpath := filepath.Join("a", "b", "c")
	basicCases := map[string]string{
		wpath:      "a/b/c",
		"./x/../y": "y",
		"":         ".",
	}
	for in, want := range basicCases {
		got := NormalizeFileID(in)
		if string(got) != want {
			t.Fatalf("基础测试 %s -> %s, 预期 %s", in, got, want)
		}
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Windows路径", "C:\\Users\\test\\page.html", "C:/Users/test/page.html"},
		{"相对路径反斜杠", "site\\lp\\v7.html", "site/lp/v7.html"},
		{"清理多余斜杠", "path//to///page.html", "path/to/page.html"},
		{"清理当前目录", "path/./to/./page.html", "path/to/page.html"},
		{"处理父目录", "path/to/../from/page.html", "path/from/page.html"},
		{"单个点", ".", "."},
		{"双点", "..", ".."},
		{"根路径", "/", "/"},
		{"Windows根", "C:\\", "C:"},
		{"混合分隔符", "C:\\Users/test\\Documents/page.html", "C:/Users/test/Documents/page.html"},
		{"中文路径", "项目\\页面/落地页.html", "项目/页面/落地页.html"},
		{"仅分隔符", "\\\\\\///", "/"},
		{"复杂父目录", "a\\b\\c\\..\\..\\..\\..\\d", "../d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeFileID(tt.input)
			if string(result) != tt.expected {
				t.Errorf("NormalizeFileID(%q) = %q, expected %q", tt.input, result, tt.expected)
			}
		})
	}
}

// TestValidateSpans 覆盖合法序列与各类违规分支。
func TestValidateSpans(t *testing.T) {
	ok := []Span{{0, 3}, {3, 5}, {8, 10}}
	if err := ValidateSpans(ok, 10); err != nil {
		t.Fatalf("合法序列不应报错: %v", err)
	}
	if err := ValidateSpans(nil, 0); err != nil {
		t.Fatalf("空序列不应报错: %v", err)
	}
	cases := []struct {
		name  string
		spans []Span
		n     int
	}{
		{"负起点", []Span{{-1, 2}}, 5},
		{"start>end", []Span{{3, 2}}, 5},
		{"越界", []Span{{0, 6}}, 5},
		{"重叠", []Span{{0, 3}, {2, 4}}, 5},
		{"逆序", []Span{{3, 4}, {0, 1}}, 5},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateSpans(tt.spans, tt.n); !errors.Is(err, ErrSeqInvalid) {
				t.Fatalf("want ErrSeqInvalid got %v", err)
			}
		})
	}
}

// TestPassResultClone 验证深拷贝不共享切片与映射。
func TestPassResultClone(t *testing.T) {
	r := PassResult{
		Output:   "x",
		Found:    2,
		Removed:  []Span{{1, 2}},
		Warnings: []error{ErrUnbalancedMarkers},
		Meta:     Meta{"k": "v"},
	}
	c := r.Clone()
	r.Removed[0].Start = 9
	r.Meta["k"] = "x"
	r.Warnings[0] = nil
	if c.Removed[0].Start != 1 || c.Meta["k"] != "v" || c.Warnings[0] == nil {
		t.Fatalf("clone 未独立: %+v", c)
	}
	if c.RemovedCount() != 1 {
		t.Fatalf("RemovedCount 错误: %d", c.RemovedCount())
	}
	if (Span{Start: 2, End: 7}).Len() != 5 {
		t.Fatalf("Span.Len 错误")
	}
}

// BenchmarkNormalizeFileID 性能基准测试
func BenchmarkNormalizeFileID(b *testing.B) {
	testPaths := []string{
		"C:\\Users\\test\\Documents\\page.html",
		"site/lp/../../../public/page.html",
		"path//to///many////slashes/page.html",
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, p := range testPaths {
			NormalizeFileID(p)
		}
	}
}
