package dedup

import (
	"reflect"
	"regexp"
	"strings"
	"testing"
)

func lines(s ...string) []string { return s }

// 场景 C：深度 0 处的 trigger 开始跳过，resync 行保留。
func TestRemoveStrayBlocksScenarioC(t *testing.T) {
	in := lines("A", "TRIGGER", "junk1", "junk2", "RESYNC", "B")
	got := RemoveStrayBlocks(in, "TRIGGER", "RESYNC", nil)
	want := lines("A", "RESYNC", "B")
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

// 场景 D：末尾未遇到 resync，跳过到文档结束。
func TestRemoveStrayBlocksScenarioD(t *testing.T) {
	got := RemoveStrayBlocks(lines("A", "TRIGGER", "junk"), "TRIGGER", "RESYNC", nil)
	if !reflect.DeepEqual(got, lines("A")) {
		t.Fatalf("got %v", got)
	}
}

// trigger 位于被跟踪容器内部（深度>0）时不跳过。
func TestRemoveStrayBlocksInsideContainer(t *testing.T) {
	in := lines(
		`<div class="demo-modal">`,
		`<div class="demo-progress-bar">`,
		`</div>`,
		`</div> <!-- demo-modal -->`,
		`tail`,
	)
	tr := NewTracker(`<div class="demo-modal"`, "</div>", "demo-modal", "demo-particles", 0)
	got := RemoveStrayBlocks(in, `<div class="demo-progress-bar">`, "<section", tr)
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("容器内的 trigger 不应被删除: %v", got)
	}
	if tr.Depth() != 0 {
		t.Fatalf("容器闭合后深度应为 0, got %d", tr.Depth())
	}
}

// 兄弟标识之后的单行 <div>…</div> 不提前结束容器；容器内的进度条保留，容器外的游离块删除。
func TestScanStraySelfClosedSiblingLine(t *testing.T) {
	in := lines(
		`<div class="demo-modal" id="demoModal">`,
		`  <div class="demo-particles"></div>`,
		`  <div class="demo-title">30秒体験</div>`,
		`  <div class="demo-progress-bar">`,
		`    <span class="fill"></span>`,
		`  </div>`,
		`  <p>step 1</p>`,
		`</div>`,
		`<div class="demo-progress-bar">`,
		`  <span class="fill"></span>`,
		`</div>`,
		`<section class="pricing">`,
	)
	tr := NewTracker(`<div class="demo-modal"`, "</div>", "demo-modal", "demo-particles", 5)
	res := ScanStray(in, StrayOptions{
		Trigger: Contains(`<div class="demo-progress-bar">`),
		Resync:  Contains("<section"),
		Tracker: tr,
	})
	if res.Blocks != 1 || res.Dropped != 3 {
		t.Fatalf("blocks=%d dropped=%d", res.Blocks, res.Dropped)
	}
	want := append(append([]string{}, in[:8]...), in[11])
	if !reflect.DeepEqual(res.Lines, want) {
		t.Fatalf("got %v\nwant %v", res.Lines, want)
	}
}

// 统计与区间：删除区间偏移基于 JoinLines(输入)，切除后等于 JoinLines(输出)。
func TestScanStrayRemovedSpans(t *testing.T) {
	in := lines("A", "TRIGGER", "junk1", "junk2", "RESYNC", "B", "TRIGGER", "x", "RESYNC", "C")
	res := ScanStray(in, StrayOptions{Trigger: Contains("TRIGGER"), Resync: Contains("RESYNC")})
	if res.Blocks != 2 || res.Dropped != 5 || res.Unterminated {
		t.Fatalf("统计错误: %+v", res)
	}
	doc := JoinLines(in)
	if got := cut(doc, res.Removed); got != JoinLines(res.Lines) {
		t.Fatalf("区间与输出不一致: %q vs %q", got, JoinLines(res.Lines))
	}
	if doc[res.Removed[0].Start:res.Removed[0].End] != "TRIGGER\njunk1\njunk2\n" {
		t.Fatalf("区间错误: %q", doc[res.Removed[0].Start:res.Removed[0].End])
	}
}

// 末尾未重同步：默认丢弃，KeepUnterminated 时恢复。
func TestScanStrayUnterminated(t *testing.T) {
	in := lines("A", "B", "TRIGGER", "junk")
	res := ScanStray(in, StrayOptions{Trigger: Contains("TRIGGER"), Resync: Contains("RESYNC")})
	if !res.Unterminated || res.Blocks != 1 || res.Dropped != 2 {
		t.Fatalf("统计错误: %+v", res)
	}
	if !reflect.DeepEqual(res.Lines, lines("A", "B")) {
		t.Fatalf("输出错误: %v", res.Lines)
	}
	if got := cut(JoinLines(in), res.Removed); got != "A\nB" {
		t.Fatalf("区间错误: %q", got)
	}

	keep := ScanStray(in, StrayOptions{Trigger: Contains("TRIGGER"), Resync: Contains("RESYNC"), KeepUnterminated: true})
	if !keep.Unterminated || keep.Blocks != 0 || len(keep.Removed) != 0 {
		t.Fatalf("KeepUnterminated 统计错误: %+v", keep)
	}
	if !reflect.DeepEqual(keep.Lines, in) {
		t.Fatalf("KeepUnterminated 应原样恢复: %v", keep.Lines)
	}

	// 从第一行开始的未终止块：整篇被删除
	all := ScanStray(lines("TRIGGER", "x"), StrayOptions{Trigger: Contains("TRIGGER")})
	if len(all.Lines) != 0 || cut("TRIGGER\nx", all.Removed) != "" {
		t.Fatalf("整篇删除错误: %+v", all)
	}
}

// 跳过中再次遇到 trigger：继续同一个块。
func TestScanStrayRepeatedTrigger(t *testing.T) {
	in := lines("TRIGGER", "TRIGGER", "x", "RESYNC")
	res := ScanStray(in, StrayOptions{Trigger: Contains("TRIGGER"), Resync: Contains("RESYNC")})
	if res.Blocks != 1 || res.Dropped != 3 || !reflect.DeepEqual(res.Lines, lines("RESYNC")) {
		t.Fatalf("got %+v", res)
	}
}

// 同一行同时命中 trigger 与 resync：trigger 优先。
func TestScanStrayTriggerPrecedesResync(t *testing.T) {
	in := lines("A", "TRIGGER RESYNC", "x", "RESYNC")
	got := RemoveStrayBlocks(in, "TRIGGER", "RESYNC", nil)
	if !reflect.DeepEqual(got, lines("A", "RESYNC")) {
		t.Fatalf("got %v", got)
	}
}

// 正则 trigger 与 CRLF 行尾。
func TestScanStrayRegexAndCRLF(t *testing.T) {
	doc := "keep\r\n<div class=\"demo-progress-bar\" style=\"x\">\r\n<span>\r\n<section id=\"s\">\r\nend"
	res := ScanStray(SplitLines(doc), StrayOptions{
		Trigger: regexp.MustCompile(`<div class="demo-progress-bar"`),
		Resync:  Contains("<section"),
	})
	out := JoinLines(res.Lines)
	if out != "keep\r\n<section id=\"s\">\r\nend" {
		t.Fatalf("got %q", out)
	}
	if cut(doc, res.Removed) != out {
		t.Fatalf("区间与输出不一致")
	}
}

// 无跟踪器、无 trigger：原样输出，SplitLines/JoinLines 逐字节还原。
func TestScanStrayNoop(t *testing.T) {
	doc := "a\n\nb\n"
	res := ScanStray(SplitLines(doc), StrayOptions{})
	if JoinLines(res.Lines) != doc || res.Blocks != 0 || len(res.Removed) != 0 {
		t.Fatalf("no-op 错误: %+v", res)
	}
}

// progress-bar 预设的完整流程：容器外的残留进度条被删除，容器内的保留。
func TestScanStrayProgressBarPreset(t *testing.T) {
	doc := strings.Join([]string{
		`<div class="demo-modal" id="demoModal">`,
		`  <div class="demo-particles"></div>`,
		`  <div class="demo-progress-bar">`,
		`    <div class="fill"></div>`,
		`  </div>`,
		`</div>`,
		`<div class="demo-progress-bar">`,
		`  <div class="fill"></div>`,
		`</div>`,
		`<section class="features">`,
		`</section>`,
	}, "\n")
	tr := NewTracker(`<div class="demo-modal"`, "</div>", "demo-modal", "demo-particles", DefaultWindow)
	res := ScanStray(SplitLines(doc), StrayOptions{
		Trigger: Contains(`<div class="demo-progress-bar">`),
		Resync:  Contains("<section"),
		Tracker: tr,
	})
	want := strings.Join([]string{
		`<div class="demo-modal" id="demoModal">`,
		`  <div class="demo-particles"></div>`,
		`  <div class="demo-progress-bar">`,
		`    <div class="fill"></div>`,
		`  </div>`,
		`</div>`,
		`<section class="features">`,
		`</section>`,
	}, "\n")
	if got := JoinLines(res.Lines); got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
	if res.Blocks != 1 || res.Dropped != 3 {
		t.Fatalf("统计错误: %+v", res)
	}
}

func BenchmarkScanStray(b *testing.B) {
	var in []string
	for i := 0; i < 500; i++ {
		in = append(in, "<p>x</p>", `<div class="demo-progress-bar">`, "</div>", "<section>")
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tr := NewTracker(`<div class="demo-modal"`, "</div>", "demo-modal", "demo-particles", 0)
		ScanStray(in, StrayOptions{Trigger: Contains(`<div class="demo-progress-bar">`), Resync: Contains("<section"), Tracker: tr})
	}
}
