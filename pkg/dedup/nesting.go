package dedup

import "strings"

// DefaultWindow 为嵌套判定的回看窗口大小（最近输出的行数）。
const DefaultWindow = 5

// Confirmer: 判定一个通用闭合标记（如 </div>）是否确实闭合了被跟踪的容器。
type Confirmer interface {
	ConfirmClose(line string, depth int) bool
}

// ConfirmFunc 将普通函数适配为 Confirmer。
type ConfirmFunc func(line string, depth int) bool

func (f ConfirmFunc) ConfirmClose(line string, depth int) bool { return f(line, depth) }

// TrackNesting 根据单行内容更新嵌套深度。
//   - 行内含 openMarker：depth+1；
//   - 否则行内含 closeMarker 且 depth>0：经 confirm 确认后 depth-1（confirm 为 nil 视为总是确认）。
//
// 这是尽力而为的近似判定，不处理同一行内的多重开闭。
func TrackNesting(line, openMarker, closeMarker string, depth int, confirm Confirmer) int {
	if openMarker != "" && strings.Contains(line, openMarker) {
		return depth + 1
	}
	if depth > 0 && closeMarker != "" && strings.Contains(line, closeMarker) {
		if confirm == nil || confirm.ConfirmClose(line, depth) {
			return depth - 1
		}
	}
	return depth
}

// Tracker: 有状态的嵌套跟踪器，供按行扫描删除使用。
// 闭合确认规则：
//  1. 闭合行内含 Confirm（容器自身标识，如 "demo-modal"）；或
//  2. depth==1 且最近输出的窗口内某行含 Sibling（容器内的兄弟标识，如 "demo-particles"）；
//  3. Confirm 与 Sibling 均为空时，任何闭合标记都确认（纯计数）。
type Tracker struct {
	Open    string
	Close   string
	Confirm string
	Sibling string

	depth  int
	window *Window
}

// NewTracker 创建跟踪器；window<=0 使用 DefaultWindow。
func NewTracker(openMarker, closeMarker, confirm, sibling string, window int) *Tracker {
	return &Tracker{Open: openMarker, Close: closeMarker, Confirm: confirm, Sibling: sibling, window: NewWindow(window)}
}

// Track 处理一行并返回更新后的深度。
func (t *Tracker) Track(line string) int {
	if t == nil {
		return 0
	}
	t.depth = TrackNesting(line, t.Open, t.Close, t.depth, t)
	return t.depth
}

// ConfirmClose 实现 Confirmer。
// 行内开标签数不少于闭合标记数（如 <div class="x">…</div>）时视为自闭合行，不确认。
func (t *Tracker) ConfirmClose(line string, depth int) bool {
	if tag := openTag(t.Close); tag != "" && strings.Count(line, tag) >= strings.Count(line, t.Close) {
		return false
	}
	if t.Confirm == "" && t.Sibling == "" {
		return true
	}
	if t.Confirm != "" && strings.Contains(line, t.Confirm) {
		return true
	}
	return depth == 1 && t.Sibling != "" && t.win().Contains(t.Sibling)
}

// openTag 由闭合标记推出对应的开标签前缀："</div>" → "<div"。非 "</" 开头返回空串。
func openTag(closeMarker string) string {
	name, ok := strings.CutPrefix(closeMarker, "</")
	if !ok {
		return ""
	}
	name = strings.TrimSuffix(name, ">")
	if name == "" {
		return ""
	}
	return "<" + name
}

// Emit 记录一行已输出内容（进入回看窗口）。
func (t *Tracker) Emit(line string) {
	if t == nil {
		return
	}
	t.win().Push(line)
}

// Depth 返回当前深度。
func (t *Tracker) Depth() int {
	if t == nil {
		return 0
	}
	return t.depth
}

func (t *Tracker) win() *Window {
	if t.window == nil {
		t.window = NewWindow(DefaultWindow)
	}
	return t.window
}

// Window: 定长环形缓冲，保存最近 size 行。
type Window struct {
	buf  []string
	next int
	n    int
}

// NewWindow 创建窗口；size<=0 使用 DefaultWindow。
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindow
	}
	return &Window{buf: make([]string, size)}
}

// Push 写入一行，满时覆盖最旧的一行。
func (w *Window) Push(line string) {
	w.buf[w.next] = line
	w.next = (w.next + 1) % len(w.buf)
	if w.n < len(w.buf) {
		w.n++
	}
}

// Contains 报告窗口内是否有行包含 sub。
func (w *Window) Contains(sub string) bool {
	for i := 0; i < w.n; i++ {
		if strings.Contains(w.buf[i], sub) {
			return true
		}
	}
	return false
}
