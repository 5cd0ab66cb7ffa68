package contract

// FileID: 逻辑文档ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// Meta: 可选的轻量元信息；核心流程不读取其键值。
type Meta map[string]string

// Span: 文档内的半开字节区间 [Start, End)。
// 约束：0 <= Start <= End <= len(doc)；同一 Pass 产出的 Span 按 Start 严格升序且互不重叠。
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len 返回区间字节长度。
func (s Span) Len() int { return s.End - s.Start }

// Document: 单文件的完整内存文本（一次载入，逐 Pass 变换，最终一次写出）。
type Document struct {
	ID   FileID
	Text string
}

// PassResult: 单个 Pass 在一个文档上的执行结果。
// 约束：
//   - Output 为本 Pass 的完整输出文档；未发生删除时与输入逐字节一致；
//   - Found 为本 Pass 识别出的目标出现数，Removed 为其中被删除的部分，恒有 Found >= len(Removed)。
//     fragment：全部匹配，含保留的第一个；stray：全部游离块，含按 keep_unterminated 恢复的块；
//   - Removed 中的 Span 基于本 Pass 的输入文档偏移；
//   - Warnings 为可恢复的异常（例如起止标记不平衡），不影响 Output 的有效性。
type PassResult struct {
	Output   string
	Found    int
	Removed  []Span
	Warnings []error
	Meta     Meta // 可为 nil
}

// RemovedCount 返回删除的片段数。
func (r PassResult) RemovedCount() int { return len(r.Removed) }
