package dedup

import (
	"strings"

	"htmldedup/pkg/contract"
)

// LineMatcher: 单行匹配。*regexp.Regexp 直接满足该接口。
type LineMatcher interface {
	MatchString(s string) bool
}

// Contains: 字面量子串匹配；空串不匹配任何行。
type Contains string

func (c Contains) MatchString(s string) bool {
	return c != "" && strings.Contains(s, string(c))
}

// StrayOptions 为按行扫描删除的参数。
type StrayOptions struct {
	// Trigger: 命中且深度为 0 时开始跳过（该行本身丢弃）。
	Trigger LineMatcher
	// Resync: 跳过状态下命中即恢复复制（该行保留，视为下一段合法内容的开头）。
	Resync LineMatcher
	// Tracker: 可为 nil（深度恒为 0）。
	Tracker *Tracker
	// KeepUnterminated: 到达末尾仍处于跳过状态时，恢复被缓冲的行而不是丢弃。
	KeepUnterminated bool
}

// StrayResult: 按行扫描删除的结果。
type StrayResult struct {
	Lines []string
	// Blocks: 实际删除的块数。
	Blocks int
	// Dropped: 丢弃的行数。
	Dropped int
	// Removed: 删除区间，偏移基于 JoinLines(输入行) 得到的文档。
	Removed []contract.Span
	// Unterminated: 末尾仍处于跳过状态（未见 Resync）。
	Unterminated bool
}

// RemoveStrayBlocks 删除深度为 0 处由 trigger 开始、直到 resync 之前的所有行。
// 末尾未重同步的块被丢弃。
func RemoveStrayBlocks(lines []string, trigger, resync string, tracker *Tracker) []string {
	return ScanStray(lines, StrayOptions{
		Trigger: Contains(trigger),
		Resync:  Contains(resync),
		Tracker: tracker,
	}).Lines
}

// ScanStray 是两态（COPY/SKIPPING）扫描器。
// 每行先更新嵌套深度，再判定状态转移；Trigger 优先于 Resync。
func ScanStray(lines []string, opts StrayOptions) StrayResult {
	var res StrayResult
	out := make([]string, 0, len(lines))
	skipping := false
	blockLine, blockOff := 0, 0
	var pending []string
	off := 0
	for i, line := range lines {
		depth := opts.Tracker.Track(line)
		next := off + len(line) + 1
		if depth == 0 && match(opts.Trigger, line) {
			if !skipping {
				skipping = true
				blockLine, blockOff = i, off
				pending = pending[:0]
			}
			pending = append(pending, line)
			off = next
			continue
		}
		if skipping {
			if match(opts.Resync, line) {
				skipping = false
				res.Blocks++
				res.Dropped += i - blockLine
				res.Removed = append(res.Removed, contract.Span{Start: blockOff, End: off})
				out = append(out, line)
				opts.Tracker.Emit(line)
			} else {
				pending = append(pending, line)
			}
			off = next
			continue
		}
		out = append(out, line)
		opts.Tracker.Emit(line)
		off = next
	}
	if skipping {
		res.Unterminated = true
		if opts.KeepUnterminated {
			out = append(out, pending...)
		} else {
			res.Blocks++
			res.Dropped += len(lines) - blockLine
			start := blockOff
			if blockLine > 0 {
				// 连同前一行的换行符一起删除，使输出等于 JoinLines(out)
				start--
			}
			res.Removed = append(res.Removed, contract.Span{Start: start, End: off - 1})
		}
	}
	res.Lines = out
	return res
}

func match(m LineMatcher, line string) bool {
	return m != nil && m.MatchString(line)
}

// SplitLines 按 "\n" 切分；"\r" 保留在行尾，JoinLines 可逐字节还原。
func SplitLines(doc string) []string { return strings.Split(doc, "\n") }

// JoinLines 以 "\n" 拼接。
func JoinLines(lines []string) string { return strings.Join(lines, "\n") }
