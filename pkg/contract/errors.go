package contract

import "errors"

// 最小错误分类（用于上层策略判定与日志分类）。
var (
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvalidInput: 输入文档不满足前置条件（例如非法 UTF-8）。
	ErrInvalidInput = errors.New("invalid input")
	// ErrPatternInvalid: 片段规则无效（空标记、正则无法编译等）。
	ErrPatternInvalid = errors.New("pattern invalid")
	// ErrUnbalancedMarkers: 起止标记数量不平衡，非贪婪匹配可能产出过长区间。
	ErrUnbalancedMarkers = errors.New("unbalanced markers")
	// ErrUnterminatedBlock: 按行扫描到达文档末尾仍未遇到重同步行。
	ErrUnterminatedBlock = errors.New("unterminated block")
	// ErrSeqInvalid: 区间序列违规（逆序、重叠或越界）。
	ErrSeqInvalid = errors.New("sequence invalid")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
