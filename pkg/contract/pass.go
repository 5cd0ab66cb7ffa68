package contract

import "context"

// Pass: 一次去重变换。输入完整文档，输出完整文档与删除明细。
// 约束：
//  1. 纯计算，不做 I/O；
//  2. 不修改匹配区间以外的任何字节；
//  3. 对同一输入幂等（第二次执行 Removed 为空）；
//  4. 不可恢复的配置/前置条件错误返回 error，可恢复异常放入 Warnings。
type Pass interface {
	Name() string
	Apply(ctx context.Context, doc Document) (PassResult, error)
}
