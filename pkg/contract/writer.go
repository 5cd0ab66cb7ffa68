package contract

import (
	"context"
	"io"
)

// Writer: 将清理后的文档持久化到目标介质（原地覆盖或输出目录）。
// 约束：
//  1. 同一 FileID 单写者；
//  2. 流式写入，按字节透传，不读取/修改业务内容；
//  3. ctx 取消/超时需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, id FileID, r io.Reader) error
}
