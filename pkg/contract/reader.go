package contract

import (
	"context"
	"io"
)

// Reader: 输入源抽象（文件/目录/STDIN）。
// 约束：
// 1) 按文件维度回调，顺序稳定（同一输入多次遍历顺序一致）；
// 2) FileID 稳定且去平台差异化，可作为原地写回的目标标识；
// 3) 只提供字节流，不做解码与标记扫描；
// 4) 不在内部起并发；yield 返回错误即中止遍历并上抛。
type Reader interface {
	Iterate(ctx context.Context, roots []string, yield func(fileID FileID, r io.ReadCloser) error) error
}
