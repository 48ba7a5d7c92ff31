package contract

import (
	"context"
	"io"
)

// Assembler: 将单个 SectionResult 序列化为输出字节流。
// 约束：
//  1. 仅处理一个 Section，不引入跨 Section 状态；
//  2. 保持记录原顺序；
//  3. LineID 必须自 0 连续递增，否则返回 ErrSeqInvalid。
type Assembler interface {
	Assemble(ctx context.Context, res SectionResult) (io.Reader, error)
}
