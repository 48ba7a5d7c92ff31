package contract

import (
	"context"
	"io"
)

// ArtifactID: 持久化工件标识，与 FileID 共用表示（相对输出根目录）。
type ArtifactID = FileID

// Writer: 将装配结果持久化到目标介质。
// 约束：
//  1. 同一 ArtifactID 单写者；
//  2. 全有或全无：写入失败不得留下半成品；
//  3. ctx 取消需尽快返回；
//  4. 错误直接上抛（不做重试）。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}

// Stater: 可选扩展。用于“输出已存在即视为完成”的断点续跑判定。
// 仅判断存在性，不校验内容。
type Stater interface {
	Exists(ctx context.Context, id ArtifactID) (bool, error)
}
