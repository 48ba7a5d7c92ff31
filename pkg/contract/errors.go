package contract

import "errors"

// 最小错误分类（用于上层策略判定）。
var (
	ErrRateLimited     = errors.New("rate limited")
	ErrResponseInvalid = errors.New("response invalid")
	ErrInvalidInput    = errors.New("invalid input")
	ErrSeqInvalid      = errors.New("sequence invalid")
	// ErrMalformedInput: 输入不可读或不可解码（如非 UTF-8），仅对当前文档致命。
	ErrMalformedInput = errors.New("malformed input")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrBudgetExceeded: 预算或配额不足（如 token 预算、上游配额）。
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrPublishFailed: 数据集发布失败。
	ErrPublishFailed = errors.New("publish failed")
)
