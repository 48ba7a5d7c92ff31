package diag

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"time"

	"rawi/pkg/contract"
)

// Code 是日志与指标使用的错误分类，与进程退出码无关。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNetwork   Code = "network"
	CodeProtocol  Code = "protocol"
	CodeInvariant Code = "invariant"
	CodeBudget    Code = "budget"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
	CodeInput     Code = "input"
)

// sentinels 按顺序匹配，先命中者生效。
var sentinels = []struct {
	err  error
	code Code
}{
	{context.Canceled, CodeCancel},
	{context.DeadlineExceeded, CodeCancel},
	{contract.ErrBudgetExceeded, CodeBudget},
	{contract.ErrRateLimited, CodeBudget},
	{contract.ErrResponseInvalid, CodeProtocol},
	{contract.ErrMalformedInput, CodeInput},
	{contract.ErrPublishFailed, CodeNetwork},
	{contract.ErrInvariantViolation, CodeInvariant},
	{contract.ErrInvalidInput, CodeInvariant},
	{contract.ErrSeqInvalid, CodeInvariant},
	{contract.ErrPathInvalid, CodeInvariant},
}

// Classify 依据哨兵错误与标准库错误类型归类，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	var perr *fs.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
