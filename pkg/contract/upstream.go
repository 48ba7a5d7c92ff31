package contract

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MaxRetryAfter 为服务端建议等待时长的上限，避免单个文件长时间占用 worker。
const MaxRetryAfter = 2 * time.Minute

// UpstreamError 承载远端服务（LLM/对象存储）错误的最小诊断信息。
// 实现方提供状态码与简短消息，便于编排层记录结构化日志字段。
type UpstreamError interface {
	error
	UpstreamStatus() int
	UpstreamMessage() string
}

// RateLimitError: 上游限流（429），可携带服务端建议的等待时长。
// errors.Is(err, ErrRateLimited) 成立。
type RateLimitError struct {
	After time.Duration // 0 表示服务端未给出
	Msg   string
}

func (e *RateLimitError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.After, e.Msg)
	}
	return "rate limited: " + e.Msg
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfter 返回错误链中 RateLimitError 的建议等待时长；没有则为 0。
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.After
	}
	return 0
}

// ParseRetryAfter 解析 Retry-After 头（秒数或 HTTP 日期），结果截断到 MaxRetryAfter；无法解析返回 0。
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(v); err == nil {
		d = t.Sub(now)
	}
	if d < 0 {
		return 0
	}
	return min(d, MaxRetryAfter)
}
