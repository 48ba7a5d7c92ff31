// Package breaker 为 LLM 客户端加熔断：上游连续故障达到阈值后，冷却期内的调用直接失败，
// 冷却结束放行一次探测请求，成功即恢复。
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"rawi/internal/diag"
	"rawi/pkg/contract"
)

// DefaultCooldown 为断开后进入半开状态的默认等待时长。
const DefaultCooldown = 30 * time.Second

// Settings: Failures<=0 表示不启用熔断。
type Settings struct {
	Failures int
	Cooldown time.Duration
	// OnStateChange 可选，状态名为 closed/half-open/open。
	OnStateChange func(from, to string)
}

type client struct {
	next     contract.LLMClient
	cb       *gobreaker.CircuitBreaker
	cooldown time.Duration
}

// Wrap 返回带熔断的客户端；未启用时原样返回 next。
func Wrap(next contract.LLMClient, name string, s Settings) contract.LLMClient {
	if s.Failures <= 0 {
		return next
	}
	cool := s.Cooldown
	if cool <= 0 {
		cool = DefaultCooldown
	}
	threshold := uint32(s.Failures)
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cool,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: healthy,
	}
	if s.OnStateChange != nil {
		st.OnStateChange = func(_ string, from, to gobreaker.State) {
			s.OnStateChange(from.String(), to.String())
		}
	}
	return &client{next: next, cb: gobreaker.NewCircuitBreaker(st), cooldown: cool}
}

// healthy: 只有网络类与限流错误计为上游故障；坏响应、输入错误与取消不影响熔断。
func healthy(err error) bool {
	switch diag.Classify(err) {
	case diag.CodeNetwork, diag.CodeBudget:
		return false
	default:
		return true
	}
}

// Invoke 经熔断器调用下游。断开期间返回带冷却时长的 RateLimitError，调用方据此退避。
func (c *client) Invoke(ctx context.Context, b contract.Batch, p contract.Prompt) (contract.Raw, error) {
	v, err := c.cb.Execute(func() (interface{}, error) {
		return c.next.Invoke(ctx, b, p)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return contract.Raw{}, &contract.RateLimitError{
			After: c.cooldown,
			Msg:   fmt.Sprintf("circuit %s %s", c.cb.Name(), c.cb.State()),
		}
	}
	raw, _ := v.(contract.Raw)
	return raw, err
}

var _ contract.LLMClient = (*client)(nil)
