package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"

	"rawi/pkg/contract"
)

// LimitKey: 限流分组键，见 GroupKey。
type LimitKey string

// Limits: 每分组的限额配置。0 表示该维度不启用。
type Limits struct {
	RPM             int // requests per minute
	TPM             int // tokens per minute
	MaxTokensPerReq int // 单次请求 token 上限（含输入+预期输出），0 表示不限制
}

// Ask: 一次放行申请。
type Ask struct {
	Key      LimitKey
	Requests int // 必须 >=1
	Tokens   int // 预计 token（>=0）
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait: 阻塞直到额度可用或 ctx 取消；违反单请求上限时快速失败。
	Wait(ctx context.Context, a Ask) error
	// Try: 非阻塞尝试；不足时返回 false 且不扣减额度。
	Try(a Ask) bool
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Snapshot(key LimitKey) (rpmAvail, tpmAvail int)
}

// NewGate 从静态配置构造闸门；clk 为空则使用 time.Now。
// 每个维度是一个容量为每分钟额度、按秒匀速回填的令牌桶（x/time/rate）。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*entry, len(m))}
	for k, lim := range m {
		g.m[k] = newEntry(lim)
	}
	return g
}

type gate struct {
	clk func() time.Time
	mu  sync.Mutex
	m   map[LimitKey]*entry
}

type entry struct {
	mu  sync.Mutex
	lim Limits
	req *xrate.Limiter
	tok *xrate.Limiter
}

func newEntry(lim Limits) *entry {
	return &entry{lim: lim, req: perMinute(lim.RPM), tok: perMinute(lim.TPM)}
}

// perMinute: n<=0 时返回不限速的桶。
func perMinute(n int) *xrate.Limiter {
	if n <= 0 {
		return xrate.NewLimiter(xrate.Inf, 0)
	}
	return xrate.NewLimiter(xrate.Limit(float64(n)/60.0), n)
}

func (g *gate) get(key LimitKey) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.m[key]
	if e == nil {
		// 未配置的 key 视为不限额
		e = newEntry(Limits{})
		g.m[key] = e
	}
	return e
}

func (g *gate) check(a Ask) (*entry, error) {
	if a.Requests <= 0 || a.Tokens < 0 {
		return nil, contract.ErrInvalidInput
	}
	e := g.get(a.Key)
	if e.lim.MaxTokensPerReq > 0 && a.Tokens > e.lim.MaxTokensPerReq {
		return nil, fmt.Errorf("rate: %w: tokens %d > max_tokens_per_req %d", contract.ErrBudgetExceeded, a.Tokens, e.lim.MaxTokensPerReq)
	}
	if e.lim.TPM > 0 && a.Tokens > e.lim.TPM {
		return nil, fmt.Errorf("rate: %w: tokens %d > tpm %d", contract.ErrBudgetExceeded, a.Tokens, e.lim.TPM)
	}
	if e.lim.RPM > 0 && a.Requests > e.lim.RPM {
		return nil, fmt.Errorf("rate: %w: requests %d > rpm %d", contract.ErrBudgetExceeded, a.Requests, e.lim.RPM)
	}
	return e, nil
}

// reserve 同时在两个维度预约；任一失败时撤销另一维度。
func (e *entry) reserve(now time.Time, a Ask) (rr, rt *xrate.Reservation, ok bool) {
	rr = e.req.ReserveN(now, a.Requests)
	if !rr.OK() {
		return nil, nil, false
	}
	rt = e.tok.ReserveN(now, a.Tokens)
	if !rt.OK() {
		rr.CancelAt(now)
		return nil, nil, false
	}
	return rr, rt, true
}

func (g *gate) Try(a Ask) bool {
	e, err := g.check(a)
	if err != nil {
		return false
	}
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	rr, rt, ok := e.reserve(now, a)
	if !ok {
		return false
	}
	if rr.DelayFrom(now) > 0 || rt.DelayFrom(now) > 0 {
		rt.CancelAt(now)
		rr.CancelAt(now)
		return false
	}
	return true
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	e, err := g.check(a)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := g.clk()
	e.mu.Lock()
	rr, rt, ok := e.reserve(now, a)
	e.mu.Unlock()
	if !ok {
		return contract.ErrBudgetExceeded
	}
	d := max(rr.DelayFrom(now), rt.DelayFrom(now))
	if err := sleepCtx(ctx, d); err != nil {
		// 取消时归还预约，避免挤占其他 worker 的额度
		at := g.clk()
		e.mu.Lock()
		rt.CancelAt(at)
		rr.CancelAt(at)
		e.mu.Unlock()
		return err
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Snapshot: 返回当前可用请求/令牌的向下取整估值（仅诊断）；未启用的维度为 0。
func (g *gate) Snapshot(key LimitKey) (rpmAvail, tpmAvail int) {
	e := g.get(key)
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lim.RPM > 0 {
		rpmAvail = floorNonNeg(e.req.TokensAt(now))
	}
	if e.lim.TPM > 0 {
		tpmAvail = floorNonNeg(e.tok.TokensAt(now))
	}
	return
}

func floorNonNeg(f float64) int {
	if f < 0 {
		return 0
	}
	return int(f)
}

var _ Gate = (*gate)(nil)
var _ Snapshoter = (*gate)(nil)
