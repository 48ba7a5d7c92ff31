// Package annotate 将 Section 文件逐个交给 LLM 做话题切分，并把结果写成 JSONL。
package annotate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rawi/internal/breaker"
	"rawi/internal/diag"
	"rawi/internal/prompt"
	"rawi/internal/rate"
	"rawi/pkg/contract"
)

// DefaultConcurrency 为标注阶段默认 worker 数。
const DefaultConcurrency = 4

// Components 聚合标注阶段所需的组件。
type Components struct {
	Reader        contract.Reader
	PromptBuilder contract.PromptBuilder
	LLM           contract.LLMClient
	Decoder       contract.Decoder
	Writer        contract.Writer
}

// Settings 运行期配置。
type Settings struct {
	Inputs      []string
	Concurrency int
	MaxRetries  int
	// Gate 可选；为空表示不限流。
	Gate    rate.Gate
	GateKey rate.LimitKey
	// BytesPerToken/MaxOutputTokens 用于估算单次请求的 token 数（Gate 的 TPM 维度）。
	BytesPerToken   int
	MaxOutputTokens int
	// Sample>0 时仅处理按 Seed 抽样的 Sample 个文件（抽样后按名称排序）。
	Sample       int
	Seed         uint64
	SkipExisting bool
	FailFast     bool
	// Breaker 为 LLM 调用加熔断；Failures<=0 不启用。
	Breaker breaker.Settings
}

// Stats 为一次运行的汇总。
type Stats struct {
	Files     int // 参与处理的文件（抽样后）
	Annotated int
	Skipped   int
	Failed    int
	Splits    int
}

type unit struct {
	fid  contract.FileID
	id   string
	body []byte
}

// Run 执行标注流水线：Reader → Prompt → Gate → LLM → Decoder → Writer。
// 单个文件的 LLM/解码失败只影响该文件；写出失败为致命错误。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Stats, error) {
	if err := sanity(comp, set); err != nil {
		return Stats{}, fmt.Errorf("sanity: %w", err)
	}
	if logger == nil {
		logger = diag.Nop()
	}
	var stater contract.Stater
	if set.SkipExisting {
		s, ok := comp.Writer.(contract.Stater)
		if !ok {
			return Stats{}, errors.New("annotate: skip_existing requires a writer that implements Exists")
		}
		stater = s
	}

	units, err := collect(ctx, comp.Reader, set.Inputs, logger)
	if err != nil {
		return Stats{}, err
	}
	units = sampleUnits(units, set.Sample, set.Seed)

	conc := set.Concurrency
	if conc <= 0 {
		conc = DefaultConcurrency
	}
	comp.LLM = breaker.Wrap(comp.LLM, string(set.GateKey), withStateLog(set.Breaker, logger))
	r := &runner{comp: comp, set: set, logger: logger, stater: stater, est: prompt.MakeEstimator(set.BytesPerToken)}
	r.stats.Files = len(units)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(conc)
	for _, u := range units {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error { return r.file(gctx, u) })
	}
	if err := g.Wait(); err != nil {
		return r.snapshot(), err
	}
	if err := ctx.Err(); err != nil {
		return r.snapshot(), err
	}
	return r.snapshot(), nil
}

// withStateLog 记录熔断状态切换。
func withStateLog(s breaker.Settings, logger *diag.Logger) breaker.Settings {
	s.OnStateChange = func(from, to string) {
		logger.InfoKV("breaker", "state", map[string]string{"from": from, "to": to})
		diag.IncOp("breaker", to, "state")
	}
	return s
}

// collect 读取全部 Section 文件；抽样需要先得到完整列表。
func collect(ctx context.Context, rd contract.Reader, inputs []string, logger *diag.Logger) ([]unit, error) {
	timer := logger.Start("reader", "iterate")
	var units []unit
	err := rd.Iterate(ctx, inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("read %s: %w", fid, err)
		}
		units = append(units, unit{fid: fid, id: string(contract.DocumentIDOf(fid)), body: b})
		return nil
	})
	if err != nil {
		code := diag.Classify(err)
		logger.Error("reader", string(code), "iterate failed", timer.Since())
		diag.IncOp("reader", "iterate", "error")
		diag.IncError("reader", string(code))
		return nil, fmt.Errorf("reader iterate: %w", err)
	}
	timer.Finish("iterate", int64(len(units)))
	diag.IncOp("reader", "iterate", "success")
	return units, nil
}

func sampleUnits(units []unit, n int, seed uint64) []unit {
	if n <= 0 || n >= len(units) {
		sort.Slice(units, func(i, j int) bool { return units[i].fid < units[j].fid })
		return units
	}
	names := make([]string, len(units))
	byName := make(map[string]unit, len(units))
	for i, u := range units {
		names[i] = string(u.fid)
		byName[names[i]] = u
	}
	picked := Sample(names, n, seed)
	out := make([]unit, len(picked))
	for i, name := range picked {
		out[i] = byName[name]
	}
	return out
}

type runner struct {
	comp   Components
	set    Settings
	logger *diag.Logger
	stater contract.Stater
	est    contract.TokenEstimator

	mu    sync.Mutex
	stats Stats
}

func (r *runner) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *runner) file(ctx context.Context, u unit) error {
	out := contract.ArtifactID(u.id + ".jsonl")
	if r.stater != nil {
		ok, err := r.stater.Exists(ctx, out)
		if err != nil {
			return r.fatal("writer", "exists failed", err, u.id)
		}
		if ok {
			r.logger.Skip("annotate", "output exists", string(out))
			diag.IncUnit("annotate", "skipped")
			if t := diag.GetTerminal(); t != nil {
				t.UnitSkipped(u.id)
			}
			r.mu.Lock()
			r.stats.Skipped++
			r.mu.Unlock()
			return nil
		}
	}

	timer := r.logger.StartWith("annotate", "file", u.id, "")
	b, err := parseBatch(u.id, u.body)
	if err != nil {
		return r.failed(u.id, err, timer)
	}
	splits, err := r.annotate(ctx, b)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return r.failed(u.id, err, timer)
	}

	body, err := encodeSplits(splits)
	if err != nil {
		return r.fatal("annotate", "encode failed", err, u.id)
	}
	wtimer := r.logger.StartWith("writer", "write", string(out), "")
	if err := r.comp.Writer.Write(ctx, out, bytes.NewReader(body)); err != nil {
		return r.fatal("writer", "write failed", err, u.id)
	}
	wtimer.Finish("write", 1)
	diag.IncOp("writer", "write", "success")

	timer.Finish("file", int64(len(splits)))
	diag.IncOp("annotate", "file", "success")
	diag.ObserveDuration("annotate", "file", time.Since(*timer.Since()).Milliseconds())
	diag.IncUnit("annotate", "ok")
	if t := diag.GetTerminal(); t != nil {
		t.UnitDone(u.id, 1, nil)
	}
	r.mu.Lock()
	r.stats.Annotated++
	r.stats.Splits += len(splits)
	r.mu.Unlock()
	return nil
}

// annotate 构造提示词并执行 Gate → Invoke → Decode（带重试）。
func (r *runner) annotate(ctx context.Context, b contract.Batch) ([]contract.Split, error) {
	p, err := r.comp.PromptBuilder.Build(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("prompt build: %w", err)
	}
	tokens := prompt.RequestTokens(r.comp.PromptBuilder, r.est, b, r.set.MaxOutputTokens)
	attempts := r.set.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		akv := strconv.Itoa(attempt + 1)
		if r.set.Gate != nil {
			r.logger.DebugStart("gate", "ask", b.FileID, "", map[string]string{
				"requests": "1",
				"tokens":   strconv.Itoa(tokens),
				"attempt":  akv,
			})
			if err := r.set.Gate.Wait(ctx, rate.Ask{Key: r.set.GateKey, Requests: 1, Tokens: tokens}); err != nil {
				code := diag.Classify(err)
				r.logger.ErrorWith("gate", string(code), "wait failed", nil, b.FileID, "")
				diag.IncOp("gate", "error", "error")
				if code != diag.CodeUnknown {
					diag.IncError("gate", string(code))
				}
				// Gate 错误不重试（通常为取消或请求超出单次上限）
				return nil, err
			}
		}

		lltimer := r.logger.StartWithKV("llm_client", "invoke", b.FileID, "", map[string]string{
			"tokens":  strconv.Itoa(tokens),
			"attempt": akv,
		})
		raw, err := r.comp.LLM.Invoke(ctx, b, p)
		if err != nil {
			r.logInvokeError(err, b.FileID, lltimer)
			lastErr = err
			if attempt+1 < attempts && shouldRetryInvoke(err) {
				_ = sleepWithCtx(ctx, retryDelay(err))
				continue
			}
			break
		}
		lltimer.Finish("invoke", int64(tokens))
		diag.IncOp("llm_client", "finish", "success")

		dctimer := r.logger.StartWith("decoder", "decode", b.FileID, "")
		splits, err := r.comp.Decoder.Decode(ctx, b, raw)
		if err != nil {
			code := diag.Classify(err)
			r.logger.ErrorWith("decoder", string(code), "decode failed", dctimer.Since(), b.FileID, "")
			diag.IncOp("decoder", "error", "error")
			if code != diag.CodeUnknown {
				diag.IncError("decoder", string(code))
			}
			lastErr = err
			if attempt+1 < attempts && shouldRetryDecode(err) {
				p = withRepair(p, raw, err)
				_ = sleepWithCtx(ctx, retryBase)
				continue
			}
			break
		}
		dctimer.Finish("decode", int64(len(splits)))
		diag.IncOp("decoder", "finish", "success")
		return splits, nil
	}
	return nil, lastErr
}

func (r *runner) logInvokeError(err error, fileID string, t *diag.Timer) {
	code := diag.Classify(err)
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		kv := map[string]string{"http_status": strconv.Itoa(ue.UpstreamStatus())}
		if m := strings.TrimSpace(ue.UpstreamMessage()); m != "" {
			if len(m) > 200 {
				m = m[:200]
			}
			kv["upstream_msg"] = m
		}
		r.logger.ErrorWithKV("llm_client", string(code), "invoke failed", t.Since(), fileID, "", kv)
	} else {
		r.logger.ErrorWith("llm_client", string(code), "invoke failed", t.Since(), fileID, "")
	}
	diag.IncOp("llm_client", "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError("llm_client", string(code))
	}
}

// failed 记录文件级失败；FailFast 时向上返回以取消整体。
func (r *runner) failed(id string, err error, t *diag.Timer) error {
	code := diag.Classify(err)
	r.logger.ErrorWith("annotate", string(code), err.Error(), t.Since(), id, "")
	diag.IncOp("annotate", "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError("annotate", string(code))
	}
	diag.IncUnit("annotate", "failed")
	if term := diag.GetTerminal(); term != nil {
		term.UnitDone(id, 0, err)
	}
	r.mu.Lock()
	r.stats.Failed++
	r.mu.Unlock()
	if r.set.FailFast {
		return fmt.Errorf("annotate %s: %w", id, err)
	}
	return nil
}

// fatal 记录并返回致命错误（触发首错取消）。
func (r *runner) fatal(comp, msg string, err error, id string) error {
	code := diag.Classify(err)
	if code != diag.CodeCancel {
		r.logger.ErrorWith(comp, string(code), msg, nil, id, "")
		diag.IncOp(comp, "error", "error")
		diag.IncError(comp, string(code))
	}
	if t := diag.GetTerminal(); t != nil {
		t.UnitDone(id, 0, err)
	}
	return fmt.Errorf("%s %s: %w", comp, id, err)
}

// parseBatch 解析 Section 文件（每行一条 Record），空行忽略。
func parseBatch(id string, body []byte) (contract.Batch, error) {
	b := contract.Batch{FileID: id, Body: strings.TrimSpace(string(body))}
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var rec contract.Record
		if err := json.Unmarshal(text, &rec); err != nil {
			return contract.Batch{}, fmt.Errorf("%w: %s line %d: %v", contract.ErrMalformedInput, id, line, err)
		}
		b.Records = append(b.Records, rec)
	}
	if err := sc.Err(); err != nil {
		return contract.Batch{}, fmt.Errorf("%w: %s: %v", contract.ErrMalformedInput, id, err)
	}
	if len(b.Records) == 0 {
		return contract.Batch{}, fmt.Errorf("%w: %s has no records", contract.ErrMalformedInput, id)
	}
	return b, nil
}

func encodeSplits(splits []contract.Split) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, s := range splits {
		if err := enc.Encode(s); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// withRepair 在会话型提示词末尾追加上一轮回答与修复指令；其他载荷原样返回。
func withRepair(p contract.Prompt, raw contract.Raw, cause error) contract.Prompt {
	cp, ok := p.(contract.ChatPrompt)
	if !ok {
		return p
	}
	out := make(contract.ChatPrompt, 0, len(cp)+2)
	for _, m := range cp {
		if m.Role == "assistant" || strings.HasPrefix(m.Content, repairPrefix) {
			continue
		}
		out = append(out, m)
	}
	out = append(out,
		contract.Message{Role: "assistant", Content: raw.Text},
		contract.Message{Role: "user", Content: repairPrefix + cause.Error() + ". Return only the corrected JSON."},
	)
	return out
}

const repairPrefix = "Your previous answer could not be used: "

// shouldRetryInvoke: 根据错误类型判断是否重试 LLM 调用。
// - 限流/网络：重试；
// - 取消/输入非法等：不重试。
func shouldRetryInvoke(err error) bool {
	if err == nil {
		return false
	}
	switch diag.Classify(err) {
	case diag.CodeBudget, diag.CodeNetwork:
		return true
	default:
		return false
	}
}

// shouldRetryDecode: 针对“模型幻觉/响应无效”做有限次重试。
func shouldRetryDecode(err error) bool {
	if err == nil {
		return false
	}
	return diag.Classify(err) == diag.CodeProtocol
}

// retryDelay: 默认 200ms；上游给出 Retry-After 时以其为准。
func retryDelay(err error) time.Duration {
	return max(retryBase, contract.RetryAfter(err))
}

const retryBase = 200 * time.Millisecond

// sleepWithCtx: 可取消的 sleep。
func sleepWithCtx(ctx context.Context, d time.Duration) error {
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

func sanity(c Components, s Settings) error {
	if c.Reader == nil || c.PromptBuilder == nil || c.LLM == nil || c.Decoder == nil || c.Writer == nil {
		return errors.New("annotate: missing components")
	}
	if len(s.Inputs) == 0 {
		return errors.New("annotate: empty inputs")
	}
	if s.Gate != nil && s.GateKey == "" {
		return errors.New("annotate: gate requires a key")
	}
	return nil
}
