package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"rawi/internal/diag"
	"rawi/internal/extract"
	"rawi/pkg/contract"
)

// - 单点并发：仅此层管理并发与背压；抽取组件均为同步、无内部并发。
// - Reader 串行读取完整文档后交给有界 worker 池（errgroup.SetLimit 形成背压）。
// - 首错取消：写出失败为致命错误，记录首错并取消整体；单个文档的输入错误默认只影响该文档。

// Components 聚合抽取阶段所需的组件。
type Components struct {
	Reader    contract.Reader
	Extractor *extract.Extractor
	Assembler contract.Assembler
	Writer    contract.Writer
}

// Settings 运行期配置。
type Settings struct {
	Inputs      []string
	Concurrency int
	// SkipExisting: 输出已存在的 Section 不再写出（要求 Writer 实现 contract.Stater）。
	SkipExisting bool
	// FailFast: 文档级输入错误（不可读、非 UTF-8）也中止整个运行。
	FailFast bool
}

// Stats 为一次运行的汇总。
type Stats struct {
	extract.Stats
	Documents  int // 已处理文档（含失败）
	Failed     int // 输入错误的文档
	Written    int // 写出的 Section 文件
	Skipped    int // 因输出已存在而跳过的 Section
	Collisions int // 与其他文档派生出相同 file_id 而被跳过的 Section
}

// Run 执行抽取流水线：Reader → Normalize/Segment/Parse/Filter → Assembler → Writer。
// 同一文档内 Section 串行处理；文档之间并发。
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
			return Stats{}, errors.New("pipeline: skip_existing requires a writer that implements Exists")
		}
		stater = s
	}

	r := &runner{comp: comp, set: set, logger: logger, stater: stater, claimed: make(map[string]contract.FileID)}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(set.Concurrency, 1))

	rtimer := logger.Start("reader", "iterate")
	ierr := comp.Reader.Iterate(gctx, set.Inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		body, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			err = fmt.Errorf("%w: read %s: %v", contract.ErrMalformedInput, fid, err)
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		// SetLimit 达到上限时 Go 阻塞，形成对 Reader 的背压
		g.Go(func() error {
			if err != nil {
				return r.inputFailed(fid, err)
			}
			return r.document(gctx, fid, body)
		})
		return nil
	})
	if werr := g.Wait(); werr != nil {
		return r.snapshot(), werr
	}
	if ierr != nil {
		code := diag.Classify(ierr)
		if code != diag.CodeCancel {
			logger.Error("reader", string(code), "iterate failed", rtimer.Since())
			diag.IncOp("reader", "iterate", "error")
			diag.IncError("reader", string(code))
		}
		return r.snapshot(), fmt.Errorf("reader iterate: %w", ierr)
	}
	st := r.snapshot()
	rtimer.Finish("iterate", int64(st.Documents))
	diag.IncOp("reader", "iterate", "success")
	return st, nil
}

type runner struct {
	comp   Components
	set    Settings
	logger *diag.Logger
	stater contract.Stater

	mu      sync.Mutex
	stats   Stats
	claimed map[string]contract.FileID
}

func (r *runner) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// inputFailed 记录文档级输入错误；FailFast 时向上返回以取消整体。
func (r *runner) inputFailed(fid contract.FileID, err error) error {
	code := diag.Classify(err)
	r.logger.ErrorWith("extract", string(code), err.Error(), nil, string(fid), "")
	diag.IncError("extract", string(code))
	diag.IncUnit("extract", "failed")
	if t := diag.GetTerminal(); t != nil {
		t.UnitDone(string(fid), 0, err)
	}
	r.mu.Lock()
	r.stats.Documents++
	r.stats.Failed++
	r.mu.Unlock()
	if r.set.FailFast {
		return fmt.Errorf("document %s: %w", fid, err)
	}
	return nil
}

// claim 登记 Section 标识；不同路径的同名文档派生出相同 file_id 时仅首个登记者写出。
func (r *runner) claim(fileID string, src contract.FileID) (contract.FileID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.claimed[fileID]; ok && prev != src {
		r.stats.Collisions++
		return prev, false
	}
	r.claimed[fileID] = src
	return src, true
}

func (r *runner) document(ctx context.Context, fid contract.FileID, body []byte) error {
	if !utf8.Valid(body) {
		return r.inputFailed(fid, fmt.Errorf("%w: %s is not valid UTF-8", contract.ErrMalformedInput, fid))
	}
	doc := contract.Document{ID: contract.DocumentIDOf(fid), Text: string(body)}
	timer := r.logger.StartWith("extract", "document", string(fid), "")
	results, es := r.comp.Extractor.Document(doc)
	reportTurns(es)

	written, skipped := 0, 0
	for _, res := range results {
		if err := ctx.Err(); err != nil {
			return err
		}
		sec := strconv.Itoa(res.Section)
		if prev, ok := r.claim(res.FileID, fid); !ok {
			r.logger.ErrorWithKV("extract", string(diag.CodeInvariant), "file_id collision", nil, string(fid), sec,
				map[string]string{"file_id": res.FileID, "claimed_by": string(prev)})
			diag.IncError("extract", string(diag.CodeInvariant))
			continue
		}
		id := contract.ArtifactID(res.FileID + ".jsonl")
		if r.stater != nil {
			ok, err := r.stater.Exists(ctx, id)
			if err != nil {
				return r.fatal("writer", "exists failed", err, fid, sec)
			}
			if ok {
				r.logger.Skip("writer", "output exists", string(id))
				skipped++
				continue
			}
		}
		if err := r.write(ctx, fid, sec, id, res); err != nil {
			return err
		}
		written++
	}

	timer.Finish("document", int64(written))
	diag.IncOp("extract", "document", "success")
	if d := timer.Since(); d != nil {
		diag.ObserveDuration("extract", "document", time.Since(*d).Milliseconds())
	}
	diag.IncUnit("extract", "ok")
	if t := diag.GetTerminal(); t != nil {
		t.UnitDone(string(fid), written, nil)
	}
	r.mu.Lock()
	r.stats.Stats.Add(es)
	r.stats.Documents++
	r.stats.Written += written
	r.stats.Skipped += skipped
	r.mu.Unlock()
	return nil
}

func (r *runner) write(ctx context.Context, fid contract.FileID, sec string, id contract.ArtifactID, res contract.SectionResult) error {
	atimer := r.logger.StartWith("assembler", "assemble", string(fid), sec)
	rd, err := r.comp.Assembler.Assemble(ctx, res)
	if err != nil {
		return r.fatal("assembler", "assemble failed", err, fid, sec)
	}
	atimer.Finish("assemble", int64(len(res.Records)))
	diag.IncOp("assembler", "assemble", "success")

	wtimer := r.logger.StartWith("writer", "write", string(id), sec)
	if err := r.comp.Writer.Write(ctx, id, rd); err != nil {
		return r.fatal("writer", "write failed", err, fid, sec)
	}
	wtimer.Finish("write", 1)
	diag.IncOp("writer", "write", "success")
	return nil
}

// fatal 记录并返回致命错误（触发首错取消）。
func (r *runner) fatal(comp, msg string, err error, fid contract.FileID, sec string) error {
	code := diag.Classify(err)
	if code != diag.CodeCancel {
		r.logger.ErrorWith(comp, string(code), msg, nil, string(fid), sec)
		diag.IncOp(comp, "error", "error")
		diag.IncError(comp, string(code))
	}
	if t := diag.GetTerminal(); t != nil {
		t.UnitDone(string(fid), 0, err)
	}
	return fmt.Errorf("%s %s: %w", comp, fid, err)
}

func reportTurns(s extract.Stats) {
	diag.AddTurns("accepted", s.Accepted)
	diag.AddTurns("parse_miss", s.ParseMiss)
	diag.AddTurns("punct_reject", s.PunctReject)
	diag.AddTurns("lang_reject", s.LangReject)
	diag.AddSections("kept", s.Kept)
	diag.AddSections("discarded", s.Discarded)
}

func sanity(c Components, s Settings) error {
	if c.Reader == nil || c.Extractor == nil || c.Assembler == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if len(s.Inputs) == 0 {
		return errors.New("pipeline: empty inputs")
	}
	return nil
}
