package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Terminal: 终端进度提示（非日志）。
// - TTY: 单行 \r 覆盖，100ms 节流；非 TTY: 仅在失败与结束时分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	stage       string
	concurrency int
	runStart    time.Time
	done        int
	failed      int
	skipped     int
	outputs     int

	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

// 进程级终端（可选，全局设置后供编排层旁路调用）。
var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器；enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") == "" {
		if f, ok := w.(*os.File); ok {
			if fi, err := f.Stat(); err == nil {
				t.isTTY = fi.Mode()&os.ModeCharDevice != 0
			}
		}
	}
	return t
}

// RunStart 记录运行上下文并重置计数。
func (t *Terminal) RunStart(stage string, concurrency int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.stage = stage
	t.concurrency = concurrency
	t.runStart = time.Now()
	t.done, t.failed, t.skipped, t.outputs = 0, 0, 0, 0
	t.println(fmt.Sprintf("[%s] 并发=%d", safe(stage), concurrency))
}

// UnitDone 记录一个工作单元（文档或 Section 文件）完成；outputs 为产出文件数。
func (t *Terminal) UnitDone(name string, outputs int, err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.done++
	t.outputs += outputs
	if err != nil {
		t.failed++
		if t.isTTY && t.lastLen > 0 {
			t.printInline("")
		}
		t.println(fmt.Sprintf("[fail] %s | %s", shortenBase(name, 48), safe(err.Error())))
		return
	}
	t.progress()
}

// UnitSkipped 记录一个因输出已存在而跳过的单元。
func (t *Terminal) UnitSkipped(name string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.done++
	t.skipped++
	t.progress()
}

func (t *Terminal) progress() {
	if !t.isTTY {
		return
	}
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	t.printInline(fmt.Sprintf("[%s] 完成 %d | 产出 %d | 跳过 %d | 失败 %d | 用时 %s",
		t.stage, t.done, t.outputs, t.skipped, t.failed, formatDur(time.Since(t.runStart))))
}

// RunFinish 输出结束总览。
func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	tag := "ok"
	if !ok {
		tag = "fail"
	}
	t.println(fmt.Sprintf("[%s] %s 完成 | 单元 %d | 产出 %d | 跳过 %d | 失败 %d | 总用时 %s",
		tag, t.stage, t.done, t.outputs, t.skipped, t.failed, formatDur(dur)))
}

func (t *Terminal) println(s string) {
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	// 新行比旧行短时以空格覆盖残留
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	if _, err := io.WriteString(t.w, "\r"+s+strings.Repeat(" ", pad)); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shortenBase: 取基名并按 rune 数截断（尾部省略号）。
func shortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	base := filepath.Base(strings.TrimSpace(s))
	rs := []rune(base)
	if len(rs) <= max {
		return base
	}
	return string(rs[:max-1]) + "…"
}

func visLen(s string) int { return len([]rune(s)) }

// safe 去除换行，避免污染终端。
func safe(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}

func formatDur(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", max(d.Milliseconds(), 0))
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
