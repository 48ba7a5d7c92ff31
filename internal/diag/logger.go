package diag

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options: 日志输出配置。
type Options struct {
	Level      string // debug|info|warn|error，未知值按 info
	Dir        string // 日志目录，默认 logs
	MaxSizeMB  int    // 单文件上限，默认 10
	MaxBackups int    // 历史文件个数，默认 5
	MaxAgeDays int    // 0 表示不按时间清理
	Compress   bool
}

// CurrentLogName 为当前日志文件名；轮转后的历史文件由 lumberjack 追加时间戳。
const CurrentLogName = "rawi-current.log"

// Logger 为结构化事件日志器：单行 JSON，字段集合固定（comp/stage/code/...）。
// 并发安全。
type Logger struct {
	z      *zap.Logger
	closer io.Closer
}

// NewLogger 写入 opts.Dir 下按大小轮转的日志文件。
func NewLogger(corrID string, opts Options) *Logger {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		dir = "logs"
	}
	size := opts.MaxSizeMB
	if size <= 0 {
		size = 10
	}
	backups := opts.MaxBackups
	if backups <= 0 {
		backups = 5
	}
	lj := &lumberjack.Logger{
		Filename:   filepath.Join(dir, CurrentLogName),
		MaxSize:    size,
		MaxBackups: backups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	l := newLogger(corrID, opts.Level, zapcore.AddSync(lj))
	l.closer = lj
	return l
}

// NewLoggerTo 写入任意 io.Writer（测试与 stderr 输出）。
func NewLoggerTo(corrID, level string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return newLogger(corrID, level, zapcore.AddSync(w))
}

// Nop 返回丢弃全部事件的日志器。
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

func newLogger(corrID, level string, ws zapcore.WriteSyncer) *Logger {
	enc := zapcore.EncoderConfig{
		LevelKey:       "level",
		TimeKey:        "ts",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     utcTime,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.Lock(ws), zap.NewAtomicLevelAt(parseLevel(level)))
	return &Logger{z: zap.New(core).With(zap.String("corr_id", corrID))}
}

func utcTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(time.RFC3339))
}

func parseLevel(s string) zapcore.Level {
	lv, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zapcore.InfoLevel
	}
	return lv
}

// Close 刷新缓冲并关闭文件句柄。
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	_ = l.z.Sync()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// Event 为标准事件字段集合；空字段不输出。
type Event struct {
	Comp    string
	Stage   string // start|finish|error|skip
	Code    string
	DurMS   int64
	Count   int64
	FileID  string
	Section string
	Msg     string
	KV      map[string]string
}

func (l *Logger) log(lv zapcore.Level, ev Event) {
	if l == nil {
		return
	}
	ce := l.z.Check(lv, ev.Msg)
	if ce == nil {
		return
	}
	fields := make([]zap.Field, 0, 8)
	fields = append(fields, zap.String("comp", ev.Comp), zap.String("stage", ev.Stage))
	if ev.Code != "" {
		fields = append(fields, zap.String("code", ev.Code))
	}
	if ev.DurMS != 0 {
		fields = append(fields, zap.Int64("dur_ms", ev.DurMS))
	}
	if ev.Count != 0 {
		fields = append(fields, zap.Int64("count", ev.Count))
	}
	if ev.FileID != "" {
		fields = append(fields, zap.String("file_id", ev.FileID))
	}
	if ev.Section != "" {
		fields = append(fields, zap.String("section", ev.Section))
	}
	if len(ev.KV) > 0 {
		fields = append(fields, zap.Any("kv", ev.KV))
	}
	ce.Write(fields...)
}

func since(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return time.Since(*t).Milliseconds()
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(zapcore.InfoLevel, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 file_id/section 的 start。
func (l *Logger) StartWith(comp, msg, fileID, section string) *Timer {
	return l.StartWithKV(comp, msg, fileID, section, nil)
}

// StartWithKV 记录带 file_id/section 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID, section string, kv map[string]string) *Timer {
	l.log(zapcore.InfoLevel, Event{Comp: comp, Stage: "start", FileID: fileID, Section: section, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, fileID: fileID, section: section, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.log(zapcore.ErrorLevel, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg})
}

// ErrorWith 支持 file_id/section。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID, section string) {
	l.ErrorWithKV(comp, code, msg, durSince, fileID, section, nil)
}

// ErrorWithKV 支持附带键值对（例如 HTTP 状态码、上游错误片段）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID, section string, kv map[string]string) {
	l.log(zapcore.ErrorLevel, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg, FileID: fileID, Section: section, KV: kv})
}

// Skip 记录被跳过的工作单元（如输出已存在）。
func (l *Logger) Skip(comp, msg, fileID string) {
	l.log(zapcore.InfoLevel, Event{Comp: comp, Stage: "skip", FileID: fileID, Msg: msg})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(zapcore.InfoLevel, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// InfoKV 记录汇总类 finish 事件（不计时）。
func (l *Logger) InfoKV(comp, msg string, kv map[string]string) {
	l.log(zapcore.InfoLevel, Event{Comp: comp, Stage: "finish", Msg: msg, KV: kv})
}

// DebugStart 输出调试级别的 start 事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, fileID, section string, kv map[string]string) {
	l.log(zapcore.DebugLevel, Event{Comp: comp, Stage: "start", FileID: fileID, Section: section, Msg: msg, KV: kv})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l       *Logger
	comp    string
	fileID  string
	section string
	t0      time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(zapcore.InfoLevel, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, FileID: t.fileID, Section: t.section, Msg: msg})
}

// Since 返回计时起点，便于错误事件计算耗时。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}
