package diag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry 为进程内私有指标注册表；运行结束时可写出为文本格式供 textfile 采集。
var Registry = prometheus.NewRegistry()

var (
	opsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "rawi_ops_total",
		Help: "Operations by component, stage and result.",
	}, []string{"comp", "stage", "result"})

	errorsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "rawi_errors_total",
		Help: "Errors by component and classification code.",
	}, []string{"comp", "code"})

	stageDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rawi_stage_duration_seconds",
		Help:    "Stage latency.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"comp", "stage"})

	turnsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "rawi_turns_total",
		Help: "Paragraphs by extraction outcome (accepted, parse_miss, punct_reject, lang_reject).",
	}, []string{"result"})

	sectionsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "rawi_sections_total",
		Help: "Sections by output policy outcome (kept, discarded).",
	}, []string{"result"})

	documentsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "rawi_documents_total",
		Help: "Work units (documents, section files) by outcome.",
	}, []string{"stage", "result"})
)

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	opsTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	errorsTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	stageDuration.WithLabelValues(comp, stage).Observe(float64(durMS) / 1000)
}

// AddTurns 累加段落处理结果。
func AddTurns(result string, n int) {
	if n > 0 {
		turnsTotal.WithLabelValues(result).Add(float64(n))
	}
}

// AddSections 累加 Section 输出策略结果。
func AddSections(result string, n int) {
	if n > 0 {
		sectionsTotal.WithLabelValues(result).Add(float64(n))
	}
}

// IncUnit 累加工作单元结果（stage=extract|annotate，result=ok|failed|skipped）。
func IncUnit(stage, result string) {
	documentsTotal.WithLabelValues(stage, result).Inc()
}

// WriteTextfile 以 Prometheus 文本格式原子写出全部指标。
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
