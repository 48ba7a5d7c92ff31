// Package lingua 基于 lingua-go 统计模型的语言识别器。
package lingua

import (
	"fmt"
	"strings"

	lingua "github.com/pemistahl/lingua-go"

	"rawi/pkg/contract"
)

// Options: 识别器构造参数。
type Options struct {
	// Languages: 候选语言集合（英文名或 ISO 639-1，大小写不敏感）；为空时仅阿拉伯语。
	Languages []string `json:"languages,omitempty"`
	// MinimumRelativeDistance: 首选与次选的最小置信差，低于该值视为无法判定。
	MinimumRelativeDistance float64 `json:"minimum_relative_distance,omitempty"`
	// Preload: 启动时加载全部模型，避免首次识别时的延迟。
	Preload bool `json:"preload,omitempty"`
	// LowAccuracy: 低精度模式，内存占用更小。
	LowAccuracy bool `json:"low_accuracy,omitempty"`
}

// Detector 实现 contract.Detector；内部模型只读，可并发调用。
type Detector struct {
	d lingua.LanguageDetector
}

var _ contract.Detector = (*Detector)(nil)

// New 构造识别器。未知语言名返回 ErrInvalidInput。
func New(opts Options) (*Detector, error) {
	names := opts.Languages
	if len(names) == 0 {
		names = []string{"arabic"}
	}
	langs, err := ParseLanguages(names)
	if err != nil {
		return nil, err
	}
	if opts.MinimumRelativeDistance < 0 || opts.MinimumRelativeDistance >= 0.99 {
		return nil, fmt.Errorf("%w: minimum_relative_distance must be in [0,0.99)", contract.ErrInvalidInput)
	}
	b := lingua.NewLanguageDetectorBuilder().FromLanguages(withContrast(langs)...)
	if opts.MinimumRelativeDistance > 0 {
		b = b.WithMinimumRelativeDistance(opts.MinimumRelativeDistance)
	}
	if opts.Preload {
		b = b.WithPreloadedLanguageModels()
	}
	if opts.LowAccuracy {
		b = b.WithLowAccuracyMode()
	}
	return &Detector{d: b.Build()}, nil
}

// withContrast: lingua 至少需要两个候选语言；单语言时补一个对照语言。
// 对照语言与目标语言书写系统不同，不影响目标语言的判定。
func withContrast(langs []lingua.Language) []lingua.Language {
	if len(langs) != 1 {
		return langs
	}
	if langs[0] == lingua.English {
		return append(langs, lingua.Arabic)
	}
	return append(langs, lingua.English)
}

// Detect 返回首选语言的小写 ISO 639-1 代码。
func (d *Detector) Detect(text string) (string, bool) {
	lang, ok := d.d.DetectLanguageOf(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}

// ParseLanguages 将语言名解析为 lingua 语言集合（去重，保持首次出现顺序）。
func ParseLanguages(names []string) ([]lingua.Language, error) {
	all := lingua.AllLanguages()
	seen := make(map[lingua.Language]bool, len(names))
	out := make([]lingua.Language, 0, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		found := false
		for _, l := range all {
			if strings.EqualFold(l.String(), name) || strings.EqualFold(l.IsoCode639_1().String(), name) {
				if !seen[l] {
					seen[l] = true
					out = append(out, l)
				}
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: unknown language %q", contract.ErrInvalidInput, raw)
		}
	}
	return out, nil
}
