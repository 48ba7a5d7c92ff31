// Package langgate 以可注入的语言识别器判定台词是否为目标语言（默认阿拉伯语）。
package langgate

import (
	"strings"

	"rawi/pkg/contract"
)

// Arabic 为默认目标语言（ISO 639-1）。
const Arabic = "ar"

// Gate 包装 Detector；识别器在启动时构造一次后注入，可并发使用。
type Gate struct {
	Detector contract.Detector
	Target   string
}

// New 构造目标语言为阿拉伯语的 Gate。
func New(d contract.Detector) Gate {
	return Gate{Detector: d, Target: Arabic}
}

// Detect 返回识别器的首选语言；未配置识别器时视为无法判定。
func (g Gate) Detect(text string) (string, bool) {
	if g.Detector == nil {
		return "", false
	}
	lang, ok := g.Detector.Detect(text)
	return strings.ToLower(lang), ok
}

// IsArabic 当且仅当识别器首选语言等于目标语言时返回 true。
func (g Gate) IsArabic(text string) bool {
	lang, ok := g.Detect(text)
	if !ok {
		return false
	}
	target := g.Target
	if target == "" {
		target = Arabic
	}
	return lang == target
}
