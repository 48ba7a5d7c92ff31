// Package script 是不依赖统计模型的确定性识别器：按阿拉伯字母占比判定。
// 适用于测试夹具与无法加载模型的环境。
package script

import (
	"fmt"
	"unicode"

	"rawi/pkg/contract"
)

// DefaultThreshold: 阿拉伯字母占全部字母的最低比例。
const DefaultThreshold = 0.5

// Options: 可选参数。
type Options struct {
	Threshold float64 `json:"threshold,omitempty"`
}

// Detector 实现 contract.Detector；无状态，可并发调用。
type Detector struct {
	threshold float64
}

var _ contract.Detector = (*Detector)(nil)

// New 构造识别器；Threshold 为 0 时取默认值。
func New(opts Options) (*Detector, error) {
	th := opts.Threshold
	if th == 0 {
		th = DefaultThreshold
	}
	if th < 0 || th > 1 {
		return nil, fmt.Errorf("%w: threshold must be in (0,1]", contract.ErrInvalidInput)
	}
	return &Detector{threshold: th}, nil
}

// Detect 文本不含字母或阿拉伯字母占比不足时返回 ok=false。
func (d *Detector) Detect(text string) (string, bool) {
	letters, arabic := 0, 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Arabic, r) {
			arabic++
		}
	}
	if letters == 0 {
		return "", false
	}
	if float64(arabic)/float64(letters) >= d.threshold {
		return "ar", true
	}
	return "", false
}
