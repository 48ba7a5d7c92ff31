// Package turn 识别 "说话人: 台词" 形式的对白段落。
package turn

import (
	"regexp"
	"strings"

	"rawi/pkg/contract"
)

// DefaultMaxLabelTokens 为说话人标签允许的最大空白分词数。
const DefaultMaxLabelTokens = 4

// 标签：自段首起不含冒号与标点的最长串；台词：冒号与可选空白之后直到段尾，且不跨行。
var turnPattern = regexp.MustCompile(`^([^:.,!?;،؛؟]+):\s*(.+)$`)

// Parser 持有标签校验参数；零值使用默认上限。
type Parser struct {
	MaxLabelTokens int
}

// Parse 使用默认参数解析段落。
func Parse(paragraph string) (contract.Turn, bool) {
	return Parser{}.Parse(paragraph)
}

// Parse 匹配失败或未通过结构校验时返回 ok=false（不视为错误）。
// 超过上限的多词标签通常是恰好含冒号的叙述句，而非说话人。
func (p Parser) Parse(paragraph string) (contract.Turn, bool) {
	m := turnPattern.FindStringSubmatch(paragraph)
	if m == nil {
		return contract.Turn{}, false
	}
	label := strings.TrimSpace(m[1])
	if label == "" {
		return contract.Turn{}, false
	}
	limit := p.MaxLabelTokens
	if limit <= 0 {
		limit = DefaultMaxLabelTokens
	}
	if len(strings.Fields(label)) > limit {
		return contract.Turn{}, false
	}
	utterance := strings.TrimSpace(m[2])
	if utterance == "" {
		return contract.Turn{}, false
	}
	return contract.Turn{Label: label, Utterance: utterance}, true
}
