// Package segment 将文档切分为 Section，再将 Section 切分为段落。
package segment

import (
	"strings"

	"rawi/pkg/contract"
)

const (
	// Sentinel 为 Section 分隔标记。
	Sentinel = "##########"
	// DefaultMaxSections 为单文档最多考察的 Section 数。
	DefaultMaxSections = 10
	paragraphSep       = "\n\n"
)

// Document 按 Sentinel 切分文档，仅考察前 maxSections 个原始片段。
// 空白片段被丢弃但仍占用其下标；maxSections <= 0 时取默认值。
func Document(text string, maxSections int) []contract.Section {
	if maxSections <= 0 {
		maxSections = DefaultMaxSections
	}
	// SplitN 的最后一段会携带剩余全部文本，因此多切一段再截断
	parts := strings.SplitN(text, Sentinel, maxSections+1)
	if len(parts) > maxSections {
		parts = parts[:maxSections]
	}
	out := make([]contract.Section, 0, len(parts))
	for i, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, contract.Section{Index: i, Text: p})
	}
	return out
}

// Paragraphs 去除 Section 首尾空白后按空行切分，逐段去空白并丢弃空段。
func Paragraphs(section string) []string {
	pieces := strings.Split(strings.TrimSpace(section), paragraphSep)
	out := pieces[:0]
	for _, p := range pieces {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
