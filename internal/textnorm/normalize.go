// Package textnorm 将源文本中的 HTML 实体与字面反斜杠转义还原为语义字符。
package textnorm

import (
	"html"
	"strings"
)

// escapes 按固定顺序替换；`\\` 必须最后处理。
var escapes = [...]struct{ from, to string }{
	{`\n`, "\n"},
	{`\t`, "\t"},
	{`\r`, "\r"},
	{`\"`, `"`},
	{`\'`, `'`},
	{`\\`, `\`},
}

// Normalize 先完整解码 HTML 实体，再逐步替换字面转义序列。
// 每一步是对上一步结果的一次从左到右、不重叠的扫描，步内不回扫已替换的输出。
// 非法实体原样保留；不会失败。
func Normalize(raw string) string {
	s := html.UnescapeString(raw)
	if !strings.Contains(s, `\`) {
		return s
	}
	for _, e := range escapes {
		s = strings.ReplaceAll(s, e.from, e.to)
	}
	return s
}
