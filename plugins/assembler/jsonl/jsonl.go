package jsonl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf16"

	"rawi/pkg/contract"
)

// Options: JSONL 装配参数。
type Options struct {
	// EnsureASCII: 以 \uXXXX 转义全部非 ASCII 字符（与旧工具产出逐字节一致）。
	EnsureASCII bool `json:"ensure_ascii,omitempty"`
}

type assembler struct {
	opts Options
}

// New 从原样 JSON Options 创建 JSONL 装配器。
func New(opts Options) contract.Assembler {
	return &assembler{opts: opts}
}

// Assemble 每条记录编码为一行 JSON（键序 line_id,file_id,speaker,text）。
// 发现 file_id 混入或 line_id 不连续即返回 ErrSeqInvalid。
func (a *assembler) Assemble(ctx context.Context, res contract.SectionResult) (io.Reader, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	for i, r := range res.Records {
		if r.LineID != i || r.FileID != res.FileID {
			return nil, fmt.Errorf("%w: record %d (line_id=%d file_id=%s) in section %s", contract.ErrSeqInvalid, i, r.LineID, r.FileID, res.FileID)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, r := range res.Records {
		// Encoder 自带换行
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	if !a.opts.EnsureASCII {
		return &buf, nil
	}
	return bytes.NewReader(escapeNonASCII(buf.Bytes())), nil
}

// escapeNonASCII 将非 ASCII rune 转为 \uXXXX（补充平面使用代理对）。
// 输入为合法 JSON，非 ASCII 字符只可能出现在字符串内部。
func escapeNonASCII(b []byte) []byte {
	out := make([]byte, 0, len(b)*2)
	for _, r := range string(b) {
		if r < 0x80 {
			out = append(out, byte(r))
			continue
		}
		if r > 0xFFFF {
			hi, lo := utf16.EncodeRune(r)
			out = fmt.Appendf(out, `\u%04x\u%04x`, hi, lo)
			continue
		}
		out = fmt.Appendf(out, `\u%04x`, r)
	}
	return out
}

var _ contract.Assembler = (*assembler)(nil)
