package splitjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"rawi/pkg/contract"
)

// Options: 解码宽松度。
// RequireCoverage 为真时，Section 内每个 line_id 必须恰好归入一个 split。
// Strict 为真时，响应必须是符合 contract.SplitsJSONSchema 的 {"splits":[...]} 对象，
// 字段类型不再宽松转换；与提示词的 structured_output 配合使用。
type Options struct {
	RequireCoverage bool `json:"require_coverage"`
	Strict          bool `json:"strict"`
}

var splitsSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(contract.SplitsJSONSchema))
})

type decoder struct {
	opts Options
}

// New 从原样 JSON Options 创建解码器。
func New(raw json.RawMessage) (contract.Decoder, error) {
	var opts Options
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return nil, fmt.Errorf("splitjson options: %w", err)
		}
	}
	if opts.Strict {
		if _, err := splitsSchema(); err != nil {
			return nil, fmt.Errorf("splitjson schema: %w", err)
		}
	}
	return &decoder{opts: opts}, nil
}

// item 的字段按原样保留，再逐个宽松解析：
// split_id 可为数字或数字字符串；line_ids 可为整数数组、字符串数组或逗号分隔字符串（支持 "3-5" 区间）。
type item struct {
	SplitID json.RawMessage `json:"split_id"`
	Topic   string          `json:"topic"`
	LineIDs json.RawMessage `json:"line_ids"`
}

// Decode 期望 Raw.Text 含一个 JSON 数组（取首个 '[' 至最后一个 ']'），
// 或结构化输出模式下的 {"splits":[...]} 对象。
func (d *decoder) Decode(ctx context.Context, b contract.Batch, raw contract.Raw) ([]contract.Split, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if d.opts.Strict {
		if err := conform(raw.Text); err != nil {
			return nil, err
		}
	}
	items, err := parseItems(raw.Text)
	if err != nil {
		return nil, err
	}
	splits := make([]contract.Split, 0, len(items))
	for i, it := range items {
		id, err := parseSplitID(it.SplitID, i+1)
		if err != nil {
			return nil, fmt.Errorf("split %d: %w", i, err)
		}
		ids, err := parseLineIDs(it.LineIDs)
		if err != nil {
			return nil, fmt.Errorf("split %d: %w", id, err)
		}
		splits = append(splits, contract.Split{SplitID: id, Topic: strings.TrimSpace(it.Topic), LineIDs: ids})
	}
	return contract.ValidateSplits(b, splits, d.opts.RequireCoverage)
}

var _ contract.Decoder = (*decoder)(nil)

// conform 校验响应中首个 '{' 至最后一个 '}' 的对象是否符合 schema；最多报告 3 处违例。
func conform(text string) error {
	s := strings.TrimSpace(text)
	i := strings.IndexByte(s, '{')
	j := strings.LastIndexByte(s, '}')
	if i < 0 || j < i {
		return fmt.Errorf("decode splits: no json object: %w", contract.ErrResponseInvalid)
	}
	schema, err := splitsSchema()
	if err != nil {
		return err
	}
	res, err := schema.Validate(gojsonschema.NewStringLoader(s[i : j+1]))
	if err != nil {
		return fmt.Errorf("decode splits: %v: %w", err, contract.ErrResponseInvalid)
	}
	if res.Valid() {
		return nil
	}
	var msgs []string
	for _, e := range res.Errors() {
		if len(msgs) == 3 {
			break
		}
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("decode splits: schema: %s: %w", strings.Join(msgs, "; "), contract.ErrResponseInvalid)
}

func parseItems(text string) ([]item, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "{") {
		var wrapped struct {
			Splits []item `json:"splits"`
		}
		if err := json.Unmarshal([]byte(s), &wrapped); err == nil && wrapped.Splits != nil {
			return wrapped.Splits, nil
		}
	}
	i := strings.IndexByte(s, '[')
	j := strings.LastIndexByte(s, ']')
	if i < 0 || j < i {
		return nil, fmt.Errorf("decode splits: no json array: %w", contract.ErrResponseInvalid)
	}
	var arr []item
	if err := json.Unmarshal([]byte(s[i:j+1]), &arr); err != nil {
		return nil, fmt.Errorf("decode splits: %v: %w", err, contract.ErrResponseInvalid)
	}
	return arr, nil
}

// parseSplitID: 缺省时使用 1 起的序号。
func parseSplitID(raw json.RawMessage, fallback int) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return fallback, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return atoi(string(n))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return atoi(s)
	}
	return 0, fmt.Errorf("split_id %s: %w", raw, contract.ErrResponseInvalid)
}

func parseLineIDs(raw json.RawMessage) ([]int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("missing line_ids: %w", contract.ErrResponseInvalid)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseIDList(s)
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, fmt.Errorf("line_ids %s: %w", raw, contract.ErrResponseInvalid)
	}
	out := make([]int, 0, len(arr))
	for _, el := range arr {
		var n json.Number
		if err := json.Unmarshal(el, &n); err == nil {
			v, err := atoi(string(n))
			if err != nil {
				return nil, err
			}
			out = append(out, v)
			continue
		}
		var es string
		if err := json.Unmarshal(el, &es); err != nil {
			return nil, fmt.Errorf("line_ids element %s: %w", el, contract.ErrResponseInvalid)
		}
		ids, err := parseIDList(es)
		if err != nil {
			return nil, err
		}
		out = append(out, ids...)
	}
	return out, nil
}

// parseIDList 解析 "0, 1, 2" 或 "3-5" 形式的列表。
func parseIDList(s string) ([]int, error) {
	var out []int
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(tok, "-"); ok && lo != "" {
			a, err := atoi(lo)
			if err != nil {
				return nil, err
			}
			z, err := atoi(hi)
			if err != nil {
				return nil, err
			}
			if z < a {
				return nil, fmt.Errorf("line_ids range %q: %w", tok, contract.ErrResponseInvalid)
			}
			for v := a; v <= z; v++ {
				out = append(out, v)
			}
			continue
		}
		v, err := atoi(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func atoi(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v < 0 {
		return 0, fmt.Errorf("not a non-negative integer %q: %w", s, contract.ErrResponseInvalid)
	}
	return v, nil
}
