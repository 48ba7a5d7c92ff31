package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"rawi/pkg/contract"
)

// Options: 无网络联调配置（可选）。
type Options struct {
	Prefix string `json:"prefix"` // topic 前缀，默认 "MOCK"
	// APIKey: 仅用于限流分组（调试用），不参与任何网络请求。
	APIKey string `json:"api_key"`
	// GroupSize: split_groups/split_array 模式下每个 split 的行数，默认 5。
	GroupSize int `json:"group_size"`
	// ResponseMode:
	//  - "" 或 "split_groups": 每 GroupSize 行一个 split，line_ids 为逗号分隔字符串、split_id 为字符串（模拟常见 LLM 输出）。
	//  - "split_array": 同上，但 split_id/line_ids 为数字与数字数组。
	//  - "split_single": 全部行归入一个 split。
	//  - "echo": 回显 Prompt 摘要（非 JSON，用于观察提示词）。
	ResponseMode string `json:"response_mode,omitempty"`
}

type Client struct {
	prefix string
	group  int
	mode   string
}

func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	if o.GroupSize <= 0 {
		o.GroupSize = 5
	}
	mode := strings.TrimSpace(o.ResponseMode)
	if mode == "" {
		mode = "split_groups"
	}
	switch mode {
	case "split_groups", "split_array", "split_single", "echo":
	default:
		return nil, fmt.Errorf("mock: %w: unknown response_mode %q", contract.ErrInvalidInput, mode)
	}
	return &Client{prefix: o.Prefix, group: o.GroupSize, mode: mode}, nil
}

func (c *Client) Invoke(ctx context.Context, b contract.Batch, p contract.Prompt) (contract.Raw, error) {
	select {
	case <-ctx.Done():
		return contract.Raw{}, ctx.Err()
	default:
	}
	switch c.mode {
	case "split_groups":
		return contract.Raw{Text: groupsJSON(b, c.prefix, c.group, false)}, nil
	case "split_array":
		return contract.Raw{Text: groupsJSON(b, c.prefix, c.group, true)}, nil
	case "split_single":
		return contract.Raw{Text: groupsJSON(b, c.prefix, len(b.Records), true)}, nil
	}
	switch v := p.(type) {
	case contract.TextPrompt:
		return contract.Raw{Text: fmt.Sprintf("%s(text): %s", c.prefix, string(v))}, nil
	case contract.ChatPrompt:
		if len(v) == 0 {
			return contract.Raw{Text: fmt.Sprintf("%s(chat): <empty>", c.prefix)}, nil
		}
		last := v[len(v)-1]
		return contract.Raw{Text: fmt.Sprintf("%s(chat:%d:%s): %s", c.prefix, len(v), last.Role, last.Content)}, nil
	default:
		return contract.Raw{Text: fmt.Sprintf("%s(unknown prompt type)", c.prefix)}, nil
	}
}

// groupsJSON 将批内记录按 size 行切分为连续 split。
func groupsJSON(b contract.Batch, prefix string, size int, numeric bool) string {
	if size <= 0 {
		size = 1
	}
	type strItem struct {
		SplitID string `json:"split_id"`
		Topic   string `json:"topic"`
		LineIDs string `json:"line_ids"`
	}
	type numItem struct {
		SplitID int    `json:"split_id"`
		Topic   string `json:"topic"`
		LineIDs []int  `json:"line_ids"`
	}
	var out []any
	for i, n := 0, 1; i < len(b.Records); i, n = i+size, n+1 {
		end := min(i+size, len(b.Records))
		ids := make([]int, 0, end-i)
		strs := make([]string, 0, end-i)
		for _, r := range b.Records[i:end] {
			ids = append(ids, r.LineID)
			strs = append(strs, strconv.Itoa(r.LineID))
		}
		topic := fmt.Sprintf("%s %d", prefix, n)
		if numeric {
			out = append(out, numItem{SplitID: n, Topic: topic, LineIDs: ids})
		} else {
			out = append(out, strItem{SplitID: strconv.Itoa(n), Topic: topic, LineIDs: strings.Join(strs, ",")})
		}
	}
	if out == nil {
		return "[]"
	}
	bts, _ := json.Marshal(out)
	return string(bts)
}

var _ contract.LLMClient = (*Client)(nil)
