package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"rawi/pkg/contract"
)

// Options 定义可选项。
type Options struct {
	Prefix string `json:"prefix"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client 是带状态的 LLM 实现，按 Batch.FileID 分别计数：
// 第一次 Invoke 返回 ErrRateLimited；
// 第二次返回无法解析的文本；
// 之后返回单个覆盖全部行的 split。
type Client struct {
	prefix  string
	logPath string
	mu      sync.Mutex
	calls   map[string]int
}

// New 构造 Client。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
	}
	if o.Prefix == "" {
		o.Prefix = "FLAKY"
	}
	return &Client{prefix: o.Prefix, logPath: o.LogPath, calls: make(map[string]int)}, nil
}

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	f, err := os.OpenFile(c.logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(s + "\n")
}

// Invoke 实现 contract.LLMClient。
func (c *Client) Invoke(ctx context.Context, b contract.Batch, p contract.Prompt) (contract.Raw, error) {
	c.mu.Lock()
	c.calls[b.FileID]++
	n := c.calls[b.FileID]
	c.mu.Unlock()
	switch n {
	case 1:
		c.log(b.FileID + " rate_limited")
		return contract.Raw{}, contract.ErrRateLimited
	case 2:
		c.log(b.FileID + " invalid_json")
		return contract.Raw{Text: "invalid"}, nil
	default:
		c.log(b.FileID + " ok")
		ids := make([]string, len(b.Records))
		for i, r := range b.Records {
			ids[i] = fmt.Sprint(r.LineID)
		}
		type item struct {
			SplitID int    `json:"split_id"`
			Topic   string `json:"topic"`
			LineIDs string `json:"line_ids"`
		}
		bts, _ := json.Marshal([]item{{SplitID: 1, Topic: c.prefix, LineIDs: strings.Join(ids, ",")}})
		return contract.Raw{Text: string(bts)}, nil
	}
}

// Calls 返回某个 FileID 的累计调用次数。
func (c *Client) Calls(fileID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[fileID]
}

var _ contract.LLMClient = (*Client)(nil)
