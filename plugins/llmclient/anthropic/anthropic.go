package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"rawi/pkg/contract"
)

// Options: Anthropic Messages API 的最小配置。
type Options struct {
	BaseURL        string   `json:"base_url"`    // 为空使用 SDK 默认
	Model          string   `json:"model"`       // 为空则使用默认
	APIKeyEnv      string   `json:"api_key_env"` // 默认 ANTHROPIC_API_KEY
	APIKey         string   `json:"api_key"`
	MaxTokens      int      `json:"max_tokens"`      // 默认 8192
	TimeoutSeconds int      `json:"timeout_seconds"` // 默认 120
	Temperature    *float64 `json:"temperature,omitempty"`
}

func (o *Options) defaults() {
	if o.Model == "" {
		o.Model = "claude-sonnet-4-5"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 8192
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 120
	}
}

type Client struct {
	c         sdk.Client
	model     string
	maxTokens int64
	temp      *float64
}

// New 从原样 JSON 选项构造客户端。重试由编排层统一负责，SDK 内部重试关闭。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("anthropic options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("anthropic: %w: missing api key", contract.ErrInvalidInput)
	}
	ro := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(time.Duration(opts.TimeoutSeconds) * time.Second),
	}
	if opts.BaseURL != "" {
		ro = append(ro, option.WithBaseURL(opts.BaseURL))
	}
	return &Client{
		c:         sdk.NewClient(ro...),
		model:     opts.Model,
		maxTokens: int64(opts.MaxTokens),
		temp:      opts.Temperature,
	}, nil
}

// upstreamError 实现 net.Error：5xx/408/529 归为网络类以触发重试。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("anthropic upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return true }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

var _ contract.UpstreamError = upstreamError{}

func (c *Client) params(p contract.Prompt) (sdk.MessageNewParams, error) {
	mp := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
	}
	if c.temp != nil {
		mp.Temperature = sdk.Float(*c.temp)
	}
	switch v := p.(type) {
	case contract.TextPrompt:
		mp.Messages = []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(string(v)))}
	case contract.ChatPrompt:
		for _, m := range v {
			switch strings.ToLower(strings.TrimSpace(m.Role)) {
			case "system":
				mp.System = append(mp.System, sdk.TextBlockParam{Text: m.Content})
			case "assistant":
				mp.Messages = append(mp.Messages, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
			case "json_schema":
				// 无对应的结构化输出参数；提示词已描述输出格式
			default:
				mp.Messages = append(mp.Messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
			}
		}
	default:
		return mp, contract.ErrInvalidInput
	}
	if len(mp.Messages) == 0 {
		return mp, fmt.Errorf("anthropic: %w: no user message", contract.ErrInvalidInput)
	}
	return mp, nil
}

// Invoke: 单次调用，同步返回全部 text 块的拼接。
func (c *Client) Invoke(ctx context.Context, b contract.Batch, p contract.Prompt) (contract.Raw, error) {
	mp, err := c.params(p)
	if err != nil {
		return contract.Raw{}, err
	}
	msg, err := c.c.Messages.New(ctx, mp)
	if err != nil {
		if ctx.Err() != nil {
			return contract.Raw{}, ctx.Err()
		}
		var apierr *sdk.Error
		if errors.As(err, &apierr) {
			var hdr http.Header
			if apierr.Response != nil {
				hdr = apierr.Response.Header
			}
			return contract.Raw{}, mapStatus(apierr.StatusCode, apierr.Error(), hdr)
		}
		return contract.Raw{}, err
	}
	var sb strings.Builder
	for _, blk := range msg.Content {
		if blk.Type == "text" {
			sb.WriteString(blk.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return contract.Raw{}, fmt.Errorf("anthropic: empty content: %w", contract.ErrResponseInvalid)
	}
	if msg.StopReason == sdk.StopReasonMaxTokens {
		return contract.Raw{Text: sb.String()}, fmt.Errorf("anthropic: output truncated (max_tokens=%d): %w", c.maxTokens, contract.ErrResponseInvalid)
	}
	return contract.Raw{Text: sb.String()}, nil
}

func mapStatus(status int, msg string, hdr http.Header) error {
	switch {
	case status == http.StatusTooManyRequests:
		return &contract.RateLimitError{After: contract.ParseRetryAfter(hdr.Get("Retry-After"), time.Now()), Msg: msg}
	case status == http.StatusRequestTimeout, status/100 == 5:
		// 529 overloaded 同样落在 5xx
		return upstreamError{status: status, msg: msg}
	default:
		return fmt.Errorf("anthropic upstream %d: %w", status, contract.ErrInvalidInput)
	}
}
