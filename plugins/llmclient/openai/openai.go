// Package openai 调用 OpenAI 兼容的 Chat Completions 接口（含 vLLM、OpenRouter 等自建或转发服务）。
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"rawi/pkg/contract"
)

// Options: 客户端配置。
type Options struct {
	BaseURL        string   `json:"base_url"`        // 例如 https://api.openai.com/v1 或 http://host:8000/v1
	Model          string   `json:"model"`           // 为空则使用默认
	APIKeyEnv      string   `json:"api_key_env"`     // 优先从环境变量读取
	APIKey         string   `json:"api_key"`         // 明文传入（仅测试用）
	TimeoutSeconds int      `json:"timeout_seconds"` // 单次请求超时（秒），默认 120
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
	// EndpointPath 覆盖默认 /chat/completions；以 http 开头时视为完整 URL。
	EndpointPath       string            `json:"endpoint_path"`
	DisableDefaultAuth bool              `json:"disable_default_auth"`
	ExtraHeaders       map[string]string `json:"extra_headers"`
}

const (
	defaultBaseURL  = "https://api.openai.com/v1"
	defaultModel    = "gpt-4.1-mini"
	defaultEndpoint = "/chat/completions"
)

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = defaultBaseURL
	}
	if o.Model == "" {
		o.Model = defaultModel
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	if o.EndpointPath == "" {
		o.EndpointPath = defaultEndpoint
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 120
	}
}

// endpoint 拼接最终请求地址。
func (o *Options) endpoint() string {
	if strings.HasPrefix(o.EndpointPath, "http://") || strings.HasPrefix(o.EndpointPath, "https://") {
		return o.EndpointPath
	}
	return strings.TrimRight(o.BaseURL, "/") + "/" + strings.TrimLeft(o.EndpointPath, "/")
}

// Client 实现 contract.LLMClient；无可变状态，可并发调用。
type Client struct {
	opts    Options
	url     string
	headers http.Header
	hc      *http.Client
}

// New 从原样 JSON 选项构造客户端。缺少密钥（且未关闭默认鉴权）返回 ErrInvalidInput。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("openai options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" && !opts.DisableDefaultAuth {
		return nil, fmt.Errorf("openai: %w: missing api key (%s)", contract.ErrInvalidInput, opts.APIKeyEnv)
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	if !opts.DisableDefaultAuth {
		h.Set("Authorization", "Bearer "+key)
	}
	for k, v := range opts.ExtraHeaders {
		if k != "" {
			h.Set(k, v)
		}
	}
	return &Client{
		opts:    opts,
		url:     opts.endpoint(),
		headers: h,
		hc:      &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// responseFormat: Prompt 携带 schema 时启用 json_schema 结构化输出。
type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// upstreamError 实现 net.Error：408/5xx 归为网络类以触发重试。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("openai upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

var _ contract.UpstreamError = upstreamError{}

// buildRequest 将 Prompt 转为请求体；role=="json_schema" 的消息转为 response_format。
func (c *Client) buildRequest(p contract.Prompt) (chatRequest, error) {
	req := chatRequest{Model: c.opts.Model, Temperature: c.opts.Temperature, MaxTokens: c.opts.MaxTokens}
	switch v := p.(type) {
	case contract.TextPrompt:
		req.Messages = []chatMessage{{Role: "user", Content: string(v)}}
	case contract.ChatPrompt:
		req.Messages = make([]chatMessage, 0, len(v))
		for _, m := range v {
			if strings.EqualFold(strings.TrimSpace(m.Role), "json_schema") {
				if json.Valid([]byte(m.Content)) {
					req.ResponseFormat = &responseFormat{
						Type:       "json_schema",
						JSONSchema: &jsonSchema{Name: "splits", Schema: json.RawMessage(m.Content), Strict: true},
					}
				}
				continue
			}
			req.Messages = append(req.Messages, chatMessage{Role: m.Role, Content: m.Content})
		}
	default:
		return chatRequest{}, fmt.Errorf("openai: %w: unsupported prompt %T", contract.ErrInvalidInput, p)
	}
	return req, nil
}

// Invoke: 单次调用，同步返回。
func (c *Client) Invoke(ctx context.Context, b contract.Batch, p contract.Prompt) (contract.Raw, error) {
	req, err := c.buildRequest(p)
	if err != nil {
		return contract.Raw{}, err
	}
	body, err := json.Marshal(&req)
	if err != nil {
		return contract.Raw{}, fmt.Errorf("encode: %v: %w", err, contract.ErrInvalidInput)
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return contract.Raw{}, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	hr.Header = c.headers.Clone()

	resp, err := c.hc.Do(hr)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return contract.Raw{}, cerr
		}
		return contract.Raw{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return contract.Raw{}, statusError(resp)
	}
	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return contract.Raw{}, fmt.Errorf("decode: %v: %w", err, contract.ErrResponseInvalid)
	}
	if len(cr.Choices) == 0 || cr.Choices[0].Message.Content == "" {
		return contract.Raw{}, fmt.Errorf("openai: empty choices: %w", contract.ErrResponseInvalid)
	}
	ch := cr.Choices[0]
	// 截断的输出不是完整 JSON，原样附带以便记录
	if ch.FinishReason == "length" {
		return contract.Raw{Text: ch.Message.Content}, fmt.Errorf("openai: output truncated (max_tokens=%d): %w", c.opts.MaxTokens, contract.ErrResponseInvalid)
	}
	return contract.Raw{Text: ch.Message.Content}, nil
}

// statusError 将非 2xx 响应映射为分类错误：429 限流；408/5xx 网络类；其余 4xx 输入/配置无效。
func statusError(resp *http.Response) error {
	slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	msg := strings.TrimSpace(string(slurp))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &contract.RateLimitError{After: contract.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()), Msg: msg}
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode/100 == 5:
		return upstreamError{status: resp.StatusCode, msg: msg}
	default:
		return fmt.Errorf("openai upstream %d: %s: %w", resp.StatusCode, msg, contract.ErrInvalidInput)
	}
}

var _ contract.LLMClient = (*Client)(nil)
