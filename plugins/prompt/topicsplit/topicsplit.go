package topicsplit

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"text/template"

	"rawi/pkg/contract"
)

// Options 为“对白话题切分” PromptBuilder 的配置。
// - InlineSystemTemplate / SystemTemplatePath: system 提示模板（二选一，均为空时使用内置默认模板）。
// - StructuredOutput: 附带 json_schema 消息，要求以 {"splits":[...]} 对象返回（供支持结构化输出的服务端使用）。
type Options struct {
	InlineSystemTemplate string `json:"inline_system_template"`
	SystemTemplatePath   string `json:"system_template_path"`
	Dialect              string `json:"dialect"`         // 默认 "Gulf Arabic"
	TopicLanguage        string `json:"topic_language"`  // 默认 "Modern Standard Arabic"
	MaxTopicWords        int    `json:"max_topic_words"` // 默认 5
	StructuredOutput     bool   `json:"structured_output"`
}

func (o *Options) defaults() {
	if strings.TrimSpace(o.Dialect) == "" {
		o.Dialect = "Gulf Arabic"
	}
	if strings.TrimSpace(o.TopicLanguage) == "" {
		o.TopicLanguage = "Modern Standard Arabic"
	}
	if o.MaxTopicWords <= 0 {
		o.MaxTopicWords = 5
	}
}

// Builder: 以 Section 文件为单位构造 ChatPrompt（system+user[+json_schema]）。
// 运行期不做 I/O；模板在构造期解析。
type Builder struct {
	sysT  *template.Template
	userT *template.Template
	opts  Options
}

type view struct {
	Dialect       string
	TopicLanguage string
	MaxTopicWords int
	Structured    bool
	Dialogues     string
}

// New 创建话题切分 PromptBuilder。
func New(opts *Options) (*Builder, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	o.defaults()

	src := defaultSystemTemplate
	if o.InlineSystemTemplate != "" {
		src = o.InlineSystemTemplate
	} else if o.SystemTemplatePath != "" {
		b, err := os.ReadFile(o.SystemTemplatePath)
		if err != nil {
			return nil, fmt.Errorf("system template read: %w", err)
		}
		src = string(b)
	}
	sysT, err := template.New("system").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("system template parse: %w", err)
	}
	userT := template.Must(template.New("user").Parse(userTemplate))
	return &Builder{sysT: sysT, userT: userT, opts: o}, nil
}

func (b *Builder) view(dialogues string) view {
	return view{
		Dialect:       b.opts.Dialect,
		TopicLanguage: b.opts.TopicLanguage,
		MaxTopicWords: b.opts.MaxTopicWords,
		Structured:    b.opts.StructuredOutput,
		Dialogues:     dialogues,
	}
}

func (b *Builder) render(dialogues string) (sys, user string, err error) {
	v := b.view(dialogues)
	var sb, ub bytes.Buffer
	if err := b.sysT.Execute(&sb, v); err != nil {
		return "", "", fmt.Errorf("system render: %w", contract.ErrInvalidInput)
	}
	ub.Grow(len(dialogues) + 1024)
	if err := b.userT.Execute(&ub, v); err != nil {
		return "", "", fmt.Errorf("user render: %w", contract.ErrInvalidInput)
	}
	return strings.TrimSpace(sb.String()), ub.String(), nil
}

// Build: 基于 Batch 构造 ChatPrompt。对白以原始 JSONL 文本（Batch.Body）原样嵌入。
func (b *Builder) Build(ctx context.Context, batch contract.Batch) (contract.Prompt, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if len(batch.Records) == 0 {
		return nil, fmt.Errorf("prompt: %w: empty batch records", contract.ErrInvalidInput)
	}
	body := strings.TrimRight(batch.Body, "\n")
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("prompt: %w: empty dialogues body", contract.ErrInvalidInput)
	}
	sys, user, err := b.render(body)
	if err != nil {
		return nil, err
	}
	msgs := contract.ChatPrompt{
		{Role: "system", Content: sys},
		{Role: "user", Content: user},
	}
	if b.opts.StructuredOutput {
		msgs = append(msgs, contract.Message{Role: "json_schema", Content: contract.SplitsJSONSchema})
	}
	return msgs, nil
}

// EstimateOverheadTokens: 估算与批无关的固定提示词开销（system+user 固定部分+schema）。
func (b *Builder) EstimateOverheadTokens(estimate contract.TokenEstimator) int {
	if estimate == nil {
		return 0
	}
	sys, user, err := b.render("")
	if err != nil {
		return 0
	}
	n := estimate(sys) + estimate(user)
	if b.opts.StructuredOutput {
		n += estimate(contract.SplitsJSONSchema)
	}
	return n
}

var _ contract.PromptBuilder = (*Builder)(nil)

const defaultSystemTemplate = `You are a helpful assistant and {{.Dialect}} dialect native speaker.`

const userTemplate = `Split the dialogues in {{.Dialect}} dialect into sequential groups of lines that are related to the same topic.
Dialogues are represented as jsonl with one line per line (line id corresponds to the line id).
Output the sequential groups of lines as {{if .Structured}}a JSON object {"splits": [...]} where each element has{{else}}JSON array with{{end}} the following structure:

[
    {
        "split_id": "sequential number",
        "topic": "precise description of topic written in {{.TopicLanguage}} (in no more than {{.MaxTopicWords}} words)",
        "line_ids": "sequence of line ids separated by commas"
    }
]

Each group should contain lines that discuss the same topic or theme. Be precise and concise in your topic descriptions.
IMPORTANT: Do not include any other text in your response.

Dialogues in {{.Dialect}} dialect:
---------------------------------------------
{{.Dialogues}}
---------------------------------------------
`
