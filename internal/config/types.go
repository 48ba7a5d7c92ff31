package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。环境变量键见 env 标签（前缀 RAWI_）。
type Config struct {
	Logging  Logging  `json:"logging" env-prefix:"LOGGING_"`
	Extract  Extract  `json:"extract" env-prefix:"EXTRACT_"`
	Annotate Annotate `json:"annotate" env-prefix:"ANNOTATE_"`
	Dataset  Dataset  `json:"dataset" env-prefix:"DATASET_"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components" env-prefix:"COMPONENTS_"`

	// LLM Provider 选择与定义。
	LLM      string              `json:"llm" env:"LLM"`
	Provider map[string]Provider `json:"provider"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 日志等级与滚动文件策略。
type Logging struct {
	Level      string `json:"level" env:"LEVEL"`
	Dir        string `json:"dir" env:"DIR"`
	MaxSizeMB  int    `json:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `json:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `json:"max_age_days" env:"MAX_AGE_DAYS"`
	Compress   bool   `json:"compress" env:"COMPRESS"`
}

// Extract: 抽取阶段参数。
type Extract struct {
	Inputs         []string `json:"inputs" env:"INPUTS"`
	OutputDir      string   `json:"output_dir" env:"OUTPUT_DIR"`
	Concurrency    int      `json:"concurrency" env:"CONCURRENCY"`
	MaxSections    int      `json:"max_sections" env:"MAX_SECTIONS"`
	MinRecords     int      `json:"min_records" env:"MIN_RECORDS"`
	MaxLabelTokens int      `json:"max_label_tokens" env:"MAX_LABEL_TOKENS"`
	SkipExisting   bool     `json:"skip_existing" env:"SKIP_EXISTING"`
	FailFast       bool     `json:"fail_fast" env:"FAIL_FAST"`
}

// Annotate: 标注阶段参数。
type Annotate struct {
	Inputs      []string `json:"inputs" env:"INPUTS"`
	OutputDir   string   `json:"output_dir" env:"OUTPUT_DIR"`
	Concurrency int      `json:"concurrency" env:"CONCURRENCY"`
	// MaxRetries: LLM 阶段最大重试次数（>=0）。0 表示不重试。
	MaxRetries      int    `json:"max_retries" env:"MAX_RETRIES"`
	BytesPerToken   int    `json:"bytes_per_token" env:"BYTES_PER_TOKEN"`
	MaxOutputTokens int    `json:"max_output_tokens" env:"MAX_OUTPUT_TOKENS"`
	Sample          int    `json:"sample" env:"SAMPLE"`
	Seed            uint64 `json:"seed" env:"SEED"`
	SkipExisting    bool   `json:"skip_existing" env:"SKIP_EXISTING"`
	FailFast        bool   `json:"fail_fast" env:"FAIL_FAST"`
	// BreakerFailures: 连续上游故障达到该次数后熔断；<0 关闭熔断。
	BreakerFailures        int `json:"breaker_failures" env:"BREAKER_FAILURES"`
	BreakerCooldownSeconds int `json:"breaker_cooldown_seconds" env:"BREAKER_COOLDOWN_SECONDS"`
}

// Dataset: 数据集构建与发布参数。
type Dataset struct {
	Inputs          []string `json:"inputs" env:"INPUTS"`
	OutputDir       string   `json:"output_dir" env:"OUTPUT_DIR"`
	Name            string   `json:"name" env:"NAME"`
	Description     string   `json:"description" env:"DESCRIPTION"`
	License         string   `json:"license" env:"LICENSE"`
	ValidationRatio float64  `json:"validation_ratio" env:"VALIDATION_RATIO"`
	Seed            uint64   `json:"seed" env:"SEED"`
	Fragments       bool     `json:"fragments" env:"FRAGMENTS"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader        string `json:"reader" env:"READER"`
	Detector      string `json:"detector" env:"DETECTOR"`
	Assembler     string `json:"assembler" env:"ASSEMBLER"`
	Writer        string `json:"writer" env:"WRITER"`
	PromptBuilder string `json:"prompt_builder" env:"PROMPT_BUILDER"`
	Decoder       string `json:"decoder" env:"DECODER"`
	Publisher     string `json:"publisher" env:"PUBLISHER"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader        json.RawMessage `json:"reader"`
	Detector      json.RawMessage `json:"detector"`
	Assembler     json.RawMessage `json:"assembler"`
	Writer        json.RawMessage `json:"writer"`
	PromptBuilder json.RawMessage `json:"prompt_builder"`
	Decoder       json.RawMessage `json:"decoder"`
	Publisher     json.RawMessage `json:"publisher"`
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string          `json:"client"`
	Options json.RawMessage `json:"options"`
	Limits  Limits          `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM             int `json:"rpm"`
	TPM             int `json:"tpm"`
	MaxTokensPerReq int `json:"max_tokens_per_req"`
}
