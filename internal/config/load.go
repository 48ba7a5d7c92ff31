package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// EnvPrefix 为全部环境变量键的前缀。
const EnvPrefix = "RAWI_"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：LLM 不设默认（标注阶段必须由 JSON/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		Logging: Logging{Level: "info", Dir: "logs", MaxSizeMB: 64, MaxBackups: 5, MaxAgeDays: 30},
		Extract: Extract{
			OutputDir:      "data_rewayat_jsonl",
			MaxSections:    10,
			MinRecords:     10,
			MaxLabelTokens: 4,
		},
		Annotate: Annotate{
			OutputDir:       "data_rewayat_annotated",
			Concurrency:     4,
			BytesPerToken:   4,
			MaxOutputTokens: 2048,
			Seed:            42,

			BreakerFailures:        5,
			BreakerCooldownSeconds: 30,
		},
		Dataset: Dataset{
			OutputDir:       "dataset",
			Name:            "rawi",
			License:         "mit",
			ValidationRatio: 0.001,
			Seed:            42,
		},
		Components: Components{
			Reader:        "fs",
			Detector:      "lingua",
			Assembler:     "jsonl",
			Writer:        "fs",
			PromptBuilder: "topicsplit",
			Decoder:       "splitjson",
			Publisher:     "s3",
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv 加载 .env 文件到进程环境；已存在的环境变量不被覆盖，文件不存在时忽略。
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("dotenv %s: %w", p, err)
		}
	}
	return nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base

	// Logging
	setStr(&out.Logging.Level, over.Logging.Level)
	setStr(&out.Logging.Dir, over.Logging.Dir)
	setInt(&out.Logging.MaxSizeMB, over.Logging.MaxSizeMB)
	setInt(&out.Logging.MaxBackups, over.Logging.MaxBackups)
	setInt(&out.Logging.MaxAgeDays, over.Logging.MaxAgeDays)
	out.Logging.Compress = out.Logging.Compress || over.Logging.Compress

	// Extract
	setStrings(&out.Extract.Inputs, over.Extract.Inputs)
	setStr(&out.Extract.OutputDir, over.Extract.OutputDir)
	setInt(&out.Extract.Concurrency, over.Extract.Concurrency)
	setInt(&out.Extract.MaxSections, over.Extract.MaxSections)
	setInt(&out.Extract.MinRecords, over.Extract.MinRecords)
	setInt(&out.Extract.MaxLabelTokens, over.Extract.MaxLabelTokens)
	out.Extract.SkipExisting = out.Extract.SkipExisting || over.Extract.SkipExisting
	out.Extract.FailFast = out.Extract.FailFast || over.Extract.FailFast

	// Annotate
	setStrings(&out.Annotate.Inputs, over.Annotate.Inputs)
	setStr(&out.Annotate.OutputDir, over.Annotate.OutputDir)
	setInt(&out.Annotate.Concurrency, over.Annotate.Concurrency)
	// 特殊：MaxRetries 的 0 具有语义（禁用重试），需要显式可覆盖。
	// 约定：over.MaxRetries >= 0 视为“存在”，-1 视为未覆盖。
	if over.Annotate.MaxRetries >= 0 {
		out.Annotate.MaxRetries = over.Annotate.MaxRetries
	}
	setInt(&out.Annotate.BytesPerToken, over.Annotate.BytesPerToken)
	setInt(&out.Annotate.MaxOutputTokens, over.Annotate.MaxOutputTokens)
	setInt(&out.Annotate.Sample, over.Annotate.Sample)
	if over.Annotate.Seed != 0 {
		out.Annotate.Seed = over.Annotate.Seed
	}
	out.Annotate.SkipExisting = out.Annotate.SkipExisting || over.Annotate.SkipExisting
	out.Annotate.FailFast = out.Annotate.FailFast || over.Annotate.FailFast
	setInt(&out.Annotate.BreakerFailures, over.Annotate.BreakerFailures)
	setInt(&out.Annotate.BreakerCooldownSeconds, over.Annotate.BreakerCooldownSeconds)

	// Dataset
	setStrings(&out.Dataset.Inputs, over.Dataset.Inputs)
	setStr(&out.Dataset.OutputDir, over.Dataset.OutputDir)
	setStr(&out.Dataset.Name, over.Dataset.Name)
	setStr(&out.Dataset.Description, over.Dataset.Description)
	setStr(&out.Dataset.License, over.Dataset.License)
	if over.Dataset.ValidationRatio != 0 {
		out.Dataset.ValidationRatio = over.Dataset.ValidationRatio
	}
	if over.Dataset.Seed != 0 {
		out.Dataset.Seed = over.Dataset.Seed
	}
	out.Dataset.Fragments = out.Dataset.Fragments || over.Dataset.Fragments

	// 组件名（空不覆盖）
	setStr(&out.Components.Reader, over.Components.Reader)
	setStr(&out.Components.Detector, over.Components.Detector)
	setStr(&out.Components.Assembler, over.Components.Assembler)
	setStr(&out.Components.Writer, over.Components.Writer)
	setStr(&out.Components.PromptBuilder, over.Components.PromptBuilder)
	setStr(&out.Components.Decoder, over.Components.Decoder)
	setStr(&out.Components.Publisher, over.Components.Publisher)

	// Provider（完整替换对应键）
	if len(over.Provider) > 0 {
		merged := make(map[string]Provider, len(out.Provider)+len(over.Provider))
		for k, v := range out.Provider {
			merged[k] = v
		}
		for k, v := range over.Provider {
			merged[k] = v
		}
		out.Provider = merged
	}

	// Options（完整替换对应键）
	setRaw(&out.Options.Reader, over.Options.Reader)
	setRaw(&out.Options.Detector, over.Options.Detector)
	setRaw(&out.Options.Assembler, over.Options.Assembler)
	setRaw(&out.Options.Writer, over.Options.Writer)
	setRaw(&out.Options.PromptBuilder, over.Options.PromptBuilder)
	setRaw(&out.Options.Decoder, over.Options.Decoder)
	setRaw(&out.Options.Publisher, over.Options.Publisher)

	setStr(&out.LLM, over.LLM)
	return out
}

// envRoot 为 cleanenv 提供统一前缀。
type envRoot struct {
	C Config `env-prefix:"RAWI_"`
}

// EnvOverlay 将进程环境覆盖到 cfg 之上并返回新值。
// 标量键由 cleanenv 按 env 标签解析（如 RAWI_EXTRACT_CONCURRENCY、RAWI_LOGGING_LEVEL）；
// provider 为映射，额外支持 RAWI_PROVIDER__<name>__{CLIENT,LIMITS_RPM,LIMITS_TPM,LIMITS_MAX_TOKENS_PER_REQ,OPTIONS_JSON}。
func EnvOverlay(cfg Config, environ []string) (Config, error) {
	root := envRoot{C: cfg}
	if err := cleanenv.ReadEnv(&root); err != nil {
		return cfg, fmt.Errorf("env: %w", err)
	}
	out := root.C
	prov, err := providerEnv(environ)
	if err != nil {
		return cfg, err
	}
	if len(prov) == 0 {
		return out, nil
	}
	merged := make(map[string]Provider, len(out.Provider)+len(prov))
	for k, v := range out.Provider {
		merged[k] = v
	}
	for name, p := range prov {
		cur := merged[name]
		if p.Client != "" {
			cur.Client = p.Client
		}
		if p.Limits.RPM != 0 {
			cur.Limits.RPM = p.Limits.RPM
		}
		if p.Limits.TPM != 0 {
			cur.Limits.TPM = p.Limits.TPM
		}
		if p.Limits.MaxTokensPerReq != 0 {
			cur.Limits.MaxTokensPerReq = p.Limits.MaxTokensPerReq
		}
		if len(p.Options) > 0 {
			cur.Options = p.Options
		}
		merged[name] = cur
	}
	out.Provider = merged
	return out, nil
}

func providerEnv(environ []string) (map[string]Provider, error) {
	const pfx = EnvPrefix + "PROVIDER__"
	prov := map[string]Provider{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, pfx) {
			continue
		}
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		parts := strings.Split(strings.TrimPrefix(key, pfx), "__")
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" {
			continue
		}
		name := strings.TrimSpace(parts[0])
		field := strings.Join(parts[1:], "__")
		p := prov[name]
		changed := false
		switch field {
		case "CLIENT":
			if tv := strings.TrimSpace(val); tv != "" {
				p.Client = tv
				changed = true
			}
		case "LIMITS_RPM", "LIMITS_TPM", "LIMITS_MAX_TOKENS_PER_REQ":
			v, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				return nil, fmt.Errorf("env %s: %w", key, err)
			}
			switch field {
			case "LIMITS_RPM":
				p.Limits.RPM = v
			case "LIMITS_TPM":
				p.Limits.TPM = v
			default:
				p.Limits.MaxTokensPerReq = v
			}
			changed = true
		case "OPTIONS_JSON":
			// 原样 JSON；空值视为未设置，避免清空现有配置
			if tv := strings.TrimSpace(val); tv != "" {
				if !json.Valid([]byte(tv)) {
					return nil, fmt.Errorf("env %s: invalid json", key)
				}
				p.Options = json.RawMessage(tv)
				changed = true
			}
		}
		// 仅在发生有效变更时记录该 provider；避免空值覆盖 config.json
		if changed {
			prov[name] = p
		}
	}
	return prov, nil
}

// Load 依优先级装配最终配置：默认值 < JSON 文件 < 环境变量 < CLI 覆盖。
// path 为空时跳过文件层。
func Load(path string, cli Config) (Config, error) {
	cfg := Defaults()
	if path != "" {
		fc, err := LoadJSON(path, nil)
		if err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
		// 文件中未出现的 max_retries 为 0，与默认值一致
		cfg = Merge(cfg, fc)
	}
	cfg, err := EnvOverlay(cfg, os.Environ())
	if err != nil {
		return Config{}, err
	}
	return Merge(cfg, cli), nil
}

func setStr(dst *string, v string) {
	if t := strings.TrimSpace(v); t != "" {
		*dst = t
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setStrings(dst *[]string, v []string) {
	if len(v) > 0 {
		*dst = cloneStrings(v)
	}
}

func setRaw(dst *json.RawMessage, v json.RawMessage) {
	if len(v) > 0 {
		*dst = cloneRaw(v)
	}
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

// SplitComma 切分逗号分隔列表并去掉空白项。
func SplitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
