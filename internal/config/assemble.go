package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"rawi/internal/annotate"
	"rawi/internal/breaker"
	"rawi/internal/dataset"
	"rawi/internal/extract"
	"rawi/internal/pipeline"
	"rawi/internal/rate"
	"rawi/pkg/contract"
	"rawi/pkg/registry"
)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate 校验与阶段无关的公共边界：日志等级、组件名。
func Validate(cfg Config) error {
	if lv := strings.ToLower(strings.TrimSpace(cfg.Logging.Level)); lv != "" && !logLevels[lv] {
		return fmt.Errorf("config: logging.level %q invalid", cfg.Logging.Level)
	}
	if cfg.Logging.MaxSizeMB < 0 || cfg.Logging.MaxBackups < 0 || cfg.Logging.MaxAgeDays < 0 {
		return errors.New("config: logging rotation values must be >= 0")
	}
	d := Defaults().Components
	checks := []struct {
		kind, name string
		ok         bool
	}{
		{"reader", effName(cfg.Components.Reader, d.Reader), registry.Reader[effName(cfg.Components.Reader, d.Reader)] != nil},
		{"detector", effName(cfg.Components.Detector, d.Detector), registry.Detector[effName(cfg.Components.Detector, d.Detector)] != nil},
		{"assembler", effName(cfg.Components.Assembler, d.Assembler), registry.Assembler[effName(cfg.Components.Assembler, d.Assembler)] != nil},
		{"writer", effName(cfg.Components.Writer, d.Writer), registry.Writer[effName(cfg.Components.Writer, d.Writer)] != nil},
		{"prompt_builder", effName(cfg.Components.PromptBuilder, d.PromptBuilder), registry.PromptBuilder[effName(cfg.Components.PromptBuilder, d.PromptBuilder)] != nil},
		{"decoder", effName(cfg.Components.Decoder, d.Decoder), registry.Decoder[effName(cfg.Components.Decoder, d.Decoder)] != nil},
		{"publisher", effName(cfg.Components.Publisher, d.Publisher), registry.Publisher[effName(cfg.Components.Publisher, d.Publisher)] != nil},
	}
	for _, c := range checks {
		if !c.ok {
			return fmt.Errorf("config: %s %q not registered", c.kind, c.name)
		}
	}
	return nil
}

func validateInputs(stage string, inputs []string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("config: %s.inputs empty", stage)
	}
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range inputs {
		if strings.TrimSpace(r) == "" {
			return fmt.Errorf("config: %s input path cannot be empty", stage)
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(inputs) > 1 {
		return fmt.Errorf("config: %s: '-' cannot be mixed with other roots", stage)
	}
	return nil
}

// ValidateExtract 校验抽取阶段。
func ValidateExtract(cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	e := cfg.Extract
	if err := validateInputs("extract", e.Inputs); err != nil {
		return err
	}
	if strings.TrimSpace(e.OutputDir) == "" {
		return errors.New("config: extract.output_dir empty")
	}
	if e.Concurrency < 0 {
		return errors.New("config: extract.concurrency must be >= 0")
	}
	if e.MaxSections < 1 || e.MinRecords < 0 || e.MaxLabelTokens < 1 {
		return errors.New("config: extract.max_sections/max_label_tokens must be >= 1 and min_records >= 0")
	}
	return nil
}

// ValidateAnnotate 校验标注阶段，含 LLM/provider 一致性。
func ValidateAnnotate(cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	a := cfg.Annotate
	if err := validateInputs("annotate", a.Inputs); err != nil {
		return err
	}
	if strings.TrimSpace(a.OutputDir) == "" {
		return errors.New("config: annotate.output_dir empty")
	}
	if a.Concurrency < 1 {
		return errors.New("config: annotate.concurrency must be >= 1")
	}
	if a.MaxRetries < 0 {
		return errors.New("config: annotate.max_retries must be >= 0")
	}
	if a.MaxOutputTokens <= 0 {
		return errors.New("config: annotate.max_output_tokens must be > 0")
	}
	if a.Sample < 0 {
		return errors.New("config: annotate.sample must be >= 0")
	}
	if a.BreakerCooldownSeconds < 0 {
		return errors.New("config: annotate.breaker_cooldown_seconds must be >= 0")
	}
	if cfg.LLM == "" {
		return errors.New("config: llm not set")
	}
	prov, ok := cfg.Provider[cfg.LLM]
	if !ok {
		return fmt.Errorf("config: provider %q not found", cfg.LLM)
	}
	if prov.Client == "" {
		return fmt.Errorf("config: provider %q missing client", cfg.LLM)
	}
	if registry.LLMClient[prov.Client] == nil {
		return fmt.Errorf("config: llm client %q not registered", prov.Client)
	}
	if prov.Limits.RPM < 0 || prov.Limits.TPM < 0 || prov.Limits.MaxTokensPerReq < 0 {
		return fmt.Errorf("config: provider %q limits must be >= 0", cfg.LLM)
	}
	if prov.Limits.MaxTokensPerReq > 0 && a.MaxOutputTokens > prov.Limits.MaxTokensPerReq {
		return fmt.Errorf("config: max_output_tokens(%d) exceeds provider.max_tokens_per_req(%d)", a.MaxOutputTokens, prov.Limits.MaxTokensPerReq)
	}
	return nil
}

// ValidateDataset 校验数据集构建阶段。
func ValidateDataset(cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := validateInputs("dataset", cfg.Dataset.Inputs); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Dataset.OutputDir) == "" {
		return errors.New("config: dataset.output_dir empty")
	}
	if r := cfg.Dataset.ValidationRatio; r < 0 || r >= 1 {
		return fmt.Errorf("config: dataset.validation_ratio %v must be in [0,1)", r)
	}
	return nil
}

// AssembleExtract 构造抽取阶段的 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func AssembleExtract(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := ValidateExtract(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults().Components
	rd, err := newReader(cfg, d, []string{".txt"})
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	det, err := registry.Detector[effName(cfg.Components.Detector, d.Detector)](cfg.Options.Detector)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("detector: %w", err)
	}
	asm, err := registry.Assembler[effName(cfg.Components.Assembler, d.Assembler)](cfg.Options.Assembler)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("assembler: %w", err)
	}
	w, err := newWriter(cfg, d, cfg.Extract.OutputDir)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	ex := extract.New(det)
	ex.MaxSections = cfg.Extract.MaxSections
	ex.Policy.MinRecords = cfg.Extract.MinRecords
	ex.Parser.MaxLabelTokens = cfg.Extract.MaxLabelTokens

	conc := cfg.Extract.Concurrency
	if conc == 0 {
		conc = runtime.NumCPU()
	}
	comp := pipeline.Components{Reader: rd, Extractor: ex, Assembler: asm, Writer: w}
	set := pipeline.Settings{
		Inputs:       cloneStrings(cfg.Extract.Inputs),
		Concurrency:  conc,
		SkipExisting: cfg.Extract.SkipExisting,
		FailFast:     cfg.Extract.FailFast,
	}
	return comp, set, nil
}

// AssembleAnnotate 构造标注阶段的 Components、Settings 与限流 Gate。
func AssembleAnnotate(cfg Config) (annotate.Components, annotate.Settings, error) {
	if err := ValidateAnnotate(cfg); err != nil {
		return annotate.Components{}, annotate.Settings{}, err
	}
	d := Defaults().Components
	rd, err := newReader(cfg, d, []string{".jsonl"})
	if err != nil {
		return annotate.Components{}, annotate.Settings{}, err
	}
	pb, err := registry.PromptBuilder[effName(cfg.Components.PromptBuilder, d.PromptBuilder)](cfg.Options.PromptBuilder)
	if err != nil {
		return annotate.Components{}, annotate.Settings{}, fmt.Errorf("prompt_builder: %w", err)
	}
	dec, err := registry.Decoder[effName(cfg.Components.Decoder, d.Decoder)](cfg.Options.Decoder)
	if err != nil {
		return annotate.Components{}, annotate.Settings{}, fmt.Errorf("decoder: %w", err)
	}
	w, err := newWriter(cfg, d, cfg.Annotate.OutputDir)
	if err != nil {
		return annotate.Components{}, annotate.Settings{}, err
	}

	// LLM 客户端
	prov := cfg.Provider[cfg.LLM]
	llm, err := registry.LLMClient[prov.Client](prov.Options)
	if err != nil {
		return annotate.Components{}, annotate.Settings{}, fmt.Errorf("llm %s: %w", cfg.LLM, err)
	}

	// 限流 Gate：按账号分组；无法派生时退化为 provider 名称
	key, derr := rate.GroupKey(prov.Client, prov.Options)
	if derr != nil {
		key = rate.LimitKey(cfg.LLM)
	}
	gate := rate.NewGate(map[rate.LimitKey]rate.Limits{
		key: {RPM: prov.Limits.RPM, TPM: prov.Limits.TPM, MaxTokensPerReq: prov.Limits.MaxTokensPerReq},
	}, nil)

	a := cfg.Annotate
	comp := annotate.Components{Reader: rd, PromptBuilder: pb, LLM: llm, Decoder: dec, Writer: w}
	set := annotate.Settings{
		Inputs:          cloneStrings(a.Inputs),
		Concurrency:     a.Concurrency,
		MaxRetries:      a.MaxRetries,
		Gate:            gate,
		GateKey:         key,
		BytesPerToken:   a.BytesPerToken,
		MaxOutputTokens: a.MaxOutputTokens,
		Sample:          a.Sample,
		Seed:            a.Seed,
		SkipExisting:    a.SkipExisting,
		FailFast:        a.FailFast,
		Breaker: breaker.Settings{
			Failures: max(a.BreakerFailures, 0),
			Cooldown: time.Duration(a.BreakerCooldownSeconds) * time.Second,
		},
	}
	return comp, set, nil
}

// AssembleDataset 构造数据集构建所需的 Reader、Writer 与参数。
func AssembleDataset(cfg Config) (contract.Reader, contract.Writer, dataset.Options, error) {
	if err := ValidateDataset(cfg); err != nil {
		return nil, nil, dataset.Options{}, err
	}
	d := Defaults().Components
	rd, err := newReader(cfg, d, []string{".jsonl"})
	if err != nil {
		return nil, nil, dataset.Options{}, err
	}
	w, err := newWriter(cfg, d, cfg.Dataset.OutputDir)
	if err != nil {
		return nil, nil, dataset.Options{}, err
	}
	ds := cfg.Dataset
	opts := dataset.Options{
		Name:            ds.Name,
		Description:     ds.Description,
		License:         ds.License,
		ValidationRatio: ds.ValidationRatio,
		Seed:            ds.Seed,
		Fragments:       ds.Fragments,
	}
	return rd, w, opts, nil
}

// AssemblePublisher 构造数据集发布器。
func AssemblePublisher(ctx context.Context, cfg Config) (contract.Publisher, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	name := effName(cfg.Components.Publisher, Defaults().Components.Publisher)
	pub, err := registry.Publisher[name](ctx, cfg.Options.Publisher)
	if err != nil {
		return nil, fmt.Errorf("publisher %s: %w", name, err)
	}
	return pub, nil
}

func newReader(cfg Config, d Components, exts []string) (contract.Reader, error) {
	raw, err := withDefault(cfg.Options.Reader, "extensions", exts)
	if err != nil {
		return nil, fmt.Errorf("reader options: %w", err)
	}
	rd, err := registry.Reader[effName(cfg.Components.Reader, d.Reader)](raw)
	if err != nil {
		return nil, fmt.Errorf("reader: %w", err)
	}
	return rd, nil
}

// newWriter 以阶段输出目录覆盖 writer 的 output_dir。
func newWriter(cfg Config, d Components, dir string) (contract.Writer, error) {
	raw, err := withField(cfg.Options.Writer, "output_dir", dir, true)
	if err != nil {
		return nil, fmt.Errorf("writer options: %w", err)
	}
	w, err := registry.Writer[effName(cfg.Components.Writer, d.Writer)](raw)
	if err != nil {
		return nil, fmt.Errorf("writer: %w", err)
	}
	return w, nil
}

// withDefault 仅在 raw 缺少 key 时写入 v。
func withDefault(raw json.RawMessage, key string, v any) (json.RawMessage, error) {
	return withField(raw, key, v, false)
}

func withField(raw json.RawMessage, key string, v any, override bool) (json.RawMessage, error) {
	m := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
	}
	if _, ok := m[key]; ok && !override {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m[key] = b
	return json.Marshal(m)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
