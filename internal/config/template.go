package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 使用 mock LLM 与合理限额（本地/离线调试友好）；
// - 抽取输入默认 ./rewayat，各阶段输出目录与默认值一致；
// - 选项给出全部键与中性默认值。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.Extract.Inputs = []string{"rewayat"}
	cfg.Annotate.Inputs = []string{cfg.Extract.OutputDir}
	cfg.Annotate.MaxRetries = 2
	cfg.Dataset.Inputs = []string{cfg.Extract.OutputDir}
	cfg.LLM = "mock"
	cfg.Provider = map[string]Provider{
		"mock": {
			Client:  "mock",
			Options: json.RawMessage(`{"prefix":"","api_key":"","group_size":5,"response_mode":""}`),
			Limits:  Limits{RPM: 60, TPM: 100000, MaxTokensPerReq: 16000},
		},
		"openai": {
			Client: "openai",
			Options: json.RawMessage(`{
  "base_url": "",
  "model": "",
  "api_key_env": "OPENAI_API_KEY",
  "api_key": "",
  "timeout_seconds": 120,
  "temperature": null,
  "max_tokens": 2048,
  "endpoint_path": "",
  "disable_default_auth": false,
  "extra_headers": {}
}`),
			Limits: Limits{RPM: 60, TPM: 200000, MaxTokensPerReq: 16000},
		},
		"anthropic": {
			Client: "anthropic",
			Options: json.RawMessage(`{
  "base_url": "",
  "model": "",
  "api_key_env": "ANTHROPIC_API_KEY",
  "api_key": "",
  "max_tokens": 2048,
  "timeout_seconds": 120,
  "temperature": null
}`),
			Limits: Limits{RPM: 50, TPM: 40000, MaxTokensPerReq: 16000},
		},
	}
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git", "node_modules", "vendor"],
  "include_hidden": false
}`)
	cfg.Options.Detector = json.RawMessage(`{
  "languages": ["arabic"],
  "minimum_relative_distance": 0,
  "preload": false,
  "low_accuracy": false
}`)
	cfg.Options.Assembler = json.RawMessage(`{"ensure_ascii": false}`)
	cfg.Options.Writer = json.RawMessage(`{
  "atomic": true,
  "flat": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	cfg.Options.PromptBuilder = json.RawMessage(`{
  "inline_system_template": "",
  "system_template_path": "",
  "dialect": "Gulf Arabic",
  "topic_language": "Modern Standard Arabic",
  "max_topic_words": 5,
  "structured_output": false
}`)
	cfg.Options.Decoder = json.RawMessage(`{"require_coverage": false, "strict": false}`)
	cfg.Options.Publisher = json.RawMessage(`{
  "bucket": "",
  "prefix": "datasets",
  "region": "us-east-1",
  "endpoint": "",
  "use_path_style": false,
  "storage_class": ""
}`)
	return cfg
}
