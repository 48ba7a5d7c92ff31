package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "rawi/internal/config"
)

func (a *app) initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "在指定目录生成默认 config.json 与 .env 模板（已存在则不覆盖）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return configErr(fmt.Errorf("生成默认配置失败: %w", err))
			}
			cfgPath := filepath.Join(dir, "config.json")
			if err := writeConfig(a.stdout, cfgPath, cfgpkg.DefaultTemplateConfig()); err != nil {
				return configErr(fmt.Errorf("生成默认配置失败: %w", err))
			}
			if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
				fmt.Fprintf(a.stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
			}
			return nil
		},
	}
}

// writeConfig 写出 JSON 配置；path 为 "-" 时写到 stdout。不覆盖已存在文件。
func writeConfig(stdout io.Writer, path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if path == "-" {
		_, err = stdout.Write(b)
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// dotEnvKeys 为 .env 模板中的分组键（不含前缀）。
var dotEnvKeys = []struct {
	title string
	keys  []string
}{
	{"配置来源", []string{"CONFIG_FILE"}},
	{"日志", []string{"LOGGING_LEVEL", "LOGGING_DIR", "LOGGING_MAX_SIZE_MB", "LOGGING_MAX_BACKUPS", "LOGGING_MAX_AGE_DAYS", "LOGGING_COMPRESS"}},
	{"抽取", []string{"EXTRACT_INPUTS", "EXTRACT_OUTPUT_DIR", "EXTRACT_CONCURRENCY", "EXTRACT_MAX_SECTIONS", "EXTRACT_MIN_RECORDS", "EXTRACT_MAX_LABEL_TOKENS", "EXTRACT_SKIP_EXISTING", "EXTRACT_FAIL_FAST"}},
	{"标注", []string{"LLM", "ANNOTATE_INPUTS", "ANNOTATE_OUTPUT_DIR", "ANNOTATE_CONCURRENCY", "ANNOTATE_MAX_RETRIES", "ANNOTATE_BYTES_PER_TOKEN", "ANNOTATE_MAX_OUTPUT_TOKENS", "ANNOTATE_SAMPLE", "ANNOTATE_SEED", "ANNOTATE_SKIP_EXISTING", "ANNOTATE_FAIL_FAST", "ANNOTATE_BREAKER_FAILURES", "ANNOTATE_BREAKER_COOLDOWN_SECONDS"}},
	{"数据集", []string{"DATASET_INPUTS", "DATASET_OUTPUT_DIR", "DATASET_NAME", "DATASET_DESCRIPTION", "DATASET_LICENSE", "DATASET_VALIDATION_RATIO", "DATASET_SEED", "DATASET_FRAGMENTS"}},
	{"组件选择", []string{"COMPONENTS_READER", "COMPONENTS_DETECTOR", "COMPONENTS_ASSEMBLER", "COMPONENTS_WRITER", "COMPONENTS_PROMPT_BUILDER", "COMPONENTS_DECODER", "COMPONENTS_PUBLISHER"}},
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	var b strings.Builder
	b.WriteString("# rawi .env 模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > JSON > 默认值\n")
	b.WriteString("# 取消注释并填写以启用；列表值以逗号分隔。\n\n")
	for _, g := range dotEnvKeys {
		fmt.Fprintf(&b, "# %s\n", g.title)
		for _, k := range g.keys {
			fmt.Fprintf(&b, "# %s%s=\n", cfgpkg.EnvPrefix, k)
		}
		b.WriteString("\n")
	}
	for _, p := range []string{"openai", "anthropic"} {
		fmt.Fprintf(&b, "# Provider 覆盖（%s）\n", p)
		for _, k := range []string{"CLIENT", "LIMITS_RPM", "LIMITS_TPM", "LIMITS_MAX_TOKENS_PER_REQ", "OPTIONS_JSON"} {
			fmt.Fprintf(&b, "# %sPROVIDER__%s__%s=\n", cfgpkg.EnvPrefix, p, k)
		}
		b.WriteString("\n")
	}
	// 供应商密钥由客户端直接读取，不经 RAWI_ 前缀
	b.WriteString("# 供应商凭据\n")
	b.WriteString("# OPENAI_API_KEY=\n")
	b.WriteString("# ANTHROPIC_API_KEY=\n")
	b.WriteString("# AWS_ACCESS_KEY_ID=\n")
	b.WriteString("# AWS_SECRET_ACCESS_KEY=\n")
	b.WriteString("# AWS_REGION=\n")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
