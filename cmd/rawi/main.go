package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cfgpkg "rawi/internal/config"
	"rawi/internal/diag"
)

// 退出码：0 成功；1 运行失败；2 用法错误；3 配置/装配错误。
const (
	exitOK     = 0
	exitRun    = 1
	exitUsage  = 2
	exitConfig = 3
)

// exitError 携带退出码；其余 cobra 返回的错误按用法错误处理。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configErr(err error) error { return &exitError{code: exitConfig, err: err} }
func runErr(err error) error    { return &exitError{code: exitRun, err: err} }

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute 运行一次 CLI 并返回退出码（测试直接调用）。
func execute(args []string, stdout, stderr io.Writer) int {
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	if err := cfgpkg.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(stderr, "提示：.env 读取失败（已跳过）：%v\n", err)
	}
	a := &app{stdout: stdout, stderr: stderr, corrID: uuid.NewString()}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if !errors.Is(ee.err, context.Canceled) {
			fmt.Fprintf(stderr, "错误: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "错误: %v\n", err)
	return exitUsage
}

// app 持有一次进程运行的全局旗标与共享资源。
type app struct {
	stdout, stderr io.Writer
	corrID         string

	configPath  string
	logLevel    string
	status      bool
	metricsFile string
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rawi",
		Short:         "阿拉伯语小说对白抽取、标注与数据集构建",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "配置文件路径（JSON）；缺省读取 RAWI_CONFIG_FILE 或 ./config.json（若存在）")
	pf.StringVar(&a.logLevel, "log-level", "", "日志等级 debug|info|warn|error（覆盖配置）")
	pf.BoolVar(&a.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	pf.StringVar(&a.metricsFile, "metrics-file", "", "结束时以 Prometheus 文本格式写出指标")

	root.AddCommand(a.extractCmd(), a.annotateCmd(), a.datasetCmd(), a.initConfigCmd())
	return root
}

// cliBase 返回 CLI 覆盖层的初值：MaxRetries=-1 表示“未覆盖”。
func (a *app) cliBase() cfgpkg.Config {
	var c cfgpkg.Config
	c.Annotate.MaxRetries = -1
	c.Logging.Level = a.logLevel
	return c
}

// resolveConfigPath: --config > RAWI_CONFIG_FILE > ./config.json（若存在）。
func (a *app) resolveConfigPath() string {
	if p := strings.TrimSpace(a.configPath); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")); p != "" {
		return p
	}
	if st, err := os.Stat("config.json"); err == nil && !st.IsDir() {
		return "config.json"
	}
	return ""
}

// load 依优先级装配配置并通过 validate 校验；失败时打印有效配置便于诊断。
func (a *app) load(cli cfgpkg.Config, validate func(cfgpkg.Config) error) (cfgpkg.Config, error) {
	cfg, err := cfgpkg.Load(a.resolveConfigPath(), cli)
	if err != nil {
		return cfgpkg.Config{}, configErr(fmt.Errorf("配置解析失败: %w", err))
	}
	if err := validate(cfg); err != nil {
		_ = dumpConfig(a.stderr, cfg)
		return cfgpkg.Config{}, configErr(fmt.Errorf("配置校验失败: %w", err))
	}
	return cfg, nil
}

func (a *app) newLogger(cfg cfgpkg.Config) *diag.Logger {
	l := cfg.Logging
	return diag.NewLogger(a.corrID, diag.Options{
		Level:      l.Level,
		Dir:        l.Dir,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	})
}

// stage 封装各阶段共同的运行外壳：信号、终端、日志、指标与退出码。
func (a *app) stage(cmd *cobra.Command, logger *diag.Logger, name string, conc int, body func(ctx context.Context) error) error {
	start := time.Now()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	term := diag.NewTerminal(a.stderr, a.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(name, conc)

	t := logger.Start(name, "run")
	err := body(ctx)
	if err != nil {
		code := string(diag.Classify(err))
		logger.Error(name, code, "first error", &start)
		diag.IncOp(name, "error", "error")
		if code != string(diag.CodeUnknown) {
			diag.IncError(name, code)
		}
		term.RunFinish(false, time.Since(start))
	} else {
		t.Finish("run", 0)
		diag.IncOp(name, "finish", "success")
		diag.ObserveDuration(name, "finish", time.Since(start).Milliseconds())
		term.RunFinish(true, time.Since(start))
	}
	if a.metricsFile != "" {
		if merr := diag.WriteTextfile(a.metricsFile); merr != nil {
			fmt.Fprintf(a.stderr, "提示：指标写出失败：%v\n", merr)
		}
	}
	if err != nil {
		return runErr(fmt.Errorf("运行失败: %w", err))
	}
	return nil
}

// logEffective 在 debug 级别输出运行时配置摘要（已脱敏）。
func logEffective(logger *diag.Logger, cfg cfgpkg.Config, kv map[string]string) {
	if cfg.LLM != "" {
		kv["llm"] = cfg.LLM
		if p, ok := cfg.Provider[cfg.LLM]; ok {
			kv["provider_client"] = p.Client
			var s struct {
				BaseURL  string `json:"base_url"`
				Model    string `json:"model"`
				Endpoint string `json:"endpoint_path"`
			}
			_ = json.Unmarshal(p.Options, &s)
			if s.BaseURL != "" {
				kv["base_url"] = s.BaseURL
			}
			if s.Model != "" {
				kv["model"] = s.Model
			}
			if s.Endpoint != "" {
				kv["endpoint_path"] = s.Endpoint
			}
		}
	}
	logger.DebugStart("config", "effective", "", "", kv)
}

func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "有效配置:\n%s\n", b)
	return err
}

// preflightOutputDir: 启动前检查输出目录可写性（仅 fs writer）。
// 目录存在时尝试创建并删除临时文件；不存在时检查父目录。
func preflightOutputDir(cfg cfgpkg.Config, dir string) error {
	writer := cfg.Components.Writer
	if strings.TrimSpace(writer) == "" {
		writer = cfgpkg.Defaults().Components.Writer
	}
	if writer != "fs" || strings.TrimSpace(dir) == "" {
		return nil
	}
	if st, err := os.Stat(dir); err == nil {
		if !st.IsDir() {
			return fmt.Errorf("路径存在但不是目录: %s", dir)
		}
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		return os.Remove(name)
	} else if !os.IsNotExist(err) {
		return err
	}
	// 逐级向上找到已存在的祖先目录
	parent := filepath.Dir(filepath.Clean(dir))
	for {
		st, err := os.Stat(parent)
		if err == nil {
			if !st.IsDir() {
				return fmt.Errorf("父路径不是目录: %s", parent)
			}
			break
		}
		if !os.IsNotExist(err) {
			return err
		}
		next := filepath.Dir(parent)
		if next == parent {
			return fmt.Errorf("无法确定父目录: %s", dir)
		}
		parent = next
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	return os.RemoveAll(tmpd)
}
