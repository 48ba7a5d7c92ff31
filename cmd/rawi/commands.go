package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"rawi/internal/annotate"
	cfgpkg "rawi/internal/config"
	"rawi/internal/dataset"
	"rawi/internal/pipeline"
)

// 测试可替换的阶段入口。
var (
	pipelineRun = pipeline.Run
	annotateRun = annotate.Run
)

func (a *app) extractCmd() *cobra.Command {
	var (
		out          string
		concurrency  int
		skipExisting bool
		failFast     bool
	)
	cmd := &cobra.Command{
		Use:   "extract [inputs...]",
		Short: "从小说正文抽取说话人对白，按 Section 写出 JSONL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := a.cliBase()
			cli.Extract = cfgpkg.Extract{
				Inputs:       args,
				OutputDir:    out,
				Concurrency:  concurrency,
				SkipExisting: skipExisting,
				FailFast:     failFast,
			}
			cfg, err := a.load(cli, cfgpkg.ValidateExtract)
			if err != nil {
				return err
			}
			logger := a.newLogger(cfg)
			defer logger.Close()
			if err := preflightOutputDir(cfg, cfg.Extract.OutputDir); err != nil {
				return configErr(fmt.Errorf("输出目录不可写或无法创建: %w", err))
			}
			comp, set, err := cfgpkg.AssembleExtract(cfg)
			if err != nil {
				return configErr(fmt.Errorf("装配失败: %w", err))
			}
			logEffective(logger, cfg, map[string]string{
				"inputs_count": strconv.Itoa(len(set.Inputs)),
				"concurrency":  strconv.Itoa(set.Concurrency),
				"output_dir":   cfg.Extract.OutputDir,
				"detector":     cfg.Components.Detector,
				"assembler":    cfg.Components.Assembler,
				"writer":       cfg.Components.Writer,
			})
			return a.stage(cmd, logger, "extract", set.Concurrency, func(ctx context.Context) error {
				st, err := pipelineRun(ctx, comp, set, logger)
				fmt.Fprintf(a.stdout, "documents=%d failed=%d sections=%d written=%d skipped=%d collisions=%d turns=%d\n",
					st.Documents, st.Failed, st.Sections, st.Written, st.Skipped, st.Collisions, st.Accepted)
				return err
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&out, "out", "", "输出目录（覆盖 extract.output_dir）")
	f.IntVar(&concurrency, "concurrency", 0, "并发文档数（覆盖配置；0 表示 CPU 数）")
	f.BoolVar(&skipExisting, "skip-existing", false, "跳过输出已存在的 Section")
	f.BoolVar(&failFast, "fail-fast", false, "任一文档输入错误即中止")
	return cmd
}

func (a *app) annotateCmd() *cobra.Command {
	var (
		out          string
		llm          string
		concurrency  int
		maxRetries   int
		sample       int
		seed         uint64
		skipExisting bool
		failFast     bool
	)
	cmd := &cobra.Command{
		Use:   "annotate [inputs...]",
		Short: "调用 LLM 将 Section 切分为话题片段",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := a.cliBase()
			cli.LLM = llm
			cli.Annotate = cfgpkg.Annotate{
				Inputs:       args,
				OutputDir:    out,
				Concurrency:  concurrency,
				MaxRetries:   maxRetries,
				Sample:       sample,
				Seed:         seed,
				SkipExisting: skipExisting,
				FailFast:     failFast,
			}
			cfg, err := a.load(cli, cfgpkg.ValidateAnnotate)
			if err != nil {
				return err
			}
			logger := a.newLogger(cfg)
			defer logger.Close()
			if err := preflightOutputDir(cfg, cfg.Annotate.OutputDir); err != nil {
				return configErr(fmt.Errorf("输出目录不可写或无法创建: %w", err))
			}
			comp, set, err := cfgpkg.AssembleAnnotate(cfg)
			if err != nil {
				return configErr(fmt.Errorf("装配失败: %w", err))
			}
			logEffective(logger, cfg, map[string]string{
				"inputs_count":   strconv.Itoa(len(set.Inputs)),
				"concurrency":    strconv.Itoa(set.Concurrency),
				"max_retries":    strconv.Itoa(set.MaxRetries),
				"sample":         strconv.Itoa(set.Sample),
				"output_dir":     cfg.Annotate.OutputDir,
				"prompt_builder": cfg.Components.PromptBuilder,
				"decoder":        cfg.Components.Decoder,
			})
			return a.stage(cmd, logger, "annotate", set.Concurrency, func(ctx context.Context) error {
				st, err := annotateRun(ctx, comp, set, logger)
				fmt.Fprintf(a.stdout, "files=%d annotated=%d skipped=%d failed=%d splits=%d\n",
					st.Files, st.Annotated, st.Skipped, st.Failed, st.Splits)
				return err
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&out, "out", "", "输出目录（覆盖 annotate.output_dir）")
	f.StringVar(&llm, "llm", "", "provider 名称（覆盖配置）")
	f.IntVar(&concurrency, "concurrency", 0, "并发文件数（覆盖配置）")
	// max-retries 允许显式设置为 0；默认 -1 表示“未覆盖”。
	f.IntVar(&maxRetries, "max-retries", -1, "LLM 阶段最大重试次数（覆盖配置；0 表示不重试）")
	f.IntVar(&sample, "sample", 0, "仅处理随机抽样的 N 个文件（0 表示全部）")
	f.Uint64Var(&seed, "seed", 0, "抽样随机种子（覆盖配置）")
	f.BoolVar(&skipExisting, "skip-existing", false, "跳过输出已存在的文件")
	f.BoolVar(&failFast, "fail-fast", false, "任一文件失败即中止")
	return cmd
}

func (a *app) datasetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "构建与发布训练数据集",
	}
	cmd.AddCommand(a.datasetBuildCmd(), a.datasetPublishCmd())
	return cmd
}

func (a *app) datasetBuildCmd() *cobra.Command {
	var (
		out       string
		name      string
		ratio     float64
		seed      uint64
		fragments bool
	)
	cmd := &cobra.Command{
		Use:   "build [inputs...]",
		Short: "合并 JSONL 记录、去重并切分 train/validation，生成数据集卡片",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := a.cliBase()
			cli.Dataset = cfgpkg.Dataset{
				Inputs:          args,
				OutputDir:       out,
				Name:            name,
				ValidationRatio: ratio,
				Seed:            seed,
				Fragments:       fragments,
			}
			cfg, err := a.load(cli, cfgpkg.ValidateDataset)
			if err != nil {
				return err
			}
			logger := a.newLogger(cfg)
			defer logger.Close()
			if err := preflightOutputDir(cfg, cfg.Dataset.OutputDir); err != nil {
				return configErr(fmt.Errorf("输出目录不可写或无法创建: %w", err))
			}
			rd, w, opts, err := cfgpkg.AssembleDataset(cfg)
			if err != nil {
				return configErr(fmt.Errorf("装配失败: %w", err))
			}
			logEffective(logger, cfg, map[string]string{
				"inputs_count":     strconv.Itoa(len(cfg.Dataset.Inputs)),
				"output_dir":       cfg.Dataset.OutputDir,
				"name":             opts.Name,
				"validation_ratio": strconv.FormatFloat(opts.ValidationRatio, 'g', -1, 64),
				"seed":             strconv.FormatUint(opts.Seed, 10),
			})
			return a.stage(cmd, logger, "dataset", 1, func(ctx context.Context) error {
				d, err := dataset.Build(ctx, rd, cfg.Dataset.Inputs, opts, logger)
				if err != nil {
					return err
				}
				names, err := d.Write(ctx, w, logger)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "train=%d validation=%d dropped_empty=%d dropped_duplicates=%d files=%d\n",
					len(d.Train), len(d.Validation), d.Empty, d.Duplicates, len(names))
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&out, "out", "", "输出目录（覆盖 dataset.output_dir）")
	f.StringVar(&name, "name", "", "数据集名称（覆盖配置）")
	f.Float64Var(&ratio, "validation-ratio", 0, "验证集比例 [0,1)（覆盖配置）")
	f.Uint64Var(&seed, "seed", 0, "切分随机种子（覆盖配置）")
	f.BoolVar(&fragments, "fragments", false, "额外导出 fragments.tsv 文本片段")
	return cmd
}

func (a *app) datasetPublishCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "publish [dir]",
		Short: "将数据集目录上传到对象存储",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := a.cliBase()
			cli.Dataset.Name = name
			if len(args) == 1 {
				cli.Dataset.OutputDir = args[0]
			}
			cfg, err := a.load(cli, cfgpkg.Validate)
			if err != nil {
				return err
			}
			logger := a.newLogger(cfg)
			defer logger.Close()
			pub, err := cfgpkg.AssemblePublisher(cmd.Context(), cfg)
			if err != nil {
				return configErr(fmt.Errorf("装配失败: %w", err))
			}
			logEffective(logger, cfg, map[string]string{
				"dir":       cfg.Dataset.OutputDir,
				"name":      cfg.Dataset.Name,
				"publisher": cfg.Components.Publisher,
			})
			return a.stage(cmd, logger, "publish", 1, func(ctx context.Context) error {
				loc, err := dataset.Publish(ctx, pub, cfg.Dataset.OutputDir, cfg.Dataset.Name, logger)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, loc)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "远端数据集名称（覆盖 dataset.name）")
	return cmd
}
