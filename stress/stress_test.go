package stress

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"rawi/internal/annotate"
	cfgpkg "rawi/internal/config"
	"rawi/internal/pipeline"
)

const (
	documents = 64
	sections  = 10
)

var speakers = []string{"أحمد", "سارة", "الشيخ عبد الله", "ليلى", "الأم"}

// writeCorpus 生成 documents 篇合成小说，每篇 sections 个 Section。
func writeCorpus(t *testing.T, dir string) {
	t.Helper()
	for d := 0; d < documents; d++ {
		var b strings.Builder
		for s := 0; s < sections; s++ {
			if s > 0 {
				b.WriteString("\n##########\n")
			}
			b.WriteString("كان المساء هادئا في الحي القديم.\n\n")
			for i := 0; i < 20+s; i++ {
				fmt.Fprintf(&b, "%s: السطر %d من الفصل %d. هل تسمعني؟\n\n", speakers[(i+d)%len(speakers)], i, s)
			}
		}
		name := filepath.Join(dir, fmt.Sprintf("rewaya-%03d.txt", d))
		if err := os.WriteFile(name, []byte(b.String()), 0o644); err != nil {
			t.Fatalf("write corpus: %v", err)
		}
	}
}

func baseConfig(in, root string, conc int) cfgpkg.Config {
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.Logging.Level = "error"
	cfg.Components.Detector = "script"
	cfg.Options.Detector = nil
	cfg.Extract.Inputs = []string{in}
	cfg.Extract.OutputDir = filepath.Join(root, "sections")
	cfg.Extract.Concurrency = conc
	cfg.Annotate.Inputs = []string{cfg.Extract.OutputDir}
	cfg.Annotate.OutputDir = filepath.Join(root, "annotated")
	cfg.Annotate.Concurrency = conc
	p := cfg.Provider["mock"]
	p.Limits = cfgpkg.Limits{}
	cfg.Provider["mock"] = p
	return cfg
}

// runStages 依次执行抽取与标注，返回写出的 Section 数。
func runStages(cfg cfgpkg.Config) (int, error) {
	comp, set, err := cfgpkg.AssembleExtract(cfg)
	if err != nil {
		return 0, err
	}
	st, err := pipeline.Run(context.Background(), comp, set, nil)
	if err != nil {
		return 0, err
	}
	acomp, aset, err := cfgpkg.AssembleAnnotate(cfg)
	if err != nil {
		return 0, err
	}
	ast, err := annotate.Run(context.Background(), acomp, aset, nil)
	if err != nil {
		return 0, err
	}
	if ast.Annotated != st.Written {
		return 0, fmt.Errorf("annotated %d != written %d", ast.Annotated, st.Written)
	}
	return st.Written, nil
}

// TestStress 在不同并发度下运行抽取与标注并记录延迟统计。
func TestStress(t *testing.T) {
	if testing.Short() {
		t.Skip("stress")
	}
	in := t.TempDir()
	writeCorpus(t, in)
	levels := []int{1, 8, 16, 32, 64}
	for _, conc := range levels {
		t.Run(fmt.Sprintf("concurrency_%d", conc), func(t *testing.T) {
			const runs = 5
			successes := 0
			latencies := make([]time.Duration, 0, runs)
			for i := 0; i < runs; i++ {
				cfg := baseConfig(in, t.TempDir(), conc)
				start := time.Now()
				n, err := runStages(cfg)
				dur := time.Since(start)
				if err != nil {
					t.Errorf("run %d: %v", i, err)
					continue
				}
				if n != documents*sections {
					t.Errorf("run %d: written %d", i, n)
					continue
				}
				successes++
				latencies = append(latencies, dur)
			}
			if successes == 0 {
				t.Fatalf("全部运行失败")
			}
			sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
			var total time.Duration
			for _, d := range latencies {
				total += d
			}
			avg := total / time.Duration(len(latencies))
			idx := int(math.Ceil(float64(len(latencies))*0.95)) - 1
			if idx < 0 {
				idx = 0
			}
			p95 := latencies[idx]
			t.Logf("并发%d 成功率%.2f 平均%v 95%%延迟%v", conc, float64(successes)/float64(runs), avg, p95)
		})
	}
}
