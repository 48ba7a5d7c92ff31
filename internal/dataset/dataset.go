// Package dataset 合并 Section 文件为单一表格数据集，并生成训练/验证切分、数据集卡片与清单。
package dataset

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"rawi/internal/diag"
	"rawi/pkg/contract"
)

const (
	DefaultValidationRatio = 0.001
	DefaultSeed            = 42
	DefaultLicense         = "mit"
)

// 输出文件名。
const (
	TrainFile      = "train.jsonl"
	ValidationFile = "validation.jsonl"
	CardFile       = "README.md"
	ManifestFile   = "manifest.json"
	FragmentsFile  = "fragments.tsv"
)

// Row 为数据集中的一行：对白记录加来源文件名。
type Row struct {
	LineID     int    `json:"line_id"`
	FileID     string `json:"file_id"`
	Speaker    string `json:"speaker"`
	Text       string `json:"text"`
	SourceFile string `json:"source_file"`
}

// Options 数据集构建参数。
type Options struct {
	Name            string
	Description     string
	License         string
	ValidationRatio float64
	Seed            uint64
	// Fragments: 额外导出仅含 text 列的 TSV。
	Fragments bool
}

func (o *Options) defaults() {
	if o.ValidationRatio <= 0 {
		o.ValidationRatio = DefaultValidationRatio
	}
	if o.License == "" {
		o.License = DefaultLicense
	}
	if o.Name == "" {
		o.Name = "rawi"
	}
}

// Dataset 为构建结果（内存中）。
type Dataset struct {
	Opts       Options
	Train      []Row
	Validation []Row
	Sources    int
	Empty      int // 说话人或台词为空而丢弃的行
	Duplicates int // NFC 归一后重复而丢弃的行
}

// Total 返回切分后的总行数。
func (d *Dataset) Total() int { return len(d.Train) + len(d.Validation) }

// Build 读取全部 Section 文件，去空、去重并按种子切分。
// 行的相对顺序在每个切分内保持读取顺序（Reader 按路径排序遍历）。
func Build(ctx context.Context, rd contract.Reader, inputs []string, opts Options, logger *diag.Logger) (*Dataset, error) {
	if rd == nil {
		return nil, errors.New("dataset: missing reader")
	}
	if len(inputs) == 0 {
		return nil, errors.New("dataset: empty inputs")
	}
	if opts.ValidationRatio >= 1 {
		return nil, fmt.Errorf("%w: validation ratio %v", contract.ErrInvalidInput, opts.ValidationRatio)
	}
	opts.defaults()
	if logger == nil {
		logger = diag.Nop()
	}

	d := &Dataset{Opts: opts}
	seen := make(map[string]struct{})
	var rows []Row
	timer := logger.Start("dataset", "build")
	err := rd.Iterate(ctx, inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		src := path.Base(string(fid))
		recs, err := readRecords(rc)
		if err != nil {
			return fmt.Errorf("%s: %w", fid, err)
		}
		d.Sources++
		for _, r := range recs {
			if strings.TrimSpace(r.Speaker) == "" || strings.TrimSpace(r.Text) == "" {
				d.Empty++
				continue
			}
			key := norm.NFC.String(r.Speaker) + "\x00" + norm.NFC.String(r.Text)
			if _, dup := seen[key]; dup {
				d.Duplicates++
				continue
			}
			seen[key] = struct{}{}
			rows = append(rows, Row{LineID: r.LineID, FileID: r.FileID, Speaker: r.Speaker, Text: r.Text, SourceFile: src})
		}
		return nil
	})
	if err != nil {
		code := diag.Classify(err)
		logger.Error("dataset", string(code), err.Error(), timer.Since())
		diag.IncOp("dataset", "error", "error")
		diag.IncError("dataset", string(code))
		return nil, err
	}
	d.Train, d.Validation = split(rows, opts.ValidationRatio, opts.Seed)
	timer.Finish("build", int64(len(rows)))
	diag.IncOp("dataset", "build", "success")
	logger.InfoKV("dataset", "summary", map[string]string{
		"sources":    fmt.Sprint(d.Sources),
		"train":      fmt.Sprint(len(d.Train)),
		"validation": fmt.Sprint(len(d.Validation)),
		"empty":      fmt.Sprint(d.Empty),
		"duplicates": fmt.Sprint(d.Duplicates),
	})
	return d, nil
}

func readRecords(r io.Reader) ([]contract.Record, error) {
	var out []contract.Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec contract.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", contract.ErrMalformedInput, n, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidationSize 返回验证集行数：ceil(n*ratio)，n>=2 时至少 1 且至多 n-1。
func ValidationSize(n int, ratio float64) int {
	if n < 2 || ratio <= 0 {
		return 0
	}
	k := int(math.Ceil(float64(n) * ratio))
	return min(max(k, 1), n-1)
}

// split 以种子置换选出验证集下标，两个切分各自保持原顺序。
func split(rows []Row, ratio float64, seed uint64) (train, validation []Row) {
	k := ValidationSize(len(rows), ratio)
	if k == 0 {
		return rows, nil
	}
	rng := rand.New(rand.NewPCG(seed, 0))
	perm := rng.Perm(len(rows))[:k]
	sort.Ints(perm)
	pick := make(map[int]bool, k)
	for _, i := range perm {
		pick[i] = true
	}
	train = make([]Row, 0, len(rows)-k)
	validation = make([]Row, 0, k)
	for i, r := range rows {
		if pick[i] {
			validation = append(validation, r)
		} else {
			train = append(train, r)
		}
	}
	return train, validation
}

// Manifest 描述一次构建的可复现参数与计数。
type Manifest struct {
	Name            string         `json:"name"`
	CreatedAt       string         `json:"created_at"`
	Seed            uint64         `json:"seed"`
	ValidationRatio float64        `json:"validation_ratio"`
	Sources         int            `json:"sources"`
	Rows            map[string]int `json:"rows"`
	DroppedEmpty    int            `json:"dropped_empty"`
	DroppedDup      int            `json:"dropped_duplicates"`
	Files           []string       `json:"files"`
}

// Write 通过 Writer 写出全部数据集文件，返回写出的文件名（有序）。
func (d *Dataset) Write(ctx context.Context, w contract.Writer, logger *diag.Logger) ([]string, error) {
	if logger == nil {
		logger = diag.Nop()
	}
	type file struct {
		name   string
		encode func(io.Writer) error
	}
	files := []file{
		{TrainFile, func(out io.Writer) error { return writeRows(out, d.Train) }},
		{ValidationFile, func(out io.Writer) error { return writeRows(out, d.Validation) }},
		{CardFile, func(out io.Writer) error { return WriteCard(out, d.Card()) }},
	}
	if d.Opts.Fragments {
		files = append(files, file{FragmentsFile, func(out io.Writer) error {
			return WriteFragments(out, append(append([]Row(nil), d.Train...), d.Validation...))
		}})
	}
	names := make([]string, 0, len(files)+1)
	for _, f := range files {
		names = append(names, f.name)
	}
	names = append(names, ManifestFile)
	files = append(files, file{ManifestFile, func(out io.Writer) error {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(Manifest{
			Name:            d.Opts.Name,
			CreatedAt:       diag.NowUTC(),
			Seed:            d.Opts.Seed,
			ValidationRatio: d.Opts.ValidationRatio,
			Sources:         d.Sources,
			Rows:            map[string]int{"train": len(d.Train), "validation": len(d.Validation)},
			DroppedEmpty:    d.Empty,
			DroppedDup:      d.Duplicates,
			Files:           names,
		})
	}})

	for _, f := range files {
		var buf bytes.Buffer
		if err := f.encode(&buf); err != nil {
			return nil, fmt.Errorf("encode %s: %w", f.name, err)
		}
		timer := logger.StartWith("writer", "write", f.name, "")
		if err := w.Write(ctx, contract.ArtifactID(f.name), &buf); err != nil {
			code := diag.Classify(err)
			logger.ErrorWith("writer", string(code), "write failed", timer.Since(), f.name, "")
			diag.IncOp("writer", "error", "error")
			diag.IncError("writer", string(code))
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
		timer.Finish("write", 1)
		diag.IncOp("writer", "write", "success")
	}
	return names, nil
}

func writeRows(w io.Writer, rows []Row) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
