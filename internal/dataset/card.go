package dataset

import (
	"io"
	"strings"
	"text/template"

	"golang.org/x/text/unicode/norm"
)

// Card 为数据集卡片（README.md）的模板数据。
type Card struct {
	Name        string
	Description string
	License     string
	Total       int
	Train       int
	Validation  int
	Features    []string
	Examples    []Row
}

// Card 由构建结果生成卡片数据；示例取训练集前 3 行。
func (d *Dataset) Card() Card {
	c := Card{
		Name:        d.Opts.Name,
		Description: d.Opts.Description,
		License:     d.Opts.License,
		Total:       d.Total(),
		Train:       len(d.Train),
		Validation:  len(d.Validation),
		Features:    []string{"line_id", "file_id", "speaker", "text", "source_file"},
	}
	c.Examples = d.Train[:min(3, len(d.Train))]
	return c
}

// SizeCategory 返回 n 对应的 size_categories 标签。
func SizeCategory(n int) string {
	bounds := []struct {
		limit int
		label string
	}{
		{1_000, "n<1K"},
		{10_000, "1K<n<10K"},
		{100_000, "10K<n<100K"},
		{1_000_000, "100K<n<1M"},
		{10_000_000, "1M<n<10M"},
		{100_000_000, "10M<n<100M"},
	}
	for _, b := range bounds {
		if n < b.limit {
			return b.label
		}
	}
	return "n>100M"
}

var cardTmpl = template.Must(template.New("card").Funcs(template.FuncMap{
	"size": SizeCategory,
	"nfc":  norm.NFC.String,
	"join": strings.Join,
	"base": func(s string) string {
		if i := strings.LastIndex(s, "/"); i >= 0 {
			return s[i+1:]
		}
		return s
	},
}).Parse(`---
license: {{.License}}
task_categories:
- text-generation
- other
language:
- ar
size_categories:
- {{size .Total}}
pretty_name: {{.Name}}
---

# {{base .Name}}
{{if .Description}}
{{.Description}}
{{end}}
## Dataset Description

Speaker-attributed dialogue lines extracted from Arabic novels. Each row is one
utterance with its speaker label.

- **Total samples**: {{.Total}}
- **Splits**: train ({{.Train}}), validation ({{.Validation}})
- **Features**: {{join .Features ", "}}

## Usage

` + "```python" + `
from datasets import load_dataset

dataset = load_dataset("{{.Name}}")
train_data = dataset["train"]
validation_data = dataset["validation"]
` + "```" + `

## Data Fields

- **line_id**: position of the line inside its section (0-based)
- **file_id**: 8-hex identifier of the source section
- **speaker**: speaker label as written in the novel
- **text**: the utterance
- **source_file**: name of the section file the row came from
{{if .Examples}}
## Examples
{{range .Examples}}
- {{nfc .Speaker}}: {{nfc .Text}}{{end}}
{{end}}`))

// WriteCard 渲染带 YAML front matter 的数据集卡片。
func WriteCard(w io.Writer, c Card) error {
	if c.License == "" {
		c.License = DefaultLicense
	}
	return cardTmpl.Execute(w, c)
}
