package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rawi/internal/diag"
	"rawi/pkg/contract"
)

var contentTypes = map[string]string{
	".jsonl": "application/x-ndjson",
	".json":  "application/json",
	".md":    "text/markdown; charset=utf-8",
	".tsv":   "text/tab-separated-values; charset=utf-8",
}

// Artifacts 列出数据集目录下的常规文件（不递归，跳过隐藏文件），按名称排序。
func Artifacts(dir string) ([]contract.Artifact, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []contract.Artifact
	for _, e := range ents {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ct, ok := contentTypes[strings.ToLower(filepath.Ext(e.Name()))]
		if !ok {
			ct = "application/octet-stream"
		}
		out = append(out, contract.Artifact{Name: e.Name(), Path: filepath.Join(dir, e.Name()), ContentType: ct})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Publish 上传 dir 下的数据集文件；要求至少包含训练集与卡片。
func Publish(ctx context.Context, pub contract.Publisher, dir, name string, logger *diag.Logger) (string, error) {
	if pub == nil {
		return "", errors.New("dataset: missing publisher")
	}
	if logger == nil {
		logger = diag.Nop()
	}
	files, err := Artifacts(dir)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", dir, err)
	}
	have := make(map[string]bool, len(files))
	for _, f := range files {
		have[f.Name] = true
	}
	for _, req := range []string{TrainFile, CardFile} {
		if !have[req] {
			return "", fmt.Errorf("%w: %s missing in %s", contract.ErrInvalidInput, req, dir)
		}
	}
	timer := logger.StartWithKV("publisher", "publish", name, "", map[string]string{"files": fmt.Sprint(len(files))})
	loc, err := pub.Publish(ctx, name, files)
	if err != nil {
		code := diag.Classify(err)
		logger.ErrorWith("publisher", string(code), err.Error(), timer.Since(), name, "")
		diag.IncOp("publisher", "error", "error")
		diag.IncError("publisher", string(code))
		return "", err
	}
	timer.Finish("publish", int64(len(files)))
	diag.IncOp("publisher", "publish", "success")
	return loc, nil
}
