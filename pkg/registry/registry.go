package registry

import (
	"bytes"
	"context"
	"encoding/json"

	"rawi/pkg/contract"
	ajsonl "rawi/plugins/assembler/jsonl"
	dsplit "rawi/plugins/decoder/splitjson"
	dlingua "rawi/plugins/detector/lingua"
	dscript "rawi/plugins/detector/script"
	anth "rawi/plugins/llmclient/anthropic"
	flaky "rawi/plugins/llmclient/flaky"
	mock "rawi/plugins/llmclient/mock"
	oai "rawi/plugins/llmclient/openai"
	pts "rawi/plugins/prompt/topicsplit"
	ps3 "rawi/plugins/publisher/s3"
	rfs "rawi/plugins/reader/filesystem"
	wfs "rawi/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewDetector 工厂签名：接收原样 JSON Options。
type NewDetector func(raw json.RawMessage) (contract.Detector, error)

// NewPromptBuilder 工厂签名：接收原样 JSON Options。
type NewPromptBuilder func(raw json.RawMessage) (contract.PromptBuilder, error)

// NewLLMClient 工厂签名：接收原样 JSON Options。
type NewLLMClient func(raw json.RawMessage) (contract.LLMClient, error)

// NewDecoder 工厂签名：接收原样 JSON Options。
type NewDecoder func(raw json.RawMessage) (contract.Decoder, error)

// NewAssembler 工厂签名：接收原样 JSON Options。
type NewAssembler func(raw json.RawMessage) (contract.Assembler, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// NewPublisher 工厂签名：构造期可能需要加载远端凭据，故接收 ctx。
type NewPublisher func(ctx context.Context, raw json.RawMessage) (contract.Publisher, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Detector 工厂注册表。
var Detector = map[string]NewDetector{
	// lingua: 统计模型识别
	"lingua": func(raw json.RawMessage) (contract.Detector, error) {
		var opts dlingua.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return dlingua.New(opts)
	},
	// script: 按阿拉伯字母占比判定（确定性，测试/离线用）
	"script": func(raw json.RawMessage) (contract.Detector, error) {
		var opts dscript.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return dscript.New(opts)
	},
}

// PromptBuilder 工厂注册表。
var PromptBuilder = map[string]NewPromptBuilder{
	// topicsplit: 按话题切分对白的 Chat 提示词
	"topicsplit": func(raw json.RawMessage) (contract.PromptBuilder, error) {
		var opts pts.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return pts.New(&opts)
	},
}

// LLMClient 工厂注册表。
var LLMClient = map[string]NewLLMClient{
	"openai":    func(raw json.RawMessage) (contract.LLMClient, error) { return oai.New(raw) },
	"anthropic": func(raw json.RawMessage) (contract.LLMClient, error) { return anth.New(raw) },
	"mock":      func(raw json.RawMessage) (contract.LLMClient, error) { return mock.New(raw) },
	"flaky":     func(raw json.RawMessage) (contract.LLMClient, error) { return flaky.New(raw) },
}

// Decoder 工厂注册表。
var Decoder = map[string]NewDecoder{
	// splitjson: 话题切分 JSON（容忍字符串/数字形式的 split_id 与 line_ids）
	"splitjson": func(raw json.RawMessage) (contract.Decoder, error) { return dsplit.New(raw) },
}

// Assembler 工厂注册表。
var Assembler = map[string]NewAssembler{
	// jsonl: 每条记录一行 JSON，键序固定
	"jsonl": func(raw json.RawMessage) (contract.Assembler, error) {
		var opts ajsonl.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ajsonl.New(opts), nil
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// Publisher 工厂注册表。
var Publisher = map[string]NewPublisher{
	// s3: S3 兼容对象存储
	"s3": func(ctx context.Context, raw json.RawMessage) (contract.Publisher, error) {
		var opts ps3.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ps3.New(ctx, raw)
	},
}
