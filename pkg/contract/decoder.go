package contract

import (
	"context"
	"fmt"
)

// Decoder: 将 Raw 解码为话题切分结果；字段容错策略由具体实现自决。
type Decoder interface {
	Decode(ctx context.Context, b Batch, raw Raw) ([]Split, error)
}

// SplitsJSONSchema: 结构化输出模式下话题切分结果的 JSON Schema（根节点为对象）。
// 提示词构造器随请求发送，严格模式的解码器据此校验响应。
const SplitsJSONSchema = `{"type":"object","additionalProperties":false,"properties":{"splits":{"type":"array","items":{"type":"object","additionalProperties":false,"properties":{"split_id":{"type":"integer"},"topic":{"type":"string"},"line_ids":{"type":"array","items":{"type":"integer"}}},"required":["split_id","topic","line_ids"]}}},"required":["splits"]}`

// ValidateSplits 校验解码结果并绑定 FileID（纯函数，返回深拷贝）。
// 规则：
//   - 至少一个 split；
//   - split_id 不重复；
//   - 每个 split 的 line_ids 非空且均存在于批内；
//   - requireCoverage 为真时，批内每个 line_id 必须恰好出现一次。
func ValidateSplits(b Batch, splits []Split, requireCoverage bool) ([]Split, error) {
	if len(splits) == 0 {
		return nil, fmt.Errorf("%w: no splits", ErrResponseInvalid)
	}
	known := make(map[int]bool, len(b.Records))
	for _, r := range b.Records {
		known[r.LineID] = true
	}
	seenSplit := make(map[int]bool, len(splits))
	seenLine := make(map[int]int, len(b.Records))
	out := make([]Split, 0, len(splits))
	for _, s := range splits {
		if seenSplit[s.SplitID] {
			return nil, fmt.Errorf("%w: duplicate split_id %d", ErrResponseInvalid, s.SplitID)
		}
		seenSplit[s.SplitID] = true
		if len(s.LineIDs) == 0 {
			return nil, fmt.Errorf("%w: split %d has no line_ids", ErrResponseInvalid, s.SplitID)
		}
		ids := make([]int, len(s.LineIDs))
		for i, id := range s.LineIDs {
			if !known[id] {
				return nil, fmt.Errorf("%w: split %d references unknown line_id %d", ErrResponseInvalid, s.SplitID, id)
			}
			seenLine[id]++
			ids[i] = id
		}
		out = append(out, Split{SplitID: s.SplitID, Topic: s.Topic, LineIDs: ids, FileID: b.FileID})
	}
	if requireCoverage {
		for id := range known {
			if seenLine[id] != 1 {
				return nil, fmt.Errorf("%w: line_id %d covered %d times", ErrResponseInvalid, id, seenLine[id])
			}
		}
	}
	return out, nil
}
