package contract

// FileID: 输入/输出工件的逻辑路径标识（规范化为正斜杠，跨平台一致）。
type FileID string

// DocumentID: 源文档标识，取自文件名（去掉最后一个扩展名）。
type DocumentID string

// Document: 一次读取得到的原始文档，读取后不可变。
type Document struct {
	ID   DocumentID
	Text string
}

// Section: 由哨兵 "##########" 切分得到的文档片段。
// Index 为原始切分位置（包含被丢弃的空白片段），参与标识派生。
type Section struct {
	Index int
	Text  string
}

// Turn: 形如 "说话人: 台词" 的对白轮次。
// 约束：
//   - Label 不含冒号与标点集合中的字符，按空白切分不超过上限个 token；
//   - Utterance 去除首尾空白后非空。
type Turn struct {
	Label     string
	Utterance string
}

// Record: 对外输出的单行对白记录。键名属于稳定契约，不得增删。
type Record struct {
	LineID  int    `json:"line_id"`
	FileID  string `json:"file_id"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// SectionResult: 单个 Section 的有序记录集合。
// LineID 在集合内自 0 连续递增，顺序与段落顺序一致。
type SectionResult struct {
	FileID   string
	Document DocumentID
	Section  int
	Records  []Record
}

// Split: 标注阶段的话题切分结果（每行一条）。
type Split struct {
	SplitID int    `json:"split_id"`
	Topic   string `json:"topic"`
	LineIDs []int  `json:"line_ids"`
	FileID  string `json:"file_id"`
}

// Batch: 标注阶段一次 LLM 调用的输入单元（同一 Section 文件的全部记录）。
// Body 为原始 JSONL 文本，原样放入提示词。
type Batch struct {
	FileID  string
	Records []Record
	Body    string
}

// LineIDs 返回批内全部 line_id（保持原顺序）。
func (b Batch) LineIDs() []int {
	out := make([]int, len(b.Records))
	for i, r := range b.Records {
		out[i] = r.LineID
	}
	return out
}
