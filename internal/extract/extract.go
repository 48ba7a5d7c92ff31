// Package extract 组装单个文档的对白记录，并按输出策略决定哪些 Section 需要持久化。
package extract

import (
	"rawi/internal/ident"
	"rawi/internal/langgate"
	"rawi/internal/punct"
	"rawi/internal/segment"
	"rawi/internal/textnorm"
	"rawi/internal/turn"
	"rawi/pkg/contract"
)

// DefaultMinRecords: Section 记录数必须严格大于该值才会输出。
const DefaultMinRecords = 10

// Policy 为输出策略：全有或全无。
type Policy struct {
	MinRecords int
}

// Keep 报告含 n 条记录的 Section 是否需要持久化（严格大于）。
func (p Policy) Keep(n int) bool {
	limit := p.MinRecords
	if limit <= 0 {
		limit = DefaultMinRecords
	}
	return n > limit
}

// Stats 为单次抽取的计数；解析未命中与过滤拒绝只计数，不视为错误。
type Stats struct {
	Sections    int // 非空 Section 数
	Kept        int // 满足输出策略的 Section 数
	Discarded   int
	Paragraphs  int
	Accepted    int // 通过全部过滤的轮次
	ParseMiss   int
	PunctReject int
	LangReject  int
}

// Add 累加另一组计数。
func (s *Stats) Add(o Stats) {
	s.Sections += o.Sections
	s.Kept += o.Kept
	s.Discarded += o.Discarded
	s.Paragraphs += o.Paragraphs
	s.Accepted += o.Accepted
	s.ParseMiss += o.ParseMiss
	s.PunctReject += o.PunctReject
	s.LangReject += o.LangReject
}

// Extractor 无跨文档状态，可被多个 goroutine 共享。
type Extractor struct {
	Parser      turn.Parser
	Gate        langgate.Gate
	MaxSections int
	Policy      Policy
}

// New 以默认参数构造 Extractor。
func New(d contract.Detector) *Extractor {
	return &Extractor{
		Parser:      turn.Parser{MaxLabelTokens: turn.DefaultMaxLabelTokens},
		Gate:        langgate.New(d),
		MaxSections: segment.DefaultMaxSections,
		Policy:      Policy{MinRecords: DefaultMinRecords},
	}
}

// Document 规范化并切分文档，返回满足输出策略的 SectionResult（按 Section 顺序）。
func (e *Extractor) Document(doc contract.Document) ([]contract.SectionResult, Stats) {
	var (
		total Stats
		out   []contract.SectionResult
	)
	text := textnorm.Normalize(doc.Text)
	for _, sec := range segment.Document(text, e.MaxSections) {
		res, st := e.Section(doc.ID, sec)
		total.Add(st)
		if e.Policy.Keep(len(res.Records)) {
			total.Kept++
			out = append(out, res)
		} else {
			total.Discarded++
		}
	}
	return out, total
}

// Section 按段落顺序逐个解析与过滤；line_id 仅在记录被接受时递增。
// 段落处理必须保持串行，line_id 依赖累计的成功数。
// 返回的结果未经过输出策略判定。
func (e *Extractor) Section(docID contract.DocumentID, sec contract.Section) (contract.SectionResult, Stats) {
	fileID := ident.Derive(string(docID), sec.Index)
	res := contract.SectionResult{FileID: fileID, Document: docID, Section: sec.Index}
	st := Stats{Sections: 1}
	lineID := 0
	for _, para := range segment.Paragraphs(sec.Text) {
		st.Paragraphs++
		t, ok := e.Parser.Parse(para)
		if !ok {
			st.ParseMiss++
			continue
		}
		if !punct.HasMultiGroup(t.Utterance) {
			st.PunctReject++
			continue
		}
		if !e.Gate.IsArabic(t.Utterance) {
			st.LangReject++
			continue
		}
		res.Records = append(res.Records, contract.Record{
			LineID:  lineID,
			FileID:  fileID,
			Speaker: t.Label,
			Text:    t.Utterance,
		})
		lineID++
		st.Accepted++
	}
	return res, st
}
