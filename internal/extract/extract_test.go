package extract

import (
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rawi/internal/ident"
	"rawi/pkg/contract"
)

// scriptDetector: 含阿拉伯字母即判为 ar，否则 en。
type scriptDetector struct{}

func (scriptDetector) Detect(text string) (string, bool) {
	for _, r := range text {
		if unicode.Is(unicode.Arabic, r) {
			return "ar", true
		}
	}
	return "en", true
}

const (
	mahaLine = "مها: لا أدري ماذا سيحدث، ولا أستطيع أن أتنبأ."
	samiLine = "سامي: لا تقلقي سيكون الأمر بخير."
)

func repeatParas(line string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = line
	}
	return strings.Join(parts, "\n\n")
}

func TestPolicyStrictlyGreater(t *testing.T) {
	p := Policy{MinRecords: 10}
	assert.False(t, p.Keep(10))
	assert.True(t, p.Keep(11))
	assert.False(t, Policy{}.Keep(10), "零值回落到默认阈值")
	assert.True(t, Policy{MinRecords: 2}.Keep(3))
}

func TestTenTurnsProduceNothing(t *testing.T) {
	e := New(scriptDetector{})
	out, st := e.Document(contract.Document{ID: "novel", Text: repeatParas(mahaLine, 10)})
	assert.Empty(t, out)
	assert.Equal(t, 10, st.Accepted)
	assert.Equal(t, 1, st.Discarded)
}

func TestElevenTurnsProduceOneSection(t *testing.T) {
	e := New(scriptDetector{})
	out, st := e.Document(contract.Document{ID: "novel", Text: repeatParas(mahaLine, 11)})
	require.Len(t, out, 1)
	res := out[0]
	assert.Equal(t, "2b6fdf9d", res.FileID)
	require.Len(t, res.Records, 11)
	for i, r := range res.Records {
		assert.Equal(t, i, r.LineID)
		assert.Equal(t, "2b6fdf9d", r.FileID)
		assert.Equal(t, "مها", r.Speaker)
		assert.Equal(t, "لا أدري ماذا سيحدث، ولا أستطيع أن أتنبأ.", r.Text)
	}
	assert.Equal(t, 1, st.Kept)
}

func TestFilteredParagraphsDoNotAdvanceLineID(t *testing.T) {
	// 交替出现：مها 行有两组标点，سامي 行只有一组，会被标点过滤掉
	var paras []string
	for i := 0; i < 11; i++ {
		paras = append(paras, mahaLine, samiLine, "كانت الشمس تغرب ببطء.")
	}
	e := New(scriptDetector{})
	out, st := e.Document(contract.Document{ID: "novel", Text: strings.Join(paras, "\n\n")})
	require.Len(t, out, 1)
	require.Len(t, out[0].Records, 11)
	for i, r := range out[0].Records {
		assert.Equal(t, i, r.LineID)
		assert.Equal(t, "مها", r.Speaker)
	}
	assert.Equal(t, 11, st.PunctReject)
	assert.Equal(t, 11, st.ParseMiss)
	assert.Equal(t, 33, st.Paragraphs)
}

func TestNonArabicSectionProducesNothing(t *testing.T) {
	e := New(scriptDetector{})
	doc := repeatParas("Maha: I do not know, and I cannot tell.", 20)
	out, st := e.Document(contract.Document{ID: "novel", Text: doc})
	assert.Empty(t, out)
	assert.Equal(t, 20, st.LangReject)
}

func TestEscapedInputIsNormalized(t *testing.T) {
	// 源文件中的段落分隔以字面 \n 形式出现
	raw := strings.Repeat(`مها: لا أدري ماذا سيحدث&#1548; ولا أستطيع أن أتنبأ.\n\n`, 12)
	e := New(scriptDetector{})
	out, _ := e.Document(contract.Document{ID: "novel", Text: raw})
	require.Len(t, out, 1)
	assert.Len(t, out[0].Records, 12)
}

func TestSectionIndexFeedsFileID(t *testing.T) {
	body := repeatParas(mahaLine, 11)
	doc := "مقدمة قصيرة\n\nبلا حوار" + "##########" + body + "##########" + "   " + "##########" + body
	e := New(scriptDetector{})
	out, st := e.Document(contract.Document{ID: "novel", Text: doc})
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].Section)
	assert.Equal(t, "faadc49a", out[0].FileID)
	assert.Equal(t, 3, out[1].Section)
	assert.Equal(t, ident.Derive("novel", 3), out[1].FileID)
	assert.Equal(t, 3, st.Sections)
	assert.Equal(t, 2, st.Kept)
	assert.Equal(t, 1, st.Discarded)
	// 每个 Section 的 line_id 独立从 0 开始
	assert.Equal(t, 0, out[1].Records[0].LineID)
}

func TestMaxSectionsHonoured(t *testing.T) {
	body := repeatParas(mahaLine, 11)
	doc := strings.Join([]string{body, body, body}, "##########")
	e := New(scriptDetector{})
	e.MaxSections = 2
	out, _ := e.Document(contract.Document{ID: "novel", Text: doc})
	assert.Len(t, out, 2)
}

func TestSectionReturnsUnfilteredResult(t *testing.T) {
	e := New(scriptDetector{})
	res, st := e.Section("doc", contract.Section{Index: 2, Text: repeatParas(mahaLine, 3)})
	assert.Equal(t, "786a44e4", res.FileID)
	assert.Len(t, res.Records, 3)
	assert.Equal(t, 3, st.Accepted)
}
