package segment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentKeepsRawIndices(t *testing.T) {
	secs := Document("a##########   \n ##########b", 0)
	require.Len(t, secs, 2)
	assert.Equal(t, 0, secs[0].Index)
	assert.Equal(t, "a", secs[0].Text)
	assert.Equal(t, 2, secs[1].Index)
	assert.Equal(t, "b", secs[1].Text)
}

func TestDocumentLeadingSentinel(t *testing.T) {
	secs := Document("##########\nالفصل الأول\n##########\nالفصل الثاني", 0)
	require.Len(t, secs, 2)
	assert.Equal(t, 1, secs[0].Index)
	assert.Equal(t, 2, secs[1].Index)
}

func TestDocumentCap(t *testing.T) {
	var parts []string
	for i := 0; i < 15; i++ {
		parts = append(parts, "فصل")
	}
	doc := strings.Join(parts, Sentinel)

	secs := Document(doc, 0)
	require.Len(t, secs, DefaultMaxSections)
	assert.Equal(t, 9, secs[len(secs)-1].Index)
	// 被截断的最后一段不能携带剩余文本
	assert.Equal(t, "فصل", secs[len(secs)-1].Text)

	secs = Document(doc, 3)
	require.Len(t, secs, 3)

	// 下标 >= 上限的片段即使非空也不考察
	secs = Document(Sentinel+Sentinel+"x", 2)
	assert.Empty(t, secs)
}

func TestDocumentEmpty(t *testing.T) {
	assert.Empty(t, Document("", 0))
	assert.Empty(t, Document(" \n\t ", 0))
	assert.Empty(t, Document(Sentinel, 0))
}

func TestParagraphs(t *testing.T) {
	in := "\n\n  مها: لا أدري.  \n\n\n\nسامي: نعم.\nسطر ثان\n\n   \n\nنهاية  \n"
	got := Paragraphs(in)
	assert.Equal(t, []string{"مها: لا أدري.", "سامي: نعم.\nسطر ثان", "نهاية"}, got)
	assert.Empty(t, Paragraphs("   "))
}
