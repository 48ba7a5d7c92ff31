package punct

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasMultiGroup(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"", false},
		{"بدون علامات", false},
		{"!", false},
		{"!!", false},
		{"?!.", false},
		{"! x !", true},
		{"!! x !!", true},
		{"لا أدري ماذا سيحدث، ولا أستطيع أن أتنبأ.", true},
		{"لا تقلقي سيكون الأمر بخير.", false},
		{"كيف حالك؟ بخير", false},
		{"كيف حالك؟ بخير!", true},
		{"a.b", true},
		{"ab;cd;", false}, // ';' 不在集合内
		{"x؛y", false},
	}
	for _, tt := range cases {
		assert.Equalf(t, tt.want, HasMultiGroup(tt.in), "HasMultiGroup(%q)", tt.in)
	}
}

func TestFewerThanTwoMarksIsFalse(t *testing.T) {
	for _, s := range []string{"", "a", "مرحبا", "مرحبا.", "؟مرحبا", "one ! only"} {
		assert.Falsef(t, HasMultiGroup(s), "%q", s)
	}
}

func TestGroupsUsesRuneIndices(t *testing.T) {
	// 阿拉伯字母为多字节，分组必须按 rune 下标计算
	got := Groups("مها،؟ نعم.")
	assert.Equal(t, [][2]int{{3, 4}, {9, 9}}, got)
	assert.Empty(t, Groups("لا شيء"))
}

func TestGroupsAgreesWithHasMultiGroup(t *testing.T) {
	for _, s := range []string{"!!", "! x !", "...", ". . .", "a?b?c", "؟؟x!"} {
		assert.Equal(t, len(Groups(s)) >= 2, HasMultiGroup(s), s)
	}
}
