package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	d, err := New(Options{})
	require.NoError(t, err)

	lang, ok := d.Detect("لا أدري ماذا سيحدث، ولا أستطيع أن أتنبأ.")
	assert.True(t, ok)
	assert.Equal(t, "ar", lang)

	_, ok = d.Detect("I do not know what will happen.")
	assert.False(t, ok)

	_, ok = d.Detect("123 !!! ...")
	assert.False(t, ok, "无字母时无法判定")

	// 混合文本：阿拉伯字母占多数
	lang, ok = d.Detect("قال OK ثم ذهب")
	assert.True(t, ok)
	assert.Equal(t, "ar", lang)
}

func TestThreshold(t *testing.T) {
	d, err := New(Options{Threshold: 0.9})
	require.NoError(t, err)
	_, ok := d.Detect("قال OK ثم ذهب")
	assert.False(t, ok)

	_, err = New(Options{Threshold: 2})
	assert.Error(t, err)
}
