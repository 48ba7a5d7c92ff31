package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"rawi/pkg/contract"
)

// BenchmarkWrite 不同 Section 文件尺寸下的原子写入性能。
func BenchmarkWrite(b *testing.B) {
	line := []byte(`{"line_id":0,"file_id":"2b6fdf9d","speaker":"مها","text":"لا أدري ماذا سيحدث، ولا أستطيع أن أتنبأ."}` + "\n")
	for _, n := range []int{11, 500} {
		b.Run(fmt.Sprintf("records=%d", n), func(b *testing.B) {
			data := bytes.Repeat(line, n)
			w, err := New(&Options{OutputDir: b.TempDir()})
			if err != nil {
				b.Fatalf("创建 Writer 失败: %v", err)
			}
			id := contract.ArtifactID("2b6fdf9d.jsonl")
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := w.Write(ctx, id, bytes.NewReader(data)); err != nil {
					b.Fatalf("写入失败: %v", err)
				}
			}
		})
	}
}
