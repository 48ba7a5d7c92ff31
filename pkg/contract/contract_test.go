package contract

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"
)

// TestNormalizeFileID 验证路径规范化逻辑。
func TestNormalizeFileID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"本地分隔符", filepath.Join("a", "b", "c"), "a/b/c"},
		{"空串", "", "."},
		{"父目录折叠", "./x/../y", "y"},
		{"Windows路径", "C:\\rewayat\\novel.txt", "C:/rewayat/novel.txt"},
		{"清理多余斜杠", "rewayat//part///novel.txt", "rewayat/part/novel.txt"},
		{"混合分隔符", "data\\..\\rewayat/./a\\\\b.txt", "rewayat/a/b.txt"},
		{"阿拉伯文件名", "روايات\\رواية.txt", "روايات/رواية.txt"},
		{"仅分隔符", "\\\\\\///", "/"},
		{"越界父目录", "a\\b\\..\\..\\..\\d", "../d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeFileID(tt.input); string(got) != tt.expected {
				t.Fatalf("NormalizeFileID(%q) = %q, 预期 %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestDocumentIDOf(t *testing.T) {
	cases := map[FileID]DocumentID{
		"rewayat/novel-17.txt":    "novel-17",
		"rewayat\\novel-17.txt":   "novel-17",
		"a/b/archive.tar.txt":     "archive.tar",
		"noext":                   "noext",
		".txt":                    ".txt",
		"-":                       "-",
		"sections/2b6fdf9d.jsonl": "2b6fdf9d",
	}
	for in, want := range cases {
		if got := DocumentIDOf(in); got != want {
			t.Fatalf("DocumentIDOf(%q) = %q, 预期 %q", in, got, want)
		}
	}
}

func batchOf(ids ...int) Batch {
	b := Batch{FileID: "2b6fdf9d"}
	for _, id := range ids {
		b.Records = append(b.Records, Record{LineID: id, FileID: "2b6fdf9d"})
	}
	return b
}

func TestValidateSplitsSuccess(t *testing.T) {
	b := batchOf(0, 1, 2, 3)
	in := []Split{
		{SplitID: 0, Topic: "السوق", LineIDs: []int{0, 1}},
		{SplitID: 1, Topic: "الوالدة", LineIDs: []int{2, 3}},
	}
	out, err := ValidateSplits(b, in, true)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(out) != 2 || out[0].FileID != "2b6fdf9d" || out[1].FileID != "2b6fdf9d" {
		t.Fatalf("file_id 未绑定: %+v", out)
	}
	in[0].LineIDs[0] = 99
	if out[0].LineIDs[0] != 0 {
		t.Fatalf("line_ids 未拷贝")
	}
}

func TestValidateSplitsErrors(t *testing.T) {
	b := batchOf(0, 1, 2)
	cases := []struct {
		name     string
		splits   []Split
		coverage bool
	}{
		{"empty", nil, false},
		{"dup split id", []Split{{SplitID: 0, LineIDs: []int{0}}, {SplitID: 0, LineIDs: []int{1}}}, false},
		{"no line ids", []Split{{SplitID: 0}}, false},
		{"unknown line id", []Split{{SplitID: 0, LineIDs: []int{0, 7}}}, false},
		{"missing coverage", []Split{{SplitID: 0, LineIDs: []int{0, 1}}}, true},
		{"double coverage", []Split{{SplitID: 0, LineIDs: []int{0, 1}}, {SplitID: 1, LineIDs: []int{1, 2}}}, true},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateSplits(b, tt.splits, tt.coverage)
			if !errors.Is(err, ErrResponseInvalid) {
				t.Fatalf("want ErrResponseInvalid got %v", err)
			}
		})
	}
}

func TestBatchLineIDs(t *testing.T) {
	b := batchOf(3, 1, 2)
	got := b.LineIDs()
	if len(got) != 3 || got[0] != 3 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("LineIDs 顺序错误: %v", got)
	}
}

// BenchmarkNormalizeFileID 性能基准测试
func BenchmarkNormalizeFileID(b *testing.B) {
	paths := []string{
		"C:\\rewayat\\part-1\\novel.txt",
		"rewayat/a/../../../b/novel.txt",
		"rewayat//many////slashes/novel.txt",
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, p := range paths {
			NormalizeFileID(p)
		}
	}
}

func TestRateLimitError(t *testing.T) {
	err := fmt.Errorf("invoke: %w", &RateLimitError{After: 3 * time.Second, Msg: "slow"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("应识别为限流: %v", err)
	}
	if got := RetryAfter(err); got != 3*time.Second {
		t.Fatalf("RetryAfter = %v", got)
	}
	if got := RetryAfter(ErrRateLimited); got != 0 {
		t.Fatalf("裸哨兵不应携带等待时长: %v", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"soon", 0},
		{" 30 ", 30 * time.Second},
		{"-5", 0},
		{"86400", MaxRetryAfter},
		{now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		if got := ParseRetryAfter(tt.in, now); got != tt.want {
			t.Fatalf("ParseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
