package annotate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rawi/internal/rate"
	"rawi/pkg/contract"
	"rawi/plugins/decoder/splitjson"
	"rawi/plugins/llmclient/flaky"
	"rawi/plugins/llmclient/mock"
	"rawi/plugins/prompt/topicsplit"
)

type memReader struct{ files map[string]string }

func (m memReader) Iterate(ctx context.Context, roots []string, yield func(contract.FileID, io.ReadCloser) error) error {
	for name, body := range m.files {
		if err := yield(contract.FileID(name), io.NopCloser(strings.NewReader(body))); err != nil {
			return err
		}
	}
	return nil
}

type memWriter struct {
	mu    sync.Mutex
	files map[contract.ArtifactID]string
	fail  bool
}

func newMemWriter() *memWriter { return &memWriter{files: map[contract.ArtifactID]string{}} }

func (w *memWriter) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if w.fail {
		return errors.New("disk full")
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	w.mu.Lock()
	w.files[id] = buf.String()
	w.mu.Unlock()
	return nil
}

func (w *memWriter) Exists(ctx context.Context, id contract.ArtifactID) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[id]
	return ok, nil
}

// section 生成含 n 条记录的 Section 文件内容。
func section(fileID string, n int) string {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	for i := 0; i < n; i++ {
		_ = enc.Encode(contract.Record{LineID: i, FileID: fileID, Speaker: "سارة", Text: "أين كنت؟ انتظرتك طويلا."})
	}
	return b.String()
}

type failLLM struct{ calls int }

func (f *failLLM) Invoke(ctx context.Context, b contract.Batch, p contract.Prompt) (contract.Raw, error) {
	f.calls++
	return contract.Raw{}, fmt.Errorf("%w: quota", contract.ErrRateLimited)
}

func components(t *testing.T, rd contract.Reader, llm contract.LLMClient, w contract.Writer) Components {
	t.Helper()
	pb, err := topicsplit.New(nil)
	require.NoError(t, err)
	dec, err := splitjson.New(nil)
	require.NoError(t, err)
	return Components{Reader: rd, PromptBuilder: pb, LLM: llm, Decoder: dec, Writer: w}
}

func newMock(t *testing.T) contract.LLMClient {
	t.Helper()
	c, err := mock.New(nil)
	require.NoError(t, err)
	return c
}

func TestRunAnnotatesEachFile(t *testing.T) {
	rd := memReader{files: map[string]string{
		"sections/2b6fdf9d.jsonl": section("2b6fdf9d", 12),
		"sections/faadc49a.jsonl": section("faadc49a", 11),
	}}
	w := newMemWriter()
	st, err := Run(context.Background(), components(t, rd, newMock(t), w), Settings{Inputs: []string{"sections"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, Stats{Files: 2, Annotated: 2, Splits: 3 + 3}, st)

	out := w.files["2b6fdf9d.jsonl"]
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	var s contract.Split
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &s))
	assert.Equal(t, contract.Split{SplitID: 1, Topic: "MOCK 1", LineIDs: []int{0, 1, 2, 3, 4}, FileID: "2b6fdf9d"}, s)
}

func TestRunSkipExisting(t *testing.T) {
	rd := memReader{files: map[string]string{"a.jsonl": section("a", 11), "b.jsonl": section("b", 11)}}
	w := newMemWriter()
	w.files["a.jsonl"] = "done"
	st, err := Run(context.Background(), components(t, rd, newMock(t), w), Settings{Inputs: []string{"."}, SkipExisting: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Skipped)
	assert.Equal(t, 1, st.Annotated)
	assert.Equal(t, "done", w.files["a.jsonl"])
}

func TestRunIsolatesFailingFile(t *testing.T) {
	rd := memReader{files: map[string]string{"bad.jsonl": "{not json\n", "good.jsonl": section("good", 11)}}
	w := newMemWriter()
	st, err := Run(context.Background(), components(t, rd, newMock(t), w), Settings{Inputs: []string{"."}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 1, st.Annotated)
	_, ok := w.files["good.jsonl"]
	assert.True(t, ok)
}

func TestRunFailFast(t *testing.T) {
	rd := memReader{files: map[string]string{"bad.jsonl": "\n\n"}}
	_, err := Run(context.Background(), components(t, rd, newMock(t), newMemWriter()),
		Settings{Inputs: []string{"."}, FailFast: true}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrMalformedInput)
}

func TestRunRetriesFlakyClient(t *testing.T) {
	rd := memReader{files: map[string]string{"s.jsonl": section("s", 11)}}
	llm, err := flaky.New(nil)
	require.NoError(t, err)
	w := newMemWriter()
	st, err := Run(context.Background(), components(t, rd, llm, w), Settings{Inputs: []string{"."}, MaxRetries: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Annotated)
	assert.Equal(t, 3, llm.(*flaky.Client).Calls("s"))
	assert.Contains(t, w.files["s.jsonl"], `"file_id":"s"`)
}

func TestRunRetriesExhausted(t *testing.T) {
	rd := memReader{files: map[string]string{"s.jsonl": section("s", 11)}}
	llm := &failLLM{}
	st, err := Run(context.Background(), components(t, rd, llm, newMemWriter()), Settings{Inputs: []string{"."}, MaxRetries: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 2, llm.calls)
}

func TestRunWriteErrorIsFatal(t *testing.T) {
	rd := memReader{files: map[string]string{"s.jsonl": section("s", 11)}}
	w := newMemWriter()
	w.fail = true
	_, err := Run(context.Background(), components(t, rd, newMock(t), w), Settings{Inputs: []string{"."}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRunGateBudget(t *testing.T) {
	rd := memReader{files: map[string]string{"s.jsonl": section("s", 11)}}
	g := rate.NewGate(map[rate.LimitKey]rate.Limits{"k": {RPM: 10, TPM: 10}}, time.Now)
	st, err := Run(context.Background(), components(t, rd, newMock(t), newMemWriter()),
		Settings{Inputs: []string{"."}, Gate: g, GateKey: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Failed)
}

func TestRunSample(t *testing.T) {
	files := map[string]string{}
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("f%d", i)
		files[id+".jsonl"] = section(id, 11)
	}
	w := newMemWriter()
	st, err := Run(context.Background(), components(t, memReader{files: files}, newMock(t), w),
		Settings{Inputs: []string{"."}, Sample: 2, Seed: 7}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Files)
	assert.Len(t, w.files, 2)
}

func TestSample(t *testing.T) {
	names := []string{"e", "a", "d", "c", "b", "f", "g"}
	got := Sample(names, 3, 42)
	require.Len(t, got, 3)
	assert.IsNonDecreasing(t, got)
	assert.Equal(t, got, Sample([]string{"g", "f", "e", "d", "c", "b", "a"}, 3, 42), "与输入顺序无关")
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g"}, Sample(names, 0, 1))
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g"}, Sample(names, 10, 1))
	assert.Equal(t, []string{"e", "a", "d", "c", "b", "f", "g"}, names, "输入不被修改")
}

func TestWithRepair(t *testing.T) {
	p := contract.ChatPrompt{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}}
	p1 := withRepair(p, contract.Raw{Text: "oops"}, contract.ErrResponseInvalid)
	p2 := withRepair(p1, contract.Raw{Text: "again"}, contract.ErrResponseInvalid).(contract.ChatPrompt)
	require.Len(t, p2, 4)
	assert.Equal(t, "again", p2[2].Content)
	assert.True(t, strings.HasPrefix(p2[3].Content, repairPrefix))
	assert.Equal(t, contract.TextPrompt("x"), withRepair(contract.TextPrompt("x"), contract.Raw{}, errors.New("e")))
}

func TestRetryClassifiers(t *testing.T) {
	assert.True(t, shouldRetryInvoke(contract.ErrRateLimited))
	assert.False(t, shouldRetryInvoke(context.Canceled))
	assert.False(t, shouldRetryInvoke(nil))
	assert.True(t, shouldRetryDecode(contract.ErrResponseInvalid))
	assert.False(t, shouldRetryDecode(contract.ErrMalformedInput))
	assert.True(t, shouldRetryInvoke(&contract.RateLimitError{After: time.Second}))
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, retryBase, retryDelay(errors.New("x")))
	assert.Equal(t, retryBase, retryDelay(&contract.RateLimitError{}))
	assert.Equal(t, 3*time.Second, retryDelay(fmt.Errorf("invoke: %w", &contract.RateLimitError{After: 3 * time.Second})))
}

func TestParseBatch(t *testing.T) {
	b, err := parseBatch("x", []byte(section("x", 3)+"\n"))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, b.LineIDs())
	assert.NotContains(t, b.Body, "\n\n")
	_, err = parseBatch("x", []byte("[]"))
	assert.ErrorIs(t, err, contract.ErrMalformedInput)
}
