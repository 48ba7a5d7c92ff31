package mock

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"rawi/pkg/contract"
)

func section(n int) contract.Batch {
	recs := make([]contract.Record, n)
	for i := range recs {
		recs[i] = contract.Record{LineID: i, FileID: "f", Speaker: "s", Text: "t"}
	}
	return contract.Batch{FileID: "f", Records: recs}
}

// 默认模式：字符串形态的 split
func TestDefaultSplitGroups(t *testing.T) {
	c, _ := New(nil)
	raw, err := c.Invoke(context.Background(), section(12), contract.TextPrompt("x"))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	var arr []struct {
		SplitID string `json:"split_id"`
		Topic   string `json:"topic"`
		LineIDs string `json:"line_ids"`
	}
	if err := json.Unmarshal([]byte(raw.Text), &arr); err != nil {
		t.Fatalf("json: %v; text=%q", err, raw.Text)
	}
	if len(arr) != 3 || arr[0].LineIDs != "0,1,2,3,4" || arr[2].LineIDs != "10,11" || arr[2].SplitID != "3" || arr[0].Topic != "MOCK 1" {
		t.Fatalf("unexpected items: %#v", arr)
	}
}

func TestSplitArrayAndSingle(t *testing.T) {
	c, _ := New(json.RawMessage(`{"response_mode":"split_array","group_size":2,"prefix":"P"}`))
	raw, _ := c.Invoke(context.Background(), section(3), nil)
	if raw.Text != `[{"split_id":1,"topic":"P 1","line_ids":[0,1]},{"split_id":2,"topic":"P 2","line_ids":[2]}]` {
		t.Fatalf("unexpected text %s", raw.Text)
	}
	c, _ = New(json.RawMessage(`{"response_mode":"split_single"}`))
	raw, _ = c.Invoke(context.Background(), section(3), nil)
	if raw.Text != `[{"split_id":1,"topic":"MOCK 1","line_ids":[0,1,2]}]` {
		t.Fatalf("unexpected text %s", raw.Text)
	}
	raw, _ = c.Invoke(context.Background(), section(0), nil)
	if raw.Text != "[]" {
		t.Fatalf("empty batch should give [] got %s", raw.Text)
	}
}

func TestEchoAndUnknownMode(t *testing.T) {
	c, _ := New(json.RawMessage(`{"response_mode":"echo"}`))
	raw, _ := c.Invoke(context.Background(), section(1), contract.ChatPrompt{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}})
	if raw.Text != "MOCK(chat:2:user): u" {
		t.Fatalf("unexpected echo %q", raw.Text)
	}
	if _, err := New(json.RawMessage(`{"response_mode":"translate"}`)); err == nil || !strings.Contains(err.Error(), "translate") {
		t.Fatalf("unknown mode should fail: %v", err)
	}
}
