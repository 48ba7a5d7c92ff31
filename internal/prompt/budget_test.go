package prompt

import (
	"context"
	"testing"

	"rawi/pkg/contract"
)

// 默认估算器
func TestMakeEstimatorDefault(t *testing.T) {
	est := MakeEstimator(0)
	if est("abcdef") != 2 { // 6 字节 -> 2 token
		t.Fatalf("估算错误")
	}
	if est("") != 0 {
		t.Fatalf("空串应为 0")
	}
	// 阿拉伯字母为 2 字节
	if got := MakeEstimator(2)("مها"); got != 3 {
		t.Fatalf("预期 3 得到 %d", got)
	}
}

type mockPB struct{ overhead int }

func (m *mockPB) Build(_ context.Context, b contract.Batch) (contract.Prompt, error) {
	return nil, nil
}

func (m *mockPB) EstimateOverheadTokens(est contract.TokenEstimator) int { return m.overhead }

func TestRequestTokens(t *testing.T) {
	pb := &mockPB{overhead: 7}
	b := contract.Batch{Body: "abcdefgh"}
	if got := RequestTokens(pb, MakeEstimator(4), b, 100); got != 109 {
		t.Fatalf("预期 109 得到 %d", got)
	}
	if got := RequestTokens(pb, nil, b, 0); got != 9 {
		t.Fatalf("预期 9 得到 %d", got)
	}
}
