package prompt

import "rawi/pkg/contract"

// MakeEstimator 返回按 UTF-8 字节数估算 token 的函数：ceil(bytes/bytesPerToken)，
// bytesPerToken<=0 时取 4。阿拉伯字母占 2 字节，估算偏保守。
func MakeEstimator(bytesPerToken int) contract.TokenEstimator {
	bpt := bytesPerToken
	if bpt <= 0 {
		bpt = 4
	}
	return func(s string) int {
		n := len(s)
		if n == 0 {
			return 0
		}
		return (n + bpt - 1) / bpt
	}
}

// RequestTokens 估算一次标注请求的 token 量：固定开销 + 批内容 + 预留输出。
// 用于限流闸门的 TPM 申请。
func RequestTokens(pb contract.PromptBuilder, est contract.TokenEstimator, b contract.Batch, maxOutput int) int {
	if est == nil {
		est = MakeEstimator(0)
	}
	n := pb.EstimateOverheadTokens(est) + est(b.Body)
	if maxOutput > 0 {
		n += maxOutput
	}
	return n
}
