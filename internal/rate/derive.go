package rate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// defaultKeyEnv: 各客户端在 options 未指定 api_key_env 时读取的环境变量。
var defaultKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

// credentialOptions 是各 LLM 客户端 options 中与限流分组相关的公共字段。
type credentialOptions struct {
	APIKey             string `json:"api_key"`
	APIKeyEnv          string `json:"api_key_env"`
	BaseURL            string `json:"base_url"`
	DisableDefaultAuth bool   `json:"disable_default_auth"`
}

// GroupKey 为一个 provider 计算限流分组键。
//
// 同一账号（client + base_url + sha256(key)）共享配额，因此不同 provider 名称指向同一
// 账号时得到相同的键。关闭鉴权的自建端点按地址分组；mock/flaky 使用固定调试 key。
// 既无 key 又未关闭鉴权时返回错误。
func GroupKey(client string, raw json.RawMessage) (LimitKey, error) {
	var o credentialOptions
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return "", fmt.Errorf("rate: options for %s: %w", client, err)
		}
	}
	base := strings.TrimRight(strings.TrimSpace(o.BaseURL), "/")
	if o.DisableDefaultAuth {
		return LimitKey(client + "@" + base), nil
	}

	key := o.APIKey
	if key == "" {
		env := o.APIKeyEnv
		if env == "" {
			env = defaultKeyEnv[client]
		}
		if env != "" {
			key = os.Getenv(env)
		}
	}
	if key == "" && (client == "mock" || client == "flaky") {
		key = "MOCK_DEBUG_KEY"
	}
	if key == "" {
		return "", fmt.Errorf("rate: missing api key for client %s", client)
	}
	sum := sha256.Sum256([]byte(key))
	return LimitKey(fmt.Sprintf("%s@%s:%x", client, base, sum[:8])), nil
}
