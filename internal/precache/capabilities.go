package precache

import (
	"fmt"
	"strings"
)

// Capabilities 在进程启动时计算一次，之后只读传递。
type Capabilities struct {
	// CacheDirective 表示网络原语会遵循声明式的 no-cache 指令。
	CacheDirective bool
	// ClaimClients 表示宿主支持在激活后接管已有客户端。
	ClaimClients bool
}

// DirectiveMode 对应配置项 CacheDirective。
const (
	DirectiveAuto        = "auto"
	DirectiveSupported   = "supported"
	DirectiveUnsupported = "unsupported"
)

// DetectCapabilities 根据配置推导能力。auto 模式下，只要网络原语会把请求头原样
// 带给上游（即 forwardsHeaders 为 true），就认为 no-cache 指令可用。
func DetectCapabilities(directive string, forwardsHeaders bool, claimClients bool) (Capabilities, error) {
	caps := Capabilities{ClaimClients: claimClients}
	switch strings.ToLower(strings.TrimSpace(directive)) {
	case "", DirectiveAuto:
		caps.CacheDirective = forwardsHeaders
	case DirectiveSupported:
		caps.CacheDirective = true
	case DirectiveUnsupported:
		caps.CacheDirective = false
	default:
		return Capabilities{}, fmt.Errorf("unknown cache directive mode: %s", directive)
	}
	return caps, nil
}
