package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/offline-hub/internal/generation"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return newFieldError("Duration", "invalid duration value: "+raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有 family 共享同一份参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFormat       string   `mapstructure:"LogFormat"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	BaseURL         string   `mapstructure:"BaseURL"`
	CacheVersion    int      `mapstructure:"CacheVersion"`
	StorageBackend  string   `mapstructure:"StorageBackend"`
	StoragePath     string   `mapstructure:"StoragePath"`
	ValkeyAddress   string   `mapstructure:"ValkeyAddress"`
	ValkeyPassword  string   `mapstructure:"ValkeyPassword"`
	ValkeyDB        int      `mapstructure:"ValkeyDB"`
	ValkeyKeyPrefix string   `mapstructure:"ValkeyKeyPrefix"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	CacheDirective  string   `mapstructure:"CacheDirective"`
	ClaimClients    bool     `mapstructure:"ClaimClients"`
	MaxConcurrency  int      `mapstructure:"MaxConcurrency"`
}

// FamilyConfig 描述一个缓存 family：要预取的资源及其批次策略。
type FamilyConfig struct {
	Name        string   `mapstructure:"Name"`
	Assets      []string `mapstructure:"Assets"`
	Manifest    string   `mapstructure:"Manifest"`
	CacheBust   bool     `mapstructure:"CacheBust"`
	Essential   bool     `mapstructure:"Essential"`
	CrossOrigin bool     `mapstructure:"CrossOrigin"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig   `mapstructure:",squash"`
	Families []FamilyConfig `mapstructure:"Family"`
}

// Generation 返回 family 在当前 CacheVersion 下的 generation。
func (c *Config) Generation(f FamilyConfig) generation.Generation {
	return generation.Generation{Family: f.Name, Version: c.Global.CacheVersion}
}

// CurrentGenerations 返回全部 family 的当前 generation，顺序与配置一致。
func (c *Config) CurrentGenerations() []generation.Generation {
	out := make([]generation.Generation, 0, len(c.Families))
	for _, f := range c.Families {
		out = append(out, c.Generation(f))
	}
	return out
}

// BatchKind 输出 `essential` 或 `preload`，供日志字段使用。
func (f FamilyConfig) BatchKind() string {
	if f.Essential {
		return "essential"
	}
	return "preload"
}

// FamilySummaries 返回所有 family 的批次摘要，例如 site:essential。
func FamilySummaries(families []FamilyConfig) []string {
	if len(families) == 0 {
		return nil
	}
	result := make([]string, len(families))
	for i, f := range families {
		result[i] = f.Name + ":" + f.BatchKind()
	}
	return result
}
