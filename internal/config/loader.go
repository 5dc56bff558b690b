package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 是可覆盖全局配置的环境变量前缀，例如 OFFLINE_HUB_LISTENPORT。
const EnvPrefix = "OFFLINE_HUB"

// Load 读取并解析 TOML 配置文件，同时注入默认值、合并 manifest 并执行校验。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectFamilyLevelVersions(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	baseDir := filepath.Dir(path)
	for i := range cfg.Families {
		if err := applyFamilyDefaults(&cfg.Families[i], baseDir); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.StoragePath != "" {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "json")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("CacheVersion", 1)
	v.SetDefault("StorageBackend", "fs")
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("ValkeyAddress", "")
	v.SetDefault("ValkeyPassword", "")
	v.SetDefault("ValkeyDB", 0)
	v.SetDefault("ValkeyKeyPrefix", "offline-hub")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("CacheDirective", "auto")
	v.SetDefault("ClaimClients", true)
	v.SetDefault("MaxConcurrency", 0)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.StorageBackend = strings.ToLower(strings.TrimSpace(g.StorageBackend))
	if g.StorageBackend == "" {
		g.StorageBackend = "fs"
	}
	g.CacheDirective = strings.ToLower(strings.TrimSpace(g.CacheDirective))
	if g.CacheDirective == "" {
		g.CacheDirective = "auto"
	}
	g.BaseURL = strings.TrimSpace(g.BaseURL)
}

// applyFamilyDefaults 规范化名称，并把 Manifest 中的资源追加到 Assets 之后（去重）。
func applyFamilyDefaults(f *FamilyConfig, baseDir string) error {
	f.Name = strings.TrimSpace(f.Name)

	assets := make([]string, 0, len(f.Assets))
	for _, asset := range f.Assets {
		assets = append(assets, strings.TrimSpace(asset))
	}

	if manifest := strings.TrimSpace(f.Manifest); manifest != "" {
		if !filepath.IsAbs(manifest) {
			manifest = filepath.Join(baseDir, manifest)
		}
		extra, err := LoadManifest(manifest)
		if err != nil {
			return fmt.Errorf("%s: %w", familyField(f.Name, "Manifest"), err)
		}
		assets = append(assets, extra...)
		f.Manifest = manifest
	}

	f.Assets = dedupe(assets)
	return nil
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectFamilyLevelVersions 拒绝 family 级 Version 字段：版本号只能由全局 CacheVersion 统一递增。
func rejectFamilyLevelVersions(v *viper.Viper) error {
	raw := v.Get("Family")
	families, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	for idx, entry := range families {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if _, exists := lookupFold(m, "Version"); exists {
			name := fmt.Sprintf("#%d", idx)
			if rawName, ok := lookupFold(m, "Name"); ok {
				if s, ok := rawName.(string); ok && s != "" {
					name = s
				}
			}
			return newFieldError(familyField(name, "Version"), "不支持单独设置版本，请使用全局 CacheVersion")
		}
	}

	return nil
}

// lookupFold 忽略大小写查找键，viper 对数组内的表是否转小写因版本而异。
func lookupFold(m map[string]interface{}, key string) (interface{}, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
