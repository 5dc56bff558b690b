package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/any-hub/offline-hub/internal/generation"
)

var supportedBackends = map[string]struct{}{
	"fs":      {},
	"leveldb": {},
	"valkey":  {},
}

const supportedBackendList = "fs|leveldb|valkey"

var supportedDirectives = map[string]struct{}{
	"auto":        {},
	"supported":   {},
	"unsupported": {},
}

const supportedDirectiveList = "auto|supported|unsupported"

var familyNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if err := validateBaseURL(g.BaseURL); err != nil {
		return fmt.Errorf("Global.BaseURL: %w", err)
	}
	if g.CacheVersion < 0 {
		return newFieldError("Global.CacheVersion", "不能为负数")
	}
	if _, ok := supportedBackends[g.StorageBackend]; !ok {
		return newFieldError("Global.StorageBackend", "仅支持 "+supportedBackendList)
	}
	switch g.StorageBackend {
	case "valkey":
		if strings.TrimSpace(g.ValkeyAddress) == "" {
			return newFieldError("Global.ValkeyAddress", "valkey 后端必须配置地址")
		}
		if g.ValkeyDB < 0 {
			return newFieldError("Global.ValkeyDB", "不能为负数")
		}
	default:
		if g.StoragePath == "" {
			return newFieldError("Global.StoragePath", "不能为空")
		}
	}
	if g.UpstreamTimeout.DurationValue() < 0 {
		return newFieldError("Global.UpstreamTimeout", "不能为负数")
	}
	if _, ok := supportedDirectives[g.CacheDirective]; !ok {
		return newFieldError("Global.CacheDirective", "仅支持 "+supportedDirectiveList)
	}
	if g.MaxConcurrency < 0 {
		return newFieldError("Global.MaxConcurrency", "不能为负数")
	}

	if len(c.Families) == 0 {
		return errors.New("至少需要配置一个 Family")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Families {
		family := &c.Families[i]
		if err := validateFamilyName(family.Name); err != nil {
			return newFieldError(familyField(family.Name, "Name"), err.Error())
		}
		if _, exists := seenNames[family.Name]; exists {
			return newFieldError(familyField(family.Name, "Name"), "重复")
		}
		seenNames[family.Name] = struct{}{}

		if len(family.Assets) == 0 {
			return newFieldError(familyField(family.Name, "Assets"), "至少需要一个资源")
		}
		for _, asset := range family.Assets {
			if asset == "" {
				return newFieldError(familyField(family.Name, "Assets"), "资源地址不能为空")
			}
			if _, err := url.Parse(asset); err != nil {
				return newFieldError(familyField(family.Name, "Assets"), "无法解析资源地址: "+asset)
			}
		}
	}

	return nil
}

// validateFamilyName 约束 family 名称，确保生成的 generation 名可以被无歧义地解析回来。
func validateFamilyName(name string) error {
	err := validation.Validate(name,
		validation.Required.Error("不能为空"),
		validation.Match(familyNamePattern).Error("仅允许小写字母、数字以及 . _ -"),
	)
	if err != nil {
		return err
	}
	if _, err := generation.New(name, 0); err != nil {
		return err
	}
	return nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("无法解析: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("仅支持 http/https")
	}
	if parsed.Host == "" {
		return errors.New("缺少 Host")
	}
	return nil
}
