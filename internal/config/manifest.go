package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest 是外部资源清单文件的结构：
//
//	assets:
//	  - /css/main.css
//	  - /js/main.js
type Manifest struct {
	Assets []string `yaml:"assets"`
}

// LoadManifest 读取 YAML 清单并返回去除空白后的资源列表。
func LoadManifest(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("解析 manifest 失败: %w", err)
	}
	out := make([]string, 0, len(m.Assets))
	for _, asset := range m.Assets {
		if trimmed := strings.TrimSpace(asset); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out, nil
}
