package roadmap

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load 读取路线图配置，格式由扩展名决定（toml/yaml/json），读取后执行校验。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, newFieldError("path", "不能为空")
	}

	v := viper.New()
	v.SetConfigFile(path)
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."); ext == "yml" {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取路线图配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析路线图配置失败: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize 裁剪空白；viper 会把 map key 转为小写，这里统一片段名大小写。
func (c *Config) normalize() {
	c.Organization = strings.TrimSpace(c.Organization)
	c.MilestoneStart = strings.TrimSpace(c.MilestoneStart)
	c.MilestoneEnd = strings.TrimSpace(c.MilestoneEnd)
	c.TargetRepo = strings.TrimSpace(c.TargetRepo)
	for i := range c.Projects {
		p := &c.Projects[i]
		p.Name = strings.TrimSpace(p.Name)
		for j := range p.Repos {
			p.Repos[j] = strings.TrimSpace(p.Repos[j])
		}
		if len(p.Fragments) > 0 {
			fragments := make(map[string]string, len(p.Fragments))
			for key, text := range p.Fragments {
				fragments[strings.ToLower(key)] = text
			}
			p.Fragments = fragments
		}
	}
}
